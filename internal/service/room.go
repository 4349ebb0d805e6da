package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"livechat/internal/cache"
	"livechat/internal/models"
	"livechat/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// SystemSender 是系统消息的发送者名称。
const SystemSender = "System"

const (
	maxGroupNameLen   = 128
	maxDescriptionLen = 512
)

// RoomService 管理私聊房间与群组的成员关系，所有收发消息前的成员校验都经过这里。
type RoomService struct {
	store store.Store
	cache cache.RoomCache
	clock *Clock
	sf    singleflight.Group
}

func NewRoomService(st store.Store, rc cache.RoomCache, clock *Clock) *RoomService {
	if rc == nil {
		rc = cache.Noop{}
	}
	return &RoomService{store: st, cache: rc, clock: clock}
}

type directRoomResult struct {
	room    *models.DirectRoom
	created bool
}

// GetOrCreateDirectRoom 返回 a、b 之间唯一的私聊房间，不存在时创建。
// 进程内并发请求由 singleflight 合并，跨进程的竞争由 pair_key 唯一索引兜底。
// created 只对实际执行创建的调用方为 true，合并进来的调用方拿到的是已存在的房间。
func (s *RoomService) GetOrCreateDirectRoom(ctx context.Context, a, b string) (*models.DirectRoom, bool, error) {
	if a == "" || b == "" {
		return nil, false, invalid("both participants are required")
	}
	if a == b {
		return nil, false, invalid("cannot open a direct room with yourself")
	}
	key := store.PairKey(a, b)

	// 共享调用不随首个调用方的连接取消
	shared := context.WithoutCancel(ctx)
	leader := false
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		leader = true
		return s.findOrCreateDirectRoom(shared, key, a, b)
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(directRoomResult)
	return res.room, res.created && leader, nil
}

func (s *RoomService) findOrCreateDirectRoom(ctx context.Context, key, a, b string) (directRoomResult, error) {
	if room := s.cachedRoom(ctx, key); room != nil {
		return directRoomResult{room: room}, nil
	}
	room, err := s.store.FindDirectRoomByPair(ctx, key)
	if err == nil {
		s.remember(ctx, room)
		return directRoomResult{room: room}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return directRoomResult{}, persistence("find direct room", err)
	}

	for _, u := range []string{a, b} {
		if _, err := s.store.FindUserByUsername(ctx, u); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return directRoomResult{}, fmt.Errorf("user %q: %w", u, ErrNotFound)
			}
			return directRoomResult{}, persistence("find user", err)
		}
	}

	room = &models.DirectRoom{ID: uuid.NewString(), MemberA: a, MemberB: b, PairKey: key}
	if err := s.store.CreateDirectRoom(ctx, room); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return directRoomResult{}, persistence("create direct room", err)
		}
		// 另一个进程抢先创建，以已存在的房间为准
		room, err = s.store.FindDirectRoomByPair(ctx, key)
		if err != nil {
			return directRoomResult{}, persistence("find direct room", err)
		}
		s.remember(ctx, room)
		return directRoomResult{room: room}, nil
	}
	s.remember(ctx, room)
	return directRoomResult{room: room, created: true}, nil
}

// cachedRoom 命中时直接返回缓存中的房间，不访问数据库；缓存出错按未命中处理。
func (s *RoomService) cachedRoom(ctx context.Context, key string) *models.DirectRoom {
	room, ok, err := s.cache.GetDirectRoom(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("pair", key).Msg("room cache get")
		return nil
	}
	if !ok {
		return nil
	}
	return room
}

func (s *RoomService) remember(ctx context.Context, room *models.DirectRoom) {
	if err := s.cache.SetDirectRoom(ctx, room); err != nil {
		log.Warn().Err(err).Str("pair", room.PairKey).Msg("room cache set")
	}
}

// DirectRoomFor 返回 username 作为成员的私聊房间。
func (s *RoomService) DirectRoomFor(ctx context.Context, roomID, username string) (*models.DirectRoom, error) {
	if roomID == "" {
		return nil, invalid("room_id is required")
	}
	room, err := s.store.FindDirectRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("direct room %s: %w", roomID, ErrNotFound)
		}
		return nil, persistence("find direct room", err)
	}
	if !slices.Contains(room.Members, username) {
		return nil, fmt.Errorf("direct room %s: %w", roomID, ErrForbidden)
	}
	return room, nil
}

func (s *RoomService) ListDirectRooms(ctx context.Context, username string) ([]models.DirectRoom, error) {
	rooms, err := s.store.ListDirectRoomsOf(ctx, username)
	if err != nil {
		return nil, persistence("list direct rooms", err)
	}
	return rooms, nil
}

// CreateGroup 创建群组，创建者为第一个成员。群名精确匹配、区分大小写。
func (s *RoomService) CreateGroup(ctx context.Context, name, description, creator string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return nil, invalid("group name is required")
	}
	if utf8.RuneCountInString(name) > maxGroupNameLen {
		return nil, invalid("group name is too long")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return nil, invalid("description is too long")
	}

	if _, err := s.store.FindGroupByName(ctx, name); err == nil {
		return nil, fmt.Errorf("group %q: %w", name, ErrDuplicateName)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, persistence("find group", err)
	}

	group := &models.Group{
		Name:        name,
		Description: description,
		Avatar:      GroupAvatar(name),
		CreatedBy:   creator,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("group %q: %w", name, ErrDuplicateName)
		}
		return nil, persistence("create group", err)
	}
	s.syncUserGroups(ctx, creator)
	return group, nil
}

// JoinGroup 将 username 追加到群成员末尾并写入一条系统消息。
// 系统消息写入失败时成员关系仍然成立，返回的消息为 nil。
func (s *RoomService) JoinGroup(ctx context.Context, name, username string) (*models.Group, *models.GroupMessage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, invalid("group name is required")
	}
	group, err := s.store.FindGroupByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
		}
		return nil, nil, persistence("find group", err)
	}
	if slices.Contains(group.Members, username) {
		return nil, nil, fmt.Errorf("group %q: %w", name, ErrAlreadyMember)
	}

	group, err = s.store.AppendGroupMember(ctx, name, username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, nil, fmt.Errorf("group %q: %w", name, ErrAlreadyMember)
		case errors.Is(err, store.ErrNotFound):
			return nil, nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
		}
		return nil, nil, persistence("append group member", err)
	}
	s.syncUserGroups(ctx, username)

	notice := &models.GroupMessage{
		GroupName:       name,
		Sender:          SystemSender,
		Message:         fmt.Sprintf("%s joined %s", username, name),
		IsSystemMessage: true,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.store.InsertGroupMessage(ctx, notice); err != nil {
		log.Error().Err(err).Str("group", name).Str("username", username).Msg("insert join notice")
		return group, nil, nil
	}
	return group, notice, nil
}

func (s *RoomService) syncUserGroups(ctx context.Context, username string) {
	if _, err := reconcileGroups(ctx, s.store, username); err != nil {
		log.Warn().Err(err).Str("username", username).Msg("reconcile user groups")
	}
}

// GroupFor 返回 username 作为成员的群组。
func (s *RoomService) GroupFor(ctx context.Context, name, username string) (*models.Group, error) {
	group, err := s.Group(ctx, name)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(group.Members, username) {
		return nil, fmt.Errorf("group %q: %w", group.Name, ErrForbidden)
	}
	return group, nil
}

func (s *RoomService) Group(ctx context.Context, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("group name is required")
	}
	group, err := s.store.FindGroupByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
		}
		return nil, persistence("find group", err)
	}
	return group, nil
}

func (s *RoomService) ListGroups(ctx context.Context) ([]models.Group, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, persistence("list groups", err)
	}
	return groups, nil
}

// ListGroupsOf 以群成员表为准返回用户所在群组，不读 User.Groups 缓存。
func (s *RoomService) ListGroupsOf(ctx context.Context, username string) ([]models.Group, error) {
	groups, err := s.store.ListGroupsOf(ctx, username)
	if err != nil {
		return nil, persistence("list user groups", err)
	}
	return groups, nil
}
