package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"livechat/internal/models"

	"gorm.io/gorm"
)

// GormStore 基于 gorm 实现 Store，支持 Postgres 与 SQLite。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// translate 将驱动错误映射为包内的哨兵错误。
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (s *GormStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, translate(err, "find user")
	}
	return &user, nil
}

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.Groups == nil {
		user.Groups = []string{}
	}
	return translate(s.db.WithContext(ctx).Create(user).Error, "create user")
}

func (s *GormStore) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&users).Error; err != nil {
		return nil, translate(err, "list users")
	}
	return users, nil
}

func (s *GormStore) UpdateUserAvatar(ctx context.Context, username, avatar string) (*models.User, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Update("avatar", avatar)
	if res.Error != nil {
		return nil, translate(res.Error, "update avatar")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindUserByUsername(ctx, username)
}

func (s *GormStore) SetUserGroups(ctx context.Context, username string, groups []string) error {
	if groups == nil {
		groups = []string{}
	}
	res := s.db.WithContext(ctx).Model(&models.User{Username: username}).Select("Groups").Updates(&models.User{Groups: groups})
	if res.Error != nil {
		return translate(res.Error, "set user groups")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) FindDirectRoomByID(ctx context.Context, id string) (*models.DirectRoom, error) {
	var room models.DirectRoom
	if err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		return nil, translate(err, "find direct room")
	}
	fillRoomMembers(&room)
	return &room, nil
}

func (s *GormStore) FindDirectRoomByPair(ctx context.Context, pairKey string) (*models.DirectRoom, error) {
	var room models.DirectRoom
	if err := s.db.WithContext(ctx).First(&room, "pair_key = ?", pairKey).Error; err != nil {
		return nil, translate(err, "find direct room")
	}
	fillRoomMembers(&room)
	return &room, nil
}

func (s *GormStore) CreateDirectRoom(ctx context.Context, room *models.DirectRoom) error {
	if room.PairKey == "" {
		room.PairKey = PairKey(room.MemberA, room.MemberB)
	}
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return translate(err, "create direct room")
	}
	fillRoomMembers(room)
	return nil
}

func (s *GormStore) ListDirectRoomsOf(ctx context.Context, username string) ([]models.DirectRoom, error) {
	rooms := []models.DirectRoom{}
	err := s.db.WithContext(ctx).
		Where("member_a = ? OR member_b = ?", username, username).
		Order("created_at desc").
		Find(&rooms).Error
	if err != nil {
		return nil, translate(err, "list direct rooms")
	}
	for i := range rooms {
		fillRoomMembers(&rooms[i])
	}
	return rooms, nil
}

func fillRoomMembers(room *models.DirectRoom) {
	room.Members = []string{room.MemberA, room.MemberB}
}

func (s *GormStore) FindGroupByName(ctx context.Context, name string) (*models.Group, error) {
	var group models.Group
	if err := s.db.WithContext(ctx).First(&group, "name = ?", name).Error; err != nil {
		return nil, translate(err, "find group")
	}
	if err := s.loadMembers(ctx, s.db, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// CreateGroup 在同一事务中写入群组，并把创建者作为第一个成员。
func (s *GormStore) CreateGroup(ctx context.Context, group *models.Group) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		member := models.GroupMember{GroupName: group.Name, Username: group.CreatedBy, JoinedAt: group.CreatedAt}
		return tx.Create(&member).Error
	})
	if err != nil {
		return translate(err, "create group")
	}
	group.Members = []string{group.CreatedBy}
	return nil
}

// AppendGroupMember 将 username 追加到成员末尾，重复加入由唯一索引转为 ErrDuplicate。
func (s *GormStore) AppendGroupMember(ctx context.Context, groupName, username string) (*models.Group, error) {
	var group models.Group
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&group, "name = ?", groupName).Error; err != nil {
			return err
		}
		member := models.GroupMember{GroupName: groupName, Username: username, JoinedAt: time.Now().UTC()}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}
		if err := tx.Model(&group).Update("updated_at", member.JoinedAt).Error; err != nil {
			return err
		}
		return s.loadMembers(ctx, tx, &group)
	})
	if err != nil {
		return nil, translate(err, "append group member")
	}
	return &group, nil
}

func (s *GormStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	groups := []models.Group{}
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&groups).Error; err != nil {
		return nil, translate(err, "list groups")
	}
	if err := s.loadMembersBatch(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *GormStore) ListGroupsOf(ctx context.Context, username string) ([]models.Group, error) {
	groups := []models.Group{}
	err := s.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_name = chat_groups.name").
		Where("group_members.username = ?", username).
		Order("chat_groups.updated_at desc").
		Find(&groups).Error
	if err != nil {
		return nil, translate(err, "list user groups")
	}
	if err := s.loadMembersBatch(ctx, groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *GormStore) loadMembers(ctx context.Context, db *gorm.DB, group *models.Group) error {
	var members []models.GroupMember
	if err := db.WithContext(ctx).Where("group_name = ?", group.Name).Order("id asc").Find(&members).Error; err != nil {
		return translate(err, "load group members")
	}
	group.Members = make([]string, 0, len(members))
	for _, m := range members {
		group.Members = append(group.Members, m.Username)
	}
	return nil
}

// loadMembersBatch 一次查询填充多个群组的成员列表。
func (s *GormStore) loadMembersBatch(ctx context.Context, groups []models.Group) error {
	if len(groups) == 0 {
		return nil
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	var members []models.GroupMember
	if err := s.db.WithContext(ctx).Where("group_name IN ?", names).Order("id asc").Find(&members).Error; err != nil {
		return translate(err, "load group members")
	}
	byGroup := make(map[string][]string, len(groups))
	for _, m := range members {
		byGroup[m.GroupName] = append(byGroup[m.GroupName], m.Username)
	}
	for i := range groups {
		groups[i].Members = byGroup[groups[i].Name]
		if groups[i].Members == nil {
			groups[i].Members = []string{}
		}
	}
	return nil
}

func (s *GormStore) InsertDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	return translate(s.db.WithContext(ctx).Create(msg).Error, "insert direct message")
}

func (s *GormStore) InsertGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	return translate(s.db.WithContext(ctx).Create(msg).Error, "insert group message")
}

func (s *GormStore) ListDirectMessages(ctx context.Context, roomID string) ([]models.DirectMessage, error) {
	msgs := []models.DirectMessage{}
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at asc, id asc").Find(&msgs).Error
	if err != nil {
		return nil, translate(err, "list direct messages")
	}
	return msgs, nil
}

func (s *GormStore) ListGroupMessages(ctx context.Context, groupName string) ([]models.GroupMessage, error) {
	msgs := []models.GroupMessage{}
	err := s.db.WithContext(ctx).Where("group_name = ?", groupName).Order("created_at asc, id asc").Find(&msgs).Error
	if err != nil {
		return nil, translate(err, "list group messages")
	}
	return msgs, nil
}
