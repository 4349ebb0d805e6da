package service

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"livechat/internal/models"
	"livechat/internal/store"
)

const (
	maxMessageLen  = 4000
	maxImageRefLen = 2048
)

// Clock 生成服务端时间戳，保证在进程内单调不减，精度截断到微秒以兼容 Postgres。
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// MessageService 封装消息收发：先校验成员关系与内容，再持久化。
type MessageService struct {
	store store.Store
	rooms *RoomService
	clock *Clock
}

func NewMessageService(st store.Store, rooms *RoomService, clock *Clock) *MessageService {
	return &MessageService{store: st, rooms: rooms, clock: clock}
}

// Content 是一条消息的用户输入部分，文本与图片至少提供一个。
type Content struct {
	Message  string `json:"message"`
	ImageURL string `json:"image_url"`
}

func (c Content) normalize() (Content, error) {
	c.Message = strings.TrimSpace(c.Message)
	c.ImageURL = strings.TrimSpace(c.ImageURL)
	if c.Message == "" && c.ImageURL == "" {
		return c, invalid("message text or image is required")
	}
	if utf8.RuneCountInString(c.Message) > maxMessageLen {
		return c, invalid("message is too long")
	}
	if len(c.ImageURL) > maxImageRefLen {
		return c, invalid("image reference is too long")
	}
	return c, nil
}

// SendDirect 持久化一条私聊消息，sender 必须是房间成员。
func (s *MessageService) SendDirect(ctx context.Context, sender, roomID string, in Content) (*models.DirectMessage, error) {
	room, err := s.rooms.DirectRoomFor(ctx, roomID, sender)
	if err != nil {
		return nil, err
	}
	in, err = in.normalize()
	if err != nil {
		return nil, err
	}
	msg := &models.DirectMessage{
		RoomID:    room.ID,
		Sender:    sender,
		Message:   in.Message,
		ImageURL:  in.ImageURL,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.InsertDirectMessage(ctx, msg); err != nil {
		return nil, persistence("insert direct message", err)
	}
	return msg, nil
}

// LoadDirect 按创建时间升序返回房间内全部消息。
func (s *MessageService) LoadDirect(ctx context.Context, username, roomID string) ([]models.DirectMessage, error) {
	room, err := s.rooms.DirectRoomFor(ctx, roomID, username)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListDirectMessages(ctx, room.ID)
	if err != nil {
		return nil, persistence("list direct messages", err)
	}
	return msgs, nil
}

func (s *MessageService) SendGroup(ctx context.Context, sender, groupName string, in Content) (*models.GroupMessage, error) {
	group, err := s.rooms.GroupFor(ctx, groupName, sender)
	if err != nil {
		return nil, err
	}
	in, err = in.normalize()
	if err != nil {
		return nil, err
	}
	msg := &models.GroupMessage{
		GroupName: group.Name,
		Sender:    sender,
		Message:   in.Message,
		ImageURL:  in.ImageURL,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.InsertGroupMessage(ctx, msg); err != nil {
		return nil, persistence("insert group message", err)
	}
	return msg, nil
}

func (s *MessageService) LoadGroup(ctx context.Context, username, groupName string) ([]models.GroupMessage, error) {
	group, err := s.rooms.GroupFor(ctx, groupName, username)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListGroupMessages(ctx, group.Name)
	if err != nil {
		return nil, persistence("list group messages", err)
	}
	return msgs, nil
}
