// Package store 负责用户、私聊房间、群组及其消息的持久化。
package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"livechat/internal/models"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("not found")
	// ErrDuplicate 表示写入违反唯一约束。
	ErrDuplicate = errors.New("duplicate")
)

// Store 是 service 层依赖的存储接口，方法返回 nil 即表示已落库。
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserAvatar(ctx context.Context, username, avatar string) (*models.User, error)
	SetUserGroups(ctx context.Context, username string, groups []string) error

	FindDirectRoomByID(ctx context.Context, id string) (*models.DirectRoom, error)
	FindDirectRoomByPair(ctx context.Context, pairKey string) (*models.DirectRoom, error)
	CreateDirectRoom(ctx context.Context, room *models.DirectRoom) error
	ListDirectRoomsOf(ctx context.Context, username string) ([]models.DirectRoom, error)

	FindGroupByName(ctx context.Context, name string) (*models.Group, error)
	CreateGroup(ctx context.Context, group *models.Group) error
	AppendGroupMember(ctx context.Context, groupName, username string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]models.Group, error)
	ListGroupsOf(ctx context.Context, username string) ([]models.Group, error)

	InsertDirectMessage(ctx context.Context, msg *models.DirectMessage) error
	InsertGroupMessage(ctx context.Context, msg *models.GroupMessage) error
	ListDirectMessages(ctx context.Context, roomID string) ([]models.DirectMessage, error)
	ListGroupMessages(ctx context.Context, groupName string) ([]models.GroupMessage, error)
}

// PairKey 返回与成员顺序无关的私聊房间键。
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}
