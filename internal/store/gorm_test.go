package store

import (
	"context"
	"testing"
	"time"

	"livechat/internal/db"
	"livechat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore 创建基于内存 SQLite 的测试 store。
func setupTestStore(t *testing.T) *GormStore {
	t.Helper()

	gdb, err := db.Connect("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewGormStore(gdb)
}

func createUsers(t *testing.T, s *GormStore, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, s.CreateUser(context.Background(), &models.User{Username: n, Avatar: "a"}))
	}
}

func TestPairKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
	assert.Equal(t, "alice:bob", PairKey("bob", "alice"))
	assert.NotEqual(t, PairKey("alice", "bob"), PairKey("alice", "carol"))
}

func TestGormStore_Users(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.FindUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	createUsers(t, s, "alice")

	err = s.CreateUser(ctx, &models.User{Username: "alice", Avatar: "b"})
	assert.ErrorIs(t, err, ErrDuplicate)

	user, err := s.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a", user.Avatar)
	assert.Empty(t, user.Groups)

	updated, err := s.UpdateUserAvatar(ctx, "alice", "z")
	require.NoError(t, err)
	assert.Equal(t, "z", updated.Avatar)

	_, err = s.UpdateUserAvatar(ctx, "nobody", "z")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetUserGroups(ctx, "alice", []string{"book-club"}))
	user, err = s.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"book-club"}, user.Groups)

	assert.ErrorIs(t, s.SetUserGroups(ctx, "nobody", nil), ErrNotFound)
}

func TestGormStore_DirectRoomUniquePair(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	room := &models.DirectRoom{ID: uuid.NewString(), MemberA: "alice", MemberB: "bob"}
	require.NoError(t, s.CreateDirectRoom(ctx, room))
	assert.Equal(t, []string{"alice", "bob"}, room.Members)

	dup := &models.DirectRoom{ID: uuid.NewString(), MemberA: "bob", MemberB: "alice"}
	assert.ErrorIs(t, s.CreateDirectRoom(ctx, dup), ErrDuplicate)

	found, err := s.FindDirectRoomByPair(ctx, PairKey("bob", "alice"))
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)

	byID, err := s.FindDirectRoomByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, byID.Members)

	rooms, err := s.ListDirectRoomsOf(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, rooms, 1)

	rooms, err = s.ListDirectRoomsOf(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	_, err = s.FindDirectRoomByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_GroupMembership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	group := &models.Group{Name: "book-club", CreatedBy: "carol"}
	require.NoError(t, s.CreateGroup(ctx, group))
	assert.Equal(t, []string{"carol"}, group.Members)

	assert.ErrorIs(t, s.CreateGroup(ctx, &models.Group{Name: "book-club", CreatedBy: "dave"}), ErrDuplicate)

	updated, err := s.AppendGroupMember(ctx, "book-club", "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, updated.Members)

	_, err = s.AppendGroupMember(ctx, "book-club", "dave")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.AppendGroupMember(ctx, "missing", "dave")
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := s.FindGroupByName(ctx, "book-club")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "dave"}, found.Members)

	// Names are exact-match.
	_, err = s.FindGroupByName(ctx, "Book-Club")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateGroup(ctx, &models.Group{Name: "chess", CreatedBy: "eve"}))

	all, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.ListGroupsOf(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "book-club", mine[0].Name)
	assert.Equal(t, []string{"carol", "dave"}, mine[0].Members)
}

func TestGormStore_MessagesOrdered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two", "three"} {
		msg := &models.DirectMessage{RoomID: "r1", Sender: "alice", Message: text, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.InsertDirectMessage(ctx, msg))
		assert.NotZero(t, msg.ID)
	}
	// Same timestamp falls back to insertion order.
	require.NoError(t, s.InsertDirectMessage(ctx, &models.DirectMessage{RoomID: "r1", Sender: "bob", Message: "four", CreatedAt: base.Add(2 * time.Second)}))
	require.NoError(t, s.InsertDirectMessage(ctx, &models.DirectMessage{RoomID: "r2", Sender: "bob", Message: "elsewhere", CreatedAt: base}))

	msgs, err := s.ListDirectMessages(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	texts := make([]string, 0, len(msgs))
	for i, m := range msgs {
		texts = append(texts, m.Message)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
	assert.Equal(t, []string{"one", "two", "three", "four"}, texts)

	require.NoError(t, s.InsertGroupMessage(ctx, &models.GroupMessage{GroupName: "g", Sender: "System", Message: "x joined g", IsSystemMessage: true, CreatedAt: base}))
	require.NoError(t, s.InsertGroupMessage(ctx, &models.GroupMessage{GroupName: "g", Sender: "x", Message: "hello", CreatedAt: base.Add(time.Second)}))

	gmsgs, err := s.ListGroupMessages(ctx, "g")
	require.NoError(t, err)
	require.Len(t, gmsgs, 2)
	assert.True(t, gmsgs[0].IsSystemMessage)
	assert.False(t, gmsgs[1].IsSystemMessage)

	empty, err := s.ListGroupMessages(ctx, "nothing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
