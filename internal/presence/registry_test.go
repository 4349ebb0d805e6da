package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) notify(online []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, online)
}

func (r *recorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func TestRegistry_RegisterThenDisconnect(t *testing.T) {
	for _, u := range []string{"alice", "bob", "a.b-c_d", "x"} {
		t.Run(u, func(t *testing.T) {
			r := NewRegistry(nil)
			r.Register(u, "conn-1")
			assert.True(t, r.IsOnline(u))

			assert.Equal(t, u, r.Unregister("conn-1"))
			assert.False(t, r.IsOnline(u))
			assert.Empty(t, r.ListOnline())
		})
	}
}

func TestRegistry_ReconnectReplacesEntry(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec.notify)

	r.Register("alice", "old")
	r.Register("alice", "new")

	id, ok := r.ConnID("alice")
	require.True(t, ok)
	assert.Equal(t, "new", id)
	assert.Equal(t, 1, r.Count())

	// the stale connection closing must not take alice offline
	assert.Empty(t, r.Unregister("old"))
	assert.True(t, r.IsOnline("alice"))

	assert.Equal(t, "alice", r.Unregister("new"))
	assert.False(t, r.IsOnline("alice"))
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec.notify)

	assert.Empty(t, r.Unregister("nope"))
	assert.Empty(t, rec.calls)
}

func TestRegistry_BroadcastsFullSortedSet(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec.notify)

	r.Register("carol", "c1")
	r.Register("alice", "a1")
	r.Register("bob", "b1")
	assert.Equal(t, []string{"alice", "bob", "carol"}, rec.last())

	r.Unregister("a1")
	assert.Equal(t, []string{"bob", "carol"}, rec.last())
	assert.Len(t, rec.calls, 4)
}

func TestRegistry_ConnectionReusedByAnotherUser(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("alice", "c1")
	r.Register("bob", "c1")

	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.IsOnline("bob"))
	assert.Equal(t, []string{"bob"}, r.ListOnline())
}

func TestRegistry_NotificationOrderMatchesMutations(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec.notify)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := fmt.Sprintf("user%02d", i)
			r.Register(u, "conn-"+u)
		}(i)
	}
	wg.Wait()

	// every notification grows by exactly one while users only join
	require.Len(t, rec.calls, 50)
	for i, call := range rec.calls {
		assert.Len(t, call, i+1)
	}
	assert.Equal(t, 50, r.Count())
}
