package ws

import (
	"sync"
	"testing"

	"golang.org/x/time/rate"
)

func fakeClient(username string) *Client {
	return newClient(nil, username, rate.Inf, 1)
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.Online() != 0 {
		t.Errorf("Online() = %d, want 0", hub.Online())
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	c := fakeClient("alice")

	if !hub.Register(c) {
		t.Fatal("Register() = false on open hub")
	}
	if hub.Online() != 1 {
		t.Errorf("Online() after register = %d, want 1", hub.Online())
	}
	if !hub.Unregister(c) {
		t.Error("Unregister() = false for registered client")
	}
	if hub.Unregister(c) {
		t.Error("second Unregister() = true, want no-op")
	}
	if hub.Online() != 0 {
		t.Errorf("Online() after unregister = %d, want 0", hub.Online())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel not closed after unregister")
	}
}

func TestHub_EmitToChannel(t *testing.T) {
	hub := NewHub()
	a, b, outsider := fakeClient("alice"), fakeClient("bob"), fakeClient("eve")
	for _, c := range []*Client{a, b, outsider} {
		hub.Register(c)
	}
	hub.Subscribe(a, roomChannel("r1"))
	hub.Subscribe(b, roomChannel("r1"))

	hub.EmitTo(roomChannel("r1"), []byte("hello"), nil)

	for _, c := range []*Client{a, b} {
		got := drain(c)
		if len(got) != 1 || string(got[0]) != "hello" {
			t.Errorf("%s received %q, want [hello]", c.username, got)
		}
	}
	if got := drain(outsider); len(got) != 0 {
		t.Errorf("outsider received %q, want nothing", got)
	}

	hub.EmitTo(roomChannel("r1"), []byte("typing"), a)
	if got := drain(a); len(got) != 0 {
		t.Errorf("excluded sender received %q", got)
	}
	if got := drain(b); len(got) != 1 {
		t.Errorf("bob received %d frames, want 1", len(got))
	}
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	hub := NewHub()
	c := fakeClient("alice")
	hub.Register(c)

	hub.Unsubscribe(c, groupChannel("never-joined"))
	hub.Subscribe(c, groupChannel("book-club"))
	hub.Unsubscribe(c, groupChannel("book-club"))
	hub.Unsubscribe(c, groupChannel("book-club"))

	if hub.Subscribed(c, groupChannel("book-club")) {
		t.Error("still subscribed after leave")
	}
	hub.EmitTo(groupChannel("book-club"), []byte("x"), nil)
	if got := drain(c); len(got) != 0 {
		t.Errorf("received %q after leave", got)
	}
}

func TestHub_UnregisterDropsSubscriptions(t *testing.T) {
	hub := NewHub()
	c := fakeClient("alice")
	hub.Register(c)
	hub.Subscribe(c, roomChannel("r1"))
	hub.Unregister(c)

	if hub.Subscribed(c, roomChannel("r1")) {
		t.Error("subscription survived unregister")
	}
	// emitting to the channel must not panic on the closed send channel
	hub.EmitTo(roomChannel("r1"), []byte("x"), nil)
}

func TestHub_BroadcastAllExcept(t *testing.T) {
	hub := NewHub()
	clients := []*Client{fakeClient("a"), fakeClient("b"), fakeClient("c")}
	for _, c := range clients {
		hub.Register(c)
	}
	hub.BroadcastAll([]byte("new group"), clients[0])

	if got := drain(clients[0]); len(got) != 0 {
		t.Errorf("creator received %q", got)
	}
	for _, c := range clients[1:] {
		if got := drain(c); len(got) != 1 {
			t.Errorf("%s received %d frames, want 1", c.username, len(got))
		}
	}
}

func TestHub_SendTo(t *testing.T) {
	hub := NewHub()
	c := fakeClient("bob")
	hub.Register(c)

	if !hub.SendTo(c.connID, []byte("ping")) {
		t.Error("SendTo() = false for registered client")
	}
	if hub.SendTo("missing", []byte("ping")) {
		t.Error("SendTo() = true for unknown connection")
	}
	if got := drain(c); len(got) != 1 {
		t.Errorf("received %d frames, want 1", len(got))
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	slow, fast := fakeClient("slow"), fakeClient("fast")
	hub.Register(slow)
	hub.Register(fast)

	for i := 0; i < sendBuffer; i++ {
		slow.send <- []byte("backlog")
	}
	hub.BroadcastAll([]byte("x"), nil)

	if hub.Online() != 1 {
		t.Errorf("Online() = %d, want 1 after dropping slow client", hub.Online())
	}
	if got := drain(fast); len(got) != 1 {
		t.Errorf("fast client received %d frames, want 1", len(got))
	}
	if got := drain(slow); len(got) != sendBuffer {
		t.Errorf("slow client buffered %d frames, want %d", len(got), sendBuffer)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	c := fakeClient("alice")
	hub.Register(c)
	hub.Close()

	if hub.Online() != 0 {
		t.Errorf("Online() after Close = %d, want 0", hub.Online())
	}
	if hub.Register(fakeClient("late")) {
		t.Error("Register() after Close = true")
	}
	hub.Close()
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	numClients := 20

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := fakeClient("user")
			hub.Register(c)
			hub.Subscribe(c, groupChannel("g"))
			hub.EmitTo(groupChannel("g"), []byte("hi"), nil)
			hub.BroadcastAll([]byte("all"), c)
			hub.Unsubscribe(c, groupChannel("g"))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.Online() != 0 {
		t.Errorf("Online() after concurrent churn = %d, want 0", hub.Online())
	}
}
