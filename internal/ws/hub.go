package ws

import (
	"sync"

	"livechat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 维护当前连接以及逻辑频道（room:<id>、group:<name>）的订阅关系。
// 向 client.send 的非阻塞写只在读锁下进行，关闭 send 只在写锁下进行。
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]map[*Client]struct{}
	closed   bool
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[string]map[*Client]struct{}),
	}
}

func roomChannel(id string) string    { return "room:" + id }
func groupChannel(name string) string { return "group:" + name }

// Register 加入一个新连接；hub 已关闭时返回 false。
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.connID] = c
	metrics.WsConnections.Inc()
	return true
}

// Unregister 移除连接及其全部订阅并关闭 send；重复调用无副作用。
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) bool {
	if cur, ok := h.clients[c.connID]; !ok || cur != c {
		return false
	}
	delete(h.clients, c.connID)
	for ch := range c.subs {
		if set := h.channels[ch]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	c.subs = nil
	close(c.send)
	metrics.WsConnections.Dec()
	return true
}

// Subscribe 将连接加入频道，重复订阅无副作用。
func (h *Hub) Subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.connID]; !ok {
		return
	}
	set := h.channels[channel]
	if set == nil {
		set = make(map[*Client]struct{})
		h.channels[channel] = set
	}
	set[c] = struct{}{}
	if c.subs == nil {
		c.subs = make(map[string]struct{})
	}
	c.subs[channel] = struct{}{}
}

// Unsubscribe 将连接移出频道；未订阅过的频道直接忽略。
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.channels[channel]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.channels, channel)
	}
	delete(c.subs, channel)
}

func (h *Hub) Subscribed(c *Client, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][c]
	return ok
}

// BroadcastAll 发送给所有连接，except 非空时跳过该连接。
func (h *Hub) BroadcastAll(msg []byte, except *Client) {
	h.mu.RLock()
	var slow []*Client
	for _, c := range h.clients {
		if c == except {
			continue
		}
		if !c.trySend(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.drop(slow)
}

// EmitTo 发送给频道内的全部订阅者。
func (h *Hub) EmitTo(channel string, msg []byte, except *Client) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.channels[channel] {
		if c == except {
			continue
		}
		if !c.trySend(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.drop(slow)
}

// SendTo 发送给指定连接，连接不存在时返回 false。
func (h *Hub) SendTo(connID string, msg []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	sent := ok && c.trySend(msg)
	h.mu.RUnlock()
	if ok && !sent {
		h.drop([]*Client{c})
	}
	return sent
}

// drop 断开发送缓冲已满的慢连接，writePump 随后关闭底层连接。
func (h *Hub) drop(slow []*Client) {
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range slow {
		if h.removeLocked(c) {
			metrics.WsDroppedClients.Inc()
			log.Warn().Str("conn_id", c.connID).Str("username", c.username).Msg("drop slow client")
		}
	}
}

// Online 返回当前连接数。
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 断开全部连接并拒绝新的注册，用于优雅停服。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, c := range h.clients {
		h.removeLocked(c)
	}
}
