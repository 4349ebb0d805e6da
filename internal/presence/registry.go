// Package presence 记录当前持有在线连接的用户名。
package presence

import (
	"sort"
	"sync"
)

// Notifier 在每次有效变更后收到排序后的完整在线列表。
// 调用时持有 registry 锁，不得阻塞或回调 registry。
type Notifier func(online []string)

// Registry 是用户名与连接 id 的双向映射，每个用户名只记录最近一次注册的连接。
type Registry struct {
	mu     sync.Mutex
	byUser map[string]string
	byConn map[string]string
	notify Notifier
}

// NewRegistry 创建空的 registry，notify 可以为 nil。
func NewRegistry(notify Notifier) *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
		notify: notify,
	}
}

// SetNotifier 替换 notifier，registry 与负责广播的 hub 可以按任意顺序创建。
func (r *Registry) SetNotifier(notify Notifier) {
	r.mu.Lock()
	r.notify = notify
	r.mu.Unlock()
}

// Register 将 username 记为在 connID 上在线并替换旧连接。重复注册同一对也会通知。
func (r *Registry) Register(username, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[username]; ok && prev != connID {
		delete(r.byConn, prev)
	}
	if prevUser, ok := r.byConn[connID]; ok && prevUser != username {
		delete(r.byUser, prevUser)
	}
	r.byUser[username] = connID
	r.byConn[connID] = username
	r.emitLocked()
}

// Unregister 移除 connID 对应的记录。connID 未知时不做任何事；
// 若该用户已在新连接上注册，则保留新连接。未移除任何记录时返回空字符串。
func (r *Registry) Unregister(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.byConn[connID]
	if !ok {
		return ""
	}
	delete(r.byConn, connID)
	if r.byUser[username] == connID {
		delete(r.byUser, username)
	}
	r.emitLocked()
	return username
}

func (r *Registry) IsOnline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[username]
	return ok
}

// ConnID 返回 username 最近注册的连接 id。
func (r *Registry) ConnID(username string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUser[username]
	return id, ok
}

func (r *Registry) ListOnline() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

func (r *Registry) snapshotLocked() []string {
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) emitLocked() {
	if r.notify != nil {
		r.notify(r.snapshotLocked())
	}
}
