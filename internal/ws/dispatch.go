package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"livechat/internal/metrics"
	"livechat/internal/models"
	"livechat/internal/presence"
	"livechat/internal/service"

	"github.com/rs/zerolog/log"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) (any, error)

type handler struct {
	fn  handlerFunc
	ack bool
}

// Dispatcher 按事件名分发入站事件：先校验成员关系、持久化，成功后再推送。
// 单个连接的事件在其 readPump 中顺序执行。
type Dispatcher struct {
	hub      *Hub
	presence *presence.Registry
	users    *service.UserService
	rooms    *service.RoomService
	msgs     *service.MessageService
	handlers map[string]handler
}

func NewDispatcher(hub *Hub, reg *presence.Registry, users *service.UserService, rooms *service.RoomService, msgs *service.MessageService) *Dispatcher {
	d := &Dispatcher{hub: hub, presence: reg, users: users, rooms: rooms, msgs: msgs}
	d.handlers = map[string]handler{
		EventAnnounceOnline:      {fn: d.announceOnline},
		EventJoinDirectRoom:      {fn: d.joinDirectRoom, ack: true},
		EventLeaveDirectRoom:     {fn: d.leaveDirectRoom, ack: true},
		EventJoinGroup:           {fn: d.joinGroup},
		EventLeaveGroup:          {fn: d.leaveGroup},
		EventCreateDirectRoom:    {fn: d.createDirectRoom, ack: true},
		EventSendDirectMessage:   {fn: d.sendDirectMessage, ack: true},
		EventLoadDirectMessages:  {fn: d.loadDirectMessages, ack: true},
		EventCreateGroup:         {fn: d.createGroup, ack: true},
		EventJoinGroupMembership: {fn: d.joinGroupMembership, ack: true},
		EventSendGroupMessage:    {fn: d.sendGroupMessage, ack: true},
		EventLoadGroupMessages:   {fn: d.loadGroupMessages, ack: true},
		EventTyping:              {fn: d.typing},
		EventListOnline:          {fn: d.listOnline, ack: true},
	}
	reg.SetNotifier(d.broadcastOnline)
	return d
}

// broadcastOnline 在 presence 锁内被调用，推送顺序与在线集合的变更顺序一致。
func (d *Dispatcher) broadcastOnline(online []string) {
	metrics.OnlineUsers.Set(float64(len(online)))
	d.hub.BroadcastAll(EncodeEvent(PushOnlineUsers, online), nil)
}

// NotifyNewUser 通知所有连接有新用户注册。
func (d *Dispatcher) NotifyNewUser(user *models.User) {
	d.hub.BroadcastAll(EncodeEvent(PushNewUser, user), nil)
}

// Dispatch 处理一帧入站数据。格式错误的帧只记录日志；失败通过 ack 返回，不会断开连接。
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil || req.Event == "" {
		log.Debug().Err(err).Str("conn_id", c.connID).Msg("drop malformed frame")
		return
	}

	h, known := d.handlers[req.Event]
	label := req.Event
	if !known {
		label = "unknown"
	}

	if !c.limiter.Allow() {
		metrics.WsEventsTotal.WithLabelValues(label, CodeRateLimited).Inc()
		d.reply(c, req, nil, &AckError{Code: CodeRateLimited, Message: "too many events"})
		return
	}
	if !known {
		metrics.WsEventsTotal.WithLabelValues(label, service.CodeValidationFailed).Inc()
		d.reply(c, req, nil, &AckError{Code: service.CodeValidationFailed, Message: fmt.Sprintf("unknown event %q", req.Event)})
		return
	}

	data, err := h.fn(ctx, c, req.Data)
	if err != nil {
		code := service.Code(err)
		metrics.WsEventsTotal.WithLabelValues(label, code).Inc()
		ev := log.Debug()
		if code == service.CodePersistenceFailure {
			ev = log.Error()
		}
		ev.Err(err).Str("event", req.Event).Str("username", c.username).Str("conn_id", c.connID).Msg("event failed")
		if h.ack {
			d.reply(c, req, nil, ackError(code, err))
		}
		return
	}
	metrics.WsEventsTotal.WithLabelValues(label, "ok").Inc()
	if h.ack {
		d.reply(c, req, data, nil)
	}
}

func ackError(code string, err error) *AckError {
	msg := err.Error()
	if code == service.CodePersistenceFailure {
		msg = "storage failure, please retry"
	}
	return &AckError{Code: code, Message: msg}
}

func (d *Dispatcher) reply(c *Client, req Request, data any, aerr *AckError) {
	d.hub.SendTo(c.connID, encodeAck(Ack{
		ID:      req.ID,
		Event:   req.Event,
		Success: aerr == nil,
		Data:    data,
		Error:   aerr,
	}))
}

// Disconnect 先从 hub 移除连接，再从 presence 注销，避免反向加锁。
func (d *Dispatcher) Disconnect(c *Client) {
	d.hub.Unregister(c)
	if username := d.presence.Unregister(c.connID); username != "" {
		log.Info().Str("conn_id", c.connID).Str("username", username).Msg("user offline")
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload", service.ErrValidation)
	}
	return nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", service.ErrValidation, field)
	}
	return nil
}

type roomRef struct {
	RoomID string `json:"room_id"`
}

type groupRef struct {
	GroupName string `json:"group_name"`
}

type membershipNotice struct {
	GroupName   string   `json:"group_name"`
	Username    string   `json:"username,omitempty"`
	MemberCount int      `json:"member_count"`
	Members     []string `json:"members,omitempty"`
}

type typingNotice struct {
	RoomID    string `json:"room_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"is_typing"`
}

func (d *Dispatcher) announceOnline(_ context.Context, c *Client, _ json.RawMessage) (any, error) {
	d.presence.Register(c.username, c.connID)
	log.Info().Str("conn_id", c.connID).Str("username", c.username).Msg("user online")
	return nil, nil
}

func (d *Dispatcher) joinDirectRoom(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	room, err := d.rooms.DirectRoomFor(ctx, p.RoomID, c.username)
	if err != nil {
		return nil, err
	}
	d.hub.Subscribe(c, roomChannel(room.ID))
	return roomRef{RoomID: room.ID}, nil
}

func (d *Dispatcher) leaveDirectRoom(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := required("room_id", p.RoomID); err != nil {
		return nil, err
	}
	d.hub.Unsubscribe(c, roomChannel(p.RoomID))
	return p, nil
}

func (d *Dispatcher) joinGroup(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	var p groupRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := required("group_name", p.GroupName); err != nil {
		return nil, err
	}
	d.hub.Subscribe(c, groupChannel(strings.TrimSpace(p.GroupName)))
	return nil, nil
}

func (d *Dispatcher) leaveGroup(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	var p groupRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	d.hub.Unsubscribe(c, groupChannel(strings.TrimSpace(p.GroupName)))
	return nil, nil
}

func (d *Dispatcher) createDirectRoom(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p struct {
		Receiver string `json:"receiver"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	receiver, err := service.NormalizeUsername(p.Receiver)
	if err != nil {
		return nil, err
	}
	room, created, err := d.rooms.GetOrCreateDirectRoom(ctx, c.username, receiver)
	if err != nil {
		return nil, err
	}
	if created {
		if connID, ok := d.presence.ConnID(receiver); ok {
			d.hub.SendTo(connID, EncodeEvent(PushDirectRoomCreated, room))
		}
	}
	return map[string]any{"room": room}, nil
}

func (d *Dispatcher) sendDirectMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p struct {
		RoomID string `json:"room_id"`
		service.Content
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	msg, err := d.msgs.SendDirect(ctx, c.username, p.RoomID, p.Content)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("direct").Inc()
	d.hub.EmitTo(roomChannel(msg.RoomID), EncodeEvent(PushReceiveDirectMessage, msg), nil)
	return map[string]any{"message": msg}, nil
}

func (d *Dispatcher) loadDirectMessages(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	msgs, err := d.msgs.LoadDirect(ctx, c.username, p.RoomID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": msgs}, nil
}

func (d *Dispatcher) createGroup(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	group, err := d.rooms.CreateGroup(ctx, p.Name, p.Description, c.username)
	if err != nil {
		return nil, err
	}
	d.hub.BroadcastAll(EncodeEvent(PushGroupCreated, group), c)
	return map[string]any{"group": group}, nil
}

func (d *Dispatcher) joinGroupMembership(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p groupRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	group, notice, err := d.rooms.JoinGroup(ctx, p.GroupName, c.username)
	if err != nil {
		return nil, err
	}
	ch := groupChannel(group.Name)
	if notice != nil {
		metrics.MessagesTotal.WithLabelValues("system").Inc()
		d.hub.EmitTo(ch, EncodeEvent(PushReceiveGroupMessage, notice), nil)
	}
	d.hub.EmitTo(ch, EncodeEvent(PushUserJoinedGroup, membershipNotice{
		GroupName:   group.Name,
		Username:    c.username,
		MemberCount: len(group.Members),
	}), nil)
	d.hub.BroadcastAll(EncodeEvent(PushMembershipCountChanged, membershipNotice{
		GroupName:   group.Name,
		MemberCount: len(group.Members),
		Members:     group.Members,
	}), nil)
	return map[string]any{"group": group}, nil
}

func (d *Dispatcher) sendGroupMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p struct {
		GroupName string `json:"group_name"`
		service.Content
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	msg, err := d.msgs.SendGroup(ctx, c.username, p.GroupName, p.Content)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("group").Inc()
	d.hub.EmitTo(groupChannel(msg.GroupName), EncodeEvent(PushReceiveGroupMessage, msg), nil)
	return map[string]any{"message": msg}, nil
}

func (d *Dispatcher) loadGroupMessages(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	var p groupRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	msgs, err := d.msgs.LoadGroup(ctx, c.username, p.GroupName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": msgs}, nil
}

// typing 只转发给已订阅该频道的其他连接，不落库。
func (d *Dispatcher) typing(_ context.Context, c *Client, data json.RawMessage) (any, error) {
	var p struct {
		RoomID    string `json:"room_id"`
		GroupName string `json:"group_name"`
		IsTyping  bool   `json:"is_typing"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	p.RoomID = strings.TrimSpace(p.RoomID)
	p.GroupName = strings.TrimSpace(p.GroupName)
	var ch string
	switch {
	case p.RoomID != "":
		ch = roomChannel(p.RoomID)
	case p.GroupName != "":
		ch = groupChannel(p.GroupName)
	default:
		return nil, fmt.Errorf("%w: room_id or group_name is required", service.ErrValidation)
	}
	if !d.hub.Subscribed(c, ch) {
		return nil, fmt.Errorf("typing on %s: %w", ch, service.ErrForbidden)
	}
	d.hub.EmitTo(ch, EncodeEvent(PushTyping, typingNotice{
		RoomID:    p.RoomID,
		GroupName: p.GroupName,
		Username:  c.username,
		IsTyping:  p.IsTyping,
	}), c)
	return nil, nil
}

func (d *Dispatcher) listOnline(context.Context, *Client, json.RawMessage) (any, error) {
	return map[string]any{"usernames": d.presence.ListOnline()}, nil
}
