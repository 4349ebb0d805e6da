package ws

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// 客户端发来的事件名。
const (
	EventAnnounceOnline      = "announce-online"
	EventJoinDirectRoom      = "join-direct-room"
	EventLeaveDirectRoom     = "leave-direct-room"
	EventJoinGroup           = "join-group"
	EventLeaveGroup          = "leave-group"
	EventCreateDirectRoom    = "create-direct-room"
	EventSendDirectMessage   = "send-direct-message"
	EventLoadDirectMessages  = "load-direct-messages"
	EventCreateGroup         = "create-group"
	EventJoinGroupMembership = "join-group-membership"
	EventSendGroupMessage    = "send-group-message"
	EventLoadGroupMessages   = "load-group-messages"
	EventTyping              = "typing"
	EventListOnline          = "list-online"
)

// 服务端推送的事件名。
const (
	PushOnlineUsers            = "online-users"
	PushDirectRoomCreated      = "direct-room-created"
	PushGroupCreated           = "group-created"
	PushReceiveDirectMessage   = "receive-direct-message"
	PushReceiveGroupMessage    = "receive-group-message"
	PushUserJoinedGroup        = "user-joined-group"
	PushMembershipCountChanged = "membership-count-changed"
	PushTyping                 = "typing"
	PushNewUser                = "new-user"
)

// CodeRateLimited 表示单连接事件速率超限。
const CodeRateLimited = "RateLimited"

// Request 是客户端发来的一帧。
type Request struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Ack struct {
	Type    string    `json:"type"`
	ID      string    `json:"id,omitempty"`
	Event   string    `json:"event"`
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *AckError `json:"error,omitempty"`
}

type Push struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EncodeEvent 序列化一条推送事件，失败时记录日志并返回 nil。
func EncodeEvent(event string, data any) []byte {
	b, err := json.Marshal(Push{Type: "event", Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode event")
		return nil
	}
	return b
}

func encodeAck(ack Ack) []byte {
	ack.Type = "ack"
	b, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Str("event", ack.Event).Msg("encode ack")
		return nil
	}
	return b
}
