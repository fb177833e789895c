package proto

import (
	"encoding/json"

	"sudooom.im.realtime/pkg/snowflake"
)

// 事件类型
const (
	EventMessageNew       = "message.new"
	EventMessageEdited    = "message.edited"
	EventMessageDeleted   = "message.deleted"
	EventMessageReaction  = "message.reaction"
	EventMessageRead      = "message.read"
	EventMessagePinned    = "message.pinned"
	EventMessageUnpinned  = "message.unpinned"
	EventConversationRead = "conversation.read"

	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
	EventParticipantRemoved  = "conversation.participant_removed"

	EventTypingStart = "typing.start"
	EventTypingStop  = "typing.stop"

	EventPresenceChanged = "presence.changed"

	EventNotificationNew  = "notification.new"
	EventNotificationRead = "notification.read"
)

// Event 推送给订阅者的事件
type Event struct {
	Type      string `json:"type"`
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// RelayEnvelope 跨节点转发的事件封装
type RelayEnvelope struct {
	Origin    string          `json:"origin"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Event 还原为本地事件，Data 保持原始 JSON 以免丢失 int64 精度
func (e *RelayEnvelope) Event() *Event {
	return &Event{
		Type:      e.Type,
		Channel:   e.Channel,
		Data:      e.Data,
		Timestamp: e.Timestamp,
	}
}

// TypingData 正在输入事件载荷
type TypingData struct {
	ConversationID int64   `json:"conversationId,string"`
	UserID         int64   `json:"userId"`
	TypingUserIDs  []int64 `json:"typingUserIds"`
}

// PresenceData 在线状态事件载荷
type PresenceData struct {
	UserID     int64  `json:"userId"`
	Status     string `json:"status"`
	LastActive int64  `json:"lastActive"`
	Device     string `json:"device,omitempty"`
}

// ReadData 已读回执载荷
type ReadData struct {
	ConversationID int64 `json:"conversationId,string"`
	MessageID      int64 `json:"messageId,string,omitempty"`
	ReaderID       int64 `json:"readerId"`
	ReadAt         int64 `json:"readAt"`
	Count          int64 `json:"count,omitempty"`
}

// ReactionData 表情回应载荷
type ReactionData struct {
	ConversationID int64  `json:"conversationId,string"`
	MessageID      int64  `json:"messageId,string"`
	UserID         int64  `json:"userId"`
	Emoji          string `json:"emoji"`
	Added          bool   `json:"added"`
}

// NotificationCountData 未读通知数变化载荷
type NotificationCountData struct {
	UserID      int64         `json:"userId"`
	UnreadCount int64         `json:"unreadCount"`
	ReadIDs     snowflake.IDs `json:"readIds,omitempty"`
}

// PinData 置顶变更载荷
type PinData struct {
	ConversationID   int64         `json:"conversationId,string"`
	MessageID        int64         `json:"messageId,string"`
	Pinned           bool          `json:"pinned"`
	PinnedBy         int64         `json:"pinnedBy,omitempty"`
	PinnedMessageIDs snowflake.IDs `json:"pinnedMessageIds"`
}

// ParticipantData 成员变更载荷
type ParticipantData struct {
	ConversationID int64   `json:"conversationId,string"`
	UserIDs        []int64 `json:"userIds"`
	ActorID        int64   `json:"actorId"`
	PromotedAdmin  int64   `json:"promotedAdmin,omitempty"`
}

// MessageRefData 只携带引用的消息事件载荷
type MessageRefData struct {
	ConversationID int64 `json:"conversationId,string"`
	MessageID      int64 `json:"messageId,string"`
	ActorID        int64 `json:"actorId"`
}

// DecodeData 取出事件载荷，兼容本地事件的结构体和跨节点事件的原始 JSON
func DecodeData[T any](ev *Event) (T, bool) {
	var zero T
	switch v := ev.Data.(type) {
	case T:
		return v, true
	case *T:
		if v == nil {
			return zero, false
		}
		return *v, true
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			return zero, false
		}
		return out, true
	default:
		return zero, false
	}
}
