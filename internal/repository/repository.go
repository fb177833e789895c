package repository

import (
	"context"
	"time"

	"sudooom.im.realtime/internal/model"
)

// IDGenerator 生成全局唯一且按时间递增的 ID
type IDGenerator interface {
	NextID() int64
}

// Directory 用户目录（外部身份服务的投影）
type Directory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetUsers(ctx context.Context, userIDs []int64) (map[int64]*model.User, error)
	SetOnline(ctx context.Context, userID int64, online bool, lastActive time.Time) error
}

// ConversationStore 会话存储
// 同一会话的写操作串行执行，不同会话可并行
type ConversationStore interface {
	// GetOrCreateDirect 返回两人唯一的私聊会话，created 表示本次新建
	GetOrCreateDirect(ctx context.Context, userA, userB int64) (conv *model.Conversation, created bool, err error)
	CreateGroup(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id int64) (*model.Conversation, error)
	// ListConversations 按 updatedAt 倒序
	ListConversations(ctx context.Context, userID int64, offset, limit int) ([]*model.Conversation, error)
	// UpdateConversation 在会话锁内执行读改写，fn 返回错误时不落库
	UpdateConversation(ctx context.Context, id int64, fn func(conv *model.Conversation) error) (*model.Conversation, error)
}

// SearchQuery 消息搜索条件
type SearchQuery struct {
	UserID         int64 // 只搜索该用户参与的会话
	Text           string
	ConversationID int64     // 可选
	From           time.Time // 可选，包含
	To             time.Time // 可选，包含
	Limit          int
}

// MessageStore 消息存储
type MessageStore interface {
	// SendMessage 持久化消息并原子地推进会话的 lastMessageId、消息数和发送者已读时间
	SendMessage(ctx context.Context, msg *model.Message) (*model.Conversation, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	GetMessages(ctx context.Context, ids []int64) (map[int64]*model.Message, error)
	EditMessage(ctx context.Context, id, actorID int64, content string) (*model.Message, error)
	SoftDeleteMessage(ctx context.Context, id, actorID int64) (msg *model.Message, changed bool, err error)
	ToggleReaction(ctx context.Context, id, actorID int64, emoji string) (msg *model.Message, added bool, err error)
	TogglePin(ctx context.Context, id, actorID int64) (*model.Message, *model.Conversation, error)
	MarkMessageRead(ctx context.Context, id, readerID int64) (msg *model.Message, changed bool, err error)
	MarkConversationRead(ctx context.Context, conversationID, readerID int64) (changed int64, readAt time.Time, err error)
	// ListMessages 按 ID 倒序，before 为 0 表示从最新开始，不含已删除消息
	ListMessages(ctx context.Context, conversationID, before int64, limit int) ([]*model.Message, error)
	SearchMessages(ctx context.Context, q SearchQuery) ([]*model.Message, error)
	UnreadCount(ctx context.Context, conversationID, userID int64) (int64, error)
	UnreadCounts(ctx context.Context, userID int64, conversationIDs []int64) (map[int64]int64, error)
}

// NotificationStore 通知存储，通知行与用户未读计数在同一事务内维护
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) (unread int64, err error)
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, offset, limit int) ([]*model.Notification, error)
	// MarkNotificationsRead 全部属于 userID 才执行，否则返回 Forbidden 且不做任何修改
	MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) (changed int64, unread int64, err error)
	MarkAllNotificationsRead(ctx context.Context, userID int64) (changed int64, unread int64, err error)
	UnreadNotificationCount(ctx context.Context, userID int64) (int64, error)
}

// Store 完整存储
type Store interface {
	Directory
	ConversationStore
	MessageStore
	NotificationStore
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage 规范化分页参数
func NormalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return offset, limit
}

// UniqueIDs 去重并去掉非法 ID，保持原顺序
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
