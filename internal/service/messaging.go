package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"sudooom.im.realtime/internal/keylock"
	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/presence"
	"sudooom.im.realtime/internal/repository"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/proto"
)

// Publisher 事件发布
type Publisher interface {
	Publish(channel string, ev proto.Event) int
}

// TypingTracker 正在输入状态
type TypingTracker interface {
	Start(ctx context.Context, conversationID, userID int64) ([]int64, error)
	Stop(ctx context.Context, conversationID, userID int64) ([]int64, error)
	Users(ctx context.Context, conversationID int64) ([]int64, error)
}

// PresenceTracker 在线状态
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID int64) presence.Snapshot
	SetOffline(ctx context.Context, userID int64) presence.Snapshot
	Get(userID int64) presence.Snapshot
	IsOnline(userID int64) bool
}

// Notifier 通知服务
type Notifier interface {
	NotifyAsync(n *model.Notification)
	List(ctx context.Context, userID int64, unreadOnly bool, offset, limit int) ([]*model.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	MarkAsRead(ctx context.Context, userID int64, ids []int64) (int64, int64, error)
	MarkAllAsRead(ctx context.Context, userID int64) (int64, int64, error)
}

// Options 消息服务依赖
type Options struct {
	Store     repository.Store
	IDs       repository.IDGenerator
	Publisher Publisher
	Typing    TypingTracker
	Presence  PresenceTracker
	Notifier  Notifier
	Limits    model.Limits
	Logger    *slog.Logger
}

// MessagingService 消息门面：校验、鉴权、写存储，然后发布事件和通知
// 同一会话的写入与发布在会话锁内完成，订阅者看到的事件顺序与提交顺序一致
type MessagingService struct {
	store     repository.Store
	ids       repository.IDGenerator
	publisher Publisher
	typing    TypingTracker
	presence  PresenceTracker
	notifier  Notifier
	limits    model.Limits
	logger    *slog.Logger

	convLocks *keylock.Map
	direct    singleflight.Group
	now       func() time.Time
}

// NewMessagingService 创建消息服务
func NewMessagingService(opts Options) *MessagingService {
	limits := opts.Limits
	if limits.MaxAttachments <= 0 || limits.MaxAttachmentSize <= 0 {
		limits = model.DefaultLimits()
	}
	return &MessagingService{
		store:     opts.Store,
		ids:       opts.IDs,
		publisher: opts.Publisher,
		typing:    opts.Typing,
		presence:  opts.Presence,
		notifier:  opts.Notifier,
		limits:    limits,
		logger:    opts.Logger,
		convLocks: keylock.New(),
		now:       time.Now,
	}
}

// conversationFor 获取会话，非参与者与不存在同样返回 NotFound
func (s *MessagingService) conversationFor(ctx context.Context, conversationID, actorID int64) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(actorID) {
		return nil, appErrors.ErrConversationNotFound
	}
	return conv, nil
}

// Authorize 校验 actor 是否为会话参与者，用于订阅会话相关的推送流
func (s *MessagingService) Authorize(ctx context.Context, actorID, conversationID int64) error {
	_, err := s.conversationFor(ctx, conversationID, actorID)
	return err
}

// lockMessage 锁住消息所在会话，返回消息、会话与解锁函数
func (s *MessagingService) lockMessage(ctx context.Context, messageID, actorID int64) (*model.Message, *model.Conversation, func(), error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, nil, err
	}

	unlock := s.convLocks.Lock(msg.ConversationID)
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		unlock()
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, nil, nil, appErrors.ErrMessageNotFound
		}
		return nil, nil, nil, err
	}
	if !conv.HasParticipant(actorID) {
		unlock()
		return nil, nil, nil, appErrors.ErrMessageNotFound
	}
	return msg, conv, unlock, nil
}

// publish 发布到一组频道
func (s *MessagingService) publish(channels []string, eventType string, data any) {
	for _, ch := range channels {
		s.publisher.Publish(ch, proto.Event{Type: eventType, Data: data})
	}
}

// sideEffectFailed 旁路操作失败只记录，不影响主操作
func (s *MessagingService) sideEffectFailed(kind string, err error, args ...any) {
	metrics.SideEffectFailures.WithLabelValues(kind).Inc()
	s.logger.Warn("Side effect failed", append([]any{"kind", kind, "error", err}, args...)...)
}

func (s *MessagingService) notify(n *model.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyAsync(n)
}

// SetOnline 客户端显式上线
func (s *MessagingService) SetOnline(ctx context.Context, actorID int64) presence.Snapshot {
	return s.presence.SetOnline(ctx, actorID)
}

// SetOffline 客户端显式下线
func (s *MessagingService) SetOffline(ctx context.Context, actorID int64) presence.Snapshot {
	return s.presence.SetOffline(ctx, actorID)
}

// Presence 批量查询在线状态
func (s *MessagingService) Presence(userIDs []int64) []presence.Snapshot {
	ids := repository.UniqueIDs(userIDs)
	out := make([]presence.Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.presence.Get(id))
	}
	return out
}

// ListNotifications 通知列表
func (s *MessagingService) ListNotifications(ctx context.Context, actorID int64, unreadOnly bool, offset, limit int) ([]*model.Notification, error) {
	return s.notifier.List(ctx, actorID, unreadOnly, offset, limit)
}

// UnreadNotificationCount 未读通知数
func (s *MessagingService) UnreadNotificationCount(ctx context.Context, actorID int64) (int64, error) {
	return s.notifier.UnreadCount(ctx, actorID)
}

// MarkNotificationsRead 标记通知已读，返回剩余未读数
func (s *MessagingService) MarkNotificationsRead(ctx context.Context, actorID int64, ids []int64) (int64, error) {
	_, unread, err := s.notifier.MarkAsRead(ctx, actorID, ids)
	return unread, err
}

// MarkAllNotificationsRead 标记全部通知已读，返回剩余未读数
func (s *MessagingService) MarkAllNotificationsRead(ctx context.Context, actorID int64) (int64, error) {
	_, unread, err := s.notifier.MarkAllAsRead(ctx, actorID)
	return unread, err
}
