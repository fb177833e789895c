package notification

import (
	"context"
	"log/slog"
	"time"

	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/internal/repository"
	"sudooom.im.realtime/internal/workerpool"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/proto"
)

// asyncTimeout 异步通知的执行超时
const asyncTimeout = 5 * time.Second

// Publisher 事件发布
type Publisher interface {
	Publish(channel string, ev proto.Event) int
}

// Executor 异步执行
type Executor interface {
	TrySubmit(task workerpool.Task) bool
}

// NewData notification.new 事件载荷
type NewData struct {
	Notification *model.Notification `json:"notification"`
	UnreadCount  int64               `json:"unreadCount"`
}

// Service 通知服务
type Service struct {
	store     repository.NotificationStore
	publisher Publisher
	executor  Executor
	logger    *slog.Logger
}

// NewService 创建通知服务
func NewService(store repository.NotificationStore, publisher Publisher, executor Executor, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		executor:  executor,
		logger:    logger,
	}
}

// Notify 持久化通知并推送到用户的通知频道
func (s *Service) Notify(ctx context.Context, n *model.Notification) (*model.Notification, error) {
	if n.UserID <= 0 || !n.Type.Valid() {
		return nil, appErrors.ErrValidation.WithMessage("通知参数无效")
	}

	unread, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(pubsub.NotificationChannel(n.UserID), proto.Event{
		Type: proto.EventNotificationNew,
		Data: NewData{Notification: n, UnreadCount: unread},
	})
	return n, nil
}

// NotifyAsync 在工作池中发送通知，失败只记录日志
func (s *Service) NotifyAsync(n *model.Notification) {
	ok := s.executor.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()

		if _, err := s.Notify(ctx, n); err != nil {
			metrics.SideEffectFailures.WithLabelValues("notification").Inc()
			s.logger.Warn("Failed to deliver notification",
				"user_id", n.UserID,
				"type", n.Type,
				"error", err)
		}
	})
	if !ok {
		metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		s.logger.Warn("Notification dropped, worker pool busy",
			"user_id", n.UserID,
			"type", n.Type)
	}
}

// List 通知列表，最新的在前
func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool, offset, limit int) ([]*model.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly, offset, limit)
}

// UnreadCount 未读通知数
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.store.UnreadNotificationCount(ctx, userID)
}

// MarkAsRead 标记指定通知已读，任一通知不属于该用户时整体失败
func (s *Service) MarkAsRead(ctx context.Context, userID int64, ids []int64) (int64, int64, error) {
	ids = repository.UniqueIDs(ids)
	if len(ids) == 0 {
		return 0, 0, appErrors.ErrValidation.WithMessage("通知 ID 不能为空")
	}

	changed, unread, err := s.store.MarkNotificationsRead(ctx, userID, ids)
	if err != nil {
		return 0, 0, err
	}
	if changed > 0 {
		s.publishRead(userID, unread, ids)
	}
	return changed, unread, nil
}

// MarkAllAsRead 标记全部通知已读
func (s *Service) MarkAllAsRead(ctx context.Context, userID int64) (int64, int64, error) {
	changed, unread, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	if changed > 0 {
		s.publishRead(userID, unread, nil)
	}
	return changed, unread, nil
}

func (s *Service) publishRead(userID, unread int64, ids []int64) {
	s.publisher.Publish(pubsub.NotificationChannel(userID), proto.Event{
		Type: proto.EventNotificationRead,
		Data: proto.NotificationCountData{
			UserID:      userID,
			UnreadCount: unread,
			ReadIDs:     ids,
		},
	})
}
