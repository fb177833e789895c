package typing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/internal/task"
	"sudooom.im.realtime/pkg/proto"
)

// Store 正在输入状态存储，过期时间由调用方给出
type Store interface {
	AddTyping(ctx context.Context, conversationID, userID int64, expireAt time.Time) (bool, error)
	RemoveTyping(ctx context.Context, conversationID, userID int64) (bool, error)
	ExpireTyping(ctx context.Context, conversationID, userID int64, now time.Time) (bool, error)
	TypingUsers(ctx context.Context, conversationID int64, now time.Time) ([]int64, error)
}

// Publisher 事件发布
type Publisher interface {
	Publish(channel string, ev proto.Event) int
}

// Scheduler 到期任务调度
type Scheduler interface {
	AddTask(t *task.Task) error
	RemoveTask(taskID string) bool
	Interval() time.Duration
}

// Tracker 维护会话内的正在输入状态，TTL 到期自动广播 typing.stop
type Tracker struct {
	store     Store
	scheduler Scheduler
	publisher Publisher
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker 创建 Tracker
func NewTracker(store Store, scheduler Scheduler, publisher Publisher, ttl time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		scheduler: scheduler,
		publisher: publisher,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

func taskID(conversationID, userID int64) string {
	return fmt.Sprintf("typing:%d:%d", conversationID, userID)
}

// Start 开始或续期正在输入，返回当前输入中的用户
func (t *Tracker) Start(ctx context.Context, conversationID, userID int64) ([]int64, error) {
	now := t.now()
	added, err := t.store.AddTyping(ctx, conversationID, userID, now.Add(t.ttl))
	if err != nil {
		return nil, err
	}

	// 多等一格，保证触发时状态已过期
	delay := t.ttl + t.scheduler.Interval()
	expiry := task.NewTask(taskID(conversationID, userID), pubsub.TypingChannel(conversationID), delay, func(ctx context.Context, _ string) error {
		return t.expire(ctx, conversationID, userID)
	})
	if err := t.scheduler.AddTask(expiry); err != nil {
		// 调度失败时依赖读取时的过期过滤
		t.logger.Warn("Failed to schedule typing expiry",
			"conversation_id", conversationID,
			"user_id", userID,
			"error", err)
	}

	users, err := t.store.TypingUsers(ctx, conversationID, now)
	if err != nil {
		return nil, err
	}
	if added {
		t.publish(proto.EventTypingStart, conversationID, userID, users)
	}
	return users, nil
}

// Stop 停止正在输入，返回当前输入中的用户
func (t *Tracker) Stop(ctx context.Context, conversationID, userID int64) ([]int64, error) {
	t.scheduler.RemoveTask(taskID(conversationID, userID))

	removed, err := t.store.RemoveTyping(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	users, err := t.store.TypingUsers(ctx, conversationID, t.now())
	if err != nil {
		return nil, err
	}
	if removed {
		t.publish(proto.EventTypingStop, conversationID, userID, users)
	}
	return users, nil
}

// Users 当前输入中的用户
func (t *Tracker) Users(ctx context.Context, conversationID int64) ([]int64, error) {
	return t.store.TypingUsers(ctx, conversationID, t.now())
}

func (t *Tracker) expire(ctx context.Context, conversationID, userID int64) error {
	now := t.now()
	expired, err := t.store.ExpireTyping(ctx, conversationID, userID, now)
	if err != nil || !expired {
		return err
	}
	users, err := t.store.TypingUsers(ctx, conversationID, now)
	if err != nil {
		return err
	}
	t.publish(proto.EventTypingStop, conversationID, userID, users)
	return nil
}

func (t *Tracker) publish(eventType string, conversationID, userID int64, users []int64) {
	t.publisher.Publish(pubsub.TypingChannel(conversationID), proto.Event{
		Type: eventType,
		Data: proto.TypingData{
			ConversationID: conversationID,
			UserID:         userID,
			TypingUserIDs:  users,
		},
	})
}
