package notification

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/internal/repository/memory"
	"sudooom.im.realtime/internal/workerpool"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/proto"
	"sudooom.im.realtime/pkg/snowflake"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newService(t *testing.T) (*Service, *pubsub.Broker) {
	t.Helper()
	node, err := snowflake.NewNode(11)
	require.NoError(t, err)
	store := memory.NewStore(node,
		model.User{ID: 1, DisplayName: "Alice"},
		model.User{ID: 2, DisplayName: "Bob"},
	)
	broker := pubsub.NewBroker(discard)
	return NewService(store, broker, workerpool.Inline{}, discard), broker
}

func next(t *testing.T, sub *pubsub.Subscription) proto.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestNotify_PersistsAndPublishes(t *testing.T) {
	svc, broker := newService(t)
	ctx := t.Context()
	sub, err := broker.Subscribe(pubsub.NotificationChannel(2))
	require.NoError(t, err)

	n, err := svc.Notify(ctx, &model.Notification{
		UserID:   2,
		Type:     model.NotificationNewMessage,
		Content:  "Alice: hi",
		SenderID: 1,
	})
	require.NoError(t, err)
	assert.NotZero(t, n.ID)

	ev := next(t, sub)
	assert.Equal(t, proto.EventNotificationNew, ev.Type)
	assert.Equal(t, int64(1), ev.Data.(NewData).UnreadCount)

	count, err := svc.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNotify_Validation(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Notify(t.Context(), &model.Notification{UserID: 2, Type: "bogus"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Notify(t.Context(), &model.Notification{UserID: 42, Type: model.NotificationGroupInvite})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestMarkAsRead_AllOrNothing(t *testing.T) {
	svc, _ := newService(t)
	ctx := t.Context()

	mine, err := svc.Notify(ctx, &model.Notification{UserID: 2, Type: model.NotificationNewMessage})
	require.NoError(t, err)
	theirs, err := svc.Notify(ctx, &model.Notification{UserID: 1, Type: model.NotificationNewMessage})
	require.NoError(t, err)

	_, _, err = svc.MarkAsRead(ctx, 2, []int64{mine.ID, theirs.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	count, _ := svc.UnreadCount(ctx, 2)
	assert.Equal(t, int64(1), count, "nothing changes on a rejected batch")

	changed, unread, err := svc.MarkAsRead(ctx, 2, []int64{mine.ID, mine.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	assert.Zero(t, unread)

	// 重复标记不会把计数减成负数
	changed, unread, err = svc.MarkAsRead(ctx, 2, []int64{mine.ID})
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Zero(t, unread)

	_, _, err = svc.MarkAsRead(ctx, 2, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestMarkAllAsRead(t *testing.T) {
	svc, broker := newService(t)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		_, err := svc.Notify(ctx, &model.Notification{UserID: 1, Type: model.NotificationMessageReaction})
		require.NoError(t, err)
	}
	sub, err := broker.Subscribe(pubsub.NotificationChannel(1))
	require.NoError(t, err)

	changed, unread, err := svc.MarkAllAsRead(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), changed)
	assert.Zero(t, unread)
	assert.Equal(t, proto.EventNotificationRead, next(t, sub).Type)

	list, err := svc.List(ctx, 1, true, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = svc.List(ctx, 1, false, 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestNotifyAsync(t *testing.T) {
	svc, _ := newService(t)

	svc.NotifyAsync(&model.Notification{UserID: 1, Type: model.NotificationGroupInvite})
	// 失败只记录日志
	svc.NotifyAsync(&model.Notification{UserID: 404, Type: model.NotificationGroupInvite})

	count, err := svc.UnreadCount(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
