package pubsub

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.realtime/pkg/proto"
)

func newTestBroker() *Broker {
	return NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func next(t *testing.T, sub *Subscription) proto.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

type recordingRelay struct {
	mu     sync.Mutex
	events []proto.Event
}

func (r *recordingRelay) Forward(channel string, ev *proto.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
}

func TestBroker_DeliversToEverySubscriber(t *testing.T) {
	b := newTestBroker()
	ch := ConversationChannel(7)

	s1, err := b.Subscribe(ch)
	require.NoError(t, err)
	s2, err := b.Subscribe(ch)
	require.NoError(t, err)
	other, err := b.Subscribe(ConversationChannel(8))
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID(), s2.ID())

	n := b.Publish(ch, proto.Event{Type: proto.EventMessageNew, Data: "hi"})
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscription{s1, s2} {
		ev := next(t, sub)
		assert.Equal(t, proto.EventMessageNew, ev.Type)
		assert.Equal(t, ch, ev.Channel)
		assert.NotZero(t, ev.Timestamp)
	}
	assert.Zero(t, other.Pending())
}

func TestBroker_OrderPreservedWithoutReader(t *testing.T) {
	b := newTestBroker()
	sub, err := b.Subscribe("c")
	require.NoError(t, err)

	// 订阅者不读取时发布方也不阻塞
	const total = 10000
	for i := 0; i < total; i++ {
		b.Publish("c", proto.Event{Type: "seq", Data: i})
	}
	assert.Equal(t, total, sub.Pending())

	for i := 0; i < total; i++ {
		ev := next(t, sub)
		assert.Equal(t, i, ev.Data)
	}
}

func TestBroker_SubscribersSeeSameOrder(t *testing.T) {
	b := newTestBroker()
	s1, _ := b.Subscribe("c")
	s2, _ := b.Subscribe("c")

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish("c", proto.Event{Type: "x", Data: p*1000 + i})
			}
		}(p)
	}
	wg.Wait()

	for i := 0; i < 400; i++ {
		assert.Equal(t, next(t, s1).Data, next(t, s2).Data)
	}
}

func TestSubscription_Cancel(t *testing.T) {
	b := newTestBroker()
	sub, _ := b.Subscribe("c")
	assert.Equal(t, 1, b.SubscriberCount("c"))

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, b.SubscriberCount("c"))
	assert.Equal(t, 0, b.Publish("c", proto.Event{Type: "x"}))

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSubscription_NextHonoursContext(t *testing.T) {
	b := newTestBroker()
	sub, _ := b.Subscribe("c")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscription_NextWakesOnPublish(t *testing.T) {
	b := newTestBroker()
	sub, _ := b.Subscribe("c")

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Publish("c", proto.Event{Type: "late"})
	}()
	assert.Equal(t, "late", next(t, sub).Type)
}

func TestBroker_RelayAndLocal(t *testing.T) {
	b := newTestBroker()
	relay := &recordingRelay{}
	b.SetRelay(relay)
	sub, _ := b.Subscribe(PresenceChannel)

	b.Publish(PresenceChannel, proto.Event{Type: proto.EventPresenceChanged})
	b.PublishLocal(&proto.Event{Type: proto.EventPresenceChanged, Channel: PresenceChannel})

	assert.Equal(t, 2, sub.Pending())
	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.events, 1)
	assert.Equal(t, PresenceChannel, relay.events[0].Channel)
}

func TestBroker_Close(t *testing.T) {
	b := newTestBroker()
	sub, _ := b.Subscribe("c")
	b.Close()

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	_, err = b.Subscribe("c")
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "conversation:5", ConversationChannel(5))
	assert.Equal(t, []string{"pair:1:2", "pair:2:1"}, PairChannels(1, 2))
	assert.Equal(t, "user:9", UserChannel(9))
	assert.Equal(t, "notification:9", NotificationChannel(9))
	assert.Equal(t, "typing:3", TypingChannel(3))
	assert.Equal(t, "conversation-update:3", ConversationUpdateChannel(3))

	assert.Equal(t, "conversation-update", Kind(ConversationUpdateChannel(3)))
	assert.Equal(t, "pair", Kind(PairChannel(1, 2)))
	assert.Equal(t, "presence", Kind(PresenceChannel))
}

func TestAudience(t *testing.T) {
	assert.Equal(t,
		[]string{"conversation:9", "pair:1:2", "pair:2:1", "user:1", "user:2"},
		MessageAudience(9, []int64{1, 2}, false))
	assert.Equal(t,
		[]string{"conversation:9", "user:1", "user:2", "user:3"},
		MessageAudience(9, []int64{1, 2, 3}, true))
	assert.Equal(t,
		[]string{"conversation-update:9", "user:1"},
		UpdateAudience(9, []int64{1}))
}
