package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/pkg/proto"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Relay 将本地发布的事件转发给其他节点
type Relay interface {
	Forward(channel string, ev *proto.Event)
}

type channel struct {
	publishMu sync.Mutex // 同一频道的发布串行，保证所有订阅者看到相同顺序
	subs      map[string]*Subscription
}

// Broker 进程内发布订阅
type Broker struct {
	mu       sync.RWMutex
	channels map[string]*channel
	relay    Relay
	logger   *slog.Logger
	closed   bool
}

// NewBroker 创建 Broker
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		channels: make(map[string]*channel),
		logger:   logger,
	}
}

// SetRelay 设置跨节点转发，需在开始发布前调用
func (b *Broker) SetRelay(relay Relay) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = relay
}

// Subscribe 订阅频道
func (b *Broker) Subscribe(name string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrSubscriptionClosed
	}

	ch, ok := b.channels[name]
	if !ok {
		ch = &channel{subs: make(map[string]*Subscription)}
		b.channels[name] = ch
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		channel: name,
		broker:  b,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	ch.subs[sub.id] = sub
	metrics.Subscriptions.Inc()
	return sub, nil
}

// Publish 发布到本地订阅者并转发到其他节点
func (b *Broker) Publish(name string, ev proto.Event) int {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	ev.Channel = name

	delivered := b.PublishLocal(&ev)

	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay != nil {
		relay.Forward(name, &ev)
	}
	return delivered
}

// PublishLocal 只投递给本节点的订阅者，返回投递数量
func (b *Broker) PublishLocal(ev *proto.Event) int {
	b.mu.RLock()
	ch, ok := b.channels[ev.Channel]
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	if !ok {
		return 0
	}

	ch.publishMu.Lock()
	defer ch.publishMu.Unlock()

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(ch.subs))
	for _, sub := range ch.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.enqueue(*ev) {
			delivered++
		}
	}
	metrics.EventsDelivered.Add(float64(delivered))
	return delivered
}

// SubscriberCount 频道当前订阅数
func (b *Broker) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ch, ok := b.channels[name]; ok {
		return len(ch.subs)
	}
	return 0
}

// Close 关闭所有订阅
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	var subs []*Subscription
	for _, ch := range b.channels {
		for _, sub := range ch.subs {
			subs = append(subs, sub)
		}
	}
	b.channels = make(map[string]*channel)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	metrics.Subscriptions.Sub(float64(len(subs)))
	b.logger.Info("Broker closed", "subscriptions", len(subs))
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[sub.channel]
	if !ok {
		return
	}
	if _, ok := ch.subs[sub.id]; !ok {
		return
	}
	delete(ch.subs, sub.id)
	metrics.Subscriptions.Dec()
	if len(ch.subs) == 0 {
		delete(b.channels, sub.channel)
	}
}

// Subscription 单个订阅，缓冲区无上限，发布方不会因慢订阅者阻塞
type Subscription struct {
	id      string
	channel string
	broker  *Broker

	mu     sync.Mutex
	queue  []proto.Event
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ID 订阅 ID
func (s *Subscription) ID() string { return s.id }

// Channel 订阅的频道
func (s *Subscription) Channel() string { return s.channel }

func (s *Subscription) enqueue(ev proto.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Next 按发布顺序取下一个事件，订阅取消后返回 ErrSubscriptionClosed
func (s *Subscription) Next(ctx context.Context) (proto.Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = proto.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return proto.Event{}, ErrSubscriptionClosed
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return proto.Event{}, ctx.Err()
		}
	}
}

// Pending 尚未取走的事件数
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Cancel 取消订阅，未取走的事件被丢弃
func (s *Subscription) Cancel() {
	s.broker.remove(s)
	s.close()
}

// Done 订阅结束时关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
