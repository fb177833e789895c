package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/pkg/proto"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type write struct {
	userID int64
	online bool
}

type fakeDirectory struct {
	mu     sync.Mutex
	writes []write
	err    error
}

func (d *fakeDirectory) SetOnline(_ context.Context, userID int64, online bool, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, write{userID, online})
	return d.err
}

func (d *fakeDirectory) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(dir Directory) (*Tracker, *pubsub.Broker, *clock) {
	broker := pubsub.NewBroker(discard)
	tr := NewTracker(dir, broker, Config{OfflineThreshold: time.Minute, SyncInterval: 5 * time.Minute}, discard)
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	tr.now = c.Now
	return tr, broker, c
}

func TestTracker_SingleConnection(t *testing.T) {
	dir := &fakeDirectory{}
	tr, _, _ := newTracker(dir)
	ctx := t.Context()

	assert.Equal(t, StatusOnline, tr.Connect(ctx, 1, "web").Status)
	assert.Equal(t, StatusOffline, tr.Disconnect(ctx, 1, false).Status)
	assert.False(t, tr.IsOnline(1))
	assert.Equal(t, []write{{1, true}, {1, false}}, dir.writes)
}

func TestTracker_RefCountedConnections(t *testing.T) {
	tr, broker, _ := newTracker(&fakeDirectory{})
	ctx := t.Context()
	sub, err := broker.Subscribe(pubsub.PresenceChannel)
	require.NoError(t, err)

	tr.Connect(ctx, 1, "web")
	tr.Connect(ctx, 1, "ios")
	snap := tr.Disconnect(ctx, 1, false)

	assert.Equal(t, StatusOnline, snap.Status)
	assert.Equal(t, 1, snap.Connections)
	assert.Equal(t, "ios", snap.Device)
	// 只有第一次连接广播上线
	assert.Equal(t, 1, sub.Pending())

	assert.Equal(t, StatusOffline, tr.Disconnect(ctx, 1, false).Status)
	assert.Equal(t, 2, sub.Pending())
}

func TestTracker_ForceDisconnect(t *testing.T) {
	tr, _, _ := newTracker(&fakeDirectory{})
	ctx := t.Context()

	tr.Connect(ctx, 1, "")
	tr.Connect(ctx, 1, "")
	assert.Equal(t, StatusOffline, tr.SetOffline(ctx, 1).Status)
	assert.Empty(t, tr.OnlineUsers())

	// 未知用户断开是空操作
	assert.Equal(t, StatusOffline, tr.Disconnect(ctx, 99, false).Status)
}

func TestTracker_PublishesOnUserChannel(t *testing.T) {
	tr, broker, _ := newTracker(&fakeDirectory{})
	sub, err := broker.Subscribe(pubsub.UserChannel(5))
	require.NoError(t, err)

	tr.SetOnline(t.Context(), 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, proto.EventPresenceChanged, ev.Type)
	data := ev.Data.(proto.PresenceData)
	assert.Equal(t, int64(5), data.UserID)
	assert.Equal(t, "online", data.Status)
}

func TestTracker_SyncThrottled(t *testing.T) {
	dir := &fakeDirectory{}
	tr, _, c := newTracker(dir)
	ctx := t.Context()

	tr.Connect(ctx, 1, "")
	for i := 0; i < 10; i++ {
		c.Advance(10 * time.Second)
		tr.Activity(ctx, 1)
	}
	assert.Equal(t, 1, dir.count())

	c.Advance(5 * time.Minute)
	tr.Activity(ctx, 1)
	assert.Equal(t, 2, dir.count())
}

func TestTracker_Sweep(t *testing.T) {
	tr, _, c := newTracker(&fakeDirectory{})
	ctx := t.Context()

	tr.Connect(ctx, 1, "")
	tr.Connect(ctx, 2, "")
	c.Advance(45 * time.Second)
	tr.Activity(ctx, 2)
	c.Advance(30 * time.Second)

	assert.Equal(t, 1, tr.Sweep(ctx))
	assert.False(t, tr.IsOnline(1))
	assert.True(t, tr.IsOnline(2))

	// 被清理的用户再次活动时重新上线
	assert.Equal(t, StatusOnline, tr.Activity(ctx, 1).Status)
}

func TestTracker_SweepKeepsConnectionCount(t *testing.T) {
	dir := &fakeDirectory{}
	tr, _, c := newTracker(dir)
	ctx := t.Context()

	tr.Connect(ctx, 1, "web")
	tr.Connect(ctx, 1, "ios")
	c.Advance(2 * time.Minute)

	assert.Equal(t, 1, tr.Sweep(ctx))
	snap := tr.Get(1)
	assert.Equal(t, StatusOffline, snap.Status)
	assert.Equal(t, 2, snap.Connections)
	// 已下线的用户不会被重复清理
	assert.Equal(t, 0, tr.Sweep(ctx))

	assert.Equal(t, StatusOnline, tr.Activity(ctx, 1).Status)
	snap = tr.Disconnect(ctx, 1, false)
	assert.Equal(t, StatusOnline, snap.Status)
	assert.Equal(t, 1, snap.Connections)
	assert.True(t, tr.IsOnline(1))

	assert.Equal(t, StatusOffline, tr.Disconnect(ctx, 1, false).Status)
	assert.Equal(t, []write{{1, true}, {1, false}, {1, true}, {1, false}}, dir.writes)
}

func TestTracker_SweptUserDisconnectsSilently(t *testing.T) {
	tr, broker, c := newTracker(&fakeDirectory{})
	ctx := t.Context()
	sub, err := broker.Subscribe(pubsub.PresenceChannel)
	require.NoError(t, err)

	tr.Connect(ctx, 1, "")
	c.Advance(2 * time.Minute)
	require.Equal(t, 1, tr.Sweep(ctx))
	require.Equal(t, 2, sub.Pending())

	// 超时下线后最后一个连接断开不再重复广播
	assert.Equal(t, StatusOffline, tr.Disconnect(ctx, 1, false).Status)
	assert.Equal(t, 2, sub.Pending())
	assert.Equal(t, 0, tr.Get(1).Connections)
}

func TestTracker_DirectoryFailureSwallowed(t *testing.T) {
	tr, _, _ := newTracker(&fakeDirectory{err: errors.New("db down")})
	assert.Equal(t, StatusOnline, tr.Connect(t.Context(), 1, "").Status)
}

func TestTracker_ConcurrentSweepAndActivity(t *testing.T) {
	tr, _, c := newTracker(&fakeDirectory{})
	ctx := t.Context()

	var wg sync.WaitGroup
	for u := int64(1); u <= 20; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tr.Connect(ctx, u, "")
				tr.Activity(ctx, u)
				tr.Disconnect(ctx, u, false)
			}
		}(u)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			c.Advance(2 * time.Minute)
			tr.Sweep(ctx)
		}
	}()
	wg.Wait()

	assert.Empty(t, tr.OnlineUsers())
}
