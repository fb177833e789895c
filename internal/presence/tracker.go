package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/pkg/proto"
)

// Status 在线状态
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// persistTimeout 单次目录写入的超时
const persistTimeout = 3 * time.Second

// Directory 在线状态的持久化投影
type Directory interface {
	SetOnline(ctx context.Context, userID int64, online bool, lastActive time.Time) error
}

// Publisher 事件发布
type Publisher interface {
	Publish(channel string, ev proto.Event) int
}

// Snapshot 在线记录的只读副本
type Snapshot struct {
	UserID       int64     `json:"userId"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"lastActivity"`
	Connections  int       `json:"connections"`
	Device       string    `json:"device,omitempty"`
}

// record 单个用户的在线记录，字段由 mu 保护
// gone 表示记录已从 arena 移除，持有旧指针的调用方需要重新获取
type record struct {
	mu           sync.Mutex
	userID       int64
	status       Status
	lastActivity time.Time
	connections  int
	device       string
	sync         *rate.Limiter
	gone         bool
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		UserID:       r.userID,
		Status:       r.status,
		LastActivity: r.lastActivity,
		Connections:  r.connections,
		Device:       r.device,
	}
}

// Config 在线状态参数
type Config struct {
	OfflineThreshold time.Duration // 超过该时长无活动视为离线
	SyncInterval     time.Duration // 保持在线时同步目录的最小间隔
}

// Tracker 进程内权威的在线状态
// 记录按用户 ID 存放在 sync.Map 中，每条记录独立加锁，没有全局锁
type Tracker struct {
	records   sync.Map // userID -> *record
	directory Directory
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker 创建 Tracker
func NewTracker(directory Directory, publisher Publisher, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 3 * time.Minute
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	return &Tracker{
		directory: directory,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// acquire 返回已加锁的在线记录，不存在时创建
func (t *Tracker) acquire(userID int64) *record {
	for {
		v, _ := t.records.LoadOrStore(userID, &record{userID: userID, status: StatusOffline})
		r := v.(*record)
		r.mu.Lock()
		if !r.gone {
			return r
		}
		r.mu.Unlock()
		t.records.CompareAndDelete(userID, r)
	}
}

// lookup 返回已加锁的在线记录，不存在时返回 nil
func (t *Tracker) lookup(userID int64) *record {
	v, ok := t.records.Load(userID)
	if !ok {
		return nil
	}
	r := v.(*record)
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return nil
	}
	return r
}

// Connect 新连接建立，第一个连接触发上线
func (t *Tracker) Connect(ctx context.Context, userID int64, device string) Snapshot {
	r := t.acquire(userID)
	defer r.mu.Unlock()

	r.connections++
	if device != "" {
		r.device = device
	}
	t.touch(ctx, r)
	return r.snapshot()
}

// Activity 刷新活跃时间，离线用户重新上线
func (t *Tracker) Activity(ctx context.Context, userID int64) Snapshot {
	r := t.acquire(userID)
	defer r.mu.Unlock()

	t.touch(ctx, r)
	return r.snapshot()
}

// SetOnline 客户端显式上线
func (t *Tracker) SetOnline(ctx context.Context, userID int64) Snapshot {
	return t.Activity(ctx, userID)
}

// Disconnect 连接断开，连接数归零或强制时下线
func (t *Tracker) Disconnect(ctx context.Context, userID int64, force bool) Snapshot {
	r := t.lookup(userID)
	if r == nil {
		return Snapshot{UserID: userID, Status: StatusOffline}
	}
	defer r.mu.Unlock()

	switch {
	case force:
		r.connections = 0
	case r.connections > 0:
		r.connections--
	}
	if r.connections == 0 {
		t.goOffline(ctx, r, t.now())
	}
	return r.snapshot()
}

// SetOffline 客户端显式下线，忽略剩余连接数
func (t *Tracker) SetOffline(ctx context.Context, userID int64) Snapshot {
	return t.Disconnect(ctx, userID, true)
}

// Get 查询在线状态
func (t *Tracker) Get(userID int64) Snapshot {
	r := t.lookup(userID)
	if r == nil {
		return Snapshot{UserID: userID, Status: StatusOffline}
	}
	defer r.mu.Unlock()
	return r.snapshot()
}

// IsOnline 是否在线
func (t *Tracker) IsOnline(userID int64) bool {
	return t.Get(userID).Status == StatusOnline
}

// OnlineUsers 当前在线的用户
func (t *Tracker) OnlineUsers() []int64 {
	var ids []int64
	for _, r := range t.snapshotRecords() {
		r.mu.Lock()
		if !r.gone && r.status == StatusOnline {
			ids = append(ids, r.userID)
		}
		r.mu.Unlock()
	}
	return ids
}

// Sweep 将超过阈值无活动的用户标记为离线，返回下线数量
// 先复制记录列表再逐条加锁，与 Connect/Activity/Disconnect 可以并发执行
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.now()
	expired := 0

	for _, r := range t.snapshotRecords() {
		r.mu.Lock()
		if !r.gone && r.status == StatusOnline && now.Sub(r.lastActivity) > t.cfg.OfflineThreshold {
			t.goOffline(ctx, r, r.lastActivity)
			expired++
		}
		r.mu.Unlock()
	}
	return expired
}

func (t *Tracker) snapshotRecords() []*record {
	var out []*record
	t.records.Range(func(_, v any) bool {
		out = append(out, v.(*record))
		return true
	})
	return out
}

// touch 刷新活跃时间，需持有 r.mu
func (t *Tracker) touch(ctx context.Context, r *record) {
	now := t.now()
	r.lastActivity = now

	if r.status != StatusOnline {
		r.status = StatusOnline
		r.sync = rate.NewLimiter(rate.Every(t.cfg.SyncInterval), 1)
		r.sync.AllowN(now, 1)
		metrics.OnlineUsers.Inc()
		t.persist(ctx, r.userID, true, now)
		t.publish(r)
		return
	}

	if r.sync.AllowN(now, 1) {
		t.persist(ctx, r.userID, true, now)
	}
}

// goOffline 下线，没有剩余连接时移出 arena，需持有 r.mu
// 超时下线的用户仍保留连接数，之后的断开按实际连接计数
func (t *Tracker) goOffline(ctx context.Context, r *record, lastActive time.Time) {
	wasOnline := r.status == StatusOnline
	r.status = StatusOffline
	r.lastActivity = lastActive
	if r.connections == 0 {
		r.gone = true
		t.records.CompareAndDelete(r.userID, r)
	}

	if !wasOnline {
		return
	}
	metrics.OnlineUsers.Dec()
	t.persist(ctx, r.userID, false, lastActive)
	t.publish(r)
}

func (t *Tracker) persist(ctx context.Context, userID int64, online bool, lastActive time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := t.directory.SetOnline(ctx, userID, online, lastActive); err != nil {
		metrics.SideEffectFailures.WithLabelValues("presence_sync").Inc()
		t.logger.Warn("Failed to persist presence",
			"user_id", userID,
			"online", online,
			"error", err)
	}
}

func (t *Tracker) publish(r *record) {
	ev := proto.Event{
		Type: proto.EventPresenceChanged,
		Data: proto.PresenceData{
			UserID:     r.userID,
			Status:     string(r.status),
			LastActive: r.lastActivity.UnixMilli(),
			Device:     r.device,
		},
	}
	t.publisher.Publish(pubsub.PresenceChannel, ev)
	t.publisher.Publish(pubsub.UserChannel(r.userID), ev)

	t.logger.Debug("Presence changed",
		"user_id", r.userID,
		"status", r.status)
}
