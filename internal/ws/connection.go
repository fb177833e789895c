package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/pkg/proto"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("slow consumer")
)

// 应用自定义关闭码
const (
	CloseAuthFailed   = 4001
	CloseSlowConsumer = 4008
)

var connIDCounter int64

// Connection 表示一个已升级的 WebSocket 连接
// 所有写操作都在 writeLoop 中完成
type Connection struct {
	id      int64
	ws      *websocket.Conn
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter

	userID atomic.Int64
	device string

	send       chan []byte
	closeChan  chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeText  string

	mu   sync.Mutex
	subs map[string]*pubsub.Subscription // channel -> subscription
	wg   sync.WaitGroup

	createTime time.Time
}

func newConnection(ws *websocket.Conn, opts Options, logger *slog.Logger) *Connection {
	c := &Connection{
		id:         atomic.AddInt64(&connIDCounter, 1),
		ws:         ws,
		opts:       opts,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(opts.FramesPerSecond), opts.Burst),
		send:       make(chan []byte, opts.SendBuffer),
		closeChan:  make(chan struct{}),
		writerDone: make(chan struct{}),
		subs:       make(map[string]*pubsub.Subscription),
		createTime: time.Now(),
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() int64 {
	return c.id
}

func (c *Connection) UserID() int64 {
	return c.userID.Load()
}

func (c *Connection) Device() string {
	return c.device
}

func (c *Connection) bind(userID int64, device string) {
	c.device = device
	c.userID.Store(userID)
}

// Send 序列化并排队一个下行帧
// 发送缓冲区在 WriteTimeout 内仍满时按慢消费者关闭连接
func (c *Connection) Send(frame *proto.ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case c.send <- data:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	case <-timer.C:
		c.logger.Warn("Closing slow websocket consumer", "conn_id", c.id, "user_id", c.UserID())
		c.CloseWith(CloseSlowConsumer, "slow consumer")
		return ErrSlowConsumer
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Websocket write failed", "conn_id", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closeChan:
			c.flush()
			deadline := time.Now().Add(c.opts.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText), deadline)
			return
		}
	}
}

// flush 关闭前尽量写出已排队的帧
func (c *Connection) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// Close 正常关闭连接
func (c *Connection) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith 以指定关闭码关闭连接，只有第一次调用生效
func (c *Connection) CloseWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.closeChan)
	})
}

// wait 等待写协程退出
func (c *Connection) wait() {
	<-c.writerDone
}

// addSubscription 登记订阅，已存在时返回原订阅
func (c *Connection) addSubscription(channel string, subscribe func() (*pubsub.Subscription, error)) (*pubsub.Subscription, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[channel]; ok {
		return sub, false, nil
	}
	select {
	case <-c.closeChan:
		return nil, false, ErrConnectionClosed
	default:
	}

	sub, err := subscribe()
	if err != nil {
		return nil, false, err
	}
	c.subs[channel] = sub
	return sub, true, nil
}

// removeSubscription 取消订阅，返回被取消的订阅
func (c *Connection) removeSubscription(channel string) *pubsub.Subscription {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	sub.Cancel()
	return sub
}

// releaseSubscriptions 连接关闭时取消所有订阅并等待转发协程退出
func (c *Connection) releaseSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*pubsub.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	c.wg.Wait()
}

// SubscriptionCount 当前订阅数
func (c *Connection) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// CreateTime 建连时间
func (c *Connection) CreateTime() time.Time {
	return c.createTime
}
