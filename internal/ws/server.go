package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sudooom.im.realtime/internal/presence"
	"sudooom.im.realtime/internal/pubsub"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/jwt"
	"sudooom.im.realtime/pkg/proto"
)

var errInvalidFrame = errors.New("invalid frame")

// TokenValidator 校验首帧携带的访问令牌
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// Messaging 推送流鉴权与输入状态
type Messaging interface {
	Authorize(ctx context.Context, actorID, conversationID int64) error
	SetTyping(ctx context.Context, actorID, conversationID int64, typing bool) ([]int64, error)
}

// Presence 连接驱动的在线状态
type Presence interface {
	Connect(ctx context.Context, userID int64, device string) presence.Snapshot
	Activity(ctx context.Context, userID int64) presence.Snapshot
	Disconnect(ctx context.Context, userID int64, force bool) presence.Snapshot
}

// Subscriber 事件订阅来源
type Subscriber interface {
	Subscribe(channel string) (*pubsub.Subscription, error)
}

// Options 连接参数
type Options struct {
	AuthTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadLimit       int64
	SendBuffer      int
	FramesPerSecond float64
	Burst           int
	AllowedOrigins  []string
}

func (o *Options) setDefaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.FramesPerSecond <= 0 {
		o.FramesPerSecond = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
}

// pongWait 两次 ping 未收到任何数据即视为断开
func (o *Options) pongWait() time.Duration {
	return 2 * o.PingInterval
}

// Server WebSocket 订阅入口
type Server struct {
	opts      Options
	tokens    TokenValidator
	messaging Messaging
	presence  Presence
	broker    Subscriber
	manager   *Manager
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建 WebSocket 服务
func NewServer(opts Options, tokens TokenValidator, messaging Messaging, presence Presence, broker Subscriber, logger *slog.Logger) *Server {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		opts:      opts,
		tokens:    tokens,
		messaging: messaging,
		presence:  presence,
		broker:    broker,
		manager:   NewManager(),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ConnManager 返回连接管理器
func (s *Server) ConnManager() *Manager {
	return s.manager
}

// ServeHTTP 升级连接并处理会话
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.ctx.Done():
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.wg.Add(1)
	go s.handleSession(wsConn)
}

func (s *Server) handleSession(wsConn *websocket.Conn) {
	defer s.wg.Done()

	c := newConnection(wsConn, s.opts, s.logger)
	s.manager.Add(c)
	defer func() {
		c.Close()
		c.releaseSubscriptions()
		if userID := c.UserID(); userID > 0 {
			s.presence.Disconnect(s.ctx, userID, false)
		}
		s.manager.Remove(c.ID())
		c.wait()
		s.logger.Debug("WebSocket session closed",
			"conn_id", c.ID(),
			"user_id", c.UserID(),
			"device", c.Device(),
			"duration", time.Since(c.CreateTime()))
	}()

	wsConn.SetReadLimit(s.opts.ReadLimit)

	// 首帧必须是认证请求
	if err := s.authenticate(c); err != nil {
		s.logger.Warn("WebSocket auth failed, closing", "conn_id", c.ID(), "error", err)
		c.CloseWith(CloseAuthFailed, "auth failed")
		return
	}

	s.extendDeadline(c)
	wsConn.SetPongHandler(func(string) error {
		s.extendDeadline(c)
		s.presence.Activity(s.ctx, c.UserID())
		return nil
	})

	for {
		frame, err := s.readFrame(c)
		if err != nil {
			if errors.Is(err, errInvalidFrame) {
				s.sendError(c, "", appErrors.ErrValidation.WithMessage("invalid frame"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("WebSocket read failed", "conn_id", c.ID(), "error", err)
			}
			return
		}
		s.extendDeadline(c)

		if !c.limiter.Allow() {
			s.sendError(c, frame.ReqID, appErrors.ErrTooManyRequest)
			continue
		}

		s.presence.Activity(s.ctx, c.UserID())
		s.dispatch(c, frame)
	}
}

// authenticate 在 AuthTimeout 内读取并校验首帧
func (s *Server) authenticate(c *Connection) error {
	if err := c.ws.SetReadDeadline(time.Now().Add(s.opts.AuthTimeout)); err != nil {
		return err
	}

	frame, err := s.readFrame(c)
	if err != nil {
		return err
	}
	if frame.Type != proto.FrameAuth {
		s.sendError(c, frame.ReqID, appErrors.ErrTokenInvalid.WithMessage("auth required"))
		return errors.New("first frame is not auth")
	}

	claims, err := s.tokens.Validate(frame.Token)
	if err != nil {
		appErr := appErrors.ErrTokenInvalid
		if errors.Is(err, jwt.ErrTokenExpired) {
			appErr = appErrors.ErrTokenExpired
		}
		s.sendError(c, frame.ReqID, appErr)
		return err
	}

	c.bind(claims.UserID, claims.Device())
	s.manager.BindUser(c.ID(), claims.UserID)
	s.presence.Connect(s.ctx, claims.UserID, claims.Device())

	// 用户频道自动订阅，成员被移出会话时据此撤销会话订阅
	sub, err := s.subscribe(c, pubsub.UserChannel(claims.UserID), nil)
	if err != nil {
		return err
	}

	s.logger.Debug("WebSocket authenticated", "conn_id", c.ID(), "user_id", claims.UserID, "device", claims.Device())
	return c.Send(&proto.ServerFrame{
		Type:           proto.FrameAuthOK,
		ReqID:          frame.ReqID,
		UserID:         claims.UserID,
		SubscriptionID: sub.ID(),
	})
}

func (s *Server) readFrame(c *Connection) (*proto.ClientFrame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var frame proto.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidFrame, err)
	}
	return &frame, nil
}

func (s *Server) extendDeadline(c *Connection) {
	_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.pongWait()))
}

func (s *Server) sendError(c *Connection, reqID string, err *appErrors.AppError) {
	_ = c.Send(&proto.ServerFrame{
		Type:    proto.FrameError,
		ReqID:   reqID,
		Code:    err.Code,
		Message: err.Message,
	})
}

// Count 当前连接数
func (s *Server) Count() int {
	return s.manager.Count()
}

// Shutdown 关闭所有连接并等待会话退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.manager.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("WebSocket server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
