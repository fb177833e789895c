package ws

import (
	"errors"
	"slices"

	"sudooom.im.realtime/internal/pubsub"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/proto"
)

// dispatch 处理认证后的上行帧，同一连接内按到达顺序串行执行
func (s *Server) dispatch(c *Connection, frame *proto.ClientFrame) {
	switch frame.Type {
	case proto.FramePing:
		_ = c.Send(&proto.ServerFrame{Type: proto.FramePong, ReqID: frame.ReqID})
	case proto.FrameSubscribe:
		s.handleSubscribe(c, frame)
	case proto.FrameUnsubscribe:
		s.handleUnsubscribe(c, frame)
	case proto.FrameTyping:
		s.handleTyping(c, frame)
	default:
		s.sendError(c, frame.ReqID, appErrors.ErrValidation.WithMessage("unknown frame type"))
	}
}

// resolveStream 将推送流映射到频道，会话相关的流返回需要鉴权的会话 ID
func resolveStream(c *Connection, frame *proto.ClientFrame) (channel string, conversationID int64, err error) {
	userID := c.UserID()

	switch frame.Stream {
	case proto.StreamUser:
		return pubsub.UserChannel(userID), 0, nil
	case proto.StreamNotifications:
		return pubsub.NotificationChannel(userID), 0, nil
	case proto.StreamPresence:
		return pubsub.PresenceChannel, 0, nil
	case proto.StreamPair:
		if frame.PeerID <= 0 || frame.PeerID == userID {
			return "", 0, appErrors.ErrValidation.WithMessage("peerId is required")
		}
		return pubsub.PairChannel(userID, frame.PeerID), 0, nil
	case proto.StreamConversation, proto.StreamTyping, proto.StreamUpdates:
		if frame.ConversationID <= 0 {
			return "", 0, appErrors.ErrValidation.WithMessage("conversationId is required")
		}
		return conversationStream(frame.Stream, frame.ConversationID), frame.ConversationID, nil
	default:
		return "", 0, appErrors.ErrValidation.WithMessage("unknown stream")
	}
}

func conversationStream(stream string, conversationID int64) string {
	switch stream {
	case proto.StreamTyping:
		return pubsub.TypingChannel(conversationID)
	case proto.StreamUpdates:
		return pubsub.ConversationUpdateChannel(conversationID)
	default:
		return pubsub.ConversationChannel(conversationID)
	}
}

func (s *Server) handleSubscribe(c *Connection, frame *proto.ClientFrame) {
	channel, conversationID, err := resolveStream(c, frame)
	if err != nil {
		s.sendError(c, frame.ReqID, toAppError(err))
		return
	}

	var authorize func() error
	if conversationID > 0 {
		authorize = func() error {
			return s.messaging.Authorize(s.ctx, c.UserID(), conversationID)
		}
	}
	sub, err := s.subscribe(c, channel, authorize)
	if err != nil {
		s.sendError(c, frame.ReqID, toAppError(err))
		return
	}
	_ = c.Send(&proto.ServerFrame{Type: proto.FrameSubscribed, ReqID: frame.ReqID, SubscriptionID: sub.ID()})
}

func (s *Server) handleUnsubscribe(c *Connection, frame *proto.ClientFrame) {
	var channel string
	switch frame.Stream {
	case proto.StreamConversation, proto.StreamTyping, proto.StreamUpdates:
		// 退订不需要鉴权，非参与者本来就没有订阅
		channel = conversationStream(frame.Stream, frame.ConversationID)
	default:
		var err error
		if channel, _, err = resolveStream(c, frame); err != nil {
			s.sendError(c, frame.ReqID, toAppError(err))
			return
		}
	}

	sub := c.removeSubscription(channel)
	if sub == nil {
		s.sendError(c, frame.ReqID, appErrors.ErrNotFound.WithMessage("not subscribed"))
		return
	}
	_ = c.Send(&proto.ServerFrame{Type: proto.FrameUnsubbed, ReqID: frame.ReqID, SubscriptionID: sub.ID()})
}

func (s *Server) handleTyping(c *Connection, frame *proto.ClientFrame) {
	if _, err := s.messaging.SetTyping(s.ctx, c.UserID(), frame.ConversationID, frame.Typing); err != nil {
		s.sendError(c, frame.ReqID, toAppError(err))
	}
}

// subscribe 订阅频道并启动转发协程，重复订阅返回已有订阅
// authorize 在订阅建立之后、开始转发之前执行，鉴权之后发生的移除一定会被该订阅看到
func (s *Server) subscribe(c *Connection, channel string, authorize func() error) (*pubsub.Subscription, error) {
	sub, created, err := c.addSubscription(channel, func() (*pubsub.Subscription, error) {
		return s.broker.Subscribe(channel)
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return sub, nil
	}
	if authorize != nil {
		if err := authorize(); err != nil {
			c.removeSubscription(channel)
			return nil, err
		}
	}
	c.wg.Add(1)
	go s.forward(c, sub)
	return sub, nil
}

// forward 按发布顺序把订阅事件写给客户端，订阅取消后退出
func (s *Server) forward(c *Connection, sub *pubsub.Subscription) {
	defer c.wg.Done()

	for {
		ev, err := sub.Next(s.ctx)
		if err != nil {
			return
		}
		if err := c.Send(&proto.ServerFrame{Type: proto.FrameEvent, SubscriptionID: sub.ID(), Event: &ev}); err != nil {
			return
		}
		// 移除事件在会话频道上先于之后的消息到达，撤销后本订阅不会再转发
		if ev.Type == proto.EventParticipantRemoved {
			s.revokeRemoved(c, &ev)
		}
	}
}

// revokeRemoved 用户被移出会话后撤销该会话相关的订阅
func (s *Server) revokeRemoved(c *Connection, ev *proto.Event) {
	data, ok := proto.DecodeData[proto.ParticipantData](ev)
	if !ok || !slices.Contains(data.UserIDs, c.UserID()) {
		return
	}

	for _, stream := range []string{proto.StreamConversation, proto.StreamTyping, proto.StreamUpdates} {
		if sub := c.removeSubscription(conversationStream(stream, data.ConversationID)); sub != nil {
			_ = c.Send(&proto.ServerFrame{Type: proto.FrameUnsubbed, SubscriptionID: sub.ID()})
		}
	}
	s.logger.Debug("Revoked conversation subscriptions", "conn_id", c.ID(), "user_id", c.UserID(), "conversation_id", data.ConversationID)
}

func toAppError(err error) *appErrors.AppError {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	// 节点关闭中，客户端应重连到其他节点
	if errors.Is(err, pubsub.ErrSubscriptionClosed) || errors.Is(err, ErrConnectionClosed) {
		return appErrors.ErrUnavailable
	}
	return appErrors.ErrServerError
}
