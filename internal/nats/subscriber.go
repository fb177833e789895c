package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/pkg/proto"
)

// LocalPublisher 本节点的投递入口
type LocalPublisher interface {
	PublishLocal(ev *proto.Event) int
}

// SubscriberConfig 订阅参数
type SubscriberConfig struct {
	SubjectPrefix string
	BufferSize    int
}

// Subscriber 接收其他节点转发的事件并投递给本地订阅者
// 只有一个分发协程，保证同一来源的事件按到达顺序投递
type Subscriber struct {
	nc           *nats.Conn
	local        LocalPublisher
	nodeID       string
	config       SubscriberConfig
	logger       *slog.Logger
	subscription *nats.Subscription
	msgChan      chan []byte
	wg           sync.WaitGroup
	cancelFunc   context.CancelFunc
}

// NewSubscriber 创建订阅器
func NewSubscriber(nc *nats.Conn, local LocalPublisher, nodeID string, config SubscriberConfig, logger *slog.Logger) *Subscriber {
	if config.BufferSize <= 0 {
		config.BufferSize = 10000
	}
	return &Subscriber{
		nc:     nc,
		local:  local,
		nodeID: nodeID,
		config: config,
		logger: logger,
	}
}

// Start 启动订阅
func (s *Subscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan []byte, s.config.BufferSize)

	dispatchCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.wg.Add(1)
	go s.dispatch(dispatchCtx)

	subject := s.config.SubjectPrefix + ".>"
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg.Data:
		default:
			metrics.RelayEvents.WithLabelValues("in", "dropped").Inc()
			s.logger.Warn("Relay buffer full, dropping event", "bufferSize", s.config.BufferSize)
		}
	})
	if err != nil {
		cancel()
		s.wg.Wait()
		return err
	}

	s.subscription = sub
	s.logger.Info("NATS relay subscriber started", "subject", subject, "nodeId", s.nodeID)
	return nil
}

func (s *Subscriber) dispatch(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.msgChan:
			s.Handle(data)
		}
	}
}

// Handle 解析并投递一条转发事件，忽略本节点发出的事件
func (s *Subscriber) Handle(data []byte) {
	var envelope proto.RelayEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		metrics.RelayEvents.WithLabelValues("in", "error").Inc()
		s.logger.Error("Failed to unmarshal relay envelope", "error", err)
		return
	}
	if envelope.Origin == s.nodeID {
		return
	}
	if envelope.Channel == "" {
		metrics.RelayEvents.WithLabelValues("in", "error").Inc()
		s.logger.Warn("Relay envelope without channel", "origin", envelope.Origin, "type", envelope.Type)
		return
	}

	s.local.PublishLocal(envelope.Event())
	metrics.RelayEvents.WithLabelValues("in", "ok").Inc()
}

// Stop 停止订阅
func (s *Subscriber) Stop() {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "error", err)
		}
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("NATS relay subscriber stopped")
}

// BufferUsage 缓冲区使用情况
func (s *Subscriber) BufferUsage() (current int, capacity int) {
	if s.msgChan == nil {
		return 0, 0
	}
	return len(s.msgChan), cap(s.msgChan)
}
