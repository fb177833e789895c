package nats

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"sudooom.im.realtime/internal/config"
	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/pkg/proto"
)

// Publisher 发布原始消息，*nats.Conn 满足该接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subject 频道对应的转发 subject：<prefix>.<kind>
func Subject(prefix, channel string) string {
	return prefix + "." + pubsub.Kind(channel)
}

// Relay 将本地事件转发到其他节点，发布经过熔断器保护
// 转发失败只记录日志，不影响本地投递
type Relay struct {
	pub     Publisher
	nodeID  string
	prefix  string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewRelay 创建转发器
func NewRelay(pub Publisher, nodeID string, cfg config.NATSConfig, logger *slog.Logger) *Relay {
	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	st := gobreaker.Settings{
		Name:        "nats-relay",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Relay{
		pub:     pub,
		nodeID:  nodeID,
		prefix:  cfg.SubjectPrefix,
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

// Forward 实现 pubsub.Relay
func (r *Relay) Forward(channel string, ev *proto.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		r.logger.Error("Failed to marshal relay payload", "channel", channel, "type", ev.Type, "error", err)
		metrics.RelayEvents.WithLabelValues("out", "error").Inc()
		return
	}
	envelope, err := json.Marshal(proto.RelayEnvelope{
		Origin:    r.nodeID,
		Channel:   channel,
		Type:      ev.Type,
		Data:      data,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		r.logger.Error("Failed to marshal relay envelope", "channel", channel, "error", err)
		metrics.RelayEvents.WithLabelValues("out", "error").Inc()
		return
	}

	subject := Subject(r.prefix, channel)
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.pub.Publish(subject, envelope)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "open"
		}
		metrics.RelayEvents.WithLabelValues("out", result).Inc()
		r.logger.Warn("Failed to relay event", "subject", subject, "type", ev.Type, "error", err)
		return
	}
	metrics.RelayEvents.WithLabelValues("out", "ok").Inc()
}

// State 熔断器当前状态
func (r *Relay) State() gobreaker.State {
	return r.breaker.State()
}
