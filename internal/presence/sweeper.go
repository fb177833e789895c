package presence

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper 定期清理长时间无活动的在线记录
type Sweeper struct {
	tracker  *Tracker
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper 创建清理器
func NewSweeper(tracker *Tracker, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		tracker:  tracker,
		interval: interval,
		logger:   logger,
	}
}

// Start 启动清理循环（阻塞，应在 goroutine 中调用）
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Presence sweeper started",
		"interval", s.interval,
		"offline_threshold", s.tracker.cfg.OfflineThreshold)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Presence sweeper stopped")
			return
		case <-ticker.C:
			if n := s.tracker.Sweep(ctx); n > 0 {
				s.logger.Info("Presence sweep completed", "expired", n)
			}
		}
	}
}
