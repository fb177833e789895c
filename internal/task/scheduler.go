package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.realtime/internal/workerpool"
)

// Executor 执行到期任务
type Executor interface {
	Submit(task workerpool.Task) bool
}

// Stats 调度器统计信息
type Stats struct {
	Running     bool `json:"running"`
	CurrentSlot int  `json:"current_slot"`
	Tasks       int  `json:"tasks"`
}

// Scheduler 基于时间轮的延时任务调度器
type Scheduler struct {
	wheel    *TimeWheel
	executor Executor
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	runningMu sync.RWMutex
	running   bool
}

// NewScheduler 创建任务调度器，到期任务交给 executor 执行
func NewScheduler(wheel *TimeWheel, executor Executor, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		wheel:    wheel,
		executor: executor,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("Task scheduler started",
		"interval", s.wheel.Interval(),
		"slots", len(s.wheel.slots))
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.wheel.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Scheduler) onTick() {
	tasks := s.wheel.Tick()
	if len(tasks) == 0 {
		return
	}

	s.logger.Debug("Tasks due", "count", len(tasks))

	for _, task := range tasks {
		task := task
		ok := s.executor.Submit(func() {
			if err := task.Execute(s.ctx); err != nil {
				s.logger.Warn("Task failed",
					"task_id", task.ID,
					"target", task.Target,
					"error", err)
			}
		})
		if !ok {
			s.logger.Warn("Task dropped", "task_id", task.ID)
		}
	}
}

// Stop 停止调度器，未到期的任务被丢弃
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.logger.Info("Task scheduler stopped")
}

// AddTask 添加任务，同 ID 的未到期任务被替换
func (s *Scheduler) AddTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	if task.ID == "" {
		return fmt.Errorf("task id is empty")
	}

	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	if !s.running {
		return fmt.Errorf("scheduler not running")
	}

	s.wheel.AddTask(task)
	return nil
}

// RemoveTask 删除任务，返回是否存在
func (s *Scheduler) RemoveTask(taskID string) bool {
	return s.wheel.RemoveTask(taskID)
}

// Interval 时间轮每格时长
func (s *Scheduler) Interval() time.Duration {
	return s.wheel.Interval()
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// Stats 获取调度器统计信息
func (s *Scheduler) Stats() Stats {
	return Stats{
		Running:     s.IsRunning(),
		CurrentSlot: s.wheel.CurrentSlot(),
		Tasks:       s.wheel.TotalTaskCount(),
	}
}
