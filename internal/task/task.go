package task

import (
	"context"
	"time"
)

// TaskFunc 任务执行函数类型
type TaskFunc func(ctx context.Context, target string) error

// Task 延时任务，同一 ID 重复添加时替换旧任务
type Task struct {
	ID        string        // 任务唯一ID
	Target    string        // 操作对象标识
	Delay     time.Duration // 延迟时长，按时间轮刻度向上取整
	Fn        TaskFunc      // 执行函数
	CreatedAt time.Time

	rounds int // 剩余圈数
}

// NewTask 创建新任务
func NewTask(id, target string, delay time.Duration, fn TaskFunc) *Task {
	return &Task{
		ID:        id,
		Target:    target,
		Delay:     delay,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Target)
}
