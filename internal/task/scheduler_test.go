package task

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sudooom.im.realtime/internal/workerpool"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// TestSlotAddAndRemove 测试槽位添加和删除
func TestSlotAddAndRemove(t *testing.T) {
	slot := NewSlot()

	slot.AddTask(NewTask("task-1", "user-1", time.Second, nil))
	slot.AddTask(NewTask("task-2", "user-2", time.Second, nil))

	if slot.Count() != 2 {
		t.Errorf("期望任务数 = 2, 实际 = %d", slot.Count())
	}
	if !slot.RemoveTask("task-1") {
		t.Error("期望删除成功")
	}
	if slot.RemoveTask("task-1") {
		t.Error("重复删除应返回 false")
	}
	if slot.Count() != 1 {
		t.Errorf("期望任务数 = 1, 实际 = %d", slot.Count())
	}
}

// TestWheelDelayInTicks 测试延迟按刻度向上取整
func TestWheelDelayInTicks(t *testing.T) {
	tw := NewTimeWheel(4, 10*time.Millisecond)
	tw.AddTask(NewTask("a", "", 25*time.Millisecond, nil))

	for i := 1; i <= 2; i++ {
		if due := tw.Tick(); len(due) != 0 {
			t.Fatalf("第 %d 格不应到期", i)
		}
	}
	if due := tw.Tick(); len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("第 3 格应到期, 实际 = %v", due)
	}
	if tw.TotalTaskCount() != 0 {
		t.Errorf("到期后任务数应为 0, 实际 = %d", tw.TotalTaskCount())
	}
}

// TestWheelRounds 测试超过一圈的延迟
func TestWheelRounds(t *testing.T) {
	tw := NewTimeWheel(4, time.Millisecond)
	tw.AddTask(NewTask("long", "", 10*time.Millisecond, nil))

	fired := 0
	for i := 1; i <= 12; i++ {
		for _, task := range tw.Tick() {
			if task.ID == "long" {
				if i != 10 {
					t.Errorf("期望第 10 格到期, 实际第 %d 格", i)
				}
				fired++
			}
		}
	}
	if fired != 1 {
		t.Errorf("期望执行 1 次, 实际 = %d", fired)
	}
}

// TestWheelReplace 测试同 ID 任务替换
func TestWheelReplace(t *testing.T) {
	tw := NewTimeWheel(8, time.Millisecond)
	tw.AddTask(NewTask("k", "old", 2*time.Millisecond, nil))
	tw.AddTask(NewTask("k", "new", 4*time.Millisecond, nil))

	if tw.TotalTaskCount() != 1 {
		t.Fatalf("期望任务数 = 1, 实际 = %d", tw.TotalTaskCount())
	}

	var got []*Task
	for i := 0; i < 4; i++ {
		got = append(got, tw.Tick()...)
	}
	if len(got) != 1 || got[0].Target != "new" {
		t.Fatalf("只应执行替换后的任务, 实际 = %v", got)
	}
}

// TestWheelRemove 测试删除任务
func TestWheelRemove(t *testing.T) {
	tw := NewTimeWheel(8, time.Millisecond)
	tw.AddTask(NewTask("x", "", 3*time.Millisecond, nil))

	if !tw.RemoveTask("x") {
		t.Fatal("期望删除成功")
	}
	if tw.RemoveTask("x") {
		t.Error("重复删除应返回 false")
	}
	for i := 0; i < 8; i++ {
		if len(tw.Tick()) != 0 {
			t.Fatal("已删除任务不应到期")
		}
	}
}

// TestSchedulerExecutesTasks 测试调度器执行任务
func TestSchedulerExecutesTasks(t *testing.T) {
	pool := workerpool.New(2, 16, discard)
	defer pool.Shutdown(context.Background())

	s := NewScheduler(NewTimeWheel(16, 5*time.Millisecond), pool, discard)
	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); err == nil {
		t.Error("重复启动应返回错误")
	}

	var executed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		task := NewTask("task-"+strconv.Itoa(i), "t", 10*time.Millisecond, func(ctx context.Context, target string) error {
			defer wg.Done()
			executed.Add(1)
			return nil
		})
		if err := s.AddTask(task); err != nil {
			t.Fatalf("添加任务失败: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("任务未按时执行, 已执行 = %d", executed.Load())
	}

	if executed.Load() != 10 {
		t.Errorf("期望执行 10 个任务, 实际 = %d", executed.Load())
	}
}

// TestSchedulerValidation 测试参数校验
func TestSchedulerValidation(t *testing.T) {
	s := NewScheduler(NewTimeWheel(4, time.Millisecond), workerpool.Inline{}, discard)

	if err := s.AddTask(NewTask("a", "", time.Millisecond, nil)); err == nil {
		t.Error("未启动时添加任务应返回错误")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	if err := s.AddTask(nil); err == nil {
		t.Error("空任务应返回错误")
	}
	if err := s.AddTask(NewTask("", "", time.Millisecond, nil)); err == nil {
		t.Error("空 ID 应返回错误")
	}

	stats := s.Stats()
	if !stats.Running {
		t.Error("期望调度器运行中")
	}
}

// TestSchedulerStop 测试停止
func TestSchedulerStop(t *testing.T) {
	s := NewScheduler(NewTimeWheel(4, time.Millisecond), workerpool.Inline{}, discard)
	_ = s.Start()
	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("停止后不应运行")
	}
}
