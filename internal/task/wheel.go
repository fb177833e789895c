package task

import (
	"sync"
	"time"
)

// TimeWheel 单层时间轮，超过一圈的延迟用圈数表示
type TimeWheel struct {
	mu          sync.Mutex
	slots       []*Slot
	currentSlot int
	interval    time.Duration
	index       map[string]int // taskID -> 槽位
}

// NewTimeWheel 创建时间轮
func NewTimeWheel(slotCount int, interval time.Duration) *TimeWheel {
	if slotCount <= 0 {
		slotCount = 60
	}
	if interval <= 0 {
		interval = time.Second
	}

	tw := &TimeWheel{
		slots:    make([]*Slot, slotCount),
		interval: interval,
		index:    make(map[string]int),
	}
	for i := range tw.slots {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// ticks 将延迟换算为刻度数，至少 1
func (tw *TimeWheel) ticks(delay time.Duration) int {
	n := int((delay + tw.interval - 1) / tw.interval)
	if n < 1 {
		n = 1
	}
	return n
}

// AddTask 添加任务，已存在的同 ID 任务被替换
func (tw *TimeWheel) AddTask(task *Task) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if old, ok := tw.index[task.ID]; ok {
		tw.slots[old].RemoveTask(task.ID)
	}

	n := tw.ticks(task.Delay)
	count := len(tw.slots)
	task.rounds = (n - 1) / count
	target := (tw.currentSlot + n) % count

	tw.slots[target].AddTask(task)
	tw.index[task.ID] = target
}

// RemoveTask 从时间轮删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	slot, ok := tw.index[taskID]
	if !ok {
		return false
	}
	delete(tw.index, taskID)
	return tw.slots[slot].RemoveTask(taskID)
}

// Tick 推进一格，返回到期任务
func (tw *TimeWheel) Tick() []*Task {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.currentSlot = (tw.currentSlot + 1) % len(tw.slots)
	due := tw.slots[tw.currentSlot].Expire()
	for _, task := range due {
		delete(tw.index, task.ID)
	}
	return due
}

// Interval 每格时长
func (tw *TimeWheel) Interval() time.Duration {
	return tw.interval
}

// CurrentSlot 获取当前槽位索引
func (tw *TimeWheel) CurrentSlot() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.currentSlot
}

// TotalTaskCount 获取所有槽位的任务总数
func (tw *TimeWheel) TotalTaskCount() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return len(tw.index)
}
