package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map 按 key 加锁，不同 key 互不阻塞；无人持有的锁会被回收
type Map struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

// New 创建按 key 加锁的锁表
func New() *Map {
	return &Map{locks: make(map[int64]*entry)}
}

// Lock 获取 key 对应的锁，返回解锁函数
func (m *Map) Lock(key int64) (unlock func()) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Len 当前持有或等待中的 key 数量
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
