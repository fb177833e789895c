package typing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 单节点的正在输入状态存储
type MemoryStore struct {
	mu     sync.Mutex
	typing map[int64]map[int64]time.Time // conversationID -> userID -> expireAt
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{typing: make(map[int64]map[int64]time.Time)}
}

func (s *MemoryStore) AddTyping(_ context.Context, conversationID, userID int64, expireAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.typing[conversationID]
	if !ok {
		users = make(map[int64]time.Time)
		s.typing[conversationID] = users
	}
	_, exists := users[userID]
	users[userID] = expireAt
	return !exists, nil
}

func (s *MemoryStore) RemoveTyping(_ context.Context, conversationID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(conversationID, userID), nil
}

func (s *MemoryStore) ExpireTyping(_ context.Context, conversationID, userID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expireAt, ok := s.typing[conversationID][userID]
	if !ok || expireAt.After(now) {
		return false, nil
	}
	return s.removeLocked(conversationID, userID), nil
}

func (s *MemoryStore) TypingUsers(_ context.Context, conversationID int64, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.typing[conversationID]
	type entry struct {
		id       int64
		expireAt time.Time
	}
	live := make([]entry, 0, len(users))
	for id, expireAt := range users {
		if expireAt.After(now) {
			live = append(live, entry{id, expireAt})
			continue
		}
		delete(users, id)
	}
	if len(users) == 0 {
		delete(s.typing, conversationID)
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].expireAt.Equal(live[j].expireAt) {
			return live[i].id < live[j].id
		}
		return live[i].expireAt.Before(live[j].expireAt)
	})
	ids := make([]int64, len(live))
	for i, e := range live {
		ids[i] = e.id
	}
	return ids, nil
}

func (s *MemoryStore) removeLocked(conversationID, userID int64) bool {
	users, ok := s.typing[conversationID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.typing, conversationID)
	}
	return true
}
