package memory

import (
	"context"

	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/repository"
	appErrors "sudooom.im.realtime/pkg/errors"
)

// CreateNotification 写入通知并递增用户未读计数
func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) (int64, error) {
	if !n.Type.Valid() {
		return 0, appErrors.ErrValidation.WithMessage("通知类型无效")
	}

	unlock := s.userLocks.Lock(n.UserID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[n.UserID]
	if !ok {
		return 0, appErrors.ErrUserNotFound
	}
	if n.ID == 0 {
		n.ID = s.ids.NextID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	n.IsRead = false
	n.ReadAt = nil

	cp := *n
	s.notifications[n.ID] = &cp
	s.userNotifs[n.UserID] = insertSorted(s.userNotifs[n.UserID], n.ID)

	user := *u
	user.UnreadNotifications++
	s.users[n.UserID] = &user
	return user.UnreadNotifications, nil
}

// ListNotifications 最新的在前
func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, offset, limit int) ([]*model.Notification, error) {
	offset, limit = repository.NormalizePage(offset, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.userNotifs[userID]
	out := make([]*model.Notification, 0, limit)
	skipped := 0
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.notifications[ids[i]]
		if unreadOnly && n.IsRead {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

// MarkNotificationsRead 批量标记已读，任一通知不属于该用户则整体拒绝
func (s *Store) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) (int64, int64, error) {
	ids = repository.UniqueIDs(ids)

	unlock := s.userLocks.Lock(userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, 0, appErrors.ErrUserNotFound
	}
	for _, id := range ids {
		n, ok := s.notifications[id]
		if !ok || n.UserID != userID {
			return 0, 0, appErrors.ErrNotificationNotOwned
		}
	}
	return s.markNotificationsLocked(u, ids)
}

// MarkAllNotificationsRead 将用户的全部通知标记已读
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, int64, error) {
	unlock := s.userLocks.Lock(userID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, 0, appErrors.ErrUserNotFound
	}
	return s.markNotificationsLocked(u, s.userNotifs[userID])
}

func (s *Store) markNotificationsLocked(u *model.User, ids []int64) (int64, int64, error) {
	now := s.now()
	var changed int64
	for _, id := range ids {
		n := s.notifications[id]
		if n.IsRead {
			continue
		}
		cp := *n
		cp.IsRead = true
		cp.ReadAt = &now
		s.notifications[id] = &cp
		changed++
	}

	user := *u
	user.UnreadNotifications = max(user.UnreadNotifications-changed, 0)
	s.users[user.ID] = &user
	return changed, user.UnreadNotifications, nil
}

// UnreadNotificationCount 用户未读通知数
func (s *Store) UnreadNotificationCount(ctx context.Context, userID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, appErrors.ErrUserNotFound
	}
	return u.UnreadNotifications, nil
}
