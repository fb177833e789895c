package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.realtime/internal/model"
	appErrors "sudooom.im.realtime/pkg/errors"
)

// NotificationRepository 通知数据访问
type NotificationRepository struct {
	db  *pgxpool.Pool
	ids IDGenerator
}

// NewNotificationRepository 创建通知仓库
func NewNotificationRepository(db *pgxpool.Pool, ids IDGenerator) *NotificationRepository {
	return &NotificationRepository{db: db, ids: ids}
}

// CreateNotification 事务内写入通知并递增未读计数
func (r *NotificationRepository) CreateNotification(ctx context.Context, n *model.Notification) (int64, error) {
	if !n.Type.Valid() {
		return 0, appErrors.ErrValidation.WithMessage("通知类型无效")
	}
	if n.ID == 0 {
		n.ID = r.ids.NextID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.IsRead = false
	n.ReadAt = nil

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, dbError(err)
	}
	defer tx.Rollback(ctx)

	var unread int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET unread_notifications = unread_notifications + 1 WHERE id = $1 RETURNING unread_notifications`,
		n.UserID,
	).Scan(&unread)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, appErrors.ErrUserNotFound
		}
		return 0, dbError(err)
	}

	query := `
		INSERT INTO notifications (id, user_id, type, content, sender_id, related_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, query, n.ID, n.UserID, n.Type, n.Content, n.SenderID, n.RelatedID, n.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, appErrors.ErrConflict
		}
		return 0, dbError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, dbError(err)
	}
	return unread, nil
}

// ListNotifications 最新的在前
func (r *NotificationRepository) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, offset, limit int) ([]*model.Notification, error) {
	offset, limit = NormalizePage(offset, limit)
	query := `
		SELECT id, user_id, type, content, is_read, read_at, sender_id, related_id, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY id DESC
		OFFSET $3 LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, userID, unreadOnly, offset, limit)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	list := make([]*model.Notification, 0, limit)
	for rows.Next() {
		n := &model.Notification{}
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Content, &n.IsRead, &n.ReadAt, &n.SenderID, &n.RelatedID, &n.CreatedAt)
		if err != nil {
			return nil, dbError(err)
		}
		list = append(list, n)
	}
	return list, dbError(rows.Err())
}

// lockUnread 锁定用户行并返回当前未读数
func lockUnread(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var unread int64
	err := tx.QueryRow(ctx, `SELECT unread_notifications FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&unread)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, appErrors.ErrUserNotFound
	}
	return unread, err
}

// decrementUnread 按实际变更数扣减未读计数，不低于零
func decrementUnread(ctx context.Context, tx pgx.Tx, userID, changed int64) (int64, error) {
	var unread int64
	err := tx.QueryRow(ctx,
		`UPDATE users SET unread_notifications = GREATEST(unread_notifications - $2, 0) WHERE id = $1 RETURNING unread_notifications`,
		userID, changed,
	).Scan(&unread)
	return unread, err
}

// MarkNotificationsRead 全部属于该用户才执行
func (r *NotificationRepository) MarkNotificationsRead(ctx context.Context, userID int64, ids []int64) (int64, int64, error) {
	ids = UniqueIDs(ids)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, dbError(err)
	}
	defer tx.Rollback(ctx)

	unread, err := lockUnread(ctx, tx, userID)
	if err != nil {
		return 0, 0, dbError(err)
	}
	if len(ids) == 0 {
		return 0, unread, nil
	}

	var owned int
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE id = ANY ($1) AND user_id = $2`, ids, userID).Scan(&owned)
	if err != nil {
		return 0, 0, dbError(err)
	}
	if owned != len(ids) {
		return 0, 0, appErrors.ErrNotificationNotOwned
	}

	result, err := tx.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = $3 WHERE id = ANY ($1) AND user_id = $2 AND NOT is_read`,
		ids, userID, time.Now().UTC(),
	)
	if err != nil {
		return 0, 0, dbError(err)
	}
	changed := result.RowsAffected()

	unread, err = decrementUnread(ctx, tx, userID, changed)
	if err != nil {
		return 0, 0, dbError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, dbError(err)
	}
	return changed, unread, nil
}

// MarkAllNotificationsRead 将用户的全部通知标记已读
func (r *NotificationRepository) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, dbError(err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockUnread(ctx, tx, userID); err != nil {
		return 0, 0, dbError(err)
	}
	result, err := tx.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE user_id = $1 AND NOT is_read`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return 0, 0, dbError(err)
	}
	changed := result.RowsAffected()

	unread, err := decrementUnread(ctx, tx, userID, changed)
	if err != nil {
		return 0, 0, dbError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, dbError(err)
	}
	return changed, unread, nil
}

// UnreadNotificationCount 用户未读通知数
func (r *NotificationRepository) UnreadNotificationCount(ctx context.Context, userID int64) (int64, error) {
	var unread int64
	err := r.db.QueryRow(ctx, `SELECT unread_notifications FROM users WHERE id = $1`, userID).Scan(&unread)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, appErrors.ErrUserNotFound
		}
		return 0, dbError(err)
	}
	return unread, nil
}
