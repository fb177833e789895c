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

// UserRepository 用户目录数据访问
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, display_name, avatar_url, is_online, last_active, unread_notifications`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	var lastActive *time.Time
	err := row.Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.IsOnline, &lastActive, &u.UnreadNotifications)
	if err != nil {
		return nil, err
	}
	if lastActive != nil {
		u.LastActive = *lastActive
	}
	return u, nil
}

// Upsert 写入目录用户，已存在时更新展示信息
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, display_name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url
	`
	_, err := r.db.Exec(ctx, query, u.ID, u.DisplayName, u.AvatarURL)
	return dbError(err)
}

// UserExists 用户是否存在
func (r *UserRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, dbError(err)
}

// GetUser 获取用户
func (r *UserRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, dbError(err)
	}
	return u, nil
}

// GetUsers 批量获取用户，一次查询
func (r *UserRepository) GetUsers(ctx context.Context, userIDs []int64) (map[int64]*model.User, error) {
	out := make(map[int64]*model.User, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbError(err)
		}
		out[u.ID] = u
	}
	return out, dbError(rows.Err())
}

// SetOnline 更新在线标记，lastActive 只前进
func (r *UserRepository) SetOnline(ctx context.Context, userID int64, online bool, lastActive time.Time) error {
	query := `UPDATE users SET is_online = $2, last_active = GREATEST(last_active, $3) WHERE id = $1`
	result, err := r.db.Exec(ctx, query, userID, online, lastActive)
	if err != nil {
		return dbError(err)
	}
	if result.RowsAffected() == 0 {
		return appErrors.ErrUserNotFound
	}
	return nil
}

// countExisting 统计存在的用户数
func countExisting(ctx context.Context, q querier, userIDs []int64) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE id = ANY($1)`, userIDs).Scan(&n)
	return n, err
}
