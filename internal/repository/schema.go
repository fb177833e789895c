package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	appErrors "sudooom.im.realtime/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                   BIGINT PRIMARY KEY,
	display_name         TEXT        NOT NULL DEFAULT '',
	avatar_url           TEXT        NOT NULL DEFAULT '',
	is_online            BOOLEAN     NOT NULL DEFAULT FALSE,
	last_active          TIMESTAMPTZ,
	unread_notifications BIGINT      NOT NULL DEFAULT 0 CHECK (unread_notifications >= 0),
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversations (
	id                 BIGINT PRIMARY KEY,
	direct_key         TEXT UNIQUE,
	is_group           BOOLEAN     NOT NULL DEFAULT FALSE,
	participants       BIGINT[]    NOT NULL,
	admins             BIGINT[]    NOT NULL DEFAULT '{}',
	name               TEXT        NOT NULL DEFAULT '',
	description        TEXT        NOT NULL DEFAULT '',
	photo              TEXT        NOT NULL DEFAULT '',
	last_message_id    BIGINT      NOT NULL DEFAULT 0,
	pinned_message_ids BIGINT[]    NOT NULL DEFAULT '{}',
	last_read_at       JSONB       NOT NULL DEFAULT '{}',
	message_count      BIGINT      NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_participants ON conversations USING GIN (participants);

CREATE TABLE IF NOT EXISTS messages (
	id              BIGINT PRIMARY KEY,
	conversation_id BIGINT      NOT NULL REFERENCES conversations (id),
	sender_id       BIGINT      NOT NULL,
	receiver_id     BIGINT      NOT NULL DEFAULT 0,
	content         TEXT        NOT NULL DEFAULT '',
	attachments     JSONB,
	type            TEXT        NOT NULL,
	status          TEXT        NOT NULL,
	is_read         BOOLEAN     NOT NULL DEFAULT FALSE,
	read_at         TIMESTAMPTZ,
	is_edited       BOOLEAN     NOT NULL DEFAULT FALSE,
	edited_at       TIMESTAMPTZ,
	is_deleted      BOOLEAN     NOT NULL DEFAULT FALSE,
	deleted_at      TIMESTAMPTZ,
	reactions       JSONB,
	pinned          BOOLEAN     NOT NULL DEFAULT FALSE,
	pinned_by       BIGINT      NOT NULL DEFAULT 0,
	pinned_at       TIMESTAMPTZ,
	reply_to        BIGINT      NOT NULL DEFAULT 0,
	forwarded_from  BIGINT      NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages (conversation_id)
	WHERE NOT is_read AND NOT is_deleted;

CREATE TABLE IF NOT EXISTS notifications (
	id         BIGINT PRIMARY KEY,
	user_id    BIGINT      NOT NULL REFERENCES users (id),
	type       TEXT        NOT NULL,
	content    TEXT        NOT NULL DEFAULT '',
	is_read    BOOLEAN     NOT NULL DEFAULT FALSE,
	read_at    TIMESTAMPTZ,
	sender_id  BIGINT      NOT NULL DEFAULT 0,
	related_id BIGINT      NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, id DESC);
`

// Migrate 创建表结构，可重复执行
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// querier pgxpool.Pool 与 pgx.Tx 的公共子集
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// dbError 保留业务错误，其余包装为数据库错误
func dbError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.ErrDBError.Wrap(err)
}

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
