package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore 基于 PostgreSQL 的完整存储
type PostgresStore struct {
	*UserRepository
	*ConversationRepository
	*MessageRepository
	*NotificationRepository

	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore 组合各仓库
func NewPostgresStore(db *pgxpool.Pool, ids IDGenerator) *PostgresStore {
	return &PostgresStore{
		UserRepository:         NewUserRepository(db),
		ConversationRepository: NewConversationRepository(db, ids),
		MessageRepository:      NewMessageRepository(db),
		NotificationRepository: NewNotificationRepository(db, ids),
		db:                     db,
	}
}

// DB 底层连接池
func (s *PostgresStore) DB() *pgxpool.Pool {
	return s.db
}

// PoolConfig 连接池参数
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool 创建连接池并验证连通性
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
