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

// maxDirectAttempts 私聊唯一键冲突后的重试次数
const maxDirectAttempts = 3

// ConversationRepository 会话数据访问
type ConversationRepository struct {
	db  *pgxpool.Pool
	ids IDGenerator
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool, ids IDGenerator) *ConversationRepository {
	return &ConversationRepository{db: db, ids: ids}
}

const conversationColumns = `id, participants, is_group, name, admins, description, photo, last_message_id,
	pinned_message_ids, last_read_at, message_count, created_at, updated_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	conv := &model.Conversation{}
	var pinned []int64
	err := row.Scan(
		&conv.ID,
		&conv.Participants,
		&conv.IsGroup,
		&conv.Name,
		&conv.Admins,
		&conv.Description,
		&conv.Photo,
		&conv.LastMessageID,
		&pinned,
		&conv.LastReadAt,
		&conv.MessageCount,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrConversationNotFound
		}
		return nil, err
	}
	if conv.LastReadAt == nil {
		conv.LastReadAt = map[int64]time.Time{}
	}
	conv.PinnedMessageIDs = pinned
	if conv.PinnedMessageIDs == nil {
		conv.PinnedMessageIDs = []int64{}
	}
	return conv, nil
}

// lockConversation 在事务内读取并锁定会话行，同一会话的写操作由此串行
func lockConversation(ctx context.Context, tx pgx.Tx, id int64) (*model.Conversation, error) {
	return scanConversation(tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id))
}

// saveConversation 回写会话的可变字段
func saveConversation(ctx context.Context, q querier, conv *model.Conversation) error {
	query := `
		UPDATE conversations
		SET participants = $2, admins = $3, name = $4, description = $5, photo = $6,
		    last_message_id = $7, pinned_message_ids = $8, last_read_at = $9, message_count = $10, updated_at = $11
		WHERE id = $1
	`
	lastReadAt := conv.LastReadAt
	if lastReadAt == nil {
		lastReadAt = map[int64]time.Time{}
	}
	_, err := q.Exec(ctx, query,
		conv.ID,
		conv.Participants,
		orEmpty(conv.Admins),
		conv.Name,
		conv.Description,
		conv.Photo,
		conv.LastMessageID,
		orEmpty(conv.PinnedMessageIDs),
		lastReadAt,
		conv.MessageCount,
		conv.UpdatedAt,
	)
	return err
}

func insertConversation(ctx context.Context, q querier, conv *model.Conversation) error {
	query := `
		INSERT INTO conversations (id, direct_key, is_group, participants, admins, name, description, photo,
			pinned_message_ids, last_read_at, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	lastReadAt := conv.LastReadAt
	if lastReadAt == nil {
		lastReadAt = map[int64]time.Time{}
	}
	_, err := q.Exec(ctx, query,
		conv.ID,
		conv.DirectKey(),
		conv.IsGroup,
		conv.Participants,
		orEmpty(conv.Admins),
		conv.Name,
		conv.Description,
		conv.Photo,
		orEmpty(conv.PinnedMessageIDs),
		lastReadAt,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	return err
}

// GetOrCreateDirect 获取或创建私聊，direct_key 唯一约束保证并发下只有一个会话
func (r *ConversationRepository) GetOrCreateDirect(ctx context.Context, userA, userB int64) (*model.Conversation, bool, error) {
	if userA == userB {
		return nil, false, appErrors.ErrInvalidOperand.WithMessage("不能与自己创建私聊")
	}
	key := model.DirectKey(userA, userB)

	for attempt := 0; attempt < maxDirectAttempts; attempt++ {
		conv, err := scanConversation(r.db.QueryRow(ctx,
			`SELECT `+conversationColumns+` FROM conversations WHERE direct_key = $1`, key))
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, appErrors.ErrConversationNotFound) {
			return nil, false, dbError(err)
		}

		n, err := countExisting(ctx, r.db, []int64{userA, userB})
		if err != nil {
			return nil, false, dbError(err)
		}
		if n != 2 {
			return nil, false, appErrors.ErrUserNotFound
		}

		now := time.Now().UTC()
		conv = &model.Conversation{
			ID:               r.ids.NextID(),
			Participants:     []int64{userA, userB},
			PinnedMessageIDs: []int64{},
			LastReadAt:       map[int64]time.Time{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err = insertConversation(ctx, r.db, conv)
		if err == nil {
			return conv, true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, dbError(err)
		}
		// 并发创建的一方已写入，下一轮读取胜出者
	}
	return nil, false, appErrors.ErrConflict
}

// CreateGroup 创建群聊
func (r *ConversationRepository) CreateGroup(ctx context.Context, conv *model.Conversation) error {
	if !conv.IsGroup {
		return appErrors.ErrInvalidOperand.WithMessage("只能创建群聊会话")
	}
	if err := conv.Validate(); err != nil {
		return err
	}

	n, err := countExisting(ctx, r.db, conv.Participants)
	if err != nil {
		return dbError(err)
	}
	if n != len(conv.Participants) {
		return appErrors.ErrUserNotFound
	}

	if err := insertConversation(ctx, r.db, conv); err != nil {
		if isUniqueViolation(err) {
			return appErrors.ErrConflict
		}
		return dbError(err)
	}
	return nil
}

// GetConversation 获取会话
func (r *ConversationRepository) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	conv, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id))
	return conv, dbError(err)
}

// ListConversations 用户参与的会话，按更新时间倒序
func (r *ConversationRepository) ListConversations(ctx context.Context, userID int64, offset, limit int) ([]*model.Conversation, error) {
	offset, limit = NormalizePage(offset, limit)
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE $1 = ANY (participants)
		ORDER BY updated_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	convs := make([]*model.Conversation, 0, limit)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, dbError(err)
		}
		convs = append(convs, conv)
	}
	return convs, dbError(rows.Err())
}

// UpdateConversation 行锁内读改写
func (r *ConversationRepository) UpdateConversation(ctx context.Context, id int64, fn func(conv *model.Conversation) error) (*model.Conversation, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, dbError(err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, id)
	if err != nil {
		return nil, dbError(err)
	}
	if err := fn(conv); err != nil {
		return nil, err
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	conv.UpdatedAt = time.Now().UTC()
	conv.TypingUserIDs = nil

	if err := saveConversation(ctx, tx, conv); err != nil {
		return nil, dbError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, dbError(err)
	}
	return conv, nil
}
