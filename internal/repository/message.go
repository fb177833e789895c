package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.realtime/internal/model"
	appErrors "sudooom.im.realtime/pkg/errors"
)

// MessageRepository 消息数据访问
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.attachments, m.type, m.status,
	m.is_read, m.read_at, m.is_edited, m.edited_at, m.is_deleted, m.deleted_at, m.reactions,
	m.pinned, m.pinned_by, m.pinned_at, m.reply_to, m.forwarded_from, m.created_at, m.updated_at`

// unreadPredicate 未读判定：非本人发送、未读、未删除；私聊还需是接收者（群聊 receiver_id 为 0）
const unreadPredicate = `m.sender_id <> $1 AND NOT m.is_read AND NOT m.is_deleted AND m.receiver_id IN ($1, 0)`

func scanMessage(row pgx.Row) (*model.Message, error) {
	msg := &model.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.Attachments,
		&msg.Type,
		&msg.Status,
		&msg.IsRead,
		&msg.ReadAt,
		&msg.IsEdited,
		&msg.EditedAt,
		&msg.IsDeleted,
		&msg.DeletedAt,
		&msg.Reactions,
		&msg.Pinned,
		&msg.PinnedBy,
		&msg.PinnedAt,
		&msg.ReplyTo,
		&msg.ForwardedFrom,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func collectMessages(rows pgx.Rows) ([]*model.Message, error) {
	defer rows.Close()
	var msgs []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SendMessage 同一事务内写入消息并推进会话
func (r *MessageRepository) SendMessage(ctx context.Context, msg *model.Message) (*model.Conversation, error) {
	if err := msg.Validate(model.DefaultLimits()); err != nil {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, dbError(err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, msg.ConversationID)
	if err != nil {
		return nil, dbError(err)
	}
	if !conv.HasParticipant(msg.SenderID) {
		return nil, appErrors.ErrConversationNotFound
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.ReceiverID = conv.Peer(msg.SenderID)
	if msg.Status == "" {
		msg.Status = model.StatusSending
	}
	msg.AdvanceStatus(model.StatusSent)

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, attachments, type, status,
			reply_to, forwarded_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.Attachments,
		msg.Type,
		msg.Status,
		msg.ReplyTo,
		msg.ForwardedFrom,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.ErrConflict
		}
		return nil, dbError(err)
	}

	conv.RecordMessage(msg)
	if err := saveConversation(ctx, tx, conv); err != nil {
		return nil, dbError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, dbError(err)
	}
	return conv, nil
}

// GetMessage 获取消息
func (r *MessageRepository) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id))
	return msg, dbError(err)
}

// GetMessages 批量获取消息，一次查询
func (r *MessageRepository) GetMessages(ctx context.Context, ids []int64) (map[int64]*model.Message, error) {
	out := make(map[int64]*model.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ANY($1)`, ids)
	if err != nil {
		return nil, dbError(err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, dbError(err)
	}
	for _, msg := range msgs {
		out[msg.ID] = msg
	}
	return out, nil
}

// mutateMessage 锁定会话与消息后执行修改，非参与者一律视为消息不存在
func (r *MessageRepository) mutateMessage(ctx context.Context, id, actorID int64,
	fn func(conv *model.Conversation, msg *model.Message, now time.Time) (convChanged bool, err error),
) (*model.Message, *model.Conversation, error) {
	var convID int64
	err := r.db.QueryRow(ctx, `SELECT conversation_id FROM messages WHERE id = $1`, id).Scan(&convID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, appErrors.ErrMessageNotFound
		}
		return nil, nil, dbError(err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, dbError(err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, convID)
	if err != nil {
		if errors.Is(err, appErrors.ErrConversationNotFound) {
			return nil, nil, appErrors.ErrMessageNotFound
		}
		return nil, nil, dbError(err)
	}
	if !conv.HasParticipant(actorID) {
		return nil, nil, appErrors.ErrMessageNotFound
	}
	msg, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, nil, dbError(err)
	}

	convChanged, err := fn(conv, msg, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	query := `
		UPDATE messages
		SET content = $2, status = $3, is_read = $4, read_at = $5, is_edited = $6, edited_at = $7,
		    is_deleted = $8, deleted_at = $9, reactions = $10, pinned = $11, pinned_by = $12, pinned_at = $13,
		    updated_at = $14
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, query,
		msg.ID,
		msg.Content,
		msg.Status,
		msg.IsRead,
		msg.ReadAt,
		msg.IsEdited,
		msg.EditedAt,
		msg.IsDeleted,
		msg.DeletedAt,
		msg.Reactions,
		msg.Pinned,
		msg.PinnedBy,
		msg.PinnedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return nil, nil, dbError(err)
	}
	if convChanged {
		if err := saveConversation(ctx, tx, conv); err != nil {
			return nil, nil, dbError(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, dbError(err)
	}
	return msg, conv, nil
}

// EditMessage 编辑消息，仅发送者
func (r *MessageRepository) EditMessage(ctx context.Context, id, actorID int64, content string) (*model.Message, error) {
	msg, _, err := r.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
		if msg.SenderID != actorID {
			return false, appErrors.ErrNotSender
		}
		if msg.IsDeleted {
			return false, appErrors.ErrMessageDeleted
		}
		if err := model.ValidatePayload(content, msg.Attachments, model.DefaultLimits()); err != nil {
			return false, err
		}
		msg.Edit(content, now)
		return false, nil
	})
	return msg, err
}

// SoftDeleteMessage 软删除，仅发送者；已置顶的消息同时取消置顶
func (r *MessageRepository) SoftDeleteMessage(ctx context.Context, id, actorID int64) (*model.Message, bool, error) {
	var changed bool
	msg, _, err := r.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
		if msg.SenderID != actorID {
			return false, appErrors.ErrNotSender
		}
		changed = msg.SoftDelete(now)
		if changed && msg.Pinned {
			if _, err := conv.TogglePin(msg.ID); err != nil {
				return false, err
			}
			msg.SetPinned(false, 0, now)
			return true, nil
		}
		return false, nil
	})
	return msg, changed, err
}

// ToggleReaction 切换表情回应
func (r *MessageRepository) ToggleReaction(ctx context.Context, id, actorID int64, emoji string) (*model.Message, bool, error) {
	var added bool
	msg, _, err := r.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
		if msg.IsDeleted {
			return false, appErrors.ErrMessageDeleted
		}
		added = msg.ToggleReaction(actorID, emoji, now)
		return false, nil
	})
	return msg, added, err
}

// TogglePin 切换置顶，消息与会话在同一事务内更新
func (r *MessageRepository) TogglePin(ctx context.Context, id, actorID int64) (*model.Message, *model.Conversation, error) {
	return r.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
		if msg.IsDeleted && !msg.Pinned {
			return false, appErrors.ErrMessageDeleted
		}
		pinned, err := conv.TogglePin(msg.ID)
		if err != nil {
			return false, err
		}
		msg.SetPinned(pinned, actorID, now)
		return true, nil
	})
}

// MarkMessageRead 标记单条消息已读
func (r *MessageRepository) MarkMessageRead(ctx context.Context, id, readerID int64) (*model.Message, bool, error) {
	var changed bool
	msg, _, err := r.mutateMessage(ctx, id, readerID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
		if conv.IsGroup && msg.SenderID == readerID {
			return false, nil
		}
		if !msg.CanRead(conv, readerID) {
			return false, appErrors.ErrNotReceiver
		}
		changed = msg.MarkRead(now)
		if changed {
			conv.MarkRead(readerID, now)
		}
		return changed, nil
	})
	return msg, changed, err
}

// MarkConversationRead 批量标记会话内发给 readerID 的消息已读
func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, time.Time, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, time.Time{}, dbError(err)
	}
	defer tx.Rollback(ctx)

	conv, err := lockConversation(ctx, tx, conversationID)
	if err != nil {
		return 0, time.Time{}, dbError(err)
	}
	if !conv.HasParticipant(readerID) {
		return 0, time.Time{}, appErrors.ErrConversationNotFound
	}

	now := time.Now().UTC()
	query := `
		UPDATE messages m
		SET is_read = TRUE, read_at = $3, status = $4, updated_at = $3
		WHERE m.conversation_id = $2 AND ` + unreadPredicate
	result, err := tx.Exec(ctx, query, readerID, conversationID, now, model.StatusRead)
	if err != nil {
		return 0, time.Time{}, dbError(err)
	}

	conv.MarkRead(readerID, now)
	if err := saveConversation(ctx, tx, conv); err != nil {
		return 0, time.Time{}, dbError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, time.Time{}, dbError(err)
	}
	return result.RowsAffected(), now, nil
}

// ListMessages 按 ID 倒序分页
func (r *MessageRepository) ListMessages(ctx context.Context, conversationID, before int64, limit int) ([]*model.Message, error) {
	_, limit = NormalizePage(0, limit)
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.conversation_id = $1 AND NOT m.is_deleted AND ($2 = 0 OR m.id < $2)
		ORDER BY m.id DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, conversationID, before, limit)
	if err != nil {
		return nil, dbError(err)
	}
	msgs, err := collectMessages(rows)
	if msgs == nil {
		msgs = []*model.Message{}
	}
	return msgs, dbError(err)
}

// escapeLike 转义 LIKE 通配符
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SearchMessages 在用户参与的会话中按文本搜索
func (r *MessageRepository) SearchMessages(ctx context.Context, q SearchQuery) ([]*model.Message, error) {
	_, limit := NormalizePage(0, q.Limit)

	var sb strings.Builder
	sb.WriteString(`SELECT ` + messageColumns + `
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE $1 = ANY (c.participants) AND NOT m.is_deleted`)
	args := []any{q.UserID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if text := strings.TrimSpace(q.Text); text != "" {
		sb.WriteString(` AND m.content ILIKE '%' || ` + arg(escapeLike(text)) + ` || '%' ESCAPE '\'`)
	}
	if q.ConversationID > 0 {
		sb.WriteString(` AND m.conversation_id = ` + arg(q.ConversationID))
	}
	if !q.From.IsZero() {
		sb.WriteString(` AND m.created_at >= ` + arg(q.From))
	}
	if !q.To.IsZero() {
		sb.WriteString(` AND m.created_at <= ` + arg(q.To))
	}
	sb.WriteString(` ORDER BY m.id DESC LIMIT ` + arg(limit))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, dbError(err)
	}
	msgs, err := collectMessages(rows)
	return msgs, dbError(err)
}

// UnreadCount 单个会话的未读数
func (r *MessageRepository) UnreadCount(ctx context.Context, conversationID, userID int64) (int64, error) {
	counts, err := r.UnreadCounts(ctx, userID, []int64{conversationID})
	if err != nil {
		return 0, err
	}
	return counts[conversationID], nil
}

// UnreadCounts 一次聚合查询统计多个会话的未读数
func (r *MessageRepository) UnreadCounts(ctx context.Context, userID int64, conversationIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(conversationIDs))
	for _, id := range conversationIDs {
		out[id] = 0
	}
	if len(conversationIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT m.conversation_id, COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = ANY ($2) AND $1 = ANY (c.participants) AND ` + unreadPredicate + `
		GROUP BY m.conversation_id
	`
	rows, err := r.db.Query(ctx, query, userID, conversationIDs)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, n int64
		if err := rows.Scan(&convID, &n); err != nil {
			return nil, dbError(err)
		}
		out[convID] = n
	}
	return out, dbError(rows.Err())
}
