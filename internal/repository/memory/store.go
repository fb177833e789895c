package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sudooom.im.realtime/internal/keylock"
	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/repository"
	appErrors "sudooom.im.realtime/pkg/errors"
)

// Store 进程内存储，实现 repository.Store
// map 中的对象写入后不再原地修改，写操作复制后整体替换，读操作返回副本
type Store struct {
	ids       repository.IDGenerator
	now       func() time.Time
	convLocks *keylock.Map
	userLocks *keylock.Map

	mu            sync.RWMutex
	users         map[int64]*model.User
	conversations map[int64]*model.Conversation
	directIndex   map[string]int64
	messages      map[int64]*model.Message
	convMessages  map[int64][]int64 // 按 ID 升序
	notifications map[int64]*model.Notification
	userNotifs    map[int64][]int64 // 按 ID 升序
}

var _ repository.Store = (*Store)(nil)

// NewStore 创建内存存储
func NewStore(ids repository.IDGenerator, users ...model.User) *Store {
	s := &Store{
		ids:           ids,
		now:           time.Now,
		convLocks:     keylock.New(),
		userLocks:     keylock.New(),
		users:         make(map[int64]*model.User),
		conversations: make(map[int64]*model.Conversation),
		directIndex:   make(map[string]int64),
		messages:      make(map[int64]*model.Message),
		convMessages:  make(map[int64][]int64),
		notifications: make(map[int64]*model.Notification),
		userNotifs:    make(map[int64][]int64),
	}
	for i := range users {
		s.PutUser(users[i])
	}
	return s
}

// PutUser 写入或覆盖目录用户
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
}

// ============== Directory ==============

// UserExists 用户是否存在
func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

// GetUser 获取用户
func (s *Store) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, appErrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUsers 批量获取用户，不存在的 ID 直接忽略
func (s *Store) GetUsers(ctx context.Context, userIDs []int64) (map[int64]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*model.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

// SetOnline 更新在线标记
func (s *Store) SetOnline(ctx context.Context, userID int64, online bool, lastActive time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return appErrors.ErrUserNotFound
	}
	cp := *u
	cp.IsOnline = online
	if lastActive.After(cp.LastActive) {
		cp.LastActive = lastActive
	}
	s.users[userID] = &cp
	return nil
}

// ============== Conversation ==============

// GetOrCreateDirect 获取或创建私聊会话
func (s *Store) GetOrCreateDirect(ctx context.Context, userA, userB int64) (*model.Conversation, bool, error) {
	if userA == userB {
		return nil, false, appErrors.ErrInvalidOperand.WithMessage("不能与自己创建私聊")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []int64{userA, userB} {
		if _, ok := s.users[id]; !ok {
			return nil, false, appErrors.ErrUserNotFound
		}
	}

	key := model.DirectKey(userA, userB)
	if id, ok := s.directIndex[key]; ok {
		return s.conversations[id].Clone(), false, nil
	}

	now := s.now()
	conv := &model.Conversation{
		ID:               s.ids.NextID(),
		Participants:     []int64{userA, userB},
		PinnedMessageIDs: []int64{},
		LastReadAt:       map[int64]time.Time{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.conversations[conv.ID] = conv
	s.directIndex[key] = conv.ID
	return conv.Clone(), true, nil
}

// CreateGroup 创建群聊
func (s *Store) CreateGroup(ctx context.Context, conv *model.Conversation) error {
	if !conv.IsGroup {
		return appErrors.ErrInvalidOperand.WithMessage("只能创建群聊会话")
	}
	if err := conv.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range conv.Participants {
		if _, ok := s.users[id]; !ok {
			return appErrors.ErrUserNotFound
		}
	}
	if _, exists := s.conversations[conv.ID]; exists {
		return appErrors.ErrConflict
	}
	if conv.LastReadAt == nil {
		conv.LastReadAt = map[int64]time.Time{}
	}
	if conv.PinnedMessageIDs == nil {
		conv.PinnedMessageIDs = []int64{}
	}
	stored := conv.Clone()
	stored.TypingUserIDs = nil
	s.conversations[conv.ID] = stored
	return nil
}

// GetConversation 获取会话
func (s *Store) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, appErrors.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// ListConversations 用户参与的会话，按更新时间倒序
func (s *Store) ListConversations(ctx context.Context, userID int64, offset, limit int) ([]*model.Conversation, error) {
	offset, limit = repository.NormalizePage(offset, limit)

	s.mu.RLock()
	var convs []*model.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			convs = append(convs, conv)
		}
	}
	s.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	if offset >= len(convs) {
		return []*model.Conversation{}, nil
	}
	end := min(offset+limit, len(convs))
	out := make([]*model.Conversation, 0, end-offset)
	for _, conv := range convs[offset:end] {
		out = append(out, conv.Clone())
	}
	return out, nil
}

// UpdateConversation 串行化的读改写
func (s *Store) UpdateConversation(ctx context.Context, id int64, fn func(conv *model.Conversation) error) (*model.Conversation, error) {
	unlock := s.convLocks.Lock(id)
	defer unlock()

	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(conv); err != nil {
		return nil, err
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	conv.UpdatedAt = s.now()
	conv.TypingUserIDs = nil

	s.mu.Lock()
	s.conversations[id] = conv
	s.mu.Unlock()
	return conv.Clone(), nil
}

// ============== Message ==============

// SendMessage 持久化消息并推进会话
func (s *Store) SendMessage(ctx context.Context, msg *model.Message) (*model.Conversation, error) {
	if err := msg.Validate(model.DefaultLimits()); err != nil {
		return nil, err
	}

	unlock := s.convLocks.Lock(msg.ConversationID)
	defer unlock()

	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(msg.SenderID) {
		return nil, appErrors.ErrConversationNotFound
	}

	if msg.ID == 0 {
		msg.ID = s.ids.NextID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.ReceiverID = conv.Peer(msg.SenderID)
	if msg.Status == "" {
		msg.Status = model.StatusSending
	}
	msg.AdvanceStatus(model.StatusSent)
	conv.RecordMessage(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return nil, appErrors.ErrConflict
	}
	s.messages[msg.ID] = msg.Clone()
	s.convMessages[conv.ID] = insertSorted(s.convMessages[conv.ID], msg.ID)
	s.conversations[conv.ID] = conv
	return conv.Clone(), nil
}

// GetMessage 获取消息
func (s *Store) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, appErrors.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// GetMessages 批量获取消息
func (s *Store) GetMessages(ctx context.Context, ids []int64) (map[int64]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*model.Message, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			out[id] = msg.Clone()
		}
	}
	return out, nil
}

// mutateMessage 在会话锁内修改消息，非参与者一律视为消息不存在
func (s *Store) mutateMessage(ctx context.Context, id, actorID int64,
	fn func(conv *model.Conversation, msg *model.Message, now time.Time) (convChanged bool, err error),
) (*model.Message, *model.Conversation, error) {
	current, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	unlock := s.convLocks.Lock(current.ConversationID)
	defer unlock()

	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, appErrors.ErrMessageNotFound
	}
	if !conv.HasParticipant(actorID) {
		return nil, nil, appErrors.ErrMessageNotFound
	}

	convChanged, err := fn(conv, msg, s.now())
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.messages[msg.ID] = msg.Clone()
	if convChanged {
		s.conversations[conv.ID] = conv.Clone()
	}
	s.mu.Unlock()
	return msg, conv, nil
}

// EditMessage 编辑消息，仅发送者
func (s *Store) EditMessage(ctx context.Context, id, actorID int64, content string) (*model.Message, error) {
	msg, _, err := s.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
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
func (s *Store) SoftDeleteMessage(ctx context.Context, id, actorID int64) (*model.Message, bool, error) {
	var changed bool
	msg, _, err := s.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
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

// ToggleReaction 切换表情回应，任意参与者
func (s *Store) ToggleReaction(ctx context.Context, id, actorID int64, emoji string) (*model.Message, bool, error) {
	var added bool
	msg, _, err := s.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
		if msg.IsDeleted {
			return false, appErrors.ErrMessageDeleted
		}
		added = msg.ToggleReaction(actorID, emoji, now)
		return false, nil
	})
	return msg, added, err
}

// TogglePin 切换置顶，任意参与者，消息与会话同时更新
func (s *Store) TogglePin(ctx context.Context, id, actorID int64) (*model.Message, *model.Conversation, error) {
	return s.mutateMessage(ctx, id, actorID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
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

// MarkMessageRead 标记单条消息已读，幂等
func (s *Store) MarkMessageRead(ctx context.Context, id, readerID int64) (*model.Message, bool, error) {
	var changed bool
	msg, _, err := s.mutateMessage(ctx, id, readerID, func(conv *model.Conversation, msg *model.Message, now time.Time) (bool, error) {
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

// MarkConversationRead 将会话中发给 readerID 的未读消息全部标记已读
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, time.Time, error) {
	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !conv.HasParticipant(readerID) {
		return 0, time.Time{}, appErrors.ErrConversationNotFound
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, msgID := range s.convMessages[conversationID] {
		msg := s.messages[msgID]
		if !isUnreadFor(conv, msg, readerID) {
			continue
		}
		cp := msg.Clone()
		cp.MarkRead(now)
		s.messages[msgID] = cp
		changed++
	}
	conv.MarkRead(readerID, now)
	s.conversations[conversationID] = conv
	return changed, now, nil
}

// ListMessages 分页读取会话消息
func (s *Store) ListMessages(ctx context.Context, conversationID, before int64, limit int) ([]*model.Message, error) {
	_, limit = repository.NormalizePage(0, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.convMessages[conversationID]
	out := make([]*model.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if before > 0 && ids[i] >= before {
			continue
		}
		msg := s.messages[ids[i]]
		if msg.IsDeleted {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out, nil
}

// SearchMessages 在用户参与的会话中按文本搜索
func (s *Store) SearchMessages(ctx context.Context, q repository.SearchQuery) ([]*model.Message, error) {
	_, limit := repository.NormalizePage(0, q.Limit)
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []*model.Message
	for convID, ids := range s.convMessages {
		conv := s.conversations[convID]
		if conv == nil || !conv.HasParticipant(q.UserID) {
			continue
		}
		if q.ConversationID > 0 && convID != q.ConversationID {
			continue
		}
		for _, id := range ids {
			msg := s.messages[id]
			if msg.IsDeleted {
				continue
			}
			if !q.From.IsZero() && msg.CreatedAt.Before(q.From) {
				continue
			}
			if !q.To.IsZero() && msg.CreatedAt.After(q.To) {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(msg.Content), needle) {
				continue
			}
			hits = append(hits, msg)
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].ID > hits[j].ID })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*model.Message, len(hits))
	for i, msg := range hits {
		out[i] = msg.Clone()
	}
	return out, nil
}

// UnreadCount 单个会话的未读数
func (s *Store) UnreadCount(ctx context.Context, conversationID, userID int64) (int64, error) {
	counts, err := s.UnreadCounts(ctx, userID, []int64{conversationID})
	if err != nil {
		return 0, err
	}
	return counts[conversationID], nil
}

// UnreadCounts 批量统计未读数
func (s *Store) UnreadCounts(ctx context.Context, userID int64, conversationIDs []int64) (map[int64]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]int64, len(conversationIDs))
	for _, convID := range conversationIDs {
		conv := s.conversations[convID]
		if conv == nil || !conv.HasParticipant(userID) {
			out[convID] = 0
			continue
		}
		var n int64
		for _, id := range s.convMessages[convID] {
			if isUnreadFor(conv, s.messages[id], userID) {
				n++
			}
		}
		out[convID] = n
	}
	return out, nil
}

// isUnreadFor 未读判定：非本人发送、未读、未删除，私聊还需是接收者
func isUnreadFor(conv *model.Conversation, msg *model.Message, userID int64) bool {
	if msg.SenderID == userID || msg.IsRead || msg.IsDeleted {
		return false
	}
	return conv.IsGroup || msg.ReceiverID == userID
}

func insertSorted(ids []int64, id int64) []int64 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
