// Package storetest 存储契约测试，内存实现与 Postgres 实现共用
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/repository"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/snowflake"
)

// Factory 用给定的目录用户创建一个空存储
type Factory func(t *testing.T, users []model.User) repository.Store

// Env 单个用例的测试环境
type Env struct {
	Store repository.Store
	IDs   *snowflake.Node
	Users []int64
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// idNode 包内共享的雪花节点，共用同一数据库时 ID 也不会冲突
func idNode() *snowflake.Node {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		node = n
	})
	return node
}

// NewEnv 创建带 n 个用户的环境
func NewEnv(t *testing.T, factory Factory, n int) *Env {
	t.Helper()
	node := idNode()

	users := make([]model.User, n)
	ids := make([]int64, n)
	for i := range users {
		ids[i] = node.NextID()
		users[i] = model.User{ID: ids[i], DisplayName: "user"}
	}
	return &Env{Store: factory(t, users), IDs: node, Users: ids}
}

// Send 发送一条文本消息
func (e *Env) Send(t *testing.T, convID, sender int64, content string) *model.Message {
	t.Helper()
	msg := &model.Message{
		ID:             e.IDs.NextID(),
		ConversationID: convID,
		SenderID:       sender,
		Content:        content,
		Type:           model.MessageTypeText,
		Status:         model.StatusSending,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := e.Store.SendMessage(context.Background(), msg)
	require.NoError(t, err)
	return msg
}

// Group 创建群聊，第一个用户为管理员
func (e *Env) Group(t *testing.T, members ...int64) *model.Conversation {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	conv := &model.Conversation{
		ID:           e.IDs.NextID(),
		IsGroup:      true,
		Name:         "group",
		Participants: members,
		Admins:       []int64{members[0]},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.Store.CreateGroup(context.Background(), conv))
	return conv
}

// Run 执行全部契约用例
func Run(t *testing.T, factory Factory) {
	t.Run("DirectIsUniquePerPair", func(t *testing.T) { testDirectUnique(t, factory) })
	t.Run("DirectConcurrentCreate", func(t *testing.T) { testDirectConcurrent(t, factory) })
	t.Run("DirectRejectsUnknownUser", func(t *testing.T) { testDirectUnknownUser(t, factory) })
	t.Run("SendAdvancesConversation", func(t *testing.T) { testSendAdvances(t, factory) })
	t.Run("UnreadAndMarkRead", func(t *testing.T) { testUnreadAndMarkRead(t, factory) })
	t.Run("MarkConversationRead", func(t *testing.T) { testMarkConversationRead(t, factory) })
	t.Run("EditAndDeleteBySenderOnly", func(t *testing.T) { testEditDelete(t, factory) })
	t.Run("ReactionToggle", func(t *testing.T) { testReaction(t, factory) })
	t.Run("PinLimit", func(t *testing.T) { testPinLimit(t, factory) })
	t.Run("NonParticipantSeesNotFound", func(t *testing.T) { testNonParticipant(t, factory) })
	t.Run("ListAndSearch", func(t *testing.T) { testListAndSearch(t, factory) })
	t.Run("UpdateConversation", func(t *testing.T) { testUpdateConversation(t, factory) })
	t.Run("ListConversationsOrder", func(t *testing.T) { testListConversations(t, factory) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, factory) })
	t.Run("NotificationsAssignIDs", func(t *testing.T) { testNotificationIDs(t, factory) })
	t.Run("SetOnline", func(t *testing.T) { testSetOnline(t, factory) })
}

func testDirectUnique(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	a, b := env.Users[0], env.Users[1]

	conv, created, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, conv.IsGroup)
	assert.ElementsMatch(t, []int64{a, b}, conv.Participants)

	again, created, err := env.Store.GetOrCreateDirect(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	_, _, err = env.Store.GetOrCreateDirect(ctx, a, a)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOperand))
}

func testDirectConcurrent(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	a, b := env.Users[0], env.Users[1]

	const workers = 16
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			conv, _, err := env.Store.GetOrCreateDirect(ctx, x, y)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	convs, err := env.Store.ListConversations(ctx, a, 0, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, ids[0], convs[0].ID)
}

func testDirectUnknownUser(t *testing.T, factory Factory) {
	env := NewEnv(t, factory, 1)
	_, _, err := env.Store.GetOrCreateDirect(context.Background(), env.Users[0], env.IDs.NextID())
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func testSendAdvances(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	a, b := env.Users[0], env.Users[1]
	conv, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)

	msg := env.Send(t, conv.ID, a, "hi")
	assert.Equal(t, b, msg.ReceiverID)
	assert.Equal(t, model.StatusSent, msg.Status)

	got, err := env.Store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.LastMessageID)
	assert.Equal(t, int64(1), got.MessageCount)
	assert.Contains(t, got.LastReadAt, a)
	assert.Empty(t, got.TypingUserIDs)

	stored, err := env.Store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Content)
	assert.Equal(t, b, stored.ReceiverID)

	// 非法负载不落库
	bad := &model.Message{ID: env.IDs.NextID(), ConversationID: conv.ID, SenderID: a, Type: model.MessageTypeText}
	_, err = env.Store.SendMessage(ctx, bad)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func testUnreadAndMarkRead(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	a, b := env.Users[0], env.Users[1]
	conv, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)

	msg := env.Send(t, conv.ID, a, "hi")

	n, err := env.Store.UnreadCount(ctx, conv.ID, b)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = env.Store.UnreadCount(ctx, conv.ID, a)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 发送者不能标记自己的私聊消息
	_, _, err = env.Store.MarkMessageRead(ctx, msg.ID, a)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	read, changed, err := env.Store.MarkMessageRead(ctx, msg.ID, b)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, read.IsRead)
	assert.Equal(t, model.StatusRead, read.Status)
	require.NotNil(t, read.ReadAt)
	firstReadAt := *read.ReadAt

	again, changed, err := env.Store.MarkMessageRead(ctx, msg.ID, b)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NotNil(t, again.ReadAt)
	assert.True(t, firstReadAt.Equal(*again.ReadAt))

	counts, err := env.Store.UnreadCounts(ctx, b, []int64{conv.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID])
}

func testMarkConversationRead(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 3)
	u, v, w := env.Users[0], env.Users[1], env.Users[2]
	group := env.Group(t, u, v, w)

	env.Send(t, group.ID, u, "one")
	env.Send(t, group.ID, u, "two")
	deleted := env.Send(t, group.ID, u, "three")
	env.Send(t, group.ID, v, "mine")
	_, _, err := env.Store.SoftDeleteMessage(ctx, deleted.ID, u)
	require.NoError(t, err)

	n, err := env.Store.UnreadCount(ctx, group.ID, v)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	changed, readAt, err := env.Store.MarkConversationRead(ctx, group.ID, v)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)
	assert.False(t, readAt.IsZero())

	counts, err := env.Store.UnreadCounts(ctx, v, []int64{group.ID})
	require.NoError(t, err)
	assert.Zero(t, counts[group.ID])

	conv, err := env.Store.GetConversation(ctx, group.ID)
	require.NoError(t, err)
	assert.Contains(t, conv.LastReadAt, v)
}

func testEditDelete(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	a, b := env.Users[0], env.Users[1]
	conv, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)
	msg := env.Send(t, conv.ID, a, "hello")

	_, err = env.Store.EditMessage(ctx, msg.ID, b, "hacked")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	edited, err := env.Store.EditMessage(ctx, msg.ID, a, "hello!")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)
	assert.Equal(t, "hello!", edited.Content)

	_, _, err = env.Store.SoftDeleteMessage(ctx, msg.ID, b)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	deleted, changed, err := env.Store.SoftDeleteMessage(ctx, msg.ID, a)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, deleted.IsDeleted)

	_, changed, err = env.Store.SoftDeleteMessage(ctx, msg.ID, a)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = env.Store.EditMessage(ctx, msg.ID, a, "again")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOperand))

	n, err := env.Store.UnreadCount(ctx, conv.ID, b)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testReaction(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	a, b := env.Users[0], env.Users[1]
	conv, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)
	msg := env.Send(t, conv.ID, a, "nice")

	got, added, err := env.Store.ToggleReaction(ctx, msg.ID, b, "👍")
	require.NoError(t, err)
	assert.True(t, added)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, b, got.Reactions[0].UserID)

	got, added, err = env.Store.ToggleReaction(ctx, msg.ID, b, "👍")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, got.Reactions)
}

func testPinLimit(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	a, b := env.Users[0], env.Users[1]
	conv, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)

	msgs := make([]*model.Message, model.MaxPinnedMessages+1)
	for i := range msgs {
		msgs[i] = env.Send(t, conv.ID, a, "m")
	}
	for _, msg := range msgs[:model.MaxPinnedMessages] {
		pinned, _, err := env.Store.TogglePin(ctx, msg.ID, b)
		require.NoError(t, err)
		require.True(t, pinned.Pinned)
		assert.Equal(t, b, pinned.PinnedBy)
	}

	_, _, err = env.Store.TogglePin(ctx, msgs[model.MaxPinnedMessages].ID, a)
	assert.True(t, appErrors.Is(err, appErrors.ErrLimitExceeded))

	unpinned, updated, err := env.Store.TogglePin(ctx, msgs[0].ID, a)
	require.NoError(t, err)
	assert.False(t, unpinned.Pinned)
	assert.Len(t, updated.PinnedMessageIDs, model.MaxPinnedMessages-1)

	_, updated, err = env.Store.TogglePin(ctx, msgs[model.MaxPinnedMessages].ID, a)
	require.NoError(t, err)
	assert.Len(t, updated.PinnedMessageIDs, model.MaxPinnedMessages)

	stored, err := env.Store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.PinnedMessageIDs, stored.PinnedMessageIDs)
}

func testNonParticipant(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 3)
	a, b, outsider := env.Users[0], env.Users[1], env.Users[2]
	conv, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)
	msg := env.Send(t, conv.ID, a, "private")

	_, _, err = env.Store.ToggleReaction(ctx, msg.ID, outsider, "👀")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, _, err = env.Store.TogglePin(ctx, msg.ID, outsider)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, _, err = env.Store.MarkMessageRead(ctx, msg.ID, outsider)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	bad := &model.Message{ID: env.IDs.NextID(), ConversationID: conv.ID, SenderID: outsider, Content: "x", Type: model.MessageTypeText}
	_, err = env.Store.SendMessage(ctx, bad)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = env.Store.GetMessage(ctx, env.IDs.NextID())
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func testListAndSearch(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 3)
	a, b, c := env.Users[0], env.Users[1], env.Users[2]
	ab, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)
	bc, _, err := env.Store.GetOrCreateDirect(ctx, b, c)
	require.NoError(t, err)

	first := env.Send(t, ab.ID, a, "Deploy the gateway")
	second := env.Send(t, ab.ID, b, "gateway is 100% done")
	third := env.Send(t, ab.ID, a, "thanks")
	env.Send(t, bc.ID, c, "gateway secrets")

	page, err := env.Store.ListMessages(ctx, ab.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, third.ID, page[0].ID)
	assert.Equal(t, second.ID, page[1].ID)

	page, err = env.Store.ListMessages(ctx, ab.ID, second.ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	hits, err := env.Store.SearchMessages(ctx, repository.SearchQuery{UserID: a, Text: "GATEWAY"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, second.ID, hits[0].ID)

	hits, err = env.Store.SearchMessages(ctx, repository.SearchQuery{UserID: a, Text: "100%"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = env.Store.SearchMessages(ctx, repository.SearchQuery{UserID: b, Text: "gateway", ConversationID: bc.ID})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = env.Store.SearchMessages(ctx, repository.SearchQuery{
		UserID: a, Text: "gateway", To: first.CreatedAt.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, _, err = env.Store.SoftDeleteMessage(ctx, second.ID, b)
	require.NoError(t, err)
	hits, err = env.Store.SearchMessages(ctx, repository.SearchQuery{UserID: a, Text: "gateway"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, first.ID, hits[0].ID)

	page, err = env.Store.ListMessages(ctx, ab.ID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func testUpdateConversation(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 3)
	u, v, w := env.Users[0], env.Users[1], env.Users[2]
	group := env.Group(t, u, v, w)

	updated, err := env.Store.UpdateConversation(ctx, group.ID, func(conv *model.Conversation) error {
		conv.Name = "renamed"
		conv.RemoveParticipant(v)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, []int64{u, w}, updated.Participants)

	// fn 返回错误时不落库
	_, err = env.Store.UpdateConversation(ctx, group.ID, func(conv *model.Conversation) error {
		conv.Name = "ignored"
		return appErrors.ErrNotAdmin
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	// 破坏不变量的修改被拒绝
	_, err = env.Store.UpdateConversation(ctx, group.ID, func(conv *model.Conversation) error {
		conv.Admins = nil
		return nil
	})
	assert.Error(t, err)

	stored, err := env.Store.GetConversation(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)
	assert.Equal(t, []int64{u}, stored.Admins)

	_, err = env.Store.UpdateConversation(ctx, env.IDs.NextID(), func(*model.Conversation) error { return nil })
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func testListConversations(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 3)
	a, b, c := env.Users[0], env.Users[1], env.Users[2]
	ab, _, err := env.Store.GetOrCreateDirect(ctx, a, b)
	require.NoError(t, err)
	ac, _, err := env.Store.GetOrCreateDirect(ctx, a, c)
	require.NoError(t, err)

	env.Send(t, ac.ID, c, "first")
	time.Sleep(2 * time.Millisecond)
	env.Send(t, ab.ID, b, "latest")

	convs, err := env.Store.ListConversations(ctx, a, 0, 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, ab.ID, convs[0].ID)
	assert.Equal(t, ac.ID, convs[1].ID)

	convs, err = env.Store.ListConversations(ctx, a, 1, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, ac.ID, convs[0].ID)

	convs, err = env.Store.ListConversations(ctx, b, 0, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, ab.ID, convs[0].ID)
}

func testNotifications(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	owner, other := env.Users[0], env.Users[1]

	var ids []int64
	for i := 0; i < 3; i++ {
		n := &model.Notification{
			ID:        env.IDs.NextID(),
			UserID:    owner,
			Type:      model.NotificationNewMessage,
			Content:   "ping",
			SenderID:  other,
			CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
		unread, err := env.Store.CreateNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), unread)
		ids = append(ids, n.ID)
	}
	foreign := &model.Notification{ID: env.IDs.NextID(), UserID: other, Type: model.NotificationGroupInvite}
	_, err := env.Store.CreateNotification(ctx, foreign)
	require.NoError(t, err)

	// 夹带他人通知时整体拒绝
	_, _, err = env.Store.MarkNotificationsRead(ctx, owner, []int64{ids[0], foreign.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	unread, err := env.Store.UnreadNotificationCount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	changed, unread, err := env.Store.MarkNotificationsRead(ctx, owner, []int64{ids[0], ids[0], ids[1]})
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)
	assert.Equal(t, int64(1), unread)

	changed, unread, err = env.Store.MarkNotificationsRead(ctx, owner, []int64{ids[0]})
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, int64(1), unread)

	list, err := env.Store.ListNotifications(ctx, owner, true, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[2], list[0].ID)

	list, err = env.Store.ListNotifications(ctx, owner, false, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)

	changed, unread, err = env.Store.MarkAllNotificationsRead(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)
	assert.Zero(t, unread)

	other1, err := env.Store.UnreadNotificationCount(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other1)
}

func testNotificationIDs(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 2)
	owner, sender := env.Users[0], env.Users[1]

	// 调用方不带 ID，由存储分配
	first := &model.Notification{UserID: owner, Type: model.NotificationNewMessage, Content: "a", SenderID: sender}
	second := &model.Notification{UserID: owner, Type: model.NotificationMessageReaction, Content: "b", SenderID: sender}

	unread, err := env.Store.CreateNotification(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
	unread, err = env.Store.CreateNotification(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	assert.NotZero(t, first.ID)
	assert.NotZero(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID)

	list, err := env.Store.ListNotifications(ctx, owner, true, 0, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testSetOnline(t *testing.T, factory Factory) {
	ctx := context.Background()
	env := NewEnv(t, factory, 1)
	id := env.Users[0]
	at := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, env.Store.SetOnline(ctx, id, true, at))
	u, err := env.Store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.True(t, at.Equal(u.LastActive))

	require.NoError(t, env.Store.SetOnline(ctx, id, false, at))
	u, err = env.Store.GetUser(ctx, id)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)

	exists, err := env.Store.UserExists(ctx, env.IDs.NextID())
	require.NoError(t, err)
	assert.False(t, exists)

	users, err := env.Store.GetUsers(ctx, []int64{id, env.IDs.NextID()})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
