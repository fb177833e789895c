package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/notification"
	"sudooom.im.realtime/internal/presence"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/internal/repository/memory"
	"sudooom.im.realtime/internal/task"
	"sudooom.im.realtime/internal/typing"
	"sudooom.im.realtime/internal/workerpool"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/proto"
	"sudooom.im.realtime/pkg/snowflake"
)

const (
	alice int64 = 1001
	bob   int64 = 1002
	carol int64 = 1003
	dave  int64 = 1004
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testEnv struct {
	svc      *MessagingService
	store    *memory.Store
	broker   *pubsub.Broker
	typing   *typing.Tracker
	presence *presence.Tracker
	notifier *notification.Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	node, err := snowflake.NewNode(21)
	require.NoError(t, err)
	store := memory.NewStore(node,
		model.User{ID: alice, DisplayName: "Alice"},
		model.User{ID: bob, DisplayName: "Bob"},
		model.User{ID: carol, DisplayName: "Carol"},
		model.User{ID: dave, DisplayName: "Dave"},
	)
	broker := pubsub.NewBroker(discard)

	scheduler := task.NewScheduler(task.NewTimeWheel(16, 10*time.Millisecond), workerpool.Inline{}, discard)
	require.NoError(t, scheduler.Start())
	t.Cleanup(scheduler.Stop)

	typingTracker := typing.NewTracker(typing.NewMemoryStore(), scheduler, broker, time.Minute, discard)
	presenceTracker := presence.NewTracker(store, broker, presence.Config{}, discard)
	notifier := notification.NewService(store, broker, workerpool.Inline{}, discard)

	svc := NewMessagingService(Options{
		Store:     store,
		IDs:       node,
		Publisher: broker,
		Typing:    typingTracker,
		Presence:  presenceTracker,
		Notifier:  notifier,
		Limits:    model.DefaultLimits(),
		Logger:    discard,
	})
	return &testEnv{svc, store, broker, typingTracker, presenceTracker, notifier}
}

func (e *testEnv) subscribe(t *testing.T, channel string) *pubsub.Subscription {
	t.Helper()
	sub, err := e.broker.Subscribe(channel)
	require.NoError(t, err)
	t.Cleanup(sub.Cancel)
	return sub
}

func next(t *testing.T, sub *pubsub.Subscription) proto.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func (e *testEnv) send(t *testing.T, actor, conv int64, content string) *model.Message {
	t.Helper()
	msg, err := e.svc.SendMessage(t.Context(), actor, &SendMessageRequest{ConversationID: conv, Content: content})
	require.NoError(t, err)
	return msg
}

func TestDirectMessage_UnreadThenMarkRead(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	msg, err := env.svc.SendMessage(ctx, alice, &SendMessageRequest{ReceiverID: bob, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, bob, msg.ReceiverID)

	detail, err := env.svc.GetConversation(ctx, bob, msg.ConversationID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detail.UnreadCount)
	assert.Equal(t, "Alice", detail.Title)
	require.Len(t, detail.Messages, 1)

	read, err := env.svc.MarkRead(ctx, bob, msg.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	assert.Equal(t, model.StatusRead, read.Status)

	again, err := env.svc.MarkRead(ctx, bob, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, read.ReadAt, again.ReadAt)

	detail, err = env.svc.GetConversation(ctx, bob, msg.ConversationID, 0, 20)
	require.NoError(t, err)
	assert.Zero(t, detail.UnreadCount)

	// 发送者不能替接收者标记已读
	_, err = env.svc.MarkRead(ctx, alice, msg.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestSendMessage_PublishesToEveryAudience(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	conv, err := env.svc.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	subs := []*pubsub.Subscription{
		env.subscribe(t, pubsub.ConversationChannel(conv.ID)),
		env.subscribe(t, pubsub.PairChannel(alice, bob)),
		env.subscribe(t, pubsub.PairChannel(bob, alice)),
		env.subscribe(t, pubsub.UserChannel(bob)),
	}
	notifications := env.subscribe(t, pubsub.NotificationChannel(bob))

	msg := env.send(t, alice, conv.ID, "hello")
	for _, sub := range subs {
		ev := next(t, sub)
		assert.Equal(t, proto.EventMessageNew, ev.Type)
		assert.Equal(t, msg.ID, ev.Data.(*model.Message).ID)
	}

	ev := next(t, notifications)
	assert.Equal(t, proto.EventNotificationNew, ev.Type)
	assert.Equal(t, "hello", ev.Data.(notification.NewData).Notification.Content)
}

func TestSendMessage_Validation(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	conv, err := env.svc.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	_, err = env.svc.SendMessage(ctx, alice, &SendMessageRequest{ConversationID: conv.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	attachments := make([]model.Attachment, 11)
	for i := range attachments {
		attachments[i] = model.Attachment{URL: "https://cdn.example.com/a", Size: 1}
	}
	_, err = env.svc.SendMessage(ctx, alice, &SendMessageRequest{ConversationID: conv.ID, Attachments: attachments})
	assert.True(t, appErrors.Is(err, appErrors.ErrLimitExceeded))

	_, err = env.svc.SendMessage(ctx, alice, &SendMessageRequest{
		ConversationID: conv.ID,
		Attachments:    []model.Attachment{{URL: "https://cdn.example.com/big", Size: model.MaxAttachmentSize + 1}},
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = env.svc.SendMessage(ctx, carol, &SendMessageRequest{ConversationID: conv.ID, Content: "x"})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound), "non-participants see not found")

	_, err = env.svc.SendMessage(ctx, alice, &SendMessageRequest{Content: "x"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSendMessage_ReplyMustShareConversation(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	ab, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)
	ac, _ := env.svc.GetOrCreateDirect(ctx, alice, carol)
	original := env.send(t, alice, ab.ID, "question")

	reply, err := env.svc.SendMessage(ctx, bob, &SendMessageRequest{ConversationID: ab.ID, Content: "answer", ReplyTo: original.ID})
	require.NoError(t, err)
	assert.Equal(t, original.ID, reply.ReplyTo)

	_, err = env.svc.SendMessage(ctx, alice, &SendMessageRequest{ConversationID: ac.ID, Content: "x", ReplyTo: original.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	fwd, err := env.svc.SendMessage(ctx, alice, &SendMessageRequest{ConversationID: ac.ID, Content: "fyi", ForwardedFrom: original.ID})
	require.NoError(t, err)
	assert.Equal(t, original.ID, fwd.ForwardedFrom)

	_, err = env.svc.SendMessage(ctx, carol, &SendMessageRequest{ConversationID: ac.ID, Content: "x", ForwardedFrom: original.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestGetOrCreateDirect_Concurrent(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	const callers = 16
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice, bob
			if i%2 == 1 {
				a, b = bob, alice
			}
			conv, err := env.svc.GetOrCreateDirect(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	convs, err := env.store.ListConversations(ctx, alice, 0, 10)
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	_, err = env.svc.GetOrCreateDirect(ctx, alice, alice)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOperand))
	_, err = env.svc.GetOrCreateDirect(ctx, alice, 9999)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestGroup_RemoveParticipantClearsAdminAndTyping(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	group, err := env.svc.CreateGroup(ctx, alice, &CreateGroupRequest{Name: "Team", Members: []int64{alice, bob, carol}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alice}, group.Admins)
	assert.Equal(t, []int64{alice, bob, carol}, group.Participants)

	_, err = env.svc.UpdateGroup(ctx, alice, group.ID, &UpdateGroupRequest{AddAdmins: []int64{bob}})
	require.NoError(t, err)

	typingUsers, err := env.svc.SetTyping(ctx, bob, group.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{bob}, typingUsers)

	updates := env.subscribe(t, pubsub.ConversationUpdateChannel(group.ID))
	messages := env.subscribe(t, pubsub.ConversationChannel(group.ID))
	updated, err := env.svc.UpdateGroup(ctx, alice, group.ID, &UpdateGroupRequest{RemoveParticipants: []int64{bob}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alice, carol}, updated.Participants)
	assert.Equal(t, []int64{alice}, updated.Admins)

	users, err := env.typing.Users(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, users)

	assert.Equal(t, proto.EventParticipantRemoved, next(t, updates).Type)
	assert.Equal(t, proto.EventConversationUpdated, next(t, updates).Type)

	// 移除事件排在之后发往会话频道的消息之前
	env.send(t, alice, group.ID, "after")
	assert.Equal(t, proto.EventParticipantRemoved, next(t, messages).Type)
	assert.Equal(t, proto.EventMessageNew, next(t, messages).Type)

	_, err = env.svc.GetConversation(ctx, bob, group.ID, 0, 10)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestGroup_Authorization(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	group, err := env.svc.CreateGroup(ctx, alice, &CreateGroupRequest{Name: "Team", Members: []int64{bob, carol}})
	require.NoError(t, err)

	name := "Renamed"
	_, err = env.svc.UpdateGroup(ctx, bob, group.ID, &UpdateGroupRequest{Name: &name})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = env.svc.UpdateGroup(ctx, dave, group.ID, &UpdateGroupRequest{Name: &name})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	// 普通成员可以退出
	updated, err := env.svc.UpdateGroup(ctx, bob, group.ID, &UpdateGroupRequest{RemoveParticipants: []int64{bob}})
	require.NoError(t, err)
	assert.NotContains(t, updated.Participants, bob)

	_, err = env.svc.UpdateGroup(ctx, alice, group.ID, &UpdateGroupRequest{AddParticipants: []int64{9999}})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	updated, err = env.svc.UpdateGroup(ctx, alice, group.ID, &UpdateGroupRequest{AddParticipants: []int64{dave}, Name: &name})
	require.NoError(t, err)
	assert.Contains(t, updated.Participants, dave)
	assert.Equal(t, "Renamed", updated.Name)

	invites, err := env.notifier.List(ctx, dave, true, 0, 10)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, model.NotificationGroupInvite, invites[0].Type)
}

func TestGroup_LastAdminLeavesPromotesMember(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	group, err := env.svc.CreateGroup(ctx, alice, &CreateGroupRequest{Name: "Team", Members: []int64{bob, carol}})
	require.NoError(t, err)

	updated, err := env.svc.UpdateGroup(ctx, alice, group.ID, &UpdateGroupRequest{RemoveParticipants: []int64{alice}})
	require.NoError(t, err)
	assert.Equal(t, []int64{bob}, updated.Admins)
}

func TestTogglePin_Limit(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	conv, err := env.svc.GetOrCreateDirect(ctx, alice, bob)
	require.NoError(t, err)

	var pinned []*model.Message
	for i := 0; i < model.MaxPinnedMessages; i++ {
		msg := env.send(t, alice, conv.ID, "pin me")
		_, _, err := env.svc.TogglePin(ctx, bob, msg.ID)
		require.NoError(t, err)
		pinned = append(pinned, msg)
	}

	extra := env.send(t, alice, conv.ID, "one too many")
	_, _, err = env.svc.TogglePin(ctx, alice, extra.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrLimitExceeded))

	msg, updated, err := env.svc.TogglePin(ctx, alice, pinned[0].ID)
	require.NoError(t, err)
	assert.False(t, msg.Pinned)
	assert.Len(t, updated.PinnedMessageIDs, model.MaxPinnedMessages-1)

	msg, updated, err = env.svc.TogglePin(ctx, alice, extra.ID)
	require.NoError(t, err)
	assert.True(t, msg.Pinned)
	assert.Equal(t, alice, msg.PinnedBy)
	assert.Len(t, updated.PinnedMessageIDs, model.MaxPinnedMessages)
}

func TestEditAndDelete(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	conv, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)
	msg := env.send(t, alice, conv.ID, "draft")

	_, err := env.svc.EditMessage(ctx, bob, msg.ID, "hijack")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	edited, err := env.svc.EditMessage(ctx, alice, msg.ID, "final")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "final", edited.Content)

	_, err = env.svc.EditMessage(ctx, alice, msg.ID, "  ")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = env.svc.DeleteMessage(ctx, bob, msg.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	deleted, err := env.svc.DeleteMessage(ctx, alice, msg.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Empty(t, deleted.Content)

	_, err = env.svc.DeleteMessage(ctx, alice, msg.ID)
	require.NoError(t, err)

	_, err = env.svc.EditMessage(ctx, alice, msg.ID, "again")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidOperand))

	detail, err := env.svc.GetConversation(ctx, bob, conv.ID, 0, 20)
	require.NoError(t, err)
	assert.Empty(t, detail.Messages)
	assert.Zero(t, detail.UnreadCount)

	_, err = env.svc.EditMessage(ctx, carol, msg.ID, "x")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestToggleReaction_IsItsOwnInverse(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	conv, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)
	msg := env.send(t, alice, conv.ID, "nice")

	reacted, added, err := env.svc.ToggleReaction(ctx, bob, msg.ID, "👍")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, reacted.Reactions, 1)

	reacted, added, err = env.svc.ToggleReaction(ctx, bob, msg.ID, "👍")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, reacted.Reactions)

	notes, err := env.notifier.List(ctx, alice, false, 0, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.NotificationMessageReaction, notes[0].Type)

	_, _, err = env.svc.ToggleReaction(ctx, bob, msg.ID, "")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestMarkConversationRead(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	conv, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)
	for i := 0; i < 3; i++ {
		env.send(t, alice, conv.ID, "ping")
	}
	env.send(t, bob, conv.ID, "pong")

	sub := env.subscribe(t, pubsub.ConversationChannel(conv.ID))
	changed, err := env.svc.MarkConversationRead(ctx, bob, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), changed)

	ev := next(t, sub)
	assert.Equal(t, proto.EventConversationRead, ev.Type)
	assert.Equal(t, int64(3), ev.Data.(proto.ReadData).Count)

	views, err := env.svc.ListConversations(ctx, bob, 0, 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Zero(t, views[0].UnreadCount)

	views, err = env.svc.ListConversations(ctx, alice, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), views[0].UnreadCount)
	assert.Equal(t, "pong", views[0].LastMessage.Content)
	assert.Equal(t, "Bob", views[0].Title)
}

func TestListConversations_BatchUnread(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	ab, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)
	group, err := env.svc.CreateGroup(ctx, carol, &CreateGroupRequest{Name: "G", Members: []int64{alice, bob}})
	require.NoError(t, err)

	env.send(t, bob, ab.ID, "1")
	env.send(t, bob, ab.ID, "2")
	env.send(t, carol, group.ID, "3")

	views, err := env.svc.ListConversations(ctx, alice, 0, 10)
	require.NoError(t, err)
	require.Len(t, views, 2)

	// 最近更新的在前
	assert.Equal(t, group.ID, views[0].ID)
	assert.Equal(t, int64(1), views[0].UnreadCount)
	assert.Equal(t, "G", views[0].Title)
	assert.Len(t, views[0].Members, 3)
	assert.Equal(t, int64(2), views[1].UnreadCount)
}

func TestSearchMessages(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	ab, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)
	cd, _ := env.svc.GetOrCreateDirect(ctx, carol, dave)
	env.send(t, alice, ab.ID, "deploy the release")
	env.send(t, carol, cd.ID, "release notes")

	hits, err := env.svc.SearchMessages(ctx, alice, &SearchRequest{Text: "RELEASE"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ab.ID, hits[0].ConversationID)

	_, err = env.svc.SearchMessages(ctx, alice, &SearchRequest{Text: "release", ConversationID: cd.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = env.svc.SearchMessages(ctx, alice, &SearchRequest{Text: " "})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	now := time.Now()
	_, err = env.svc.SearchMessages(ctx, alice, &SearchRequest{Text: "x", From: now, To: now.Add(-time.Hour)})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSendMessage_StopsSenderTyping(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	conv, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)

	_, err := env.svc.SetTyping(ctx, alice, conv.ID, true)
	require.NoError(t, err)
	env.send(t, alice, conv.ID, "done typing")

	users, err := env.typing.Users(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = env.svc.SetTyping(ctx, carol, conv.ID, true)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestPresencePassThrough(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()

	assert.Equal(t, presence.StatusOnline, env.svc.SetOnline(ctx, alice).Status)
	user, err := env.store.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.True(t, user.IsOnline)

	snaps := env.svc.Presence([]int64{alice, bob, alice})
	require.Len(t, snaps, 2)
	assert.Equal(t, presence.StatusOnline, snaps[0].Status)
	assert.Equal(t, presence.StatusOffline, snaps[1].Status)

	assert.Equal(t, presence.StatusOffline, env.svc.SetOffline(ctx, alice).Status)
	user, err = env.store.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.False(t, user.IsOnline)
}

func TestNotificationsPassThrough(t *testing.T) {
	env := newEnv(t)
	ctx := t.Context()
	conv, _ := env.svc.GetOrCreateDirect(ctx, alice, bob)
	env.send(t, alice, conv.ID, "a")
	env.send(t, alice, conv.ID, "b")

	count, err := env.svc.UnreadNotificationCount(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	notes, err := env.svc.ListNotifications(ctx, bob, true, 0, 10)
	require.NoError(t, err)
	require.Len(t, notes, 2)

	unread, err := env.svc.MarkNotificationsRead(ctx, bob, []int64{notes[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	_, err = env.svc.MarkNotificationsRead(ctx, alice, []int64{notes[1].ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	unread, err = env.svc.MarkAllNotificationsRead(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

// gatedStore 让私聊创建停在门口，直到测试放行
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) GetOrCreateDirect(ctx context.Context, a, b int64) (*model.Conversation, bool, error) {
	g.entered <- struct{}{}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return g.Store.GetOrCreateDirect(ctx, a, b)
}

func TestGetOrCreateDirect_CollapsedCallerSurvivesFirstCancel(t *testing.T) {
	env := newEnv(t)
	gated := &gatedStore{Store: env.store, entered: make(chan struct{}, 2), release: make(chan struct{})}
	env.svc.store = gated

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := env.svc.GetOrCreateDirect(firstCtx, alice, bob)
		firstErr <- err
	}()
	<-gated.entered

	type result struct {
		conv *model.Conversation
		err  error
	}
	second := make(chan result, 1)
	go func() {
		conv, err := env.svc.GetOrCreateDirect(context.Background(), bob, alice)
		second <- result{conv, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	close(gated.release)

	got := <-second
	require.NoError(t, got.err)
	assert.ElementsMatch(t, []int64{alice, bob}, got.conv.Participants)
	assert.NoError(t, <-firstErr)
}
