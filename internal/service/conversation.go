package service

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/internal/repository"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/proto"
)

const maxGroupNameLength = 100

// ConversationView 会话列表项，展示字段在这里派生
type ConversationView struct {
	*model.Conversation
	Title       string              `json:"title"`
	LastMessage *model.Message      `json:"lastMessage,omitempty"`
	UnreadCount int64               `json:"unreadCount"`
	Members     []model.UserSummary `json:"members"`
}

// ConversationDetail 会话详情
type ConversationDetail struct {
	ConversationView
	Messages []*model.Message `json:"messages"`
}

type directResult struct {
	conv    *model.Conversation
	created bool
}

// GetOrCreateDirect 获取或创建私聊会话
// 同一进程内对同一对用户的并发调用合并为一次存储调用
func (s *MessagingService) GetOrCreateDirect(ctx context.Context, actorID, peerID int64) (*model.Conversation, error) {
	if actorID == peerID {
		return nil, appErrors.ErrInvalidOperand.WithMessage("不能与自己创建私聊")
	}

	// 合并后的调用不受首个调用方取消的影响
	callCtx := context.WithoutCancel(ctx)
	v, err, _ := s.direct.Do(model.DirectKey(actorID, peerID), func() (any, error) {
		conv, created, err := s.store.GetOrCreateDirect(callCtx, actorID, peerID)
		if err != nil {
			return nil, err
		}
		if created {
			s.publish(pubsub.UpdateAudience(conv.ID, conv.Participants), proto.EventConversationCreated, conv.Clone())
		}
		return directResult{conv: conv, created: created}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(directResult).conv.Clone(), nil
}

// CreateGroup 创建群聊，创建者同时是成员和管理员
func (s *MessagingService) CreateGroup(ctx context.Context, actorID int64, req *CreateGroupRequest) (*model.Conversation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxGroupNameLength {
		return nil, appErrors.ErrValidation.WithMessage("群名称无效")
	}

	participants := repository.UniqueIDs(append([]int64{actorID}, req.Members...))
	if len(participants) < model.MinParticipants {
		return nil, appErrors.ErrValidation.WithMessage("群聊至少需要两名成员")
	}

	now := s.now()
	conv := &model.Conversation{
		ID:               s.ids.NextID(),
		Participants:     participants,
		IsGroup:          true,
		Name:             name,
		Admins:           []int64{actorID},
		Description:      strings.TrimSpace(req.Description),
		Photo:            strings.TrimSpace(req.Photo),
		PinnedMessageIDs: []int64{},
		LastReadAt:       map[int64]time.Time{actorID: now},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateGroup(ctx, conv); err != nil {
		return nil, err
	}

	s.publish(pubsub.UpdateAudience(conv.ID, conv.Participants), proto.EventConversationCreated, conv.Clone())
	for _, uid := range conv.Others(actorID) {
		s.notify(&model.Notification{
			UserID:    uid,
			Type:      model.NotificationGroupInvite,
			Content:   name,
			SenderID:  actorID,
			RelatedID: conv.ID,
		})
	}
	return conv, nil
}

// groupChange UpdateGroup 的执行结果
type groupChange struct {
	added    []int64
	removed  []int64
	promoted int64
}

// UpdateGroup 更新群信息与成员
// 只有管理员可以修改；普通成员只能把自己移出群聊
func (s *MessagingService) UpdateGroup(ctx context.Context, actorID, conversationID int64, req *UpdateGroupRequest) (*model.Conversation, error) {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxGroupNameLength {
			return nil, appErrors.ErrValidation.WithMessage("群名称无效")
		}
		req.Name = &name
	}

	addIDs := repository.UniqueIDs(req.AddParticipants)
	if len(addIDs) > 0 {
		users, err := s.store.GetUsers(ctx, addIDs)
		if err != nil {
			return nil, err
		}
		if len(users) != len(addIDs) {
			return nil, appErrors.ErrUserNotFound
		}
	}

	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	before, err := s.conversationFor(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	var change groupChange
	updated, err := s.store.UpdateConversation(ctx, conversationID, func(conv *model.Conversation) error {
		change = groupChange{}
		return applyGroupUpdate(conv, actorID, req, addIDs, &change)
	})
	if err != nil {
		return nil, err
	}

	for _, uid := range change.removed {
		if _, err := s.typing.Stop(ctx, conversationID, uid); err != nil {
			s.sideEffectFailed("typing", err, "conversation_id", conversationID, "user_id", uid)
		}
	}

	audience := pubsub.UpdateAudience(conversationID, before.Participants)
	for _, uid := range change.added {
		audience = append(audience, pubsub.UserChannel(uid))
	}
	if len(change.removed) > 0 {
		// 会话流和输入流也收到移除事件，订阅端据此在后续事件之前撤销订阅
		removedAudience := append(slices.Clone(audience),
			pubsub.ConversationChannel(conversationID), pubsub.TypingChannel(conversationID))
		s.publish(removedAudience, proto.EventParticipantRemoved, proto.ParticipantData{
			ConversationID: conversationID,
			UserIDs:        change.removed,
			ActorID:        actorID,
			PromotedAdmin:  change.promoted,
		})
	}
	s.publish(audience, proto.EventConversationUpdated, updated.Clone())

	for _, uid := range change.added {
		s.notify(&model.Notification{
			UserID:    uid,
			Type:      model.NotificationGroupInvite,
			Content:   updated.Name,
			SenderID:  actorID,
			RelatedID: conversationID,
		})
	}
	return updated, nil
}

// applyGroupUpdate 在会话锁内对最新的会话执行修改
func applyGroupUpdate(conv *model.Conversation, actorID int64, req *UpdateGroupRequest, addIDs []int64, change *groupChange) error {
	if !conv.HasParticipant(actorID) {
		return appErrors.ErrConversationNotFound
	}
	if !conv.IsGroup {
		return appErrors.ErrInvalidOperand.WithMessage("私聊会话不能修改")
	}
	if !conv.IsAdmin(actorID) && !req.onlyLeaves(actorID) {
		return appErrors.ErrNotAdmin
	}

	if req.Name != nil {
		conv.Name = *req.Name
	}
	if req.Description != nil {
		conv.Description = strings.TrimSpace(*req.Description)
	}
	if req.Photo != nil {
		conv.Photo = strings.TrimSpace(*req.Photo)
	}

	change.added = conv.AddParticipants(addIDs)
	for _, uid := range repository.UniqueIDs(req.AddAdmins) {
		if _, err := conv.AddAdmin(uid); err != nil {
			return err
		}
	}
	for _, uid := range repository.UniqueIDs(req.RemoveAdmins) {
		if _, err := conv.RemoveAdmin(uid); err != nil {
			return err
		}
	}
	for _, uid := range repository.UniqueIDs(req.RemoveParticipants) {
		removed, promoted := conv.RemoveParticipant(uid)
		if !removed {
			continue
		}
		change.removed = append(change.removed, uid)
		if promoted != 0 {
			change.promoted = promoted
		}
	}
	return nil
}

// SetTyping 设置正在输入状态，返回当前输入中的用户
func (s *MessagingService) SetTyping(ctx context.Context, actorID, conversationID int64, typing bool) ([]int64, error) {
	if _, err := s.conversationFor(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	if typing {
		return s.typing.Start(ctx, conversationID, actorID)
	}
	return s.typing.Stop(ctx, conversationID, actorID)
}

// ListConversations 会话列表
// 未读数、最后一条消息和成员信息都按批查询，不做逐行查询
func (s *MessagingService) ListConversations(ctx context.Context, actorID int64, offset, limit int) ([]*ConversationView, error) {
	convs, err := s.store.ListConversations(ctx, actorID, offset, limit)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []*ConversationView{}, nil
	}

	convIDs := make([]int64, 0, len(convs))
	lastIDs := make([]int64, 0, len(convs))
	var userIDs []int64
	for _, c := range convs {
		convIDs = append(convIDs, c.ID)
		if c.LastMessageID > 0 {
			lastIDs = append(lastIDs, c.LastMessageID)
		}
		userIDs = append(userIDs, c.Participants...)
	}

	unread, err := s.store.UnreadCounts(ctx, actorID, convIDs)
	if err != nil {
		return nil, err
	}
	lastMessages, err := s.store.GetMessages(ctx, lastIDs)
	if err != nil {
		return nil, err
	}
	users, err := s.store.GetUsers(ctx, repository.UniqueIDs(userIDs))
	if err != nil {
		return nil, err
	}

	views := make([]*ConversationView, 0, len(convs))
	for _, c := range convs {
		view := s.buildView(c, actorID, users)
		view.UnreadCount = unread[c.ID]
		view.LastMessage = lastMessages[c.LastMessageID].Redacted()
		views = append(views, view)
	}
	return views, nil
}

// GetConversation 会话详情：会话、最近消息、未读数和正在输入的用户
func (s *MessagingService) GetConversation(ctx context.Context, actorID, conversationID, before int64, limit int) (*ConversationDetail, error) {
	conv, err := s.conversationFor(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.UnreadCount(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	users, err := s.store.GetUsers(ctx, conv.Participants)
	if err != nil {
		return nil, err
	}

	typing, err := s.typing.Users(ctx, conversationID)
	if err != nil {
		s.sideEffectFailed("typing", err, "conversation_id", conversationID)
	}
	conv.TypingUserIDs = slices.DeleteFunc(typing, func(id int64) bool { return !conv.HasParticipant(id) })

	detail := &ConversationDetail{
		ConversationView: *s.buildView(conv, actorID, users),
		Messages:         messages,
	}
	detail.UnreadCount = unread
	if len(messages) > 0 && messages[0].ID == conv.LastMessageID {
		detail.LastMessage = messages[0]
	}
	return detail, nil
}

// buildView 派生标题与成员展示信息
func (s *MessagingService) buildView(conv *model.Conversation, actorID int64, users map[int64]*model.User) *ConversationView {
	view := &ConversationView{
		Conversation: conv,
		Members:      make([]model.UserSummary, 0, len(conv.Participants)),
	}
	if conv.TypingUserIDs == nil {
		conv.TypingUserIDs = []int64{}
	}

	for _, id := range conv.Participants {
		u, ok := users[id]
		if !ok {
			continue
		}
		summary := u.Summary()
		summary.IsOnline = summary.IsOnline || s.presence.IsOnline(id)
		view.Members = append(view.Members, summary)
	}

	view.Title = conv.Name
	if !conv.IsGroup {
		if peer, ok := users[conv.Peer(actorID)]; ok {
			view.Title = peer.DisplayName
		}
	}
	return view
}
