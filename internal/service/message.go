package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"sudooom.im.realtime/internal/metrics"
	"sudooom.im.realtime/internal/model"
	"sudooom.im.realtime/internal/pubsub"
	"sudooom.im.realtime/internal/repository"
	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/proto"
)

const (
	maxEmojiLength = 32
	previewLength  = 50
)

// SendMessage 发送消息
// 先持久化再发布；存储失败时返回状态为 failed 的消息和错误
func (s *MessagingService) SendMessage(ctx context.Context, actorID int64, req *SendMessageRequest) (*model.Message, error) {
	if req.Type == "" {
		req.Type = model.MessageTypeText
	}
	if !req.Type.Valid() {
		return nil, appErrors.ErrValidation.WithMessage("消息类型无效")
	}
	if err := model.ValidatePayload(req.Content, req.Attachments, s.limits); err != nil {
		return nil, err
	}

	conv, err := s.resolveTarget(ctx, actorID, req)
	if err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, actorID, conv.ID, req); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             s.ids.NextID(),
		ConversationID: conv.ID,
		SenderID:       actorID,
		Content:        req.Content,
		Attachments:    req.Attachments,
		Type:           req.Type,
		Status:         model.StatusSending,
		ReplyTo:        req.ReplyTo,
		ForwardedFrom:  req.ForwardedFrom,
		CreatedAt:      s.now(),
	}

	unlock := s.convLocks.Lock(conv.ID)
	updated, err := s.store.SendMessage(ctx, msg)
	if err != nil {
		unlock()
		msg.AdvanceStatus(model.StatusFailed)
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		s.logger.Warn("Failed to send message",
			"conversation_id", conv.ID,
			"sender_id", actorID,
			"error", err)
		return msg, err
	}
	s.publish(pubsub.MessageAudience(updated.ID, updated.Participants, updated.IsGroup), proto.EventMessageNew, msg)
	unlock()

	kind := "direct"
	if updated.IsGroup {
		kind = "group"
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	if _, err := s.typing.Stop(ctx, conv.ID, actorID); err != nil {
		s.sideEffectFailed("typing", err, "conversation_id", conv.ID)
	}

	text := preview(msg)
	for _, uid := range updated.Others(actorID) {
		s.notify(&model.Notification{
			UserID:    uid,
			Type:      model.NotificationNewMessage,
			Content:   text,
			SenderID:  actorID,
			RelatedID: conv.ID,
		})
	}
	return msg, nil
}

// resolveTarget 按会话 ID 或接收者确定目标会话
func (s *MessagingService) resolveTarget(ctx context.Context, actorID int64, req *SendMessageRequest) (*model.Conversation, error) {
	switch {
	case req.ConversationID > 0:
		return s.conversationFor(ctx, req.ConversationID, actorID)
	case req.ReceiverID > 0:
		return s.GetOrCreateDirect(ctx, actorID, req.ReceiverID)
	default:
		return nil, appErrors.ErrValidation.WithMessage("必须指定会话或接收者")
	}
}

// checkReferences 校验回复与转发引用
// 回复必须在同一会话；转发来源必须是 actor 可见的消息
func (s *MessagingService) checkReferences(ctx context.Context, actorID, conversationID int64, req *SendMessageRequest) error {
	if req.ReplyTo > 0 {
		ref, err := s.store.GetMessage(ctx, req.ReplyTo)
		if err != nil {
			return err
		}
		if ref.ConversationID != conversationID {
			return appErrors.ErrValidation.WithMessage("回复的消息不在当前会话")
		}
	}
	if req.ForwardedFrom > 0 {
		ref, err := s.store.GetMessage(ctx, req.ForwardedFrom)
		if err != nil {
			return err
		}
		if _, err := s.conversationFor(ctx, ref.ConversationID, actorID); err != nil {
			return appErrors.ErrMessageNotFound
		}
	}
	return nil
}

// EditMessage 编辑消息，仅发送者
func (s *MessagingService) EditMessage(ctx context.Context, actorID, messageID int64, content string) (*model.Message, error) {
	current, conv, unlock, err := s.lockMessage(ctx, messageID, actorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := model.ValidatePayload(content, current.Attachments, s.limits); err != nil {
		return nil, err
	}

	msg, err := s.store.EditMessage(ctx, messageID, actorID, content)
	if err != nil {
		return nil, err
	}
	s.publish(pubsub.MessageAudience(conv.ID, conv.Participants, conv.IsGroup), proto.EventMessageEdited, msg)
	return msg, nil
}

// DeleteMessage 软删除消息，仅发送者；重复删除不再发布事件
func (s *MessagingService) DeleteMessage(ctx context.Context, actorID, messageID int64) (*model.Message, error) {
	current, conv, unlock, err := s.lockMessage(ctx, messageID, actorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	msg, changed, err := s.store.SoftDeleteMessage(ctx, messageID, actorID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return msg.Redacted(), nil
	}

	s.publish(pubsub.MessageAudience(conv.ID, conv.Participants, conv.IsGroup), proto.EventMessageDeleted, proto.MessageRefData{
		ConversationID: conv.ID,
		MessageID:      messageID,
		ActorID:        actorID,
	})
	if current.Pinned {
		updated, err := s.store.GetConversation(ctx, conv.ID)
		if err != nil {
			s.sideEffectFailed("publish", err, "conversation_id", conv.ID)
		} else {
			s.publish(pubsub.UpdateAudience(conv.ID, conv.Participants), proto.EventMessageUnpinned, proto.PinData{
				ConversationID:   conv.ID,
				MessageID:        messageID,
				PinnedMessageIDs: updated.PinnedMessageIDs,
			})
		}
	}
	return msg.Redacted(), nil
}

// ToggleReaction 切换表情回应，别人回应时通知发送者
func (s *MessagingService) ToggleReaction(ctx context.Context, actorID, messageID int64, emoji string) (*model.Message, bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return nil, false, appErrors.ErrValidation.WithMessage("表情无效")
	}

	_, conv, unlock, err := s.lockMessage(ctx, messageID, actorID)
	if err != nil {
		return nil, false, err
	}
	msg, added, err := s.store.ToggleReaction(ctx, messageID, actorID, emoji)
	if err != nil {
		unlock()
		return nil, false, err
	}
	s.publish(pubsub.MessageAudience(conv.ID, conv.Participants, conv.IsGroup), proto.EventMessageReaction, proto.ReactionData{
		ConversationID: conv.ID,
		MessageID:      messageID,
		UserID:         actorID,
		Emoji:          emoji,
		Added:          added,
	})
	unlock()

	if added && msg.SenderID != actorID {
		s.notify(&model.Notification{
			UserID:    msg.SenderID,
			Type:      model.NotificationMessageReaction,
			Content:   emoji,
			SenderID:  actorID,
			RelatedID: messageID,
		})
	}
	return msg, added, nil
}

// TogglePin 切换置顶，会话最多置顶 10 条
func (s *MessagingService) TogglePin(ctx context.Context, actorID, messageID int64) (*model.Message, *model.Conversation, error) {
	_, _, unlock, err := s.lockMessage(ctx, messageID, actorID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	msg, conv, err := s.store.TogglePin(ctx, messageID, actorID)
	if err != nil {
		return nil, nil, err
	}

	eventType := proto.EventMessageUnpinned
	if msg.Pinned {
		eventType = proto.EventMessagePinned
	}
	s.publish(pubsub.UpdateAudience(conv.ID, conv.Participants), eventType, proto.PinData{
		ConversationID:   conv.ID,
		MessageID:        messageID,
		Pinned:           msg.Pinned,
		PinnedBy:         msg.PinnedBy,
		PinnedMessageIDs: conv.PinnedMessageIDs,
	})
	return msg, conv, nil
}

// MarkRead 标记单条消息已读，幂等
func (s *MessagingService) MarkRead(ctx context.Context, actorID, messageID int64) (*model.Message, error) {
	_, conv, unlock, err := s.lockMessage(ctx, messageID, actorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	msg, changed, err := s.store.MarkMessageRead(ctx, messageID, actorID)
	if err != nil {
		return nil, err
	}
	if changed && msg.ReadAt != nil {
		s.publish(pubsub.MessageAudience(conv.ID, conv.Participants, conv.IsGroup), proto.EventMessageRead, proto.ReadData{
			ConversationID: conv.ID,
			MessageID:      messageID,
			ReaderID:       actorID,
			ReadAt:         msg.ReadAt.UnixMilli(),
		})
	}
	return msg, nil
}

// MarkConversationRead 将会话中发给 actor 的未读消息全部标记已读
func (s *MessagingService) MarkConversationRead(ctx context.Context, actorID, conversationID int64) (int64, error) {
	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	conv, err := s.conversationFor(ctx, conversationID, actorID)
	if err != nil {
		return 0, err
	}
	changed, readAt, err := s.store.MarkConversationRead(ctx, conversationID, actorID)
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.publish(pubsub.MessageAudience(conv.ID, conv.Participants, conv.IsGroup), proto.EventConversationRead, proto.ReadData{
			ConversationID: conv.ID,
			ReaderID:       actorID,
			ReadAt:         readAt.UnixMilli(),
			Count:          changed,
		})
	}
	return changed, nil
}

// SearchMessages 在 actor 参与的会话中搜索消息
func (s *MessagingService) SearchMessages(ctx context.Context, actorID int64, req *SearchRequest) ([]*model.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, appErrors.ErrValidation.WithMessage("搜索内容不能为空")
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.From.After(req.To) {
		return nil, appErrors.ErrValidation.WithMessage("时间范围无效")
	}
	if req.ConversationID > 0 {
		if _, err := s.conversationFor(ctx, req.ConversationID, actorID); err != nil {
			return nil, err
		}
	}

	return s.store.SearchMessages(ctx, repository.SearchQuery{
		UserID:         actorID,
		Text:           text,
		ConversationID: req.ConversationID,
		From:           req.From,
		To:             req.To,
		Limit:          req.Limit,
	})
}

// preview 通知中展示的消息摘要
func preview(msg *model.Message) string {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "[" + string(msg.Type) + "]"
	}
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength]) + "…"
}
