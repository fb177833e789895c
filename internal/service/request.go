package service

import (
	"time"

	"sudooom.im.realtime/internal/model"
)

// SendMessageRequest 发送消息请求，ConversationID 与 ReceiverID 二选一
type SendMessageRequest struct {
	ConversationID int64              `json:"conversationId,string"`
	ReceiverID     int64              `json:"receiverId"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments"`
	Type           model.MessageType  `json:"type"`
	ReplyTo        int64              `json:"replyTo,string"`
	ForwardedFrom  int64              `json:"forwardedFrom,string"`
}

// EditMessageRequest 编辑消息请求
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReactionRequest 表情回应请求
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// CreateGroupRequest 创建群聊请求
type CreateGroupRequest struct {
	Name        string  `json:"name" binding:"required"`
	Members     []int64 `json:"members" binding:"required,min=1"`
	Description string  `json:"description"`
	Photo       string  `json:"photo"`
}

// UpdateGroupRequest 更新群聊请求，nil 字段保持不变
type UpdateGroupRequest struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	Photo              *string `json:"photo"`
	AddParticipants    []int64 `json:"addParticipants"`
	RemoveParticipants []int64 `json:"removeParticipants"`
	AddAdmins          []int64 `json:"addAdmins"`
	RemoveAdmins       []int64 `json:"removeAdmins"`
}

// onlyLeaves 请求只包含 actor 退出群聊
func (r *UpdateGroupRequest) onlyLeaves(actorID int64) bool {
	return r.Name == nil && r.Description == nil && r.Photo == nil &&
		len(r.AddParticipants) == 0 && len(r.AddAdmins) == 0 && len(r.RemoveAdmins) == 0 &&
		len(r.RemoveParticipants) == 1 && r.RemoveParticipants[0] == actorID
}

// SearchRequest 消息搜索请求
type SearchRequest struct {
	Text           string    `form:"q" json:"text"`
	ConversationID int64     `form:"conversationId" json:"conversationId,string"`
	From           time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00" json:"from"`
	To             time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00" json:"to"`
	Limit          int       `form:"limit" json:"limit"`
}
