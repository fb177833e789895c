package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	appErrors "sudooom.im.realtime/pkg/errors"
)

const (
	// MaxAttachments 单条消息附件数上限
	MaxAttachments = 10
	// MaxAttachmentSize 单个附件大小上限
	MaxAttachmentSize int64 = 100 * 1000 * 1000
	// MaxContentLength 文本内容长度上限（字符）
	MaxContentLength = 10000
)

// MessageType 消息类型
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeVideo  MessageType = "video"
	MessageTypeSystem MessageType = "system"
)

// Valid 判断消息类型是否合法
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo, MessageTypeSystem:
		return true
	}
	return false
}

// MessageStatus 消息状态
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanAdvance 状态只能前进；failed 只能从 sending 进入且不可离开
func (s MessageStatus) CanAdvance(to MessageStatus) bool {
	if s == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return s == StatusSending
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	next, ok := statusRank[to]
	return ok && next > from
}

// Attachment 附件引用，上传由外部服务完成
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Reaction 表情回应
type Reaction struct {
	UserID    int64     `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message 消息
type Message struct {
	ID             int64         `json:"id,string"`
	ConversationID int64         `json:"conversationId,string"`
	SenderID       int64         `json:"senderId"`
	ReceiverID     int64         `json:"receiverId,omitempty"` // 仅私聊
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	IsRead         bool          `json:"isRead"`
	ReadAt         *time.Time    `json:"readAt,omitempty"`
	IsEdited       bool          `json:"isEdited"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
	IsDeleted      bool          `json:"isDeleted"`
	DeletedAt      *time.Time    `json:"deletedAt,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	Pinned         bool          `json:"pinned"`
	PinnedBy       int64         `json:"pinnedBy,omitempty"`
	PinnedAt       *time.Time    `json:"pinnedAt,omitempty"`
	ReplyTo        int64         `json:"replyTo,string,omitempty"`
	ForwardedFrom  int64         `json:"forwardedFrom,string,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Limits 消息内容限制
type Limits struct {
	MaxAttachments    int
	MaxAttachmentSize int64
}

// DefaultLimits 默认限制，也是存储层强制的上限
func DefaultLimits() Limits {
	return Limits{
		MaxAttachments:    MaxAttachments,
		MaxAttachmentSize: MaxAttachmentSize,
	}
}

// ValidatePayload 校验消息内容与附件
func ValidatePayload(content string, attachments []Attachment, limits Limits) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return appErrors.ErrValidation.WithMessage("消息内容和附件不能同时为空")
	}
	if len([]rune(content)) > MaxContentLength {
		return appErrors.ErrValidation.WithMessage(fmt.Sprintf("消息内容不能超过 %d 个字符", MaxContentLength))
	}
	if len(attachments) > limits.MaxAttachments {
		return appErrors.ErrLimitExceeded.WithMessage(fmt.Sprintf("附件数量不能超过 %d 个", limits.MaxAttachments))
	}
	for _, a := range attachments {
		if strings.TrimSpace(a.URL) == "" {
			return appErrors.ErrValidation.WithMessage("附件地址不能为空")
		}
		if a.Size < 0 || a.Size > limits.MaxAttachmentSize {
			return appErrors.ErrValidation.WithMessage(fmt.Sprintf("附件 %s 超过大小上限 %s",
				a.Name, humanize.Bytes(uint64(limits.MaxAttachmentSize))))
		}
	}
	return nil
}

// Validate 校验整条消息
func (m *Message) Validate(limits Limits) error {
	if m.ConversationID <= 0 || m.SenderID <= 0 {
		return appErrors.ErrValidation.WithMessage("消息缺少会话或发送者")
	}
	if !m.Type.Valid() {
		return appErrors.ErrValidation.WithMessage("消息类型无效")
	}
	return ValidatePayload(m.Content, m.Attachments, limits)
}

// AdvanceStatus 推进消息状态，返回是否发生变化
func (m *Message) AdvanceStatus(to MessageStatus) bool {
	if !m.Status.CanAdvance(to) {
		return false
	}
	m.Status = to
	return true
}

// CanRead 判断 readerID 是否有权标记该消息已读
// 私聊只有接收者可以；群聊任意成员可以
func (m *Message) CanRead(conv *Conversation, readerID int64) bool {
	if conv.IsGroup {
		return conv.HasParticipant(readerID)
	}
	return m.ReceiverID == readerID
}

// MarkRead 标记已读，重复调用保持首次的 readAt，返回是否发生变化
func (m *Message) MarkRead(at time.Time) bool {
	if m.IsRead {
		return false
	}
	m.IsRead = true
	m.ReadAt = &at
	m.AdvanceStatus(StatusRead)
	m.UpdatedAt = at
	return true
}

// ToggleReaction 切换 (userID, emoji) 回应，返回切换后是否存在
func (m *Message) ToggleReaction(userID int64, emoji string, at time.Time) bool {
	idx := slices.IndexFunc(m.Reactions, func(r Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
	if idx >= 0 {
		m.Reactions = slices.Delete(m.Reactions, idx, idx+1)
		m.UpdatedAt = at
		return false
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji, CreatedAt: at})
	m.UpdatedAt = at
	return true
}

// Edit 编辑内容
func (m *Message) Edit(content string, at time.Time) {
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	m.UpdatedAt = at
}

// SoftDelete 软删除，重复调用返回 false
func (m *Message) SoftDelete(at time.Time) bool {
	if m.IsDeleted {
		return false
	}
	m.IsDeleted = true
	m.DeletedAt = &at
	m.UpdatedAt = at
	return true
}

// SetPinned 设置置顶标记
func (m *Message) SetPinned(pinned bool, by int64, at time.Time) {
	m.Pinned = pinned
	if pinned {
		m.PinnedBy = by
		m.PinnedAt = &at
	} else {
		m.PinnedBy = 0
		m.PinnedAt = nil
	}
	m.UpdatedAt = at
}

// Redacted 已删除消息对外隐藏内容
func (m *Message) Redacted() *Message {
	if m == nil || !m.IsDeleted {
		return m
	}
	out := *m
	out.Content = ""
	out.Attachments = nil
	out.Reactions = nil
	return &out
}

// Clone 深拷贝
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Attachments = slices.Clone(m.Attachments)
	out.Reactions = slices.Clone(m.Reactions)
	return &out
}
