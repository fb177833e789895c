package model

import (
	"fmt"
	"slices"
	"time"

	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/snowflake"
)

// MaxPinnedMessages 每个会话最多置顶的消息数
const MaxPinnedMessages = 10

// MinParticipants 会话最少参与者数量
const MinParticipants = 2

// Conversation 会话（私聊或群聊）
type Conversation struct {
	ID               int64               `json:"id,string"`
	Participants     []int64             `json:"participants"`
	IsGroup          bool                `json:"isGroup"`
	Name             string              `json:"name,omitempty"`
	Admins           []int64             `json:"admins,omitempty"`
	Description      string              `json:"description,omitempty"`
	Photo            string              `json:"photo,omitempty"`
	LastMessageID    int64               `json:"lastMessageId,string,omitempty"`
	PinnedMessageIDs snowflake.IDs       `json:"pinnedMessageIds"`
	LastReadAt       map[int64]time.Time `json:"lastReadAt"`
	TypingUserIDs    []int64             `json:"typingUserIds"` // 瞬时状态，不落库
	MessageCount     int64               `json:"messageCount"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// DirectKey 私聊会话的唯一键，与参数顺序无关
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// DirectKey 返回私聊会话的唯一键，群聊返回空串
func (c *Conversation) DirectKey() string {
	if c.IsGroup || len(c.Participants) != 2 {
		return ""
	}
	return DirectKey(c.Participants[0], c.Participants[1])
}

// HasParticipant 判断用户是否为会话参与者
func (c *Conversation) HasParticipant(userID int64) bool {
	return slices.Contains(c.Participants, userID)
}

// IsAdmin 判断用户是否为群管理员
func (c *Conversation) IsAdmin(userID int64) bool {
	return c.IsGroup && slices.Contains(c.Admins, userID)
}

// Peer 私聊中对方的 ID
func (c *Conversation) Peer(userID int64) int64 {
	if c.IsGroup {
		return 0
	}
	for _, id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return 0
}

// Others 除 userID 以外的参与者
func (c *Conversation) Others(userID int64) []int64 {
	others := make([]int64, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// MarkRead 更新参与者的最后已读时间，只前进不后退
func (c *Conversation) MarkRead(userID int64, at time.Time) {
	if c.LastReadAt == nil {
		c.LastReadAt = make(map[int64]time.Time)
	}
	if prev, ok := c.LastReadAt[userID]; ok && !at.After(prev) {
		return
	}
	c.LastReadAt[userID] = at
}

// RecordMessage 发送消息后推进会话指针
func (c *Conversation) RecordMessage(msg *Message) {
	c.LastMessageID = msg.ID
	c.MessageCount++
	c.UpdatedAt = msg.CreatedAt
	c.MarkRead(msg.SenderID, msg.CreatedAt)
}

// TogglePin 切换消息的置顶状态，返回切换后是否置顶
func (c *Conversation) TogglePin(messageID int64) (bool, error) {
	if idx := slices.Index(c.PinnedMessageIDs, messageID); idx >= 0 {
		c.PinnedMessageIDs = slices.Delete(c.PinnedMessageIDs, idx, idx+1)
		return false, nil
	}
	if len(c.PinnedMessageIDs) >= MaxPinnedMessages {
		return false, appErrors.ErrPinLimitExceeded
	}
	c.PinnedMessageIDs = append(c.PinnedMessageIDs, messageID)
	return true, nil
}

// AddParticipants 添加群成员，返回实际新增的成员
func (c *Conversation) AddParticipants(ids []int64) []int64 {
	var added []int64
	for _, id := range ids {
		if id <= 0 || c.HasParticipant(id) {
			continue
		}
		c.Participants = append(c.Participants, id)
		added = append(added, id)
	}
	return added
}

// RemoveParticipant 移除群成员，同时移除其管理员身份、输入状态和已读记录
// 最后一名管理员离开时提升最早加入的成员，返回被提升的用户
func (c *Conversation) RemoveParticipant(userID int64) (removed bool, promoted int64) {
	idx := slices.Index(c.Participants, userID)
	if idx < 0 {
		return false, 0
	}
	c.Participants = slices.Delete(c.Participants, idx, idx+1)
	c.Admins = slices.DeleteFunc(c.Admins, func(id int64) bool { return id == userID })
	c.TypingUserIDs = slices.DeleteFunc(c.TypingUserIDs, func(id int64) bool { return id == userID })
	delete(c.LastReadAt, userID)

	if c.IsGroup && len(c.Admins) == 0 && len(c.Participants) > 0 {
		promoted = c.Participants[0]
		c.Admins = append(c.Admins, promoted)
	}
	return true, promoted
}

// AddAdmin 设置管理员，必须已是群成员
func (c *Conversation) AddAdmin(userID int64) (bool, error) {
	if !c.HasParticipant(userID) {
		return false, appErrors.ErrInvalidOperand.WithMessage("管理员必须是群成员")
	}
	if slices.Contains(c.Admins, userID) {
		return false, nil
	}
	c.Admins = append(c.Admins, userID)
	return true, nil
}

// RemoveAdmin 取消管理员，不允许移除最后一名管理员
func (c *Conversation) RemoveAdmin(userID int64) (bool, error) {
	idx := slices.Index(c.Admins, userID)
	if idx < 0 {
		return false, nil
	}
	if len(c.Admins) == 1 {
		return false, appErrors.ErrInvalidOperand.WithMessage("群至少需要一名管理员")
	}
	c.Admins = slices.Delete(c.Admins, idx, idx+1)
	return true, nil
}

// Validate 检查会话不变量
func (c *Conversation) Validate() error {
	if len(c.Participants) < MinParticipants {
		return appErrors.ErrValidation.WithMessage("会话至少需要两名参与者")
	}
	seen := make(map[int64]struct{}, len(c.Participants))
	for _, id := range c.Participants {
		if id <= 0 {
			return appErrors.ErrValidation.WithMessage("参与者 ID 无效")
		}
		if _, dup := seen[id]; dup {
			return appErrors.ErrValidation.WithMessage("参与者重复")
		}
		seen[id] = struct{}{}
	}
	if !c.IsGroup {
		if len(c.Participants) != 2 || len(c.Admins) != 0 {
			return appErrors.ErrValidation.WithMessage("私聊必须恰好两名参与者")
		}
		return nil
	}
	if len(c.Admins) == 0 {
		return appErrors.ErrValidation.WithMessage("群至少需要一名管理员")
	}
	for _, id := range c.Admins {
		if _, ok := seen[id]; !ok {
			return appErrors.ErrValidation.WithMessage("管理员必须是群成员")
		}
	}
	if len(c.PinnedMessageIDs) > MaxPinnedMessages {
		return appErrors.ErrPinLimitExceeded
	}
	return nil
}

// Clone 深拷贝，存储层返回副本避免共享可变状态
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = slices.Clone(c.Participants)
	out.Admins = slices.Clone(c.Admins)
	out.PinnedMessageIDs = slices.Clone(c.PinnedMessageIDs)
	out.TypingUserIDs = slices.Clone(c.TypingUserIDs)
	if c.LastReadAt != nil {
		out.LastReadAt = make(map[int64]time.Time, len(c.LastReadAt))
		for k, v := range c.LastReadAt {
			out.LastReadAt[k] = v
		}
	}
	return &out
}
