package model

import "time"

// NotificationType 通知类型
type NotificationType string

const (
	NotificationNewMessage      NotificationType = "new_message"
	NotificationFriendRequest   NotificationType = "friend_request"
	NotificationGroupInvite     NotificationType = "group_invite"
	NotificationMessageReaction NotificationType = "message_reaction"
)

// Valid 判断通知类型是否合法
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationNewMessage, NotificationFriendRequest, NotificationGroupInvite, NotificationMessageReaction:
		return true
	}
	return false
}

// Notification 用户通知，创建后只允许标记已读
type Notification struct {
	ID        int64            `json:"id,string"`
	UserID    int64            `json:"userId"`
	Type      NotificationType `json:"type"`
	Content   string           `json:"content"`
	IsRead    bool             `json:"isRead"`
	ReadAt    *time.Time       `json:"readAt,omitempty"`
	SenderID  int64            `json:"senderId,omitempty"`
	RelatedID int64            `json:"relatedId,string,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
