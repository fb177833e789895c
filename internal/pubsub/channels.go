package pubsub

import (
	"strconv"
	"strings"
)

// 频道前缀
const (
	prefixConversation       = "conversation:"
	prefixPair               = "pair:"
	prefixUser               = "user:"
	prefixNotification       = "notification:"
	prefixTyping             = "typing:"
	prefixConversationUpdate = "conversation-update:"

	// PresenceChannel 全局在线状态频道
	PresenceChannel = "presence"
)

// ConversationChannel 会话消息频道
func ConversationChannel(conversationID int64) string {
	return prefixConversation + strconv.FormatInt(conversationID, 10)
}

// PairChannel 私聊双方的频道，a 在前
func PairChannel(a, b int64) string {
	return prefixPair + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

// PairChannels 私聊的两个方向的频道
func PairChannels(a, b int64) []string {
	return []string{PairChannel(a, b), PairChannel(b, a)}
}

// UserChannel 用户个人频道
func UserChannel(userID int64) string {
	return prefixUser + strconv.FormatInt(userID, 10)
}

// NotificationChannel 用户通知频道
func NotificationChannel(userID int64) string {
	return prefixNotification + strconv.FormatInt(userID, 10)
}

// TypingChannel 会话输入状态频道
func TypingChannel(conversationID int64) string {
	return prefixTyping + strconv.FormatInt(conversationID, 10)
}

// ConversationUpdateChannel 会话元信息变更频道
func ConversationUpdateChannel(conversationID int64) string {
	return prefixConversationUpdate + strconv.FormatInt(conversationID, 10)
}

// Kind 频道类别，用作跨节点转发的 subject 后缀
func Kind(channel string) string {
	if channel == PresenceChannel {
		return PresenceChannel
	}
	if i := strings.IndexByte(channel, ':'); i > 0 {
		return channel[:i]
	}
	return "other"
}

// MessageAudience 会话消息事件需要发布的全部频道
// 会话频道、私聊双向频道以及每个成员的个人频道
func MessageAudience(conversationID int64, participants []int64, isGroup bool) []string {
	channels := make([]string, 0, len(participants)+3)
	channels = append(channels, ConversationChannel(conversationID))
	if !isGroup && len(participants) == 2 {
		channels = append(channels, PairChannels(participants[0], participants[1])...)
	}
	for _, id := range participants {
		channels = append(channels, UserChannel(id))
	}
	return channels
}

// UpdateAudience 会话元信息变更需要发布的全部频道
func UpdateAudience(conversationID int64, participants []int64) []string {
	channels := make([]string, 0, len(participants)+1)
	channels = append(channels, ConversationUpdateChannel(conversationID))
	for _, id := range participants {
		channels = append(channels, UserChannel(id))
	}
	return channels
}
