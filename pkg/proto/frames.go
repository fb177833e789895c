package proto

// 客户端帧类型
const (
	FrameAuth        = "auth"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FrameTyping      = "typing"
)

// 服务端帧类型
const (
	FrameAuthOK     = "auth_ok"
	FrameSubscribed = "subscribed"
	FrameUnsubbed   = "unsubscribed"
	FramePong       = "pong"
	FrameEvent      = "event"
	FrameError      = "error"
)

// 订阅流类型
const (
	StreamConversation  = "conversation"
	StreamNotifications = "notifications"
	StreamPresence      = "presence"
	StreamTyping        = "typing"
	StreamUpdates       = "updates"
	StreamUser          = "user"
	StreamPair          = "pair"
)

// ClientFrame 客户端上行帧，首帧必须是 auth
type ClientFrame struct {
	Type           string `json:"type"`
	ReqID          string `json:"reqId,omitempty"`
	Token          string `json:"token,omitempty"`
	Stream         string `json:"stream,omitempty"`
	ConversationID int64  `json:"conversationId,string,omitempty"`
	PeerID         int64  `json:"peerId,omitempty"`
	Typing         bool   `json:"typing,omitempty"`
}

// ServerFrame 服务端下行帧
type ServerFrame struct {
	Type           string `json:"type"`
	ReqID          string `json:"reqId,omitempty"`
	Code           int    `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	UserID         int64  `json:"userId,omitempty"`
	Event          *Event `json:"event,omitempty"`
}
