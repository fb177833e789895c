package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.realtime/internal/middleware"
	"sudooom.im.realtime/internal/service"
	"sudooom.im.realtime/pkg/response"
)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	svc *service.MessagingService
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(svc *service.MessagingService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type directRequest struct {
	PeerID int64 `json:"peerId" binding:"required"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

// List 会话列表
// GET /api/v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	offset, limit, ok := page(c)
	if !ok {
		return
	}

	views, err := h.svc.ListConversations(c.Request.Context(), middleware.GetUserID(c), offset, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": views})
}

// Direct 获取或创建私聊
// POST /api/v1/conversations/direct
func (h *ConversationHandler) Direct(c *gin.Context) {
	var req directRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	conv, err := h.svc.GetOrCreateDirect(c.Request.Context(), middleware.GetUserID(c), req.PeerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// Get 会话详情与消息历史
// GET /api/v1/conversations/:id?before=&limit=
func (h *ConversationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	before, err := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)
	if err != nil || before < 0 {
		response.InvalidParams(c, "invalid before")
		return
	}
	_, limit, ok := page(c)
	if !ok {
		return
	}

	detail, err := h.svc.GetConversation(c.Request.Context(), middleware.GetUserID(c), id, before, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// MarkRead 整个会话标记已读
// POST /api/v1/conversations/:id/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	count, err := h.svc.MarkConversationRead(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

// Typing 设置输入状态
// POST /api/v1/conversations/:id/typing
func (h *ConversationHandler) Typing(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	users, err := h.svc.SetTyping(c.Request.Context(), middleware.GetUserID(c), id, req.Typing)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"typingUserIds": users})
}

// CreateGroup 创建群聊
// POST /api/v1/groups
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req service.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	conv, err := h.svc.CreateGroup(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// UpdateGroup 更新群信息与成员
// PATCH /api/v1/groups/:id
func (h *ConversationHandler) UpdateGroup(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	conv, err := h.svc.UpdateGroup(c.Request.Context(), middleware.GetUserID(c), id, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, conv)
}

// Leave 退出群聊
// POST /api/v1/groups/:id/leave
func (h *ConversationHandler) Leave(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID := middleware.GetUserID(c)

	conv, err := h.svc.UpdateGroup(c.Request.Context(), userID, id, &service.UpdateGroupRequest{
		RemoveParticipants: []int64{userID},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"conversationId": strconv.FormatInt(conv.ID, 10)})
}
