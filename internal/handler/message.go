package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.realtime/internal/middleware"
	"sudooom.im.realtime/internal/service"
	"sudooom.im.realtime/pkg/response"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	svc *service.MessagingService
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(svc *service.MessagingService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// Send 发送消息
// POST /api/v1/messages
func (h *MessageHandler) Send(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		if msg != nil {
			// 落库失败，返回 failed 状态的消息供客户端重试
			response.ErrorWithData(c, err, msg)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// Edit 编辑消息
// PUT /api/v1/messages/:id
func (h *MessageHandler) Edit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	msg, err := h.svc.EditMessage(c.Request.Context(), middleware.GetUserID(c), id, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// Delete 删除消息
// DELETE /api/v1/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := h.svc.DeleteMessage(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// React 切换表情回应
// POST /api/v1/messages/:id/reactions
func (h *MessageHandler) React(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	msg, added, err := h.svc.ToggleReaction(c.Request.Context(), middleware.GetUserID(c), id, req.Emoji)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": msg, "added": added})
}

// Pin 切换置顶
// POST /api/v1/messages/:id/pin
func (h *MessageHandler) Pin(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, conv, err := h.svc.TogglePin(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": msg, "pinnedMessageIds": conv.PinnedMessageIDs})
}

// MarkRead 标记单条消息已读
// POST /api/v1/messages/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := h.svc.MarkRead(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msg)
}

// Search 搜索消息
// GET /api/v1/messages/search?q=&conversationId=&from=&to=&limit=
func (h *MessageHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	msgs, err := h.svc.SearchMessages(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": msgs})
}
