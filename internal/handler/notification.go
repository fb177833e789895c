package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.realtime/internal/middleware"
	"sudooom.im.realtime/internal/service"
	"sudooom.im.realtime/pkg/response"
	"sudooom.im.realtime/pkg/snowflake"
)

// NotificationHandler 通知处理器
type NotificationHandler struct {
	svc *service.MessagingService
}

// NewNotificationHandler 创建通知处理器
func NewNotificationHandler(svc *service.MessagingService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

type markNotificationsRequest struct {
	IDs snowflake.IDs `json:"ids" binding:"required"`
}

// List 通知列表
// GET /api/v1/notifications?unreadOnly=&offset=&limit=
func (h *NotificationHandler) List(c *gin.Context) {
	offset, limit, ok := page(c)
	if !ok {
		return
	}
	unreadOnly, err := strconv.ParseBool(c.DefaultQuery("unreadOnly", "false"))
	if err != nil {
		response.InvalidParams(c, "invalid unreadOnly")
		return
	}

	list, err := h.svc.ListNotifications(c.Request.Context(), middleware.GetUserID(c), unreadOnly, offset, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// UnreadCount 未读通知数
// GET /api/v1/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.svc.UnreadNotificationCount(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unreadCount": count})
}

// MarkRead 批量标记已读
// POST /api/v1/notifications/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req markNotificationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	unread, err := h.svc.MarkNotificationsRead(c.Request.Context(), middleware.GetUserID(c), req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unreadCount": unread})
}

// MarkAllRead 全部标记已读
// POST /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	unread, err := h.svc.MarkAllNotificationsRead(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unreadCount": unread})
}
