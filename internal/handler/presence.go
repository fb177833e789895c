package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.realtime/internal/middleware"
	"sudooom.im.realtime/internal/service"
	"sudooom.im.realtime/pkg/response"
)

// PresenceHandler 在线状态处理器
type PresenceHandler struct {
	svc *service.MessagingService
}

// NewPresenceHandler 创建在线状态处理器
func NewPresenceHandler(svc *service.MessagingService) *PresenceHandler {
	return &PresenceHandler{svc: svc}
}

// Online 标记在线
// POST /api/v1/presence/online
func (h *PresenceHandler) Online(c *gin.Context) {
	response.Success(c, h.svc.SetOnline(c.Request.Context(), middleware.GetUserID(c)))
}

// Offline 标记离线
// POST /api/v1/presence/offline
func (h *PresenceHandler) Offline(c *gin.Context) {
	response.Success(c, h.svc.SetOffline(c.Request.Context(), middleware.GetUserID(c)))
}

// Query 批量查询在线状态
// GET /api/v1/presence?ids=1,2,3
func (h *PresenceHandler) Query(c *gin.Context) {
	ids, ok := queryIDs(c.Query("ids"))
	if !ok || len(ids) == 0 {
		response.InvalidParams(c, "invalid ids")
		return
	}
	response.Success(c, gin.H{"list": h.svc.Presence(ids)})
}
