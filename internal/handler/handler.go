package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.realtime/pkg/response"
)

const defaultPageSize = 20

// pathID 解析路径中的 id 参数，失败时已写入响应
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.InvalidParams(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// page 解析 offset/limit 查询参数
func page(c *gin.Context) (offset, limit int, ok bool) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		response.InvalidParams(c, "invalid offset")
		return 0, 0, false
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 0 {
		response.InvalidParams(c, "invalid limit")
		return 0, 0, false
	}
	return offset, limit, true
}

// queryIDs 解析逗号分隔的 id 列表
func queryIDs(raw string) ([]int64, bool) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

