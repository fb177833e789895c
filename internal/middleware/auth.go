package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.im.realtime/pkg/errors"
	"sudooom.im.realtime/pkg/jwt"
	"sudooom.im.realtime/pkg/response"
)

const (
	ctxUserID = "user_id"
	ctxDevice = "device"
)

// TokenValidator 校验访问令牌
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// JWTAuth JWT 认证中间件
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, appErrors.ErrTokenInvalid)
			c.Abort()
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			response.Unauthorized(c, TokenError(err))
			c.Abort()
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxDevice, claims.Device())
		c.Next()
	}
}

// TokenError 将 jwt 错误转换为应用错误
func TokenError(err error) *appErrors.AppError {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return appErrors.ErrTokenExpired
	}
	return appErrors.ErrTokenInvalid
}

// ExtractToken 从 Authorization header 提取 token
func ExtractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// GetUserID 从 context 获取 user_id
func GetUserID(c *gin.Context) int64 {
	userID, exists := c.Get(ctxUserID)
	if !exists {
		return 0
	}
	return userID.(int64)
}

// GetDevice 从 context 获取设备描述
func GetDevice(c *gin.Context) string {
	return c.GetString(ctxDevice)
}
