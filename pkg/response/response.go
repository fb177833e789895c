package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.im.realtime/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 从错误生成响应，非 AppError 按服务器错误处理
func Error(c *gin.Context, err error) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.GetCode(err),
		Message: appErrors.GetMessage(err),
		Data:    nil,
	})
}

// ErrorWithData 错误响应并附带数据（发送失败时返回 failed 状态的消息）
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.GetCode(err),
		Message: appErrors.GetMessage(err),
		Data:    data,
	})
}

// InvalidParams 参数错误
func InvalidParams(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.CodeValidation,
		Message: message,
		Data:    nil,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context, err error) {
	code := appErrors.CodeTokenInvalid
	message := appErrors.ErrTokenInvalid.Message
	if appErrors.Is(err, appErrors.ErrTokenExpired) {
		code = appErrors.CodeTokenExpired
		message = appErrors.ErrTokenExpired.Message
	}
	c.JSON(http.StatusUnauthorized, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// TooManyRequests 请求过多
func TooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, Response{
		Code:    appErrors.CodeTooManyRequest,
		Message: appErrors.ErrTooManyRequest.Message,
		Data:    nil,
	})
}
