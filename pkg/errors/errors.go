package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// Code 决定错误类别，Message 面向用户，Err 保留底层原因
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// WithMessage 保留错误码，替换用户可见消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// Is 判断是否为指定错误（按错误码比较）
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004

	// 消息相关 13000-13999
	CodeValidation     = 13001
	CodeInvalidOperand = 13002
	CodeNotFound       = 13003
	CodeForbidden      = 13004
	CodeLimitExceeded  = 13005
	CodeConflict       = 13006

	// 系统错误 50000-50999
	CodeServerError    = 50001
	CodeDBError        = 50002
	CodeTooManyRequest = 50003
	CodeUnavailable    = 50004
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired = NewError(CodeTokenExpired, "Token 已过期")
)

// 消息相关
var (
	ErrValidation     = NewError(CodeValidation, "参数校验失败")
	ErrInvalidOperand = NewError(CodeInvalidOperand, "操作对象无效")
	ErrNotFound       = NewError(CodeNotFound, "资源不存在")
	ErrForbidden      = NewError(CodeForbidden, "无权执行该操作")
	ErrLimitExceeded  = NewError(CodeLimitExceeded, "超出数量限制")
	ErrConflict       = NewError(CodeConflict, "数据冲突，请重试")

	ErrUserNotFound         = NewError(CodeNotFound, "用户不存在")
	ErrConversationNotFound = NewError(CodeNotFound, "会话不存在")
	ErrMessageNotFound      = NewError(CodeNotFound, "消息不存在")
	ErrPinLimitExceeded     = NewError(CodeLimitExceeded, "置顶消息数量已达上限")
	ErrMessageDeleted       = NewError(CodeInvalidOperand, "消息已删除")
	ErrNotSender            = NewError(CodeForbidden, "只有发送者可以执行该操作")
	ErrNotAdmin             = NewError(CodeForbidden, "只有群管理员可以执行该操作")
	ErrNotReceiver          = NewError(CodeForbidden, "只有接收者可以标记已读")
	ErrNotificationNotOwned = NewError(CodeForbidden, "通知不属于当前用户")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, "服务器内部错误")
	ErrDBError        = NewError(CodeDBError, "数据库错误")
	ErrTooManyRequest = NewError(CodeTooManyRequest, "请求过于频繁，请稍后再试")
	ErrUnavailable    = NewError(CodeUnavailable, "服务暂不可用")
)
