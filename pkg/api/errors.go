package api

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error 错误类型（带堆栈）
type Error struct {
	Code    ErrorCode
	Message string
	Stack   []string // 调用堆栈
	Cause   error    // 原始错误
}

// ErrorCode 错误码
type ErrorCode string

const (
	ErrCodeAcquire      ErrorCode = "ACQUIRE"
	ErrCodeResolve      ErrorCode = "RESOLVE"
	ErrCodeOperation    ErrorCode = "OPERATION"
	ErrCodeRelease      ErrorCode = "RELEASE"
	ErrCodeTransaction  ErrorCode = "TRANSACTION"
	ErrCodeInvalidParam ErrorCode = "INVALID_PARAM"
	ErrCodeNotSupported ErrorCode = "NOT_SUPPORTED"
	ErrCodeClosed       ErrorCode = "CLOSED"
	ErrCodeConfig       ErrorCode = "CONFIG"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error 接口实现
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *Error) Unwrap() error {
	return e.Cause
}

// StackTrace 返回调用堆栈
func (e *Error) StackTrace() []string {
	return e.Stack
}

// NewError 创建错误
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   cause,
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	// 如果已经是我们的错误类型，保留原有堆栈
	if apiErr, ok := err.(*Error); ok {
		return &Error{
			Code:    code,
			Message: message,
			Stack:   apiErr.Stack,
			Cause:   apiErr,
		}
	}

	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStackTrace(),
		Cause:   err,
	}
}

// captureStackTrace 捕获调用堆栈
func captureStackTrace() []string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(3, pc) // 跳过前3层

	if n == 0 {
		return []string{}
	}

	frames := runtime.CallersFrames(pc[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()

		fn := frame.Function
		file := frame.File
		if idx := strings.LastIndex(file, "/"); idx != -1 {
			file = file[idx+1:]
		}
		if idx := strings.LastIndex(fn, "/"); idx != -1 {
			fn = fn[idx+1:]
		}
		stack = append(stack, fmt.Sprintf("  at %s (%s:%d)", fn, file, frame.Line))

		if !more {
			break
		}
	}

	return stack
}

// IsErrorCode 检查错误码
// 对于 errors.Join 组合的错误, 取链上第一个 *Error
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code && code != ""
}

// GetErrorCode 获取错误码
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	return ""
}

// joinErrors keeps primary first so its code wins in GetErrorCode
func joinErrors(primary, secondary error) error {
	if primary == nil {
		return secondary
	}
	if secondary == nil {
		return primary
	}
	return errors.Join(primary, secondary)
}
