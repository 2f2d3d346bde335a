// Package errors 定义引擎的错误分类与隔离机制
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorLevel 错误级别
type ErrorLevel int

const (
	LevelInfo    ErrorLevel = iota // 信息
	LevelWarning                   // 警告
	LevelError                     // 错误
	LevelFatal                     // 致命错误
)

// String 返回错误级别的字符串表示
func (l ErrorLevel) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode 错误代码
type ErrorCode int

const (
	// 通用错误 (1000-1999)
	ErrUnknown   ErrorCode = 1000
	ErrTimeout   ErrorCode = 1001
	ErrCancelled ErrorCode = 1002
	ErrInternal  ErrorCode = 1003
	ErrEmptyInput ErrorCode = 1004

	// 分类器错误 (2000-2999)，对调用方是硬失败
	ErrUnsupportedFormat ErrorCode = 2000
	ErrAmbiguousFormat   ErrorCode = 2001

	// 解析器错误 (3000-3999)，单次分析的终态错误
	ErrParseFailed           ErrorCode = 3000
	ErrStructureInconsistent ErrorCode = 3001
	ErrTruncated             ErrorCode = 3002
	ErrDecodeFailed          ErrorCode = 3003

	// 检测项错误 (5000-5999)，可隔离为降级指标
	ErrCheckFailed   ErrorCode = 5000
	ErrResourceInit  ErrorCode = 5001
)

// 错误代码描述映射
var errorDescriptions = map[ErrorCode]string{
	ErrUnknown:    "未知错误",
	ErrTimeout:    "分析超时",
	ErrCancelled:  "分析已取消",
	ErrInternal:   "内部错误",
	ErrEmptyInput: "输入为空",

	ErrUnsupportedFormat: "不支持的文档格式",
	ErrAmbiguousFormat:   "文档格式无法唯一判定",

	ErrParseFailed:           "结构解析失败",
	ErrStructureInconsistent: "内部结构与实际字节长度不一致",
	ErrTruncated:             "文档被截断",
	ErrDecodeFailed:          "内容解码失败",

	ErrCheckFailed:  "检测项执行失败",
	ErrResourceInit: "共享资源初始化失败",
}

// Description 返回错误代码的描述
func (c ErrorCode) Description() string {
	if desc, ok := errorDescriptions[c]; ok {
		return desc
	}
	return "未知错误"
}

// EngineError 引擎错误
type EngineError struct {
	Code      ErrorCode         // 错误代码
	Level     ErrorLevel        // 错误级别
	Message   string            // 错误消息
	Component string            // 组件名称（分类器/解析器/检测项）
	Method    string            // 检测项标识（如有）
	Cause     error             // 原始错误
	Timestamp time.Time         // 发生时间
	Extra     map[string]string // 额外上下文
}

// New 创建引擎错误
func New(code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:      code,
		Level:     LevelError,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Error 实现 error 接口
func (e *EngineError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", e.Level.String()))

	if e.Component != "" {
		sb.WriteString(fmt.Sprintf("[%s] ", e.Component))
	}

	sb.WriteString(e.Message)

	if e.Method != "" {
		sb.WriteString(fmt.Sprintf(" (检测项: %s)", e.Method))
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	return sb.String()
}

// Unwrap 返回原始错误
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithLevel 设置错误级别
func (e *EngineError) WithLevel(level ErrorLevel) *EngineError {
	e.Level = level
	return e
}

// WithComponent 设置组件名称
func (e *EngineError) WithComponent(component string) *EngineError {
	e.Component = component
	return e
}

// WithMethod 设置检测项标识
func (e *EngineError) WithMethod(method string) *EngineError {
	e.Method = method
	return e
}

// WithCause 设置原始错误
func (e *EngineError) WithCause(cause error) *EngineError {
	e.Cause = cause
	return e
}

// AddExtra 添加额外上下文
func (e *EngineError) AddExtra(key, value string) *EngineError {
	if e.Extra == nil {
		e.Extra = make(map[string]string)
	}
	e.Extra[key] = value
	return e
}

// IsFatal 是否是致命错误
func (e *EngineError) IsFatal() bool {
	return e.Level == LevelFatal
}

// ============================================================
// 便捷构造函数
// ============================================================

// UnsupportedFormatError 无法识别格式错误
func UnsupportedFormatError(hint string) *EngineError {
	msg := "无法识别的文档格式"
	if hint != "" {
		msg = fmt.Sprintf("无法识别的文档格式 (扩展名提示: %s)", hint)
	}
	return New(ErrUnsupportedFormat, msg).WithComponent("classifier")
}

// ParseError 结构解析错误
func ParseError(docType string, cause error) *EngineError {
	return New(ErrParseFailed, fmt.Sprintf("%s 结构解析失败", docType)).
		WithComponent("parser").
		WithCause(cause)
}

// StructureError 内部结构不一致错误（内部偏移/长度字段越界）
func StructureError(docType, detail string) *EngineError {
	return New(ErrStructureInconsistent, detail).
		WithComponent("parser").
		AddExtra("doc_type", docType)
}

// CheckError 检测项执行错误
func CheckError(method string, cause error) *EngineError {
	return New(ErrCheckFailed, "检测项执行失败").
		WithComponent("analyzer").
		WithMethod(method).
		WithCause(cause)
}

// TimeoutError 整体分析超时错误
func TimeoutError(elapsed time.Duration) *EngineError {
	return New(ErrTimeout, fmt.Sprintf("分析超时 (已执行 %v)", elapsed)).
		WithComponent("engine").
		WithLevel(LevelWarning)
}

// ============================================================
// 错误判断辅助函数
// ============================================================

// GetErrorCode 获取错误代码
func GetErrorCode(err error) ErrorCode {
	if engErr, ok := err.(*EngineError); ok {
		return engErr.Code
	}
	return ErrUnknown
}

// IsUnsupportedFormat 是否是格式识别失败（对调用方的硬错误）
func IsUnsupportedFormat(err error) bool {
	code := GetErrorCode(err)
	return code >= 2000 && code < 3000
}

// IsParseError 是否是解析错误（单次分析终态）
func IsParseError(err error) bool {
	code := GetErrorCode(err)
	return code >= 3000 && code < 4000
}

// IsCheckError 是否是检测项错误（可隔离）
func IsCheckError(err error) bool {
	code := GetErrorCode(err)
	return code >= 5000 && code < 6000
}

// IsTimeout 是否是超时错误
func IsTimeout(err error) bool {
	return GetErrorCode(err) == ErrTimeout
}

// Wrap 包装标准错误为 EngineError
func Wrap(err error, code ErrorCode, message string) *EngineError {
	if err == nil {
		return nil
	}

	if engErr, ok := err.(*EngineError); ok {
		if message != "" {
			engErr.Message = message + ": " + engErr.Message
		}
		return engErr
	}

	return New(code, message).WithCause(err)
}
