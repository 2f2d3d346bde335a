package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoveryHandler panic 恢复处理器
type RecoveryHandler func(recovered interface{}, stack []byte) error

// DefaultRecoveryHandler 默认恢复处理器
func DefaultRecoveryHandler(recovered interface{}, stack []byte) error {
	return New(ErrInternal,
		fmt.Sprintf("程序发生异常: %v", recovered)).
		WithLevel(LevelFatal).
		AddExtra("stack", string(stack))
}

// SafeExecute 安全执行函数（带 panic 恢复）
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = DefaultRecoveryHandler(r, stack)
		}
	}()

	return fn()
}

// SafeExecuteWithResult 安全执行带返回值的函数
// 检测项的 panic 在此被转换为普通错误，永远不会波及其他检测项
func SafeExecuteWithResult[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = DefaultRecoveryHandler(r, stack)
		}
	}()

	return fn()
}
