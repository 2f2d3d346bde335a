// Package logger 提供进程级结构化日志。
// 底层为 zap，包级函数采用 message + 键值对的调用形式。
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 日志初始化选项
type Options struct {
	Level    string // debug / info / warn / error
	FilePath string // 日志文件路径，空则不落盘
	Stdout   bool   // 是否同时输出到标准输出
}

var (
	mu    sync.RWMutex
	sugar = newDefault()
)

func newDefault() *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zapcore.InfoLevel,
	)
	return zap.New(core).Sugar()
}

// Setup 按选项重建全局日志器
func Setup(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core

	if opts.FilePath != "" {
		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.Lock(file),
			level,
		))
	}
	if opts.Stdout || opts.FilePath == "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	mu.Lock()
	sugar = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()
	return nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debug 调试日志
func Debug(msg string, kvs ...interface{}) { get().Debugw(msg, kvs...) }

// Info 信息日志
func Info(msg string, kvs ...interface{}) { get().Infow(msg, kvs...) }

// Warn 告警日志
func Warn(msg string, kvs ...interface{}) { get().Warnw(msg, kvs...) }

// Error 错误日志
func Error(msg string, kvs ...interface{}) { get().Errorw(msg, kvs...) }

// Sync 刷新缓冲
func Sync() {
	_ = get().Sync()
}
