// Package config
package config

import "time"

// ==========================================
// 顶层配置结构
// ==========================================

type AppConfig struct {
	App     AppSection     `mapstructure:"app" yaml:"app"`
	Scan    ScanConfig     `mapstructure:"scan" yaml:"scan"`
	Output  OutputConfig   `mapstructure:"output" yaml:"output"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// ==========================================
// 1. 基础配置
// ==========================================

type AppSection struct {
	// 日志级别: debug, info, warn, error
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// 日志文件路径，空则只打控制台
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	// 是否同时打印到控制台
	LogStdout bool `mapstructure:"log_stdout" yaml:"log_stdout"`
}

// ==========================================
// 2. 扫描策略
// ==========================================

type ScanConfig struct {
	// 校准参数文件路径 (JSON)，空则使用内置默认值
	CalibrationFile string `mapstructure:"calibration_file" yaml:"calibration_file"`
	// 单份文档的分析超时
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// 单份文档的大小上限 (字节)，超出直接拒绝
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size"`
	// 批量扫描的并发文档数
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// ==========================================
// 3. 输出
// ==========================================

type OutputConfig struct {
	// 输出格式: text, json
	Format string `mapstructure:"format" yaml:"format"`
	// 是否着色 (仅 text 格式)
	Color bool `mapstructure:"color" yaml:"color"`
	// 是否输出每条指标的佐证数据
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
}

// ==========================================
// 4. 指标暴露
// ==========================================

type MetricsConfig struct {
	// 是否开启指标 HTTP 端点
	Enable bool `mapstructure:"enable" yaml:"enable"`
	// 监听地址 (e.g., 127.0.0.1:9402)
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}
