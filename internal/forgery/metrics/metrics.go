// Package metrics 暴露引擎运行指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 引擎指标集合，挂在私有 Registry 上便于多引擎并存
type Metrics struct {
	registry *prometheus.Registry

	AnalysisTotal    *prometheus.CounterVec   // 按文档类型与结果风险计数
	AnalysisErrors   *prometheus.CounterVec   // 按错误类别计数
	AnalysisDuration *prometheus.HistogramVec // 按文档类型的耗时分布
	IndicatorsFound  *prometheus.CounterVec   // 按指标类型计数
	CheckFailures    *prometheus.CounterVec   // 按检测项的失败计数
}

// New 创建指标集合并注册到私有 Registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.AnalysisTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forgery",
		Name:      "analysis_total",
		Help:      "完成的分析次数",
	}, []string{"doc_type", "risk"})

	m.AnalysisErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forgery",
		Name:      "analysis_errors_total",
		Help:      "分析失败次数",
	}, []string{"reason"})

	m.AnalysisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forgery",
		Name:      "analysis_duration_seconds",
		Help:      "单次分析耗时",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"doc_type"})

	m.IndicatorsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forgery",
		Name:      "indicators_total",
		Help:      "产出的指标条数",
	}, []string{"kind"})

	m.CheckFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forgery",
		Name:      "check_failures_total",
		Help:      "检测项自身失败次数",
	}, []string{"method"})

	m.registry.MustRegister(
		m.AnalysisTotal,
		m.AnalysisErrors,
		m.AnalysisDuration,
		m.IndicatorsFound,
		m.CheckFailures,
	)
	return m
}

// Registry 返回底层 Registry，供调用方挂接 HTTP 暴露端点
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Gatherer 实现 prometheus.Gatherer 透出
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
