// Package forgery 实现多格式文档伪造检测引擎。
//
// 引擎对每份输入执行 分类 -> 结构解析 -> 并发检测 -> 风险汇总 四个阶段，
// 单个检测项失败不影响其余检测项，超时返回已完成部分的结果。
package forgery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"docForensics/internal/forgery/aggregator"
	"docForensics/internal/forgery/analyzer"
	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/fileutil"
	"docForensics/internal/forgery/metrics"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
	"docForensics/internal/logger"
)

// ============================================================
// 引擎
// ============================================================

// Engine 文档伪造检测引擎。
// 跨调用状态只有只读校准参数、指标与计数器，Analyze 可安全并发调用。
type Engine struct {
	cal     *config.Calibration
	metrics *metrics.Metrics

	analyzedTotal atomic.Int64
	failedTotal   atomic.Int64
}

// Option 引擎构造选项
type Option func(*Engine)

// WithCalibration 注入自定义校准参数
func WithCalibration(cal *config.Calibration) Option {
	return func(e *Engine) {
		if cal != nil {
			cal.Normalize()
			e.cal = cal
		}
	}
}

// WithMetrics 注入指标集合
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New 创建引擎
func New(opts ...Option) *Engine {
	e := &Engine{
		cal:     config.DefaultCalibration(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Calibration 返回生效的校准参数
func (e *Engine) Calibration() *config.Calibration {
	return e.cal
}

// Metrics 返回引擎指标集合
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// AnalyzedCount 累计完成的分析次数
func (e *Engine) AnalyzedCount() int64 {
	return e.analyzedTotal.Load()
}

// FailedCount 累计失败的分析次数
func (e *Engine) FailedCount() int64 {
	return e.failedTotal.Load()
}

// ============================================================
// 分析入口
// ============================================================

// Analyze 对输入字节执行完整分析。
// hint 为文件名或扩展名提示，仅在内容特征不可判定时参与格式判定。
// 只有不支持的格式返回硬错误；结构解析失败、检测项失败与超时
// 都体现在结果的指标与 Error 字段上。
func (e *Engine) Analyze(ctx context.Context, data []byte, hint string) (*model.AnalysisResult, error) {
	start := time.Now()

	result, err := e.analyze(ctx, data, hint, start)
	if err != nil {
		e.failedTotal.Inc()
		e.metrics.AnalysisErrors.WithLabelValues(errorReason(err)).Inc()
		return nil, err
	}

	e.analyzedTotal.Inc()
	e.metrics.AnalysisTotal.
		WithLabelValues(result.DocumentType.String(), result.OverallRisk.String()).Inc()
	e.metrics.AnalysisDuration.
		WithLabelValues(result.DocumentType.String()).Observe(result.ProcessTime.Seconds())
	for _, ind := range result.Indicators {
		e.metrics.IndicatorsFound.WithLabelValues(string(ind.Kind)).Inc()
	}
	return result, nil
}

func (e *Engine) analyze(ctx context.Context, data []byte, hint string, start time.Time) (*model.AnalysisResult, error) {
	// 阶段一：格式分类
	docType, err := fileutil.Classify(data, hint)
	if err != nil {
		return nil, err
	}

	// 阶段二：结构解析（解析器对畸形输入可能越界，隔离执行）
	// 解析失败对本次调用是终态，但按约定落在结果上而非硬错误：
	// 调用方只需要对不支持的格式做异常处理
	view, err := errors.SafeExecuteWithResult(func() (parser.View, error) {
		return parseDocument(docType, data)
	})
	if err != nil {
		e.metrics.AnalysisErrors.WithLabelValues(errorReason(err)).Inc()
		result := &model.AnalysisResult{
			AnalysisID:   uuid.NewString(),
			DocumentType: docType,
			OverallRisk:  model.SeverityLow,
			Error:        err.Error(),
			ProcessTime:  time.Since(start),
			AnalyzedAt:   start,
		}
		logger.Warn("结构解析失败",
			"analysis_id", result.AnalysisID,
			"doc_type", docType.String(),
			"err", err)
		return result, nil
	}

	// 阶段三：并发检测
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && e.cal.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cal.Timeout)
		defer cancel()
	}
	indicators, timedOut := e.runChecks(ctx, docType, view)

	// 阶段四：风险汇总
	risk, confidence := aggregator.Aggregate(indicators, e.cal.SeverityWeights)

	result := &model.AnalysisResult{
		AnalysisID:      uuid.NewString(),
		DocumentType:    docType,
		OverallRisk:     risk,
		ConfidenceScore: confidence,
		Indicators:      indicators,
		MethodsUsed:     analyzer.MethodsFor(docType),
		ProcessTime:     time.Since(start),
		AnalyzedAt:      start,
	}
	if timedOut {
		result.Error = errors.TimeoutError(time.Since(start)).Error()
		logger.Warn("分析超时，返回部分结果",
			"analysis_id", result.AnalysisID,
			"doc_type", docType.String(),
			"indicators", len(indicators))
	}

	logger.Debug("分析完成",
		"analysis_id", result.AnalysisID,
		"doc_type", docType.String(),
		"risk", risk.String(),
		"indicators", len(indicators),
		"elapsed", result.ProcessTime)
	return result, nil
}

// parseDocument 按文档类型选择结构解析器
func parseDocument(docType model.DocumentType, data []byte) (parser.View, error) {
	switch docType {
	case model.DocWord:
		return parser.ParseWord(data)
	case model.DocExcel:
		return parser.ParseExcel(data)
	case model.DocText:
		return parser.ParseText(data)
	case model.DocImage:
		return parser.ParseImage(data)
	case model.DocPdf:
		return parser.ParsePdf(data)
	default:
		return nil, errors.UnsupportedFormatError(docType.String())
	}
}

// ============================================================
// 并发检测
// ============================================================

type checkOutcome struct {
	slot       int
	indicators []model.Indicator
	err        error
}

// runChecks 并发执行全部检测项，按固定槽位回收结果。
// 返回 (指标集合, 是否超时)。超时后已完成的检测项结果保留。
func (e *Engine) runChecks(ctx context.Context, docType model.DocumentType, view parser.View) ([]model.Indicator, bool) {
	checks := analyzer.ChecksFor(docType)
	if len(checks) == 0 {
		return nil, false
	}

	outcomes := make(chan checkOutcome, len(checks))
	for i, check := range checks {
		go func(slot int, c analyzer.Check) {
			inds, err := errors.SafeExecuteWithResult(func() ([]model.Indicator, error) {
				return c.Run(view, e.cal)
			})
			outcomes <- checkOutcome{slot: slot, indicators: inds, err: err}
		}(i, check)
	}

	slots := make([]checkOutcome, len(checks))
	done := make([]bool, len(checks))
	received := 0
	timedOut := false

collect:
	for received < len(checks) {
		select {
		case out := <-outcomes:
			slots[out.slot] = out
			done[out.slot] = true
			received++
		case <-ctx.Done():
			timedOut = true
			break collect
		}
	}

	// 槽位顺序拼装，保证同一输入的指标顺序稳定
	var indicators []model.Indicator
	for i, check := range checks {
		if !done[i] {
			continue // 未完成的检测项不产出指标
		}
		out := slots[i]
		if out.err != nil {
			e.metrics.CheckFailures.WithLabelValues(check.Method).Inc()
			logger.Warn("检测项执行失败",
				"method", check.Method, "err", out.err)
			ind := model.NewIndicator(model.KindAnalysisError, check.Method,
				fmt.Sprintf("检测项 %s 执行失败", check.Method),
				model.SeverityMedium, 0.0).
				WithEvidence("error", out.err.Error())
			indicators = append(indicators, ind)
			continue
		}
		indicators = append(indicators, out.indicators...)
	}

	return indicators, timedOut
}

// errorReason 把错误映射为指标标签
func errorReason(err error) string {
	switch {
	case errors.IsUnsupportedFormat(err):
		return "unsupported_format"
	case errors.IsParseError(err):
		return "parse_error"
	case errors.IsTimeout(err):
		return "timeout"
	default:
		return "internal"
	}
}
