// Package aggregator 把一组指标汇总为整体风险等级与置信度。
// 汇总结果只取决于指标集合本身，与产生顺序无关。
package aggregator

import (
	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
)

// Aggregate 按指标集合计算整体风险与置信度。
// 空集合返回 (Low, 0)。
func Aggregate(indicators []model.Indicator, weights config.SeverityWeights) (model.Severity, float64) {
	if len(indicators) == 0 {
		return model.SeverityLow, 0.0
	}

	var critical, high, medium int
	for _, ind := range indicators {
		switch ind.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityHigh:
			high++
		case model.SeverityMedium:
			medium++
		}
	}

	risk := model.SeverityLow
	switch {
	case critical >= 1 || high >= 2:
		risk = model.SeverityCritical
	case high >= 1 || medium >= 3:
		risk = model.SeverityHigh
	case medium >= 1:
		risk = model.SeverityMedium
	}

	return risk, weightedConfidence(indicators, weights)
}

// weightedConfidence 按严重程度加权的置信度均值
func weightedConfidence(indicators []model.Indicator, weights config.SeverityWeights) float64 {
	var weightedSum, weightSum float64
	for _, ind := range indicators {
		w := weightFor(ind.Severity, weights)
		weightedSum += ind.Confidence * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0.0
	}
	return model.ClampConfidence(weightedSum / weightSum)
}

func weightFor(s model.Severity, weights config.SeverityWeights) float64 {
	switch s {
	case model.SeverityCritical:
		return weights.Critical
	case model.SeverityHigh:
		return weights.High
	case model.SeverityMedium:
		return weights.Medium
	default:
		return weights.Low
	}
}
