package aggregator

import (
	"math"
	"math/rand"
	"testing"

	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
)

func defaultWeights() config.SeverityWeights {
	return config.SeverityWeights{Critical: 1.0, High: 0.8, Medium: 0.6, Low: 0.4}
}

func ind(s model.Severity, conf float64) model.Indicator {
	return model.NewIndicator(model.KindHiddenText, "test", "test", s, conf)
}

// TestAggregate_RiskRules 风险等级判定规则
func TestAggregate_RiskRules(t *testing.T) {
	tests := []struct {
		name       string
		indicators []model.Indicator
		wantRisk   model.Severity
	}{
		{"empty", nil, model.SeverityLow},
		{"one critical", []model.Indicator{ind(model.SeverityCritical, 0.9)}, model.SeverityCritical},
		{"two high", []model.Indicator{ind(model.SeverityHigh, 0.8), ind(model.SeverityHigh, 0.7)}, model.SeverityCritical},
		{"one high", []model.Indicator{ind(model.SeverityHigh, 0.8)}, model.SeverityHigh},
		{"three medium", []model.Indicator{ind(model.SeverityMedium, 0.6), ind(model.SeverityMedium, 0.5), ind(model.SeverityMedium, 0.7)}, model.SeverityHigh},
		{"one medium", []model.Indicator{ind(model.SeverityMedium, 0.6)}, model.SeverityMedium},
		{"two medium", []model.Indicator{ind(model.SeverityMedium, 0.6), ind(model.SeverityMedium, 0.5)}, model.SeverityMedium},
		{"only low", []model.Indicator{ind(model.SeverityLow, 0.4), ind(model.SeverityLow, 0.3)}, model.SeverityLow},
		{"high and mediums", []model.Indicator{ind(model.SeverityHigh, 0.8), ind(model.SeverityMedium, 0.6)}, model.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk, _ := Aggregate(tt.indicators, defaultWeights())
			if risk != tt.wantRisk {
				t.Errorf("Aggregate() risk = %v, want %v", risk, tt.wantRisk)
			}
		})
	}
}

// TestAggregate_EmptyConfidence 空集合置信度为 0
func TestAggregate_EmptyConfidence(t *testing.T) {
	risk, conf := Aggregate(nil, defaultWeights())
	if risk != model.SeverityLow {
		t.Errorf("risk = %v, want Low", risk)
	}
	if conf != 0.0 {
		t.Errorf("confidence = %v, want 0.0", conf)
	}
}

// TestAggregate_WeightedConfidence 加权均值计算
func TestAggregate_WeightedConfidence(t *testing.T) {
	indicators := []model.Indicator{
		ind(model.SeverityCritical, 0.9), // 权重 1.0
		ind(model.SeverityLow, 0.5),      // 权重 0.4
	}
	_, conf := Aggregate(indicators, defaultWeights())

	want := (0.9*1.0 + 0.5*0.4) / (1.0 + 0.4)
	if math.Abs(conf-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", conf, want)
	}
}

// TestAggregate_SingleIndicatorConfidence 单指标置信度即其本身
func TestAggregate_SingleIndicatorConfidence(t *testing.T) {
	_, conf := Aggregate([]model.Indicator{ind(model.SeverityHigh, 0.73)}, defaultWeights())
	if math.Abs(conf-0.73) > 1e-9 {
		t.Errorf("confidence = %v, want 0.73", conf)
	}
}

// TestAggregate_OrderIndependence 结果与指标顺序无关
func TestAggregate_OrderIndependence(t *testing.T) {
	indicators := []model.Indicator{
		ind(model.SeverityCritical, 0.95),
		ind(model.SeverityHigh, 0.8),
		ind(model.SeverityMedium, 0.6),
		ind(model.SeverityMedium, 0.55),
		ind(model.SeverityLow, 0.4),
	}

	baseRisk, baseConf := Aggregate(indicators, defaultWeights())

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.Indicator(nil), indicators...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		risk, conf := Aggregate(shuffled, defaultWeights())
		if risk != baseRisk {
			t.Fatalf("permutation %d: risk = %v, want %v", i, risk, baseRisk)
		}
		if math.Abs(conf-baseConf) > 1e-9 {
			t.Fatalf("permutation %d: confidence = %v, want %v", i, conf, baseConf)
		}
	}
}

// TestAggregate_CustomWeights 注入的权重参与计算
func TestAggregate_CustomWeights(t *testing.T) {
	weights := config.SeverityWeights{Critical: 1.0, High: 1.0, Medium: 1.0, Low: 1.0}
	indicators := []model.Indicator{
		ind(model.SeverityCritical, 0.9),
		ind(model.SeverityLow, 0.1),
	}
	_, conf := Aggregate(indicators, weights)

	want := (0.9 + 0.1) / 2
	if math.Abs(conf-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v (uniform weights)", conf, want)
	}
}
