package model

import (
	"encoding/json"
	"testing"
)

// TestSeverity_Ordering 严重程度有序可比较
func TestSeverity_Ordering(t *testing.T) {
	if !(SeverityLow < SeverityMedium && SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Error("severity levels are not ordered")
	}
}

// TestSeverity_Weight 权重与既有校准一致
func TestSeverity_Weight(t *testing.T) {
	tests := []struct {
		s    Severity
		want float64
	}{
		{SeverityCritical, 1.0},
		{SeverityHigh, 0.8},
		{SeverityMedium, 0.6},
		{SeverityLow, 0.4},
	}
	for _, tt := range tests {
		if got := tt.s.Weight(); got != tt.want {
			t.Errorf("Weight(%s) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

// TestSeverity_MarshalJSON 以字符串序列化
func TestSeverity_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(SeverityHigh)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"high"` {
		t.Errorf("Marshal(SeverityHigh) = %s, want \"high\"", data)
	}
}

// TestDocumentType_String 封闭枚举的字符串表示
func TestDocumentType_String(t *testing.T) {
	tests := []struct {
		t    DocumentType
		want string
	}{
		{DocWord, "word"},
		{DocExcel, "excel"},
		{DocText, "text"},
		{DocImage, "image"},
		{DocPdf, "pdf"},
		{DocUnknown, "unknown"},
		{DocumentType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", int(tt.t), got, tt.want)
		}
	}
}

// TestClampConfidence 置信度截断到 [0,1]
func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.7, 1},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestNewIndicator_Builder 构建器不共享底层状态
func TestNewIndicator_Builder(t *testing.T) {
	base := NewIndicator(KindHiddenText, "word/hidden_text", "隐藏文本", SeverityHigh, 1.3)
	if base.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want clamped to 1.0", base.Confidence)
	}

	with := base.WithEvidence("length", "12").WithLocation(&Location{Paragraph: 3})
	if with.Evidence["length"] != "12" {
		t.Errorf("Evidence[length] = %q, want 12", with.Evidence["length"])
	}
	if with.Location == nil || with.Location.Paragraph != 3 {
		t.Errorf("Location = %+v, want Paragraph 3", with.Location)
	}
	if base.Evidence != nil || base.Location != nil {
		t.Error("builder mutated the original indicator")
	}
}

// TestAnalysisResult_CountBySeverity 按严重程度统计
func TestAnalysisResult_CountBySeverity(t *testing.T) {
	r := &AnalysisResult{
		Indicators: []Indicator{
			NewIndicator(KindBidiOverride, "text/bidi", "", SeverityHigh, 0.9),
			NewIndicator(KindHomoglyphAttack, "text/homoglyph", "", SeverityHigh, 0.8),
			NewIndicator(KindLineEndingInconsistency, "text/line_endings", "", SeverityLow, 0.4),
		},
	}
	if got := r.CountBySeverity(SeverityHigh); got != 2 {
		t.Errorf("CountBySeverity(High) = %d, want 2", got)
	}
	if got := r.CountBySeverity(SeverityCritical); got != 0 {
		t.Errorf("CountBySeverity(Critical) = %d, want 0", got)
	}
	if got := r.IndicatorCount(); got != 3 {
		t.Errorf("IndicatorCount = %d, want 3", got)
	}
}

// TestAnalysisResult_HasError 终态错误判定
func TestAnalysisResult_HasError(t *testing.T) {
	clean := &AnalysisResult{}
	if clean.HasError() {
		t.Error("empty Error should not report HasError")
	}
	failed := &AnalysisResult{Error: "结构解析失败"}
	if !failed.HasError() {
		t.Error("non-empty Error should report HasError")
	}
}
