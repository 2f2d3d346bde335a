// Package model 定义伪造检测引擎的核心数据模型
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================
// 文档类型
// ============================================================

// DocumentType 文档类型（封闭枚举，分类后不可变）
type DocumentType int

const (
	DocUnknown DocumentType = iota // 未识别
	DocWord                        // OOXML 文字文档
	DocExcel                       // OOXML 电子表格
	DocText                        // 纯文本
	DocImage                       // 位图图片
	DocPdf                         // PDF 文档
)

// String 返回文档类型的字符串表示
func (t DocumentType) String() string {
	switch t {
	case DocWord:
		return "word"
	case DocExcel:
		return "excel"
	case DocText:
		return "text"
	case DocImage:
		return "image"
	case DocPdf:
		return "pdf"
	default:
		return "unknown"
	}
}

// MarshalJSON 以字符串形式序列化
func (t DocumentType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ============================================================
// 严重程度
// ============================================================

// Severity 指标严重程度（有序：Low < Medium < High < Critical）
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String 返回严重程度的字符串表示
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Weight 返回置信度加权系数
// 数值来自既有校准，未经实证验证，调整前需领域专家评审
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.6
	default:
		return 0.4
	}
}

// MarshalJSON 以字符串形式序列化
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ============================================================
// 指标类型标签
// ============================================================

// IndicatorKind 伪造指标类型标签
type IndicatorKind string

const (
	// Word 家族
	KindHiddenText            IndicatorKind = "hidden_text"
	KindRevisionManipulation  IndicatorKind = "revision_manipulation"
	KindTrackChangesAnomaly   IndicatorKind = "track_changes_anomaly"
	KindMetadataInconsistency IndicatorKind = "metadata_inconsistency"
	KindTemplateInjection     IndicatorKind = "template_injection"
	KindFontInconsistency     IndicatorKind = "font_inconsistency"
	KindFieldCodeAbuse        IndicatorKind = "field_code_abuse"

	// Excel 家族
	KindFormulaTampering  IndicatorKind = "formula_tampering"
	KindHiddenContent     IndicatorKind = "hidden_content"
	KindValidationBypass  IndicatorKind = "validation_bypass"
	KindCellFormatMasking IndicatorKind = "cell_format_masking"
	KindExternalReference IndicatorKind = "external_reference"
	KindMergedCellMasking IndicatorKind = "merged_cell_masking"

	// 文本家族
	KindEncodingManipulation     IndicatorKind = "encoding_manipulation"
	KindInvisibleCharacters      IndicatorKind = "invisible_characters"
	KindHomoglyphAttack          IndicatorKind = "homoglyph_attack"
	KindBidiOverride             IndicatorKind = "bidi_override"
	KindNullByteInjection        IndicatorKind = "null_byte_injection"
	KindWhitespaceSteganography  IndicatorKind = "whitespace_steganography"
	KindLineEndingInconsistency  IndicatorKind = "line_ending_inconsistency"

	// 图片家族
	KindCloneDetection     IndicatorKind = "clone_detection"
	KindNoiseInconsistency IndicatorKind = "noise_inconsistency"
	KindCompressionAnomaly IndicatorKind = "compression_anomaly"
	KindEdgeInconsistency  IndicatorKind = "edge_inconsistency"
	KindExifAnomaly        IndicatorKind = "exif_anomaly"
	KindThumbnailMismatch  IndicatorKind = "thumbnail_mismatch"
	KindResamplingArtifact IndicatorKind = "resampling_artifact"

	// PDF 家族
	KindSignatureBroken     IndicatorKind = "signature_broken"
	KindSignatureUnverified IndicatorKind = "signature_unverified"
	KindIncrementalUpdate   IndicatorKind = "incremental_update"
	KindTextLayerMismatch   IndicatorKind = "text_layer_mismatch"
	KindXrefInconsistency   IndicatorKind = "xref_inconsistency"
	KindJavaScriptEmbedded  IndicatorKind = "javascript_embedded"
	KindDateInconsistency   IndicatorKind = "date_inconsistency"
	KindOrphanObject        IndicatorKind = "orphan_object"

	// 通用：检测项自身执行失败
	KindAnalysisError IndicatorKind = "analysis_error"
)

// ============================================================
// 位置信息
// ============================================================

// Location 指标定位信息（按文档家族使用不同字段）
type Location struct {
	// Word: 段落/文本段索引
	Paragraph int `json:"paragraph,omitempty"`
	Run       int `json:"run,omitempty"`

	// Excel: 工作表名与单元格地址
	Sheet string `json:"sheet,omitempty"`
	Cell  string `json:"cell,omitempty"`

	// 文本: 行号与字节偏移
	Line   int `json:"line,omitempty"`
	Offset int `json:"offset,omitempty"`

	// 图片: 像素区域
	Region *PixelRegion `json:"region,omitempty"`

	// PDF: 对象编号
	ObjectNum int `json:"object_num,omitempty"`
}

// PixelRegion 像素矩形区域
type PixelRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String 返回区域描述
func (r *PixelRegion) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", r.Width, r.Height, r.X, r.Y)
}

// ============================================================
// 指标
// ============================================================

// Indicator 单条伪造证据
type Indicator struct {
	Kind            IndicatorKind     `json:"kind"`                // 指标类型标签
	Description     string            `json:"description"`         // 人类可读描述
	Confidence      float64           `json:"confidence"`          // 置信度 (0-1)
	Severity        Severity          `json:"severity"`            // 严重程度
	Location        *Location         `json:"location,omitempty"`  // 定位信息
	Evidence        map[string]string `json:"evidence,omitempty"`  // 佐证数据（已拷贝，不引用结构视图）
	DetectionMethod string            `json:"detection_method"`    // 产生该指标的检测项标识
}

// NewIndicator 创建指标，置信度自动截断到 [0,1]
func NewIndicator(kind IndicatorKind, method, description string, severity Severity, confidence float64) Indicator {
	return Indicator{
		Kind:            kind,
		Description:     description,
		Confidence:      ClampConfidence(confidence),
		Severity:        severity,
		DetectionMethod: method,
	}
}

// WithLocation 设置位置信息
func (i Indicator) WithLocation(loc *Location) Indicator {
	i.Location = loc
	return i
}

// WithEvidence 追加一条佐证数据
func (i Indicator) WithEvidence(key, value string) Indicator {
	if i.Evidence == nil {
		i.Evidence = make(map[string]string)
	}
	i.Evidence[key] = value
	return i
}

// ClampConfidence 将置信度截断到 [0,1]
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ============================================================
// 分析结果
// ============================================================

// AnalysisResult 单次分析的最终结果，返回后不可变
type AnalysisResult struct {
	AnalysisID      string        `json:"analysis_id"`      // 本次分析的唯一标识
	DocumentType    DocumentType  `json:"document_type"`    // 识别出的文档类型
	OverallRisk     Severity      `json:"overall_risk"`     // 综合风险等级
	ConfidenceScore float64       `json:"confidence_score"` // 综合置信度 (0-1)
	Indicators      []Indicator   `json:"indicators"`       // 指标列表（按检测项执行顺序）
	MethodsUsed     []string      `json:"methods_used"`     // 实际执行过的检测项标识
	Error           string        `json:"error,omitempty"`  // 终态错误（解析失败/超时）
	ProcessTime     time.Duration `json:"process_time_ns"`  // 处理耗时
	AnalyzedAt      time.Time     `json:"analyzed_at"`      // 分析时间
}

// HasError 是否带有终态错误
func (r *AnalysisResult) HasError() bool {
	return r.Error != ""
}

// IndicatorCount 指标数量
func (r *AnalysisResult) IndicatorCount() int {
	return len(r.Indicators)
}

// CountBySeverity 按严重程度统计指标数量
func (r *AnalysisResult) CountBySeverity(s Severity) int {
	n := 0
	for _, ind := range r.Indicators {
		if ind.Severity == s {
			n++
		}
	}
	return n
}

// Summary 返回摘要信息
func (r *AnalysisResult) Summary() string {
	if r.HasError() {
		return fmt.Sprintf("分析结果: %s, 风险=%s, 错误=%s",
			r.DocumentType, r.OverallRisk, r.Error)
	}
	return fmt.Sprintf("分析结果: %s, 风险=%s, 置信度=%.2f, 指标=%d",
		r.DocumentType, r.OverallRisk, r.ConfidenceScore, len(r.Indicators))
}
