// Package analyzer 实现按文档家族分组的伪造检测项。
// 每个检测项独立运行，只读结构视图，互不依赖执行顺序。
package analyzer

import (
	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// Check 单个检测项
type Check struct {
	// Method 检测项稳定标识，进入结果的 methods_used 与指标的 detection_method
	Method string
	// Run 对结构视图执行检测，返回零或多条指标。
	// 返回 error 表示检测项自身失败，由引擎转换为 analysis_error 指标。
	Run func(view parser.View, cal *config.Calibration) ([]model.Indicator, error)
}

// ChecksFor 返回该文档家族的全部检测项，顺序固定
func ChecksFor(docType model.DocumentType) []Check {
	switch docType {
	case model.DocWord:
		return wordChecks
	case model.DocExcel:
		return excelChecks
	case model.DocText:
		return textChecks
	case model.DocImage:
		return imageChecks
	case model.DocPdf:
		return pdfChecks
	default:
		return nil
	}
}

// MethodsFor 返回该家族全部检测项标识，顺序与 ChecksFor 一致
func MethodsFor(docType model.DocumentType) []string {
	checks := ChecksFor(docType)
	methods := make([]string, len(checks))
	for i, c := range checks {
		methods[i] = c.Method
	}
	return methods
}
