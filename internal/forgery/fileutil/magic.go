// Package fileutil 基于字节特征的文档格式分类
package fileutil

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
)

// DetectionMethod 分类依据
type DetectionMethod string

const (
	MethodMagic     DetectionMethod = "magic"     // 魔数/容器结构
	MethodContent   DetectionMethod = "content"   // 内容特征
	MethodExtension DetectionMethod = "extension" // 扩展名提示（最后备选）
)

// Classification 分类结果
type Classification struct {
	Type     model.DocumentType // 文档类型
	Method   DetectionMethod    // 分类依据
	Reliable bool               // 分类依据是否可靠
}

// OOXML 容器内部特征路径
var (
	wordPartMarkers = [][]byte{
		[]byte("word/document.xml"),
		[]byte("word/_rels"),
		[]byte("word/styles.xml"),
	}
	excelPartMarkers = [][]byte{
		[]byte("xl/workbook.xml"),
		[]byte("xl/worksheets/"),
		[]byte("xl/sharedStrings.xml"),
	}
)

// 扩展名到文档类型的映射（仅作为最后备选）
var extensionMap = map[string]model.DocumentType{
	"docx": model.DocWord,
	"docm": model.DocWord,
	"dotx": model.DocWord,
	"xlsx": model.DocExcel,
	"xlsm": model.DocExcel,
	"xltx": model.DocExcel,
	"txt":  model.DocText,
	"text": model.DocText,
	"log":  model.DocText,
	"csv":  model.DocText,
	"md":   model.DocText,
	"html": model.DocText,
	"htm":  model.DocText,
	"xml":  model.DocText,
	"jpg":  model.DocImage,
	"jpeg": model.DocImage,
	"png":  model.DocImage,
	"gif":  model.DocImage,
	"bmp":  model.DocImage,
	"tiff": model.DocImage,
	"tif":  model.DocImage,
	"webp": model.DocImage,
	"pdf":  model.DocPdf,
}

// Classify 对原始字节分类，返回唯一的文档类型
// 判定顺序固定：魔数/容器结构 → 内容特征 → 扩展名提示，
// 同一输入字节必然得到同一结果
func Classify(data []byte, hint string) (model.DocumentType, error) {
	c, err := ClassifyDetail(data, hint)
	if err != nil {
		return model.DocUnknown, err
	}
	return c.Type, nil
}

// ClassifyDetail 分类并返回判定依据
func ClassifyDetail(data []byte, hint string) (Classification, error) {
	if len(data) == 0 {
		return Classification{}, errors.New(errors.ErrEmptyInput, "输入字节为空").
			WithComponent("classifier")
	}

	// 步骤 1: 魔数检测（最可靠）
	if c, ok := classifyByMagic(data); ok {
		return c, nil
	}

	// 步骤 2: 内容特征检测（文本类）
	if looksLikeText(data) {
		return Classification{Type: model.DocText, Method: MethodContent, Reliable: true}, nil
	}

	// 步骤 3: 扩展名提示（最后备选，标记为不可靠）
	ext := normalizeHint(hint)
	if t, ok := extensionMap[ext]; ok {
		return Classification{Type: t, Method: MethodExtension, Reliable: false}, nil
	}

	return Classification{}, errors.UnsupportedFormatError(hint)
}

// classifyByMagic 通过魔数与容器结构分类
func classifyByMagic(data []byte) (Classification, bool) {
	kind, err := filetype.Match(data)
	if err == nil && kind != filetype.Unknown {
		switch kind.Extension {
		case "pdf":
			return Classification{Type: model.DocPdf, Method: MethodMagic, Reliable: true}, true
		case "jpg", "png", "gif", "bmp", "tif", "webp":
			return Classification{Type: model.DocImage, Method: MethodMagic, Reliable: true}, true
		case "zip", "docx", "xlsx":
			// ZIP 容器需进一步区分 OOXML 子类型
			if t, ok := classifyZipContainer(data); ok {
				return Classification{Type: t, Method: MethodMagic, Reliable: true}, true
			}
			return Classification{}, false
		}
	}

	// filetype 未覆盖的兜底：直接比对 PDF 头
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return Classification{Type: model.DocPdf, Method: MethodMagic, Reliable: true}, true
	}

	return Classification{}, false
}

// classifyZipContainer 区分 ZIP 容器内的 OOXML 子类型
// 容器特征检查先于扩展名，Word 与 Excel 特征同时出现时按固定顺序取 Word
func classifyZipContainer(data []byte) (model.DocumentType, bool) {
	for _, marker := range wordPartMarkers {
		if bytes.Contains(data, marker) {
			return model.DocWord, true
		}
	}
	for _, marker := range excelPartMarkers {
		if bytes.Contains(data, marker) {
			return model.DocExcel, true
		}
	}
	return model.DocUnknown, false
}

// looksLikeText 检查内容是否像文本
func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	if hasBOM(data) {
		return true
	}

	// 只检查前 1024 字节
	checkLen := len(data)
	if checkLen > 1024 {
		checkLen = 1024
	}

	control := 0
	for i := 0; i < checkLen; i++ {
		b := data[i]
		if b == 0 {
			// NULL 字节通常表示二进制文件
			control++
		} else if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			control++
		}
	}

	// 控制字符超过 10% 视为二进制
	if float64(control)/float64(checkLen) > 0.1 {
		return false
	}

	return utf8.Valid(data[:checkLen]) || mightBeLegacyEncoding(data[:checkLen])
}

// hasBOM 检查是否有 BOM 标记
func hasBOM(data []byte) bool {
	if len(data) >= 3 &&
		data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return true
	}
	if len(data) >= 2 {
		if data[0] == 0xFF && data[1] == 0xFE {
			return true
		}
		if data[0] == 0xFE && data[1] == 0xFF {
			return true
		}
	}
	return false
}

// mightBeLegacyEncoding 粗判是否可能为 GBK 等传统多字节编码
func mightBeLegacyEncoding(data []byte) bool {
	i := 0
	pairs := 0
	for i < len(data)-1 {
		b := data[i]
		if b < 0x80 {
			i++
			continue
		}
		// GBK 首字节 0x81-0xFE，次字节 0x40-0xFE
		next := data[i+1]
		if b >= 0x81 && b <= 0xFE && next >= 0x40 && next <= 0xFE && next != 0x7F {
			pairs++
			i += 2
			continue
		}
		return false
	}
	return pairs > 0
}

// normalizeHint 规范化扩展名提示
func normalizeHint(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	hint = strings.TrimPrefix(hint, ".")
	// 提示可能是完整文件名
	if idx := strings.LastIndex(hint, "."); idx >= 0 {
		hint = hint[idx+1:]
	}
	return hint
}
