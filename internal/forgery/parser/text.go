package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
)

// ============================================================
// 文本结构视图
// ============================================================

// TextView 纯文本结构视图
type TextView struct {
	Raw              []byte   // 原始字节
	Content          string   // 解码后文本 (含换行)
	Encoding         string   // 判定编码 (utf-8 / utf-8-bom / utf-16le / utf-16be / gbk / ascii)
	HasBOM           bool     // 是否带 BOM
	Lines            []Line   // 按行拆分
	NullBytes        []int    // 空字节在原始字节流中的偏移
	LineEndings      Endings  // 行尾统计
	StrippedHTML     bool     // 是否剥离了 HTML 标签
	SegmentEncodings []string // 原始字节逐行的编码判定 (ascii / utf-8 / gbk / unknown)
}

// DocType 实现 View 接口
func (v *TextView) DocType() model.DocumentType { return model.DocText }

// Line 文本行
type Line struct {
	Number        int    // 行号 (1开始)
	Text          string // 行内容 (不含行尾)
	TrailingSpace int    // 行尾空白符数量 (空格/制表符)
}

// Endings 行尾统计
type Endings struct {
	LF   int // \n
	CRLF int // \r\n
	CR   int // 孤立 \r
}

// ============================================================
// 解析入口
// ============================================================

// ParseText 解析纯文本文档
func ParseText(data []byte) (*TextView, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.ErrEmptyInput, "输入为空").WithComponent("parser")
	}

	view := &TextView{Raw: data}

	// 空字节位置（解码前记录，解码可能吞掉它们）
	for i, b := range data {
		if b == 0x00 {
			view.NullBytes = append(view.NullBytes, i)
		}
	}

	decoded, encName, hasBOM, err := decodeText(data)
	if err != nil {
		return nil, errors.New(errors.ErrDecodeFailed, "文本解码失败").
			WithComponent("parser").WithCause(err)
	}
	view.Encoding = encName
	view.HasBOM = hasBOM

	// UTF-16 按双字节编码，逐行字节判定对它无意义
	if !strings.HasPrefix(encName, "utf-16") {
		view.SegmentEncodings = classifySegments(data)
	}

	// HTML 包装内容剥离为可读文本
	if looksLikeHTML(decoded) {
		decoded = stripHTML(decoded)
		view.StrippedHTML = true
	}

	view.Content = decoded
	view.LineEndings = countEndings(decoded)
	view.Lines = splitLines(decoded)

	return view, nil
}

// decodeText 按 BOM 与内容特征解码
func decodeText(data []byte) (string, string, bool, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), "utf-8-bom", true, nil

	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		decoded, err := decodeWith(data[2:], unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder())
		return decoded, "utf-16le", true, err

	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		decoded, err := decodeWith(data[2:], unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder())
		return decoded, "utf-16be", true, err
	}

	// 无 BOM 的 UTF-16LE：偶数位大量 0x00
	if len(data) >= 4 && looksLikeUTF16LE(data) {
		decoded, err := decodeWith(data, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder())
		return decoded, "utf-16le", false, err
	}

	if utf8.Valid(data) {
		if isASCII(data) {
			return string(data), "ascii", false, nil
		}
		return string(data), "utf-8", false, nil
	}

	// GBK 兜底
	decoded, err := decodeWith(data, simplifiedchinese.GBK.NewDecoder())
	if err != nil {
		return "", "", false, err
	}
	return decoded, "gbk", false, nil
}

func decodeWith(data []byte, dec transform.Transformer) (string, error) {
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// looksLikeUTF16LE 无 BOM 的 UTF-16LE 启发判断
func looksLikeUTF16LE(data []byte) bool {
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	zeroOdd := 0
	pairs := len(sample) / 2
	if pairs == 0 {
		return false
	}
	for i := 1; i < len(sample); i += 2 {
		if sample[i] == 0x00 {
			zeroOdd++
		}
	}
	return float64(zeroOdd)/float64(pairs) > 0.4
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b > 0x7F {
			return false
		}
	}
	return true
}

// classifySegments 对原始字节逐行判定编码
func classifySegments(data []byte) []string {
	segments := bytes.Split(data, []byte("\n"))
	encodings := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = bytes.TrimSuffix(seg, []byte("\r"))
		encodings = append(encodings, classifySegment(seg))
	}
	return encodings
}

// classifySegment 单行编码判定，纯 ASCII 行两种编码下都合法，单独归类
func classifySegment(seg []byte) string {
	switch {
	case isASCII(seg):
		return "ascii"
	case utf8.Valid(seg):
		return "utf-8"
	case isGBKPairs(seg):
		return "gbk"
	default:
		return "unknown"
	}
}

// isGBKPairs 判断非 ASCII 字节是否全部构成合法 GBK 双字节序列
func isGBKPairs(seg []byte) bool {
	for i := 0; i < len(seg); {
		b := seg[i]
		if b <= 0x7F {
			i++
			continue
		}
		if b < 0x81 || b == 0xFF || i+1 >= len(seg) {
			return false
		}
		trail := seg[i+1]
		if trail < 0x40 || trail == 0x7F || trail == 0xFF {
			return false
		}
		i += 2
	}
	return true
}

// ============================================================
// HTML 剥离
// ============================================================

// looksLikeHTML 判断内容是否为 HTML 包装
func looksLikeHTML(content string) bool {
	head := strings.ToLower(strings.TrimSpace(content))
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html")
}

// stripHTML 提取 HTML 中的纯文本
func stripHTML(content string) string {
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(content))

	skipDepth := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String()

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				skipDepth++
			case "br", "p", "div", "tr", "li":
				sb.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if n := string(name); (n == "script" || n == "style") && skipDepth > 0 {
				skipDepth--
			}

		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tokenizer.Text())
			}
		}
	}
}

// ============================================================
// 行拆分
// ============================================================

// countEndings 统计行尾类型
func countEndings(content string) Endings {
	var e Endings
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\r':
			if i+1 < len(content) && content[i+1] == '\n' {
				e.CRLF++
				i++
			} else {
				e.CR++
			}
		case '\n':
			e.LF++
		}
	}
	return e
}

// splitLines 按行拆分并统计行尾空白
func splitLines(content string) []Line {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	raw := strings.Split(normalized, "\n")
	lines := make([]Line, 0, len(raw))

	for i, text := range raw {
		trailing := 0
		for j := len(text) - 1; j >= 0; j-- {
			if text[j] == ' ' || text[j] == '\t' {
				trailing++
			} else {
				break
			}
		}
		lines = append(lines, Line{
			Number:        i + 1,
			Text:          text,
			TrailingSpace: trailing,
		})
	}

	return lines
}
