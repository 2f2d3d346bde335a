package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// ============================================================
// 文本家族检测项
// ============================================================

var textChecks = []Check{
	{Method: "text/encoding_manipulation", Run: checkTextEncoding},
	{Method: "text/invisible_characters", Run: checkTextInvisible},
	{Method: "text/homoglyph_attack", Run: checkTextHomoglyphs},
	{Method: "text/bidi_override", Run: checkTextBidi},
	{Method: "text/null_byte_injection", Run: checkTextNullBytes},
	{Method: "text/whitespace_steganography", Run: checkTextWhitespace},
	{Method: "text/line_ending_inconsistency", Run: checkTextLineEndings},
}

func textView(view parser.View) (*parser.TextView, error) {
	v, ok := view.(*parser.TextView)
	if !ok {
		return nil, fmt.Errorf("结构视图类型不匹配: %T", view)
	}
	return v, nil
}

// ============================================================
// 编码伪装
// ============================================================

// checkTextEncoding 检测编码层面的伪装痕迹
func checkTextEncoding(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := textView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	// 行级编码混用：同一文件既有 UTF-8 行又有 GBK 行
	if ind, ok := mixedEncodingIndicator(doc); ok {
		indicators = append(indicators, ind)
	}

	// BOM 后紧跟再一个 BOM 码位 (U+FEFF) 属于编辑拼接痕迹
	interior := strings.Count(doc.Content, "\uFEFF")
	if doc.HasBOM && interior > 0 {
		ind := model.NewIndicator(model.KindEncodingManipulation, "text/encoding_manipulation",
			fmt.Sprintf("文件内部出现 %d 个多余的字节序标记", interior),
			model.SeverityMedium, 0.75).
			WithEvidence("interior_bom_count", fmt.Sprintf("%d", interior)).
			WithEvidence("encoding", doc.Encoding)
		indicators = append(indicators, ind)
	}
	if !doc.HasBOM && interior > 0 {
		ind := model.NewIndicator(model.KindEncodingManipulation, "text/encoding_manipulation",
			"无 BOM 文件的正文中出现字节序标记码位",
			model.SeverityMedium, 0.7).
			WithEvidence("interior_bom_count", fmt.Sprintf("%d", interior)).
			WithEvidence("encoding", doc.Encoding)
		indicators = append(indicators, ind)
	}

	// 替换字符说明源字节在声明编码下不可解码
	if n := strings.Count(doc.Content, "�"); n > 0 {
		ind := model.NewIndicator(model.KindEncodingManipulation, "text/encoding_manipulation",
			fmt.Sprintf("文本含 %d 个不可解码字节 (替换字符)", n),
			model.SeverityLow, 0.55).
			WithEvidence("replacement_count", fmt.Sprintf("%d", n)).
			WithEvidence("encoding", doc.Encoding)
		indicators = append(indicators, ind)
	}

	return indicators, nil
}

// mixedEncodingIndicator 统计行级编码分布，UTF-8 与 GBK 并存即为混用
func mixedEncodingIndicator(doc *parser.TextView) (model.Indicator, bool) {
	utf8Lines, gbkLines := 0, 0
	for _, enc := range doc.SegmentEncodings {
		switch enc {
		case "utf-8":
			utf8Lines++
		case "gbk":
			gbkLines++
		}
	}
	if utf8Lines == 0 || gbkLines == 0 {
		return model.Indicator{}, false
	}

	// 定位到少数派编码的首行
	minority := "gbk"
	if gbkLines > utf8Lines {
		minority = "utf-8"
	}
	firstLine := 0
	for i, enc := range doc.SegmentEncodings {
		if enc == minority {
			firstLine = i + 1
			break
		}
	}

	ind := model.NewIndicator(model.KindEncodingManipulation, "text/encoding_manipulation",
		fmt.Sprintf("同一文件混用多种编码 (utf-8 %d 行, gbk %d 行)", utf8Lines, gbkLines),
		model.SeverityMedium, 0.8).
		WithLocation(&model.Location{Line: firstLine}).
		WithEvidence("utf8_lines", fmt.Sprintf("%d", utf8Lines)).
		WithEvidence("gbk_lines", fmt.Sprintf("%d", gbkLines))
	return ind, true
}

// ============================================================
// 不可见字符
// ============================================================

// invisibleRunes 不承担排版职责的零宽/控制类码位
var invisibleRunes = map[rune]string{
	'​': "零宽空格",
	'‌': "零宽不连字",
	'‍': "零宽连字",
	'⁠': "词连接符",
	'\uFEFF': "零宽不换行空格",
	'­': "软连字符",
	'᠎': "蒙文元音分隔符",
}

// checkTextInvisible 检测零宽与不可见字符
func checkTextInvisible(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := textView(view)
	if err != nil {
		return nil, err
	}

	counts := make(map[rune]int)
	total := 0
	firstLine := 0

	for _, line := range doc.Lines {
		for _, r := range line.Text {
			if _, ok := invisibleRunes[r]; ok {
				counts[r]++
				total++
				if firstLine == 0 {
					firstLine = line.Number
				}
			}
		}
	}
	if total == 0 {
		return nil, nil
	}

	contentLen := len([]rune(doc.Content))
	density := 0.0
	if contentLen > 0 {
		density = float64(total) / float64(contentLen)
	}
	conf := 0.6 + 0.35*minFloat(density/cal.Text.InvisibleFullConfDensity, 1.0)

	var runes []rune
	for r := range counts {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	var names []string
	for _, r := range runes {
		names = append(names, fmt.Sprintf("%s(U+%04X)x%d", invisibleRunes[r], r, counts[r]))
	}

	ind := model.NewIndicator(model.KindInvisibleCharacters, "text/invisible_characters",
		fmt.Sprintf("文本含 %d 个不可见字符", total),
		model.SeverityHigh, conf).
		WithLocation(&model.Location{Line: firstLine}).
		WithEvidence("total", fmt.Sprintf("%d", total)).
		WithEvidence("kinds", strings.Join(names, ", "))
	return []model.Indicator{ind}, nil
}

// ============================================================
// 同形字符
// ============================================================

// checkTextHomoglyphs 检测同一词内混合书写系统的同形字符替换
func checkTextHomoglyphs(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := textView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, line := range doc.Lines {
		for _, token := range strings.FieldsFunc(line.Text, func(r rune) bool {
			return !unicode.IsLetter(r)
		}) {
			if len([]rune(token)) < cal.Text.HomoglyphMinTokenLen {
				continue
			}
			mixed, scripts := mixedScripts(token)
			if !mixed {
				continue
			}

			ind := model.NewIndicator(model.KindHomoglyphAttack, "text/homoglyph_attack",
				fmt.Sprintf("词 %q 混合了多个书写系统 (%s)", token, strings.Join(scripts, "+")),
				model.SeverityMedium, 0.85).
				WithLocation(&model.Location{Line: line.Number}).
				WithEvidence("token", token).
				WithEvidence("scripts", strings.Join(scripts, ",")).
				WithEvidence("normalized", norm.NFKC.String(token))
			indicators = append(indicators, ind)

			if len(indicators) >= 20 {
				return indicators, nil
			}
		}
	}

	return indicators, nil
}

// mixedScripts 判定词内是否同时出现拉丁与西里尔/希腊字母
func mixedScripts(token string) (bool, []string) {
	var hasLatin, hasCyrillic, hasGreek bool
	for _, r := range token {
		switch {
		case unicode.Is(unicode.Latin, r):
			hasLatin = true
		case unicode.Is(unicode.Cyrillic, r):
			hasCyrillic = true
		case unicode.Is(unicode.Greek, r):
			hasGreek = true
		}
	}

	var scripts []string
	if hasLatin {
		scripts = append(scripts, "Latin")
	}
	if hasCyrillic {
		scripts = append(scripts, "Cyrillic")
	}
	if hasGreek {
		scripts = append(scripts, "Greek")
	}
	return hasLatin && (hasCyrillic || hasGreek), scripts
}

// ============================================================
// 双向覆盖
// ============================================================

var bidiRunes = map[rune]string{
	'‪': "LRE",
	'‫': "RLE",
	'‬': "PDF",
	'‭': "LRO",
	'‮': "RLO",
	'⁦': "LRI",
	'⁧': "RLI",
	'⁨': "FSI",
	'⁩': "PDI",
}

// checkTextBidi 检测双向文本控制符
func checkTextBidi(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := textView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, line := range doc.Lines {
		var hits []string
		hasOverride := false
		for _, r := range line.Text {
			if name, ok := bidiRunes[r]; ok {
				hits = append(hits, name)
				if r == '‭' || r == '‮' {
					hasOverride = true
				}
			}
		}
		if len(hits) == 0 {
			continue
		}

		// RLO/LRO 强制改写显示顺序，危害最大
		severity := model.SeverityMedium
		conf := 0.7
		if hasOverride {
			severity = model.SeverityHigh
			conf = 0.9
		}

		ind := model.NewIndicator(model.KindBidiOverride, "text/bidi_override",
			fmt.Sprintf("行 %d 含双向文本控制符 (%s)", line.Number, strings.Join(hits, ",")),
			severity, conf).
			WithLocation(&model.Location{Line: line.Number}).
			WithEvidence("controls", strings.Join(hits, ",")).
			WithEvidence("line_text", truncate(line.Text, 150))
		indicators = append(indicators, ind)
	}

	return indicators, nil
}

// ============================================================
// 空字节
// ============================================================

// checkTextNullBytes 检测文本流中的空字节注入
func checkTextNullBytes(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := textView(view)
	if err != nil {
		return nil, err
	}

	// UTF-16 编码自身含大量 0x00，不构成注入
	if strings.HasPrefix(doc.Encoding, "utf-16") {
		return nil, nil
	}
	if len(doc.NullBytes) == 0 {
		return nil, nil
	}

	ind := model.NewIndicator(model.KindNullByteInjection, "text/null_byte_injection",
		fmt.Sprintf("文本流中发现 %d 个空字节", len(doc.NullBytes)),
		model.SeverityHigh, 0.9).
		WithLocation(&model.Location{Offset: doc.NullBytes[0]}).
		WithEvidence("count", fmt.Sprintf("%d", len(doc.NullBytes))).
		WithEvidence("first_offset", fmt.Sprintf("%d", doc.NullBytes[0]))
	return []model.Indicator{ind}, nil
}

// ============================================================
// 空白隐写
// ============================================================

// checkTextWhitespace 检测行尾空白构成的隐写通道
func checkTextWhitespace(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := textView(view)
	if err != nil {
		return nil, err
	}

	trailing := 0
	varied := make(map[int]bool)
	firstLine := 0
	for _, line := range doc.Lines {
		if line.TrailingSpace > 0 {
			trailing++
			varied[line.TrailingSpace] = true
			if firstLine == 0 {
				firstLine = line.Number
			}
		}
	}

	// 少量行尾空白是常见的编辑残留；数量多且宽度有变化才像编码通道
	if trailing < cal.Text.TrailingSpaceMinLines || len(varied) < 2 {
		return nil, nil
	}

	conf := 0.55 + 0.3*minFloat(float64(trailing)/float64(cal.Text.TrailingSpaceMinLines*4), 1.0)
	ind := model.NewIndicator(model.KindWhitespaceSteganography, "text/whitespace_steganography",
		fmt.Sprintf("%d 行带宽度不一的行尾空白", trailing),
		model.SeverityMedium, conf).
		WithLocation(&model.Location{Line: firstLine}).
		WithEvidence("line_count", fmt.Sprintf("%d", trailing)).
		WithEvidence("width_variants", fmt.Sprintf("%d", len(varied)))
	return []model.Indicator{ind}, nil
}

// ============================================================
// 行尾不一致
// ============================================================

// checkTextLineEndings 检测混用的行尾风格
func checkTextLineEndings(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := textView(view)
	if err != nil {
		return nil, err
	}

	e := doc.LineEndings
	styles := 0
	for _, n := range []int{e.LF, e.CRLF, e.CR} {
		if n > 0 {
			styles++
		}
	}
	if styles < 2 {
		return nil, nil
	}

	// 混用本身是弱信号，份额接近时更可疑
	total := e.LF + e.CRLF + e.CR
	minority := minInt3(nonZeroOr(e.LF, total), nonZeroOr(e.CRLF, total), nonZeroOr(e.CR, total))
	conf := 0.4 + 0.3*minFloat(float64(minority)/float64(total)*4, 1.0)

	ind := model.NewIndicator(model.KindLineEndingInconsistency, "text/line_ending_inconsistency",
		fmt.Sprintf("混用 %d 种行尾风格 (LF=%d CRLF=%d CR=%d)", styles, e.LF, e.CRLF, e.CR),
		model.SeverityLow, conf).
		WithEvidence("lf", fmt.Sprintf("%d", e.LF)).
		WithEvidence("crlf", fmt.Sprintf("%d", e.CRLF)).
		WithEvidence("cr", fmt.Sprintf("%d", e.CR))
	return []model.Indicator{ind}, nil
}

// ============================================================
// 工具
// ============================================================

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func nonZeroOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func minInt3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
