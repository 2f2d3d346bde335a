package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// ============================================================
// Word 家族检测项
// ============================================================

var wordChecks = []Check{
	{Method: "word/hidden_text", Run: checkWordHiddenText},
	{Method: "word/revision_manipulation", Run: checkWordRevisions},
	{Method: "word/track_changes_anomaly", Run: checkWordTrackChanges},
	{Method: "word/metadata_inconsistency", Run: checkWordMetadata},
	{Method: "word/template_injection", Run: checkWordTemplate},
	{Method: "word/font_inconsistency", Run: checkWordFonts},
	{Method: "word/field_code_abuse", Run: checkWordFieldCodes},
}

func wordView(view parser.View) (*parser.WordView, error) {
	v, ok := view.(*parser.WordView)
	if !ok {
		return nil, fmt.Errorf("结构视图类型不匹配: %T", view)
	}
	return v, nil
}

// ============================================================
// 隐藏文本
// ============================================================

// checkWordHiddenText 检测颜色伪装与 vanish 属性隐藏的文本
func checkWordHiddenText(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := wordView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, para := range doc.Paragraphs {
		for _, run := range para.Runs {
			text := strings.TrimSpace(run.Text)
			if len([]rune(text)) < cal.Word.HiddenTextMinRunLen {
				continue
			}

			reason := hiddenReason(doc, para, run)
			if reason == "" {
				continue
			}

			conf := scaleConf(len([]rune(text)),
				cal.Word.HiddenTextFullConfLen,
				cal.Word.HiddenTextBaseConf,
				cal.Word.HiddenTextMaxConf)

			ind := model.NewIndicator(model.KindHiddenText, "word/hidden_text",
				fmt.Sprintf("段落 %d 存在隐藏文本 (%s)", para.Index, reason),
				model.SeverityHigh, conf).
				WithLocation(&model.Location{Paragraph: para.Index, Run: run.Index}).
				WithEvidence("hidden_text", truncate(text, 200)).
				WithEvidence("reason", reason)
			indicators = append(indicators, ind)
		}
	}

	return indicators, nil
}

// hiddenReason 判定文本段被隐藏的方式，未隐藏返回空串
func hiddenReason(doc *parser.WordView, para parser.Paragraph, run parser.Run) string {
	if run.Vanish {
		return "vanish属性"
	}

	color := run.Color
	if color == "" || color == "AUTO" {
		return ""
	}

	// 文字颜色与底纹/背景同色
	background := firstNonEmpty(run.Shading, para.Shading, doc.Background)
	if background != "" && color == background {
		return "文字与底纹同色"
	}

	// 白字无底纹視同白底白字
	if color == "FFFFFF" && background == "" {
		return "白底白字"
	}

	// 突出显示色与文字同色（如黑底黑字）
	if run.Highlight != "" && namedColorHex(run.Highlight) == color {
		return "文字与突出显示同色"
	}

	return ""
}

// namedColorHex 常见突出显示命名色的十六进制值
func namedColorHex(name string) string {
	switch name {
	case "black":
		return "000000"
	case "white":
		return "FFFFFF"
	case "red":
		return "FF0000"
	case "yellow":
		return "FFFF00"
	case "green":
		return "00FF00"
	case "blue":
		return "0000FF"
	default:
		return ""
	}
}

// ============================================================
// 修订痕迹
// ============================================================

// checkWordRevisions 检测多作者短时密集修订
func checkWordRevisions(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := wordView(view)
	if err != nil {
		return nil, err
	}

	// 带时间戳的修订按时间排序
	var timed []parser.RevisionMark
	authors := make(map[string]bool)
	for _, rev := range doc.Revisions {
		if rev.Author != "" {
			authors[rev.Author] = true
		}
		if !rev.Date.IsZero() {
			timed = append(timed, rev)
		}
	}
	if len(authors) < 2 || len(timed) < 2 {
		return nil, nil
	}

	sort.Slice(timed, func(i, j int) bool { return timed[i].Date.Before(timed[j].Date) })

	rapid := 0
	for i := 1; i < len(timed); i++ {
		if timed[i].Author != timed[i-1].Author &&
			timed[i].Date.Sub(timed[i-1].Date) < cal.Word.RapidRevisionDelta {
			rapid++
		}
	}
	if rapid == 0 {
		return nil, nil
	}

	conf := scaleConf(rapid, 5, cal.Word.RevisionBaseConf, cal.Word.RevisionMaxConf)
	ind := model.NewIndicator(model.KindRevisionManipulation, "word/revision_manipulation",
		fmt.Sprintf("%d 位作者在极短间隔内交替修订 %d 次", len(authors), rapid),
		model.SeverityMedium, conf).
		WithEvidence("author_count", fmt.Sprintf("%d", len(authors))).
		WithEvidence("rapid_pairs", fmt.Sprintf("%d", rapid))
	return []model.Indicator{ind}, nil
}

func matchSignificantToken(text string, tokens []string) string {
	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	}) {
		words[w] = true
	}

	for _, token := range tokens {
		t := strings.ToLower(token)
		// 纯字母 token 按整词匹配，避免 "no" 命中 "note" 这类误报
		if isASCIIAlpha(t) {
			if words[t] {
				return token
			}
			continue
		}
		if strings.Contains(lower, t) {
			return token
		}
	}
	return ""
}

func isASCIIAlpha(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

// ============================================================
// 修订轨迹异常
// ============================================================

// checkWordTrackChanges 检测带删除痕迹的修订，按删除内容的语义分级
func checkWordTrackChanges(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := wordView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, rev := range doc.Revisions {
		if rev.Kind != "del" || strings.TrimSpace(rev.Text) == "" {
			continue
		}

		token := matchSignificantToken(rev.Text, cal.Word.SignificantTokens)
		if token != "" {
			ind := model.NewIndicator(model.KindTrackChangesAnomaly, "word/track_changes_anomaly",
				fmt.Sprintf("修订删除了含关键语义的内容 (命中 %q)", token),
				model.SeverityHigh, 0.85).
				WithLocation(&model.Location{Paragraph: rev.Paragraph}).
				WithEvidence("deleted_text", truncate(rev.Text, 200)).
				WithEvidence("author", rev.Author).
				WithEvidence("token", token)
			indicators = append(indicators, ind)
			continue
		}

		ind := model.NewIndicator(model.KindTrackChangesAnomaly, "word/track_changes_anomaly",
			"修订删除了正文内容",
			model.SeverityLow, 0.5).
			WithLocation(&model.Location{Paragraph: rev.Paragraph}).
			WithEvidence("deleted_text", truncate(rev.Text, 200)).
			WithEvidence("author", rev.Author)
		indicators = append(indicators, ind)
	}

	return indicators, nil
}

// ============================================================
// 元数据
// ============================================================

// checkWordMetadata 检测核心元数据自相矛盾
func checkWordMetadata(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := wordView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator
	core := doc.Core

	// 创建时间晚于修改时间
	if !core.Created.IsZero() && !core.Modified.IsZero() &&
		core.Created.Sub(core.Modified) > cal.Word.MetadataClockSkew {
		ind := model.NewIndicator(model.KindMetadataInconsistency, "word/metadata_inconsistency",
			"创建时间晚于最后修改时间",
			model.SeverityMedium, 0.8).
			WithEvidence("created", core.Created.Format("2006-01-02T15:04:05Z07:00")).
			WithEvidence("modified", core.Modified.Format("2006-01-02T15:04:05Z07:00"))
		indicators = append(indicators, ind)
	}

	// 声称仅一次保存却带大量修订痕迹
	if core.Revision == 1 && len(doc.Revisions) >= 3 {
		ind := model.NewIndicator(model.KindMetadataInconsistency, "word/metadata_inconsistency",
			fmt.Sprintf("修订号为 1 但文档含 %d 处修订痕迹", len(doc.Revisions)),
			model.SeverityMedium, 0.7).
			WithEvidence("revision_number", "1").
			WithEvidence("revision_marks", fmt.Sprintf("%d", len(doc.Revisions)))
		indicators = append(indicators, ind)
	}

	// 创建者为空但存在修改者
	if core.Creator == "" && core.LastModifiedBy != "" {
		ind := model.NewIndicator(model.KindMetadataInconsistency, "word/metadata_inconsistency",
			"创建者字段被清空但保留了最后修改者",
			model.SeverityMedium, 0.6).
			WithEvidence("last_modified_by", core.LastModifiedBy)
		indicators = append(indicators, ind)
	}

	return indicators, nil
}

// ============================================================
// 外挂模板
// ============================================================

// checkWordTemplate 检测指向外部位置的模板注入
func checkWordTemplate(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := wordView(view)
	if err != nil {
		return nil, err
	}

	target := doc.AttachedTemplate
	if target == "" {
		return nil, nil
	}

	lower := strings.ToLower(target)
	severity := model.SeverityMedium
	conf := 0.6
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "\\\\") || strings.HasPrefix(lower, "file://") {
		severity = model.SeverityCritical
		conf = 0.95
	}

	ind := model.NewIndicator(model.KindTemplateInjection, "word/template_injection",
		"文档外挂了非默认模板",
		severity, conf).
		WithEvidence("template_target", truncate(target, 300))
	return []model.Indicator{ind}, nil
}

// ============================================================
// 字体一致性
// ============================================================

// checkWordFonts 检测段内孤立偏离的字体或字号
func checkWordFonts(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := wordView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, para := range doc.Paragraphs {
		if len(para.Runs) < 3 {
			continue
		}

		fonts := make(map[string]int)
		for _, run := range para.Runs {
			if run.Font != "" && strings.TrimSpace(run.Text) != "" {
				fonts[run.Font]++
			}
		}
		if len(fonts) < 2 {
			continue
		}

		dominant, dominantCount := "", 0
		for font, count := range fonts {
			if count > dominantCount {
				dominant, dominantCount = font, count
			}
		}
		// 主字体须占明显多数，孤立偏离才有意义
		if dominantCount*2 < len(para.Runs) {
			continue
		}

		for _, run := range para.Runs {
			if run.Font == "" || run.Font == dominant || strings.TrimSpace(run.Text) == "" {
				continue
			}
			if fonts[run.Font] > 1 {
				continue
			}
			ind := model.NewIndicator(model.KindFontInconsistency, "word/font_inconsistency",
				fmt.Sprintf("段落 %d 中孤立文本段字体偏离 (%s vs %s)", para.Index, run.Font, dominant),
				model.SeverityLow, 0.55).
				WithLocation(&model.Location{Paragraph: para.Index, Run: run.Index}).
				WithEvidence("run_font", run.Font).
				WithEvidence("dominant_font", dominant).
				WithEvidence("text", truncate(run.Text, 100))
			indicators = append(indicators, ind)
		}
	}

	return indicators, nil
}

// ============================================================
// 域代码
// ============================================================

// checkWordFieldCodes 检测危险域指令
func checkWordFieldCodes(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := wordView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, field := range doc.FieldCodes {
		upper := strings.ToUpper(field.Instruction)

		var severity model.Severity
		var conf float64
		var desc string

		switch {
		case strings.Contains(upper, "DDEAUTO") || strings.Contains(upper, "DDE "):
			severity, conf = model.SeverityCritical, 0.95
			desc = "域指令包含 DDE 命令执行"
		case strings.Contains(upper, "INCLUDETEXT") || strings.Contains(upper, "INCLUDEPICTURE"):
			if strings.Contains(upper, "HTTP://") || strings.Contains(upper, "HTTPS://") ||
				strings.Contains(upper, "\\\\") {
				severity, conf = model.SeverityHigh, 0.85
				desc = "域指令从外部位置引入内容"
			} else {
				continue
			}
		default:
			continue
		}

		ind := model.NewIndicator(model.KindFieldCodeAbuse, "word/field_code_abuse",
			desc, severity, conf).
			WithLocation(&model.Location{Paragraph: field.Paragraph}).
			WithEvidence("instruction", truncate(field.Instruction, 300))
		indicators = append(indicators, ind)
	}

	return indicators, nil
}

// ============================================================
// 共用工具
// ============================================================

// scaleConf 按数量在 [base, max] 间线性插值
func scaleConf(n, full int, base, max float64) float64 {
	if full <= 0 || n >= full {
		return max
	}
	return base + (max-base)*float64(n)/float64(full)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
