package analyzer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// ============================================================
// Excel 家族检测项
// ============================================================

var excelChecks = []Check{
	{Method: "excel/formula_tampering", Run: checkExcelFormulas},
	{Method: "excel/hidden_content", Run: checkExcelHidden},
	{Method: "excel/validation_bypass", Run: checkExcelValidations},
	{Method: "excel/cell_format_masking", Run: checkExcelFormatMasking},
	{Method: "excel/external_reference", Run: checkExcelExternalRefs},
	{Method: "excel/merged_cell_masking", Run: checkExcelMergedCells},
}

func excelView(view parser.View) (*parser.ExcelView, error) {
	v, ok := view.(*parser.ExcelView)
	if !ok {
		return nil, fmt.Errorf("结构视图类型不匹配: %T", view)
	}
	return v, nil
}

// ============================================================
// 公式重算
// ============================================================

// checkExcelFormulas 重算公式并与缓存值比对
func checkExcelFormulas(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	wb, err := excelView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for si := range wb.Sheets {
		sheet := &wb.Sheets[si]
		values := cellValueMap(sheet)

		for _, cell := range sheet.Cells {
			if cell.Formula == "" || cell.RawValue == "" {
				continue
			}
			cached, err := strconv.ParseFloat(cell.RawValue, 64)
			if err != nil {
				continue // 非数值缓存，重算不适用
			}

			computed, ok := evalFormula(cell.Formula, values)
			if !ok {
				continue // 超出求值器能力，静默跳过
			}

			diff := math.Abs(computed - cached)
			scale := math.Max(math.Abs(computed), math.Abs(cached))
			relErr := diff
			if scale > 1 {
				relErr = diff / scale
			}
			if relErr <= cal.Excel.FormulaTolerance {
				continue
			}

			conf := 0.7 + 0.25*math.Min(relErr/cal.Excel.FormulaFullConfRatio, 1.0)
			ind := model.NewIndicator(model.KindFormulaTampering, "excel/formula_tampering",
				fmt.Sprintf("单元格 %s 缓存值与公式重算结果不符", cell.Ref),
				model.SeverityHigh, conf).
				WithLocation(&model.Location{Sheet: sheet.Name, Cell: cell.Ref}).
				WithEvidence("formula", cell.Formula).
				WithEvidence("cached_value", cell.RawValue).
				WithEvidence("computed_value", strconv.FormatFloat(computed, 'g', -1, 64))
			indicators = append(indicators, ind)
		}
	}

	return indicators, nil
}

func cellValueMap(sheet *parser.Sheet) map[string]float64 {
	values := make(map[string]float64, len(sheet.Cells))
	for _, cell := range sheet.Cells {
		if v, err := strconv.ParseFloat(cell.RawValue, 64); err == nil {
			values[cell.Ref] = v
		}
	}
	return values
}

// ============================================================
// 隐藏内容
// ============================================================

// checkExcelHidden 检测隐藏工作表/行/列中的非空内容
func checkExcelHidden(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	wb, err := excelView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for si := range wb.Sheets {
		sheet := &wb.Sheets[si]

		if sheet.Hidden {
			nonEmpty := countNonEmpty(sheet.Cells)
			severity := model.SeverityMedium
			conf := 0.7
			if sheet.VeryHidden {
				// veryHidden 无法通过界面取消隐藏，蓄意性更强
				severity = model.SeverityHigh
				conf = 0.85
			}
			if nonEmpty > 0 {
				ind := model.NewIndicator(model.KindHiddenContent, "excel/hidden_content",
					fmt.Sprintf("隐藏工作表 %q 含 %d 个非空单元格", sheet.Name, nonEmpty),
					severity, conf).
					WithLocation(&model.Location{Sheet: sheet.Name}).
					WithEvidence("cell_count", fmt.Sprintf("%d", nonEmpty)).
					WithEvidence("very_hidden", fmt.Sprintf("%t", sheet.VeryHidden))
				indicators = append(indicators, ind)
			}
		}

		hiddenRows := make(map[int]bool, len(sheet.HiddenRows))
		for _, r := range sheet.HiddenRows {
			hiddenRows[r] = true
		}
		hiddenCols := make(map[string]bool, len(sheet.HiddenCols))
		for _, c := range sheet.HiddenCols {
			hiddenCols[c] = true
		}

		rowHits, colHits := 0, 0
		var sample string
		for _, cell := range sheet.Cells {
			if cell.Value == "" {
				continue
			}
			if hiddenRows[cell.Row] {
				rowHits++
				if sample == "" {
					sample = cell.Ref
				}
			}
			if hiddenCols[cell.Col] {
				colHits++
				if sample == "" {
					sample = cell.Ref
				}
			}
		}
		if rowHits+colHits > 0 {
			ind := model.NewIndicator(model.KindHiddenContent, "excel/hidden_content",
				fmt.Sprintf("工作表 %q 的隐藏行/列中含 %d 个非空单元格", sheet.Name, rowHits+colHits),
				model.SeverityMedium, 0.65).
				WithLocation(&model.Location{Sheet: sheet.Name, Cell: sample}).
				WithEvidence("hidden_row_cells", fmt.Sprintf("%d", rowHits)).
				WithEvidence("hidden_col_cells", fmt.Sprintf("%d", colHits))
			indicators = append(indicators, ind)
		}
	}

	return indicators, nil
}

func countNonEmpty(cells []parser.Cell) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c.Value) != "" {
			n++
		}
	}
	return n
}

// ============================================================
// 数据验证
// ============================================================

// checkExcelValidations 检测被禁用或被违反的数据验证规则
func checkExcelValidations(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	wb, err := excelView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for si := range wb.Sheets {
		sheet := &wb.Sheets[si]

		for _, v := range sheet.Validations {
			// 空区域上的静默验证没有实际影响
			if !v.ShowErr && rangeHasValues(sheet, v.Range) {
				ind := model.NewIndicator(model.KindValidationBypass, "excel/validation_bypass",
					fmt.Sprintf("区域 %s 的数据验证不阻止非法输入", v.Range),
					model.SeverityMedium, 0.6).
					WithLocation(&model.Location{Sheet: sheet.Name, Cell: v.Range}).
					WithEvidence("validation_type", v.Type).
					WithEvidence("range", v.Range)
				indicators = append(indicators, ind)
			}

			// 数值范围类验证：逐格检查是否越界
			if violated, cellRef := validationViolation(sheet, v); violated {
				ind := model.NewIndicator(model.KindValidationBypass, "excel/validation_bypass",
					fmt.Sprintf("单元格 %s 的值违反数据验证规则", cellRef),
					model.SeverityMedium, 0.75).
					WithLocation(&model.Location{Sheet: sheet.Name, Cell: cellRef}).
					WithEvidence("validation_type", v.Type).
					WithEvidence("operator", v.Operator)
				indicators = append(indicators, ind)
			}
		}
	}

	return indicators, nil
}

// rangeHasValues 判断验证区域内是否存在非空单元格
func rangeHasValues(sheet *parser.Sheet, sqref string) bool {
	for _, cell := range sheet.Cells {
		if cell.Value == "" && cell.RawValue == "" {
			continue
		}
		if refInRange(cell.Ref, sqref) {
			return true
		}
	}
	return false
}

// validationViolation 对 whole/decimal 的 between 验证做逐格边界检查
func validationViolation(sheet *parser.Sheet, v parser.Validation) (bool, string) {
	if v.Type != "whole" && v.Type != "decimal" {
		return false, ""
	}
	if v.Operator != "" && v.Operator != "between" {
		return false, ""
	}

	lo, err1 := strconv.ParseFloat(v.Formula1, 64)
	hi, err2 := strconv.ParseFloat(v.Formula2, 64)
	if err1 != nil || err2 != nil {
		return false, ""
	}

	for _, cell := range sheet.Cells {
		if !refInRange(cell.Ref, v.Range) {
			continue
		}
		val, err := strconv.ParseFloat(cell.RawValue, 64)
		if err != nil {
			continue
		}
		if val < lo || val > hi {
			return true, cell.Ref
		}
	}
	return false, ""
}

// refInRange 判断 A1 引用是否落在 sqref 区域内
func refInRange(ref, sqref string) bool {
	col, row := splitRef(ref)
	for _, part := range strings.Fields(sqref) {
		bounds := strings.SplitN(part, ":", 2)
		c1, r1 := splitRef(bounds[0])
		c2, r2 := c1, r1
		if len(bounds) == 2 {
			c2, r2 = splitRef(bounds[1])
		}
		if colNum(col) >= colNum(c1) && colNum(col) <= colNum(c2) &&
			row >= r1 && row <= r2 {
			return true
		}
	}
	return false
}

// ============================================================
// 格式伪装
// ============================================================

// checkExcelFormatMasking 检测 ";;;" 自定义格式隐藏的单元格内容
func checkExcelFormatMasking(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	wb, err := excelView(view)
	if err != nil {
		return nil, err
	}

	// 找出隐藏一切显示的格式码对应的样式索引
	maskingStyles := make(map[int]bool)
	for styleIdx, numFmtID := range wb.CellStyles {
		code, ok := wb.NumFormats[numFmtID]
		if !ok {
			continue
		}
		if strings.TrimSpace(code) == ";;;" || strings.TrimSpace(code) == `"";"";""` {
			maskingStyles[styleIdx] = true
		}
	}
	if len(maskingStyles) == 0 {
		return nil, nil
	}

	var indicators []model.Indicator
	for si := range wb.Sheets {
		sheet := &wb.Sheets[si]
		for _, cell := range sheet.Cells {
			if cell.StyleIdx < 0 || !maskingStyles[cell.StyleIdx] {
				continue
			}
			if strings.TrimSpace(cell.Value) == "" {
				continue
			}
			ind := model.NewIndicator(model.KindCellFormatMasking, "excel/cell_format_masking",
				fmt.Sprintf("单元格 %s 使用显示抑制格式隐藏了内容", cell.Ref),
				model.SeverityMedium, 0.8).
				WithLocation(&model.Location{Sheet: sheet.Name, Cell: cell.Ref}).
				WithEvidence("masked_value", truncate(cell.Value, 100))
			indicators = append(indicators, ind)
		}
	}

	return indicators, nil
}

// ============================================================
// 外部引用
// ============================================================

// checkExcelExternalRefs 检测指向外部工作簿/位置的引用
func checkExcelExternalRefs(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	wb, err := excelView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, target := range wb.ExternalRefs {
		lower := strings.ToLower(target)
		severity := model.SeverityLow
		conf := 0.5
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
			strings.HasPrefix(lower, "\\\\") {
			severity = model.SeverityMedium
			conf = 0.7
		}
		ind := model.NewIndicator(model.KindExternalReference, "excel/external_reference",
			"工作簿引用了外部数据源", severity, conf).
			WithEvidence("target", truncate(target, 300))
		indicators = append(indicators, ind)
	}

	return indicators, nil
}

// ============================================================
// 合并单元格伪装
// ============================================================

// checkExcelMergedCells 检测合并区域覆盖下被遮蔽的非空单元格
func checkExcelMergedCells(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	wb, err := excelView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for si := range wb.Sheets {
		sheet := &wb.Sheets[si]

		for _, merged := range sheet.MergedCells {
			bounds := strings.SplitN(merged, ":", 2)
			if len(bounds) != 2 {
				continue
			}
			anchor := bounds[0]

			for _, cell := range sheet.Cells {
				if cell.Ref == anchor || !refInRange(cell.Ref, merged) {
					continue
				}
				if strings.TrimSpace(cell.Value) == "" {
					continue
				}
				// 合并显示只露出锚点，覆盖格里的值对读者不可见
				ind := model.NewIndicator(model.KindMergedCellMasking, "excel/merged_cell_masking",
					fmt.Sprintf("合并区域 %s 遮蔽了单元格 %s 的内容", merged, cell.Ref),
					model.SeverityMedium, 0.7).
					WithLocation(&model.Location{Sheet: sheet.Name, Cell: cell.Ref}).
					WithEvidence("merged_range", merged).
					WithEvidence("masked_value", truncate(cell.Value, 100))
				indicators = append(indicators, ind)
			}
		}
	}

	return indicators, nil
}

// ============================================================
// 公式求值器
// ============================================================

// evalFormula 对受支持的公式子集求值
// 支持: 四则运算、乘方、括号、单元格引用、SUM/AVERAGE/COUNT/MIN/MAX
func evalFormula(formula string, values map[string]float64) (float64, bool) {
	p := &formulaParser{input: strings.TrimPrefix(formula, "="), values: values}
	result, ok := p.parseExpr()
	if !ok {
		return 0, false
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, false
	}
	return result, true
}

type formulaParser struct {
	input  string
	pos    int
	values map[string]float64
}

func (p *formulaParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *formulaParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// parseExpr 加减
func (p *formulaParser) parseExpr() (float64, bool) {
	left, ok := p.parseTerm()
	if !ok {
		return 0, false
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, true
		}
		p.pos++
		right, ok := p.parseTerm()
		if !ok {
			return 0, false
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

// parseTerm 乘除
func (p *formulaParser) parseTerm() (float64, bool) {
	left, ok := p.parsePower()
	if !ok {
		return 0, false
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, true
		}
		p.pos++
		right, ok := p.parsePower()
		if !ok {
			return 0, false
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, false
			}
			left /= right
		}
	}
}

// parsePower 乘方 (右结合)
func (p *formulaParser) parsePower() (float64, bool) {
	base, ok := p.parseUnary()
	if !ok {
		return 0, false
	}
	p.skipSpace()
	if p.peek() != '^' {
		return base, true
	}
	p.pos++
	exp, ok := p.parsePower()
	if !ok {
		return 0, false
	}
	return math.Pow(base, exp), true
}

// parseUnary 一元负号
func (p *formulaParser) parseUnary() (float64, bool) {
	p.skipSpace()
	if p.peek() == '-' {
		p.pos++
		v, ok := p.parseUnary()
		return -v, ok
	}
	if p.peek() == '+' {
		p.pos++
		return p.parseUnary()
	}
	return p.parseAtom()
}

// parseAtom 数字、括号、单元格引用、函数调用
func (p *formulaParser) parseAtom() (float64, bool) {
	p.skipSpace()
	c := p.peek()

	switch {
	case c == '(':
		p.pos++
		v, ok := p.parseExpr()
		if !ok {
			return 0, false
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, false
		}
		p.pos++
		return v, true

	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()

	case c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z':
		return p.parseIdent()
	}

	return 0, false
}

func (p *formulaParser) parseNumber() (float64, bool) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' ||
			((c == '+' || c == '-') && p.pos > start &&
				(p.input[p.pos-1] == 'e' || p.input[p.pos-1] == 'E')) {
			p.pos++
		} else {
			break
		}
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	return v, err == nil
}

// parseIdent 标识符：函数名或单元格引用
func (p *formulaParser) parseIdent() (float64, bool) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			p.pos++
		} else {
			break
		}
	}
	ident := strings.ToUpper(p.input[start:p.pos])

	p.skipSpace()
	if p.peek() == '(' {
		return p.parseFunc(ident)
	}

	// 单元格引用
	if isCellRef(ident) {
		return p.values[ident], true
	}
	return 0, false
}

// parseFunc 聚合函数调用
func (p *formulaParser) parseFunc(name string) (float64, bool) {
	p.pos++ // '('

	var args []float64
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			break
		}

		// 区域参数 A1:B3
		if vals, ok, isRange := p.tryParseRange(); isRange {
			if !ok {
				return 0, false
			}
			args = append(args, vals...)
		} else {
			v, ok := p.parseExpr()
			if !ok {
				return 0, false
			}
			args = append(args, v)
		}

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return applyFunc(name, args)
		default:
			return 0, false
		}
		if p.peek() == 0 {
			return 0, false
		}
		continue
	}

	return applyFunc(name, args)
}

// tryParseRange 尝试解析 A1:B3 区域，返回 (值, 成功, 是区域)
func (p *formulaParser) tryParseRange() ([]float64, bool, bool) {
	save := p.pos
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			p.pos++
		} else {
			break
		}
	}
	first := strings.ToUpper(p.input[start:p.pos])
	if !isCellRef(first) || p.peek() != ':' {
		p.pos = save
		return nil, false, false
	}
	p.pos++ // ':'

	start = p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			p.pos++
		} else {
			break
		}
	}
	second := strings.ToUpper(p.input[start:p.pos])
	if !isCellRef(second) {
		p.pos = save
		return nil, false, false
	}

	return p.expandRange(first, second), true, true
}

// expandRange 展开区域内全部有值单元格
func (p *formulaParser) expandRange(from, to string) []float64 {
	c1, r1 := splitRef(from)
	c2, r2 := splitRef(to)

	colLo, colHi := colNum(c1), colNum(c2)
	if colLo > colHi {
		colLo, colHi = colHi, colLo
	}
	if r1 > r2 {
		r1, r2 = r2, r1
	}

	var vals []float64
	for col := colLo; col <= colHi; col++ {
		for row := r1; row <= r2; row++ {
			ref := colLetters(col) + strconv.Itoa(row)
			if v, ok := p.values[ref]; ok {
				vals = append(vals, v)
			}
		}
	}
	return vals
}

// applyFunc 执行聚合函数
func applyFunc(name string, args []float64) (float64, bool) {
	switch name {
	case "SUM":
		sum := 0.0
		for _, v := range args {
			sum += v
		}
		return sum, true
	case "AVERAGE":
		if len(args) == 0 {
			return 0, false
		}
		sum := 0.0
		for _, v := range args {
			sum += v
		}
		return sum / float64(len(args)), true
	case "COUNT":
		return float64(len(args)), true
	case "MIN":
		if len(args) == 0 {
			return 0, false
		}
		min := args[0]
		for _, v := range args[1:] {
			if v < min {
				min = v
			}
		}
		return min, true
	case "MAX":
		if len(args) == 0 {
			return 0, false
		}
		max := args[0]
		for _, v := range args[1:] {
			if v > max {
				max = v
			}
		}
		return max, true
	case "ABS":
		if len(args) != 1 {
			return 0, false
		}
		return math.Abs(args[0]), true
	case "ROUND":
		if len(args) != 2 {
			return 0, false
		}
		factor := math.Pow(10, args[1])
		return math.Round(args[0]*factor) / factor, true
	default:
		return 0, false
	}
}

// ============================================================
// 引用工具
// ============================================================

func isCellRef(s string) bool {
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i > 3 || i == len(s) {
		return false
	}
	for j := i; j < len(s); j++ {
		if s[j] < '0' || s[j] > '9' {
			return false
		}
	}
	return true
}

func splitRef(ref string) (string, int) {
	i := 0
	for i < len(ref) && ((ref[i] >= 'A' && ref[i] <= 'Z') || ref[i] == '$') {
		i++
	}
	col := strings.ReplaceAll(ref[:i], "$", "")
	row, _ := strconv.Atoi(strings.ReplaceAll(ref[i:], "$", ""))
	return col, row
}

func colNum(col string) int {
	n := 0
	for i := 0; i < len(col); i++ {
		n = n*26 + int(col[i]-'A'+1)
	}
	return n
}

func colLetters(n int) string {
	var sb []byte
	for n > 0 {
		n--
		sb = append([]byte{byte('A' + n%26)}, sb...)
		n /= 26
	}
	return string(sb)
}
