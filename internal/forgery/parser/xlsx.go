package parser

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
)

// ============================================================
// Excel 结构视图
// ============================================================

// ExcelView Excel 工作簿结构视图
type ExcelView struct {
	Sheets       []Sheet           // 工作表
	SharedString []string          // 共享字符串表
	NumFormats   map[int]string    // 自定义数字格式 (numFmtId -> 格式码)
	CellStyles   []int             // cellXfs 中每个样式引用的 numFmtId
	ExternalRefs []string          // 外部工作簿引用目标
	DefinedNames map[string]string // 已定义名称
}

// DocType 实现 View 接口
func (v *ExcelView) DocType() model.DocumentType { return model.DocExcel }

// Sheet 工作表
type Sheet struct {
	Name        string       // 工作表名
	Hidden      bool         // hidden 或 veryHidden
	VeryHidden  bool         // veryHidden
	Cells       []Cell       // 单元格 (按出现顺序)
	HiddenRows  []int        // 隐藏行号 (1开始)
	HiddenCols  []string     // 隐藏列标 (A/B/...)
	MergedCells []string     // 合并区域引用 (如 A1:C3)
	Validations []Validation // 数据验证规则
}

// Cell 单元格
type Cell struct {
	Ref      string // 引用 (A1)
	Row      int    // 行号 (1开始)
	Col      string // 列标
	Type     string // t 属性 (s=共享字符串, str, b, e, n/空=数值)
	Value    string // 缓存值 (共享字符串已解引用)
	RawValue string // 原始 v 内容
	Formula  string // 公式 (不含=前缀)
	StyleIdx int    // 样式索引 (-1 表示无)
}

// Validation 数据验证规则
type Validation struct {
	Range    string // 作用区域
	Type     string // 验证类型
	Operator string // 比较操作符
	Formula1 string // 条件公式1
	Formula2 string // 条件公式2
	ShowErr  bool   // 是否阻止非法输入 (showErrorMessage)
}

// ============================================================
// 解析入口
// ============================================================

// ParseExcel 解析 OOXML 电子表格
func ParseExcel(data []byte) (*ExcelView, error) {
	zr, err := openOOXML(data)
	if err != nil {
		return nil, err
	}

	workbookXML, err := readZipEntry(zr, "xl/workbook.xml", int64(len(data)))
	if err != nil {
		return nil, err
	}
	if workbookXML == nil {
		return nil, errors.New(errors.ErrParseFailed, "缺少 xl/workbook.xml").
			WithComponent("parser")
	}

	view := &ExcelView{
		NumFormats:   make(map[int]string),
		DefinedNames: make(map[string]string),
	}

	// 共享字符串表
	if sstXML, err := readZipEntry(zr, "xl/sharedStrings.xml", int64(len(data))); err == nil && sstXML != nil {
		view.SharedString = parseSharedStrings(sstXML)
	}

	// 样式表
	if stylesXML, err := readZipEntry(zr, "xl/styles.xml", int64(len(data))); err == nil && stylesXML != nil {
		parseStyles(stylesXML, view)
	}

	// 工作簿：表清单与隐藏状态
	sheetMeta, err := parseWorkbook(workbookXML, view)
	if err != nil {
		return nil, errors.ParseError("excel", err)
	}

	// 工作簿关系：sheet rId -> 部件路径，外部引用
	relTargets := map[string]string{}
	if relsXML, err := readZipEntry(zr, "xl/_rels/workbook.xml.rels", int64(len(data))); err == nil && relsXML != nil {
		relTargets = parseWorkbookRels(relsXML, view)
	}

	// 逐表解析
	for i, meta := range sheetMeta {
		target := relTargets[meta.relID]
		if target == "" {
			target = "worksheets/sheet" + strconv.Itoa(i+1) + ".xml"
		}
		target = "xl/" + strings.TrimPrefix(target, "/xl/")

		sheetXML, err := readZipEntry(zr, target, int64(len(data)))
		if err != nil {
			return nil, err
		}
		if sheetXML == nil {
			continue
		}

		sheet := Sheet{
			Name:       meta.name,
			Hidden:     meta.hidden || meta.veryHidden,
			VeryHidden: meta.veryHidden,
		}
		if err := parseWorksheet(sheetXML, &sheet, view); err != nil {
			return nil, errors.ParseError("excel", err)
		}
		view.Sheets = append(view.Sheets, sheet)
	}

	// 外部引用目标
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/externalLinks/_rels/") {
			if relsXML, err := readZipEntry(zr, f.Name, int64(len(data))); err == nil && relsXML != nil {
				collectExternalTargets(relsXML, view)
			}
		}
	}

	return view, nil
}

// ============================================================
// 工作簿解析
// ============================================================

type sheetRef struct {
	name       string
	relID      string
	hidden     bool
	veryHidden bool
}

// parseWorkbook 解析工作簿清单
func parseWorkbook(content []byte, view *ExcelView) ([]sheetRef, error) {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var sheets []sheetRef
	var inDefinedName bool
	var definedName string
	var definedText strings.Builder

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sheet":
				ref := sheetRef{}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "name":
						ref.name = attr.Value
					case "id":
						ref.relID = attr.Value
					case "state":
						switch attr.Value {
						case "hidden":
							ref.hidden = true
						case "veryHidden":
							ref.veryHidden = true
						}
					}
				}
				sheets = append(sheets, ref)

			case "definedName":
				inDefinedName = true
				definedText.Reset()
				for _, attr := range t.Attr {
					if attr.Name.Local == "name" {
						definedName = attr.Value
					}
				}
			}

		case xml.CharData:
			if inDefinedName {
				definedText.Write(t)
			}

		case xml.EndElement:
			if t.Name.Local == "definedName" {
				inDefinedName = false
				if definedName != "" {
					view.DefinedNames[definedName] = strings.TrimSpace(definedText.String())
				}
				definedName = ""
			}
		}
	}

	return sheets, nil
}

// parseWorkbookRels 解析工作簿关系
func parseWorkbookRels(content []byte, view *ExcelView) map[string]string {
	decoder := xml.NewDecoder(bytes.NewReader(content))
	targets := make(map[string]string)

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		if t, ok := token.(xml.StartElement); ok && t.Name.Local == "Relationship" {
			var id, relType, target string
			for _, attr := range t.Attr {
				switch attr.Name.Local {
				case "Id":
					id = attr.Value
				case "Type":
					relType = attr.Value
				case "Target":
					target = attr.Value
				case "TargetMode":
					if attr.Value == "External" {
						view.ExternalRefs = appendUnique(view.ExternalRefs, target)
					}
				}
			}
			if strings.HasSuffix(relType, "/worksheet") {
				targets[id] = target
			}
			if strings.HasSuffix(relType, "/externalLink") {
				// 外部链接部件本身，目标在其关系文件中收集
				_ = target
			}
		}
	}

	return targets
}

// collectExternalTargets 收集外部链接关系的实际目标
func collectExternalTargets(content []byte, view *ExcelView) {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		if t, ok := token.(xml.StartElement); ok && t.Name.Local == "Relationship" {
			var target, mode string
			for _, attr := range t.Attr {
				switch attr.Name.Local {
				case "Target":
					target = attr.Value
				case "TargetMode":
					mode = attr.Value
				}
			}
			if mode == "External" && target != "" {
				view.ExternalRefs = appendUnique(view.ExternalRefs, target)
			}
		}
	}
}

// ============================================================
// 工作表解析
// ============================================================

// parseWorksheet 解析单个工作表
func parseWorksheet(content []byte, sheet *Sheet, view *ExcelView) error {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var (
		currentCell *Cell
		inValue     bool
		inFormula   bool
		valueText   strings.Builder
		formulaText strings.Builder
		validation  *Validation
		inF1, inF2  bool
		f1, f2      strings.Builder
	)

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				var rowNum int
				var hidden bool
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "r":
						rowNum, _ = strconv.Atoi(attr.Value)
					case "hidden":
						hidden = attr.Value == "1" || attr.Value == "true"
					}
				}
				if hidden && rowNum > 0 {
					sheet.HiddenRows = append(sheet.HiddenRows, rowNum)
				}

			case "col":
				var min, max int
				var hidden bool
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "min":
						min, _ = strconv.Atoi(attr.Value)
					case "max":
						max, _ = strconv.Atoi(attr.Value)
					case "hidden":
						hidden = attr.Value == "1" || attr.Value == "true"
					}
				}
				if hidden {
					for c := min; c <= max && c > 0; c++ {
						sheet.HiddenCols = append(sheet.HiddenCols, colName(c))
					}
				}

			case "c":
				currentCell = &Cell{StyleIdx: -1}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "r":
						currentCell.Ref = attr.Value
						currentCell.Col, currentCell.Row = splitCellRef(attr.Value)
					case "t":
						currentCell.Type = attr.Value
					case "s":
						if idx, err := strconv.Atoi(attr.Value); err == nil {
							currentCell.StyleIdx = idx
						}
					}
				}
				valueText.Reset()
				formulaText.Reset()

			case "v":
				inValue = true

			case "f":
				inFormula = true

			case "mergeCell":
				for _, attr := range t.Attr {
					if attr.Name.Local == "ref" {
						sheet.MergedCells = append(sheet.MergedCells, attr.Value)
					}
				}

			case "dataValidation":
				validation = &Validation{ShowErr: false}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "sqref":
						validation.Range = attr.Value
					case "type":
						validation.Type = attr.Value
					case "operator":
						validation.Operator = attr.Value
					case "showErrorMessage":
						validation.ShowErr = attr.Value == "1" || attr.Value == "true"
					}
				}
				f1.Reset()
				f2.Reset()

			case "formula1":
				inF1 = true

			case "formula2":
				inF2 = true
			}

		case xml.CharData:
			if inValue {
				valueText.Write(t)
			}
			if inFormula {
				formulaText.Write(t)
			}
			if inF1 {
				f1.Write(t)
			}
			if inF2 {
				f2.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "v":
				inValue = false
			case "f":
				inFormula = false
			case "c":
				if currentCell != nil {
					currentCell.RawValue = valueText.String()
					currentCell.Formula = strings.TrimSpace(formulaText.String())
					currentCell.Value = resolveCellValue(currentCell, view)
					sheet.Cells = append(sheet.Cells, *currentCell)
					currentCell = nil
				}
			case "formula1":
				inF1 = false
			case "formula2":
				inF2 = false
			case "dataValidation":
				if validation != nil {
					validation.Formula1 = strings.TrimSpace(f1.String())
					validation.Formula2 = strings.TrimSpace(f2.String())
					sheet.Validations = append(sheet.Validations, *validation)
					validation = nil
				}
			}
		}
	}

	return nil
}

// resolveCellValue 解引用共享字符串得到缓存值
func resolveCellValue(cell *Cell, view *ExcelView) string {
	if cell.Type == "s" {
		if idx, err := strconv.Atoi(cell.RawValue); err == nil &&
			idx >= 0 && idx < len(view.SharedString) {
			return view.SharedString[idx]
		}
		return ""
	}
	return cell.RawValue
}

// ============================================================
// 共享字符串与样式
// ============================================================

// parseSharedStrings 解析共享字符串表
func parseSharedStrings(content []byte) []string {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var result []string
	var current strings.Builder
	var inSI, inT bool

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inSI = true
				current.Reset()
			case "t":
				inT = true
			}

		case xml.CharData:
			if inSI && inT {
				current.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "si":
				inSI = false
				result = append(result, current.String())
			}
		}
	}

	return result
}

// parseStyles 解析样式表中的数字格式与样式引用
func parseStyles(content []byte, view *ExcelView) {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var inCellXfs bool

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "numFmt":
				var id int
				var code string
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "numFmtId":
						id, _ = strconv.Atoi(attr.Value)
					case "formatCode":
						code = attr.Value
					}
				}
				view.NumFormats[id] = code

			case "cellXfs":
				inCellXfs = true

			case "xf":
				if inCellXfs {
					numFmtID := 0
					for _, attr := range t.Attr {
						if attr.Name.Local == "numFmtId" {
							numFmtID, _ = strconv.Atoi(attr.Value)
						}
					}
					view.CellStyles = append(view.CellStyles, numFmtID)
				}
			}

		case xml.EndElement:
			if t.Name.Local == "cellXfs" {
				inCellXfs = false
			}
		}
	}
}

// ============================================================
// 引用工具
// ============================================================

// splitCellRef 拆分 A1 引用为列标与行号
func splitCellRef(ref string) (string, int) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	col := ref[:i]
	row, _ := strconv.Atoi(ref[i:])
	return col, row
}

// colName 列号转列标 (1 -> A)
func colName(n int) string {
	var sb strings.Builder
	for n > 0 {
		n--
		sb.WriteByte(byte('A' + n%26))
		n /= 26
	}
	// 反转
	s := sb.String()
	runes := []byte(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// colNumber 列标转列号 (A -> 1)
func colNumber(col string) int {
	n := 0
	for i := 0; i < len(col); i++ {
		n = n*26 + int(col[i]-'A'+1)
	}
	return n
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
