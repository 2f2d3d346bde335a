package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
)

// ============================================================
// Word 结构视图
// ============================================================

// WordView Word 文档结构视图
type WordView struct {
	Paragraphs       []Paragraph    // 段落树
	Background       string         // 文档背景色 (十六进制，无#)
	Core             CoreProperties // 核心元数据
	Revisions        []RevisionMark // 修订痕迹 (插入/删除)
	AttachedTemplate string         // 外挂模板目标 (如有)
	FieldCodes       []FieldCode    // 域代码指令
	EmbeddedParts    []string       // 嵌入部件名 (word/embeddings, word/media)
}

// DocType 实现 View 接口
func (v *WordView) DocType() model.DocumentType { return model.DocWord }

// Paragraph 段落
type Paragraph struct {
	Index   int    // 段落索引 (从0开始)
	Shading string // 段落底纹填充色
	Runs    []Run  // 文本段
}

// Run 文本段
type Run struct {
	Index     int     // 段内索引
	Text      string  // 文本内容
	Color     string  // 字体颜色 (十六进制，无#；auto 表示自动)
	Highlight string  // 突出显示色 (命名色)
	Shading   string  // 文本段底纹填充色
	Font      string  // 字体名称
	SizePt    float64 // 字号 (磅)
	Bold      bool    // 加粗
	Vanish    bool    // 隐藏属性 (w:vanish)
}

// CoreProperties 核心元数据 (docProps/core.xml)
type CoreProperties struct {
	Creator        string    // 创建者
	LastModifiedBy string    // 最后修改者
	Created        time.Time // 创建时间
	Modified       time.Time // 修改时间
	Revision       int       // 修订号
}

// RevisionMark 修订痕迹
type RevisionMark struct {
	Kind      string    // "ins" 或 "del"
	Author    string    // 修订作者
	Date      time.Time // 修订时间
	Text      string    // 涉及文本
	Paragraph int       // 所在段落索引
}

// FieldCode 域代码
type FieldCode struct {
	Paragraph   int    // 所在段落索引
	Instruction string // 域指令文本
}

// ============================================================
// 解析入口
// ============================================================

// ParseWord 解析 OOXML 文字文档
func ParseWord(data []byte) (*WordView, error) {
	zr, err := openOOXML(data)
	if err != nil {
		return nil, err
	}

	docXML, err := readZipEntry(zr, "word/document.xml", int64(len(data)))
	if err != nil {
		return nil, err
	}
	if docXML == nil {
		return nil, errors.New(errors.ErrParseFailed, "缺少 word/document.xml").
			WithComponent("parser")
	}

	view := &WordView{}

	if err := parseWordDocument(docXML, view); err != nil {
		return nil, errors.ParseError("word", err)
	}

	// 核心元数据（缺失不致命）
	if coreXML, err := readZipEntry(zr, "docProps/core.xml", int64(len(data))); err == nil && coreXML != nil {
		parseCoreProperties(coreXML, &view.Core)
	}

	// 外挂模板
	if relsXML, err := readZipEntry(zr, "word/_rels/settings.xml.rels", int64(len(data))); err == nil && relsXML != nil {
		view.AttachedTemplate = findAttachedTemplate(relsXML)
	}

	// 嵌入部件清单
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "word/media/") ||
			strings.HasPrefix(f.Name, "word/embeddings/") {
			view.EmbeddedParts = append(view.EmbeddedParts, f.Name)
		}
	}

	return view, nil
}

// openOOXML 打开 OOXML 容器并做结构一致性防护
func openOOXML(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.ParseError("ooxml", err)
	}

	// 声明尺寸防护：条目声明的解压尺寸与实际字节长度严重不符即拒绝
	total := uint64(0)
	for _, f := range zr.File {
		if f.UncompressedSize64 > maxEntryBytes {
			return nil, errors.StructureError("ooxml",
				fmt.Sprintf("条目 %s 声明尺寸 %d 超出上限", f.Name, f.UncompressedSize64))
		}
		total += f.UncompressedSize64
	}
	if total > uint64(len(data))*maxDeclaredSizeRatio {
		return nil, errors.StructureError("ooxml",
			fmt.Sprintf("声明总尺寸 %d 与输入字节数 %d 不一致", total, len(data)))
	}

	return zr, nil
}

// readZipEntry 读取容器中的文件，不存在返回 nil
func readZipEntry(zr *zip.Reader, name string, inputLen int64) ([]byte, error) {
	for _, file := range zr.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, errors.ParseError("ooxml", err)
		}
		defer rc.Close()

		content, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes))
		if err != nil {
			return nil, errors.ParseError("ooxml", err)
		}
		return content, nil
	}
	return nil, nil
}

// ============================================================
// 主文档解析 (word/document.xml)
// ============================================================

// parseWordDocument 逐 token 解析主文档
func parseWordDocument(content []byte, view *WordView) error {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var (
		paragraphIndex = -1
		runIndex       int
		currentRun     *Run
		currentPara    *Paragraph
		currentText    strings.Builder
		inText         bool
		inInstr        bool
		instrText      strings.Builder
		revision       *RevisionMark
		revText        strings.Builder
	)

	flushRun := func() {
		if currentRun == nil || currentPara == nil {
			return
		}
		currentRun.Text = currentText.String()
		currentPara.Runs = append(currentPara.Runs, *currentRun)
		currentRun = nil
		currentText.Reset()
	}

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
			case "background": // 文档背景
				for _, attr := range t.Attr {
					if attr.Name.Local == "color" {
						view.Background = normalizeHexColor(attr.Value)
					}
				}

			case "p": // 段落开始
				paragraphIndex++
				runIndex = 0
				view.Paragraphs = append(view.Paragraphs, Paragraph{Index: paragraphIndex})
				currentPara = &view.Paragraphs[len(view.Paragraphs)-1]

			case "pPr":
				if currentPara != nil {
					parseWordParagraphProps(decoder, currentPara)
				}

			case "r": // Run 开始
				if currentPara != nil {
					currentRun = &Run{Index: runIndex}
					runIndex++
					currentText.Reset()
				}

			case "rPr":
				if currentRun != nil {
					parseWordRunProps(decoder, currentRun)
				}

			case "t": // 文本内容
				inText = true

			case "delText": // 删除文本
				inText = true

			case "instrText": // 域指令
				inInstr = true

			case "ins", "del": // 修订痕迹
				revision = &RevisionMark{
					Kind:      t.Name.Local,
					Paragraph: maxInt(paragraphIndex, 0),
				}
				revText.Reset()
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "author":
						revision.Author = attr.Value
					case "date":
						if ts, err := time.Parse(time.RFC3339, attr.Value); err == nil {
							revision.Date = ts
						}
					}
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				flushRun()
			case "p":
				currentPara = nil
			case "t", "delText":
				inText = false
			case "instrText":
				inInstr = false
				if instrText.Len() > 0 {
					view.FieldCodes = append(view.FieldCodes, FieldCode{
						Paragraph:   maxInt(paragraphIndex, 0),
						Instruction: strings.TrimSpace(instrText.String()),
					})
					instrText.Reset()
				}
			case "ins", "del":
				if revision != nil {
					revision.Text = revText.String()
					view.Revisions = append(view.Revisions, *revision)
					revision = nil
				}
			}

		case xml.CharData:
			if inText {
				currentText.Write(t)
				if revision != nil {
					revText.Write(t)
				}
			}
			if inInstr {
				instrText.Write(t)
			}
		}
	}

	return nil
}

// parseWordRunProps 解析 Run 属性 (rPr 子树)
func parseWordRunProps(decoder *xml.Decoder, run *Run) {
	depth := 1

	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++

			switch t.Name.Local {
			case "color":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						run.Color = normalizeHexColor(attr.Value)
					}
				}

			case "highlight":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						run.Highlight = strings.ToLower(attr.Value)
					}
				}

			case "shd":
				for _, attr := range t.Attr {
					if attr.Name.Local == "fill" {
						run.Shading = normalizeHexColor(attr.Value)
					}
				}

			case "sz", "szCs":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						if s, err := strconv.ParseFloat(attr.Value, 64); err == nil {
							run.SizePt = s / 2.0 // 半磅转磅
						}
					}
				}

			case "rFonts":
				for _, attr := range t.Attr {
					if attr.Name.Local == "eastAsia" && attr.Value != "" {
						run.Font = attr.Value
						break
					}
					if attr.Name.Local == "ascii" && run.Font == "" {
						run.Font = attr.Value
					}
				}

			case "b":
				run.Bold = true

			case "vanish":
				run.Vanish = true
			}

		case xml.EndElement:
			depth--
			if t.Name.Local == "rPr" {
				return
			}
		}
	}
}

// parseWordParagraphProps 解析段落属性 (pPr 子树)
func parseWordParagraphProps(decoder *xml.Decoder, para *Paragraph) {
	depth := 1

	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++

			if t.Name.Local == "shd" {
				for _, attr := range t.Attr {
					if attr.Name.Local == "fill" {
						para.Shading = normalizeHexColor(attr.Value)
					}
				}
			}

		case xml.EndElement:
			depth--
			if t.Name.Local == "pPr" {
				return
			}
		}
	}
}

// ============================================================
// 核心元数据解析 (docProps/core.xml)
// ============================================================

// parseCoreProperties 解析核心元数据
func parseCoreProperties(content []byte, core *CoreProperties) {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	var current string
	var text strings.Builder

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			current = t.Name.Local
			text.Reset()

		case xml.CharData:
			text.Write(t)

		case xml.EndElement:
			value := strings.TrimSpace(text.String())
			switch t.Name.Local {
			case "creator":
				core.Creator = value
			case "lastModifiedBy":
				core.LastModifiedBy = value
			case "created":
				core.Created = parseW3CDTF(value)
			case "modified":
				core.Modified = parseW3CDTF(value)
			case "revision":
				if n, err := strconv.Atoi(value); err == nil {
					core.Revision = n
				}
			}
			current = ""
		}
	}

	_ = current
}

// parseW3CDTF 解析 W3C 日期时间格式
func parseW3CDTF(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// findAttachedTemplate 在关系文件中查找外挂模板目标
func findAttachedTemplate(content []byte) string {
	decoder := xml.NewDecoder(bytes.NewReader(content))

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		if t, ok := token.(xml.StartElement); ok && t.Name.Local == "Relationship" {
			var relType, target string
			for _, attr := range t.Attr {
				switch attr.Name.Local {
				case "Type":
					relType = attr.Value
				case "Target":
					target = attr.Value
				}
			}
			if strings.HasSuffix(relType, "/attachedTemplate") {
				return target
			}
		}
	}

	return ""
}

// ============================================================
// 工具函数
// ============================================================

// normalizeHexColor 规范化十六进制颜色值
func normalizeHexColor(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "#")
	return strings.ToUpper(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
