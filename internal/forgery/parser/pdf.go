package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
)

// ============================================================
// PDF 结构视图
// ============================================================

// PdfView PDF 结构视图
type PdfView struct {
	Raw        []byte          // 原始字节 (后续文本层提取需要)
	Version    string          // 头部版本号 (如 1.7)
	Revisions  []Revision      // 按出现顺序的修订快照
	Objects    map[int]Object  // 间接对象表 (对象号 -> 对象)
	XrefOffset map[int]int64   // 交叉引用表声明的对象偏移
	Referenced map[int]bool    // 被任意 R 引用或为根/Info 的对象号
	Signatures []SignatureDict // 签名字典
	HasJS      bool            // 是否存在 JavaScript 动作
	JSObjects  []int           // 含 JavaScript 的对象号
	Info       InfoDates       // 文档信息字典中的时间
}

// DocType 实现 View 接口
func (v *PdfView) DocType() model.DocumentType { return model.DocPdf }

// Revision 一次增量更新快照
type Revision struct {
	EOFOffset  int64 // %%EOF 结束偏移
	StartXref  int64 // startxref 指向的偏移
	HasXrefKey bool  // 是否找到 startxref 关键字
}

// Object 间接对象
type Object struct {
	Num    int    // 对象号
	Gen    int    // 世代号
	Offset int64  // 对象头在文件中的偏移
	Body   string // obj 与 endobj 之间的内容 (截断至字典与流头)
}

// SignatureDict 签名字典
type SignatureDict struct {
	ObjectNum int     // 所在对象号
	ByteRange []int64 // 覆盖范围 [off1 len1 off2 len2]
	Contents  []byte  // DER 编码的签名容器
	SubFilter string  // 签名格式
	SignTime  time.Time
}

// InfoDates 文档信息字典时间
type InfoDates struct {
	Creation time.Time
	Modified time.Time
}

// ============================================================
// 解析入口
// ============================================================

var (
	objHeaderRe = regexp.MustCompile(`(?m)^[ \t]*(\d+)[ \t]+(\d+)[ \t]+obj\b`)
	objRefRe    = regexp.MustCompile(`(\d+)[ \t]+\d+[ \t]+R\b`)
)

// ParsePdf 解析 PDF 结构
func ParsePdf(data []byte) (*PdfView, error) {
	version, err := pdfVersion(data)
	if err != nil {
		return nil, err
	}

	view := &PdfView{
		Raw:        data,
		Version:    version,
		Objects:    make(map[int]Object),
		XrefOffset: make(map[int]int64),
		Referenced: make(map[int]bool),
	}

	if err := scanRevisions(data, view); err != nil {
		return nil, err
	}
	if len(view.Revisions) == 0 {
		return nil, errors.StructureError("pdf", "缺少 %%EOF 结束标记")
	}

	scanObjects(data, view)
	if err := scanXref(data, view); err != nil {
		return nil, err
	}
	scanSignatures(data, view)
	scanJavaScript(data, view)
	scanInfoDates(data, view)

	return view, nil
}

// pdfVersion 校验头部并取版本号
func pdfVersion(data []byte) (string, error) {
	// 头部允许出现在前1KB内 (部分生成器带前导垃圾)
	window := data
	if len(window) > 1024 {
		window = window[:1024]
	}
	idx := bytes.Index(window, []byte("%PDF-"))
	if idx < 0 {
		return "", errors.ParseError("pdf", fmt.Errorf("缺少 %%PDF 头部"))
	}
	end := idx + 5
	for end < len(data) && (data[end] == '.' || (data[end] >= '0' && data[end] <= '9')) {
		end++
	}
	return string(data[idx+5 : end]), nil
}

// ============================================================
// 修订快照扫描
// ============================================================

// scanRevisions 按 %%EOF 切分修订并回溯 startxref
func scanRevisions(data []byte, view *PdfView) error {
	pos := 0
	for {
		idx := bytes.Index(data[pos:], []byte("%%EOF"))
		if idx < 0 {
			break
		}
		eofEnd := int64(pos + idx + len("%%EOF"))

		rev := Revision{EOFOffset: eofEnd}

		// 在 %%EOF 前的窗口内回溯 startxref
		winStart := pos + idx - 64
		if winStart < 0 {
			winStart = 0
		}
		window := data[winStart : pos+idx]
		if sx := bytes.LastIndex(window, []byte("startxref")); sx >= 0 {
			rev.HasXrefKey = true
			numStr := strings.TrimSpace(string(window[sx+len("startxref"):]))
			if fields := strings.Fields(numStr); len(fields) > 0 {
				if off, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
					rev.StartXref = off
				}
			}

			// 偏移越界属于结构性损坏
			if rev.StartXref < 0 || rev.StartXref >= int64(len(data)) {
				return errors.StructureError("pdf",
					fmt.Sprintf("startxref 偏移 %d 超出文件范围 (%d 字节)", rev.StartXref, len(data)))
			}
		}

		view.Revisions = append(view.Revisions, rev)
		pos += idx + len("%%EOF")
	}
	return nil
}

// ============================================================
// 对象与交叉引用
// ============================================================

// scanObjects 扫描全部间接对象及引用关系
func scanObjects(data []byte, view *PdfView) {
	for _, loc := range objHeaderRe.FindAllSubmatchIndex(data, -1) {
		num, _ := strconv.Atoi(string(data[loc[2]:loc[3]]))
		gen, _ := strconv.Atoi(string(data[loc[4]:loc[5]]))

		bodyStart := loc[1]
		bodyEnd := len(data)
		if e := bytes.Index(data[bodyStart:], []byte("endobj")); e >= 0 {
			bodyEnd = bodyStart + e
		}
		body := data[bodyStart:bodyEnd]

		// 流内容不进入 Body，字典头足够后续判定
		if s := bytes.Index(body, []byte("stream")); s >= 0 {
			body = body[:s]
		}

		view.Objects[num] = Object{
			Num:    num,
			Gen:    gen,
			Offset: int64(loc[0]),
			Body:   string(body),
		}

		// 对象体内的引用
		for _, ref := range objRefRe.FindAllStringSubmatch(string(body), -1) {
			if target, err := strconv.Atoi(ref[1]); err == nil {
				view.Referenced[target] = true
			}
		}
	}

	// trailer 中的引用 (Root/Info) 也算已引用
	for _, loc := range findAll(data, []byte("trailer")) {
		end := loc + 2048
		if end > len(data) {
			end = len(data)
		}
		for _, ref := range objRefRe.FindAllStringSubmatch(string(data[loc:end]), -1) {
			if target, err := strconv.Atoi(ref[1]); err == nil {
				view.Referenced[target] = true
			}
		}
	}
}

// scanXref 解析传统交叉引用表并校验偏移
func scanXref(data []byte, view *PdfView) error {
	for _, loc := range findAll(data, []byte("xref")) {
		// 排除 startxref 中的子串
		if loc >= 5 && bytes.Equal(data[loc-5:loc], []byte("start")) {
			continue
		}

		pos := loc + len("xref")
		for {
			line, next := readLine(data, pos)
			pos = next
			fields := strings.Fields(line)

			// 子节头: "start count"
			if len(fields) != 2 {
				break
			}
			start, err1 := strconv.Atoi(fields[0])
			count, err2 := strconv.Atoi(fields[1])
			if err1 != nil || err2 != nil || count < 0 || count > len(data) {
				break
			}

			for i := 0; i < count; i++ {
				entry, next := readLine(data, pos)
				pos = next
				ef := strings.Fields(entry)
				if len(ef) < 3 {
					return errors.StructureError("pdf",
						fmt.Sprintf("交叉引用表条目格式非法: %q", entry))
				}
				if ef[2] != "n" {
					continue // 空闲条目
				}
				off, err := strconv.ParseInt(ef[0], 10, 64)
				if err != nil {
					return errors.StructureError("pdf",
						fmt.Sprintf("交叉引用偏移非法: %q", ef[0]))
				}
				if off >= int64(len(data)) {
					return errors.StructureError("pdf",
						fmt.Sprintf("对象 %d 的交叉引用偏移 %d 超出文件范围", start+i, off))
				}
				view.XrefOffset[start+i] = off
			}
		}
	}
	return nil
}

// ============================================================
// 签名 / JavaScript / 信息字典
// ============================================================

var (
	byteRangeRe = regexp.MustCompile(`/ByteRange\s*\[\s*(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s*\]`)
	subFilterRe = regexp.MustCompile(`/SubFilter\s*/([\w.#]+)`)
	contentsRe  = regexp.MustCompile(`/Contents\s*<([0-9a-fA-F\s]*)>`)
	sigTimeRe   = regexp.MustCompile(`/M\s*\(D:(\d{14})`)
	dateRe      = regexp.MustCompile(`\(D:(\d{8,14})`)
)

// sortedObjectNums 按对象号升序返回全部对象号
func sortedObjectNums(view *PdfView) []int {
	nums := make([]int, 0, len(view.Objects))
	for num := range view.Objects {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}

// scanSignatures 提取签名字典
func scanSignatures(data []byte, view *PdfView) {
	for _, num := range sortedObjectNums(view) {
		obj := view.Objects[num]
		if !strings.Contains(obj.Body, "/ByteRange") {
			continue
		}

		sig := SignatureDict{ObjectNum: num}

		if m := byteRangeRe.FindStringSubmatch(obj.Body); m != nil {
			for _, s := range m[1:] {
				v, _ := strconv.ParseInt(s, 10, 64)
				sig.ByteRange = append(sig.ByteRange, v)
			}
		}
		if m := subFilterRe.FindStringSubmatch(obj.Body); m != nil {
			sig.SubFilter = m[1]
		}
		if m := contentsRe.FindStringSubmatch(obj.Body); m != nil {
			sig.Contents = decodeHexString(m[1])
		}
		if m := sigTimeRe.FindStringSubmatch(obj.Body); m != nil {
			if ts, err := time.Parse("20060102150405", m[1]); err == nil {
				sig.SignTime = ts
			}
		}

		view.Signatures = append(view.Signatures, sig)
	}
}

// scanJavaScript 检测 JavaScript 动作
func scanJavaScript(data []byte, view *PdfView) {
	for _, num := range sortedObjectNums(view) {
		obj := view.Objects[num]
		if strings.Contains(obj.Body, "/JavaScript") ||
			strings.Contains(obj.Body, "/JS") {
			view.HasJS = true
			view.JSObjects = append(view.JSObjects, num)
		}
	}
}

// scanInfoDates 取文档信息字典中的创建/修改时间
func scanInfoDates(data []byte, view *PdfView) {
	for _, num := range sortedObjectNums(view) {
		obj := view.Objects[num]
		if !strings.Contains(obj.Body, "/CreationDate") &&
			!strings.Contains(obj.Body, "/ModDate") {
			continue
		}

		if i := strings.Index(obj.Body, "/CreationDate"); i >= 0 {
			view.Info.Creation = parsePdfDate(obj.Body[i:])
		}
		if i := strings.Index(obj.Body, "/ModDate"); i >= 0 {
			view.Info.Modified = parsePdfDate(obj.Body[i:])
		}
		if !view.Info.Creation.IsZero() || !view.Info.Modified.IsZero() {
			return
		}
	}
}

// parsePdfDate 解析 PDF 日期串 (D:YYYYMMDDHHmmSS)
func parsePdfDate(s string) time.Time {
	m := dateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}
	}
	digits := m[1]
	// 不足部分按规范补默认值
	for len(digits) < 14 {
		switch len(digits) {
		case 8, 10, 12:
			digits += "00"
		default:
			digits += "01"
		}
	}
	ts, err := time.Parse("20060102150405", digits)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ============================================================
// 工具函数
// ============================================================

// findAll 全部出现位置
func findAll(data, pattern []byte) []int {
	var locs []int
	pos := 0
	for {
		idx := bytes.Index(data[pos:], pattern)
		if idx < 0 {
			break
		}
		locs = append(locs, pos+idx)
		pos += idx + len(pattern)
	}
	return locs
}

// readLine 从 pos 读取一行 (跳过前导换行)
func readLine(data []byte, pos int) (string, int) {
	for pos < len(data) && (data[pos] == '\r' || data[pos] == '\n') {
		pos++
	}
	start := pos
	for pos < len(data) && data[pos] != '\r' && data[pos] != '\n' {
		pos++
	}
	return string(data[start:pos]), pos
}

// decodeHexString 解码 PDF 十六进制串
func decodeHexString(s string) []byte {
	var clean strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') {
			clean.WriteRune(r)
		}
	}
	hexStr := clean.String()
	if len(hexStr)%2 == 1 {
		hexStr += "0"
	}
	out := make([]byte, len(hexStr)/2)
	for i := 0; i < len(out); i++ {
		hi := hexVal(hexStr[i*2])
		lo := hexVal(hexStr[i*2+1])
		out[i] = hi<<4 | lo
	}
	// 去掉尾部填充零
	return bytes.TrimRight(out, "\x00")
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
