package parser

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
)

// ============================================================
// 图像结构视图
// ============================================================

// ImageView 图像结构视图
type ImageView struct {
	Format     string      // 解码格式名 (jpeg/png/gif/bmp/tiff/webp)
	Width      int         // 像素宽
	Height     int         // 像素高
	Luminance  [][]float64 // 亮度矩阵 [y][x]，0-255
	Exif       ExifInfo    // EXIF 元数据 (JPEG/TIFF)
	QuantCount int         // JPEG 量化表数量
	HasJFIF    bool        // 是否带 JFIF 段
	PngTexts   []string    // PNG 文本块内容 (keyword=value)
	Thumbnail  []byte      // EXIF 缩略图原始 JPEG 字节 (如有)
}

// DocType 实现 View 接口
func (v *ImageView) DocType() model.DocumentType { return model.DocImage }

// ExifInfo 精简 EXIF 信息
type ExifInfo struct {
	Present          bool      // 是否存在 EXIF 段
	Software         string    // 处理软件
	DateTime         time.Time // 修改时间 (0x0132)
	DateTimeOriginal time.Time // 拍摄时间 (0x9003)
	Make             string    // 相机厂商
	Model            string    // 相机型号
}

// ============================================================
// 解析入口
// ============================================================

// ParseImage 解码图像并提取结构信息
func ParseImage(data []byte) (*ImageView, error) {
	// 先探测尺寸，防止解码超大图耗尽内存
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.ParseError("image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.StructureError("image",
			fmt.Sprintf("非法尺寸声明 %dx%d", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, errors.StructureError("image",
			fmt.Sprintf("声明像素数 %dx%d 超出处理上限", cfg.Width, cfg.Height))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.ParseError("image", err)
	}

	view := &ImageView{Format: format}
	bounds := img.Bounds()
	view.Width = bounds.Dx()
	view.Height = bounds.Dy()

	// 亮度矩阵 (ITU-R BT.601)
	view.Luminance = make([][]float64, view.Height)
	for y := 0; y < view.Height; y++ {
		row := make([]float64, view.Width)
		for x := 0; x < view.Width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
		view.Luminance[y] = row
	}

	switch format {
	case "jpeg":
		parseJpegSegments(data, view)
	case "png":
		parsePngChunks(data, view)
	}

	return view, nil
}

// ============================================================
// JPEG 段走查
// ============================================================

// parseJpegSegments 走查 JPEG 段，提取 EXIF / JFIF / 量化表
func parseJpegSegments(data []byte, view *ImageView) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return
	}

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			break
		}
		marker := data[pos+1]

		// 无载荷标记
		if marker == 0xD8 || marker == 0xD9 || (marker >= 0xD0 && marker <= 0xD7) {
			pos += 2
			continue
		}
		// 扫描数据之后不再有可解析段
		if marker == 0xDA {
			break
		}

		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(data) {
			break
		}
		payload := data[pos+4 : pos+2+segLen]

		switch marker {
		case 0xE0: // JFIF
			if bytes.HasPrefix(payload, []byte("JFIF\x00")) {
				view.HasJFIF = true
			}
		case 0xE1: // EXIF
			if bytes.HasPrefix(payload, []byte("Exif\x00\x00")) {
				parseExif(payload[6:], view)
			}
		case 0xDB: // 量化表
			view.QuantCount += countQuantTables(payload)
		}

		pos += 2 + segLen
	}
}

// countQuantTables DQT 段内的量化表数量
func countQuantTables(payload []byte) int {
	count := 0
	pos := 0
	for pos < len(payload) {
		precision := payload[pos] >> 4
		tableLen := 64
		if precision == 1 {
			tableLen = 128
		}
		if pos+1+tableLen > len(payload) {
			break
		}
		count++
		pos += 1 + tableLen
	}
	return count
}

// ============================================================
// 精简 EXIF 走查
// ============================================================

const (
	tagSoftware         = 0x0131
	tagDateTime         = 0x0132
	tagMake             = 0x010F
	tagModel            = 0x0110
	tagExifIFD          = 0x8769
	tagDateTimeOriginal = 0x9003
	tagThumbOffset      = 0x0201 // JPEGInterchangeFormat
	tagThumbLength      = 0x0202
)

// parseExif 走查 TIFF 容器中的关键标签
func parseExif(tiff []byte, view *ImageView) {
	if len(tiff) < 8 {
		return
	}

	var order binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		order = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		order = binary.BigEndian
	default:
		return
	}
	if order.Uint16(tiff[2:4]) != 42 {
		return
	}

	view.Exif.Present = true
	ifd0 := order.Uint32(tiff[4:8])

	exifIFD, nextIFD := walkIFD(tiff, order, ifd0, view)
	if exifIFD > 0 {
		walkIFD(tiff, order, exifIFD, view)
	}
	// IFD1 持有缩略图
	if nextIFD > 0 {
		extractThumbnail(tiff, order, nextIFD, view)
	}
}

// walkIFD 走查单个 IFD，返回 (ExifIFD 偏移, 下一 IFD 偏移)
func walkIFD(tiff []byte, order binary.ByteOrder, offset uint32, view *ImageView) (uint32, uint32) {
	if int(offset)+2 > len(tiff) {
		return 0, 0
	}
	count := int(order.Uint16(tiff[offset : offset+2]))
	var exifIFD uint32

	for i := 0; i < count; i++ {
		entry := int(offset) + 2 + i*12
		if entry+12 > len(tiff) {
			break
		}
		tag := order.Uint16(tiff[entry : entry+2])
		typ := order.Uint16(tiff[entry+2 : entry+4])
		num := order.Uint32(tiff[entry+4 : entry+8])

		switch tag {
		case tagSoftware:
			view.Exif.Software = readExifASCII(tiff, order, entry, typ, num)
		case tagMake:
			view.Exif.Make = readExifASCII(tiff, order, entry, typ, num)
		case tagModel:
			view.Exif.Model = readExifASCII(tiff, order, entry, typ, num)
		case tagDateTime:
			view.Exif.DateTime = parseExifTime(readExifASCII(tiff, order, entry, typ, num))
		case tagDateTimeOriginal:
			view.Exif.DateTimeOriginal = parseExifTime(readExifASCII(tiff, order, entry, typ, num))
		case tagExifIFD:
			exifIFD = order.Uint32(tiff[entry+8 : entry+12])
		}
	}

	nextPos := int(offset) + 2 + count*12
	if nextPos+4 > len(tiff) {
		return exifIFD, 0
	}
	return exifIFD, order.Uint32(tiff[nextPos : nextPos+4])
}

// extractThumbnail 从 IFD1 中取出嵌入缩略图字节
func extractThumbnail(tiff []byte, order binary.ByteOrder, offset uint32, view *ImageView) {
	if int(offset)+2 > len(tiff) {
		return
	}
	count := int(order.Uint16(tiff[offset : offset+2]))

	var thumbOff, thumbLen uint32
	for i := 0; i < count; i++ {
		entry := int(offset) + 2 + i*12
		if entry+12 > len(tiff) {
			break
		}
		tag := order.Uint16(tiff[entry : entry+2])
		val := order.Uint32(tiff[entry+8 : entry+12])
		switch tag {
		case tagThumbOffset:
			thumbOff = val
		case tagThumbLength:
			thumbLen = val
		}
	}

	if thumbOff > 0 && thumbLen > 0 &&
		int64(thumbOff)+int64(thumbLen) <= int64(len(tiff)) {
		view.Thumbnail = tiff[thumbOff : thumbOff+thumbLen]
	}
}

// readExifASCII 读取 ASCII 类型标签值
func readExifASCII(tiff []byte, order binary.ByteOrder, entry int, typ uint16, num uint32) string {
	if typ != 2 { // ASCII
		return ""
	}
	var raw []byte
	if num <= 4 {
		raw = tiff[entry+8 : entry+8+int(num)]
	} else {
		off := order.Uint32(tiff[entry+8 : entry+12])
		if int64(off)+int64(num) > int64(len(tiff)) {
			return ""
		}
		raw = tiff[off : off+num]
	}
	return strings.TrimRight(string(raw), "\x00 ")
}

// parseExifTime 解析 EXIF 时间格式
func parseExifTime(value string) time.Time {
	ts, err := time.Parse("2006:01:02 15:04:05", value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ============================================================
// PNG 文本块
// ============================================================

// parsePngChunks 提取 PNG 的 tEXt 文本块
func parsePngChunks(data []byte, view *ImageView) {
	if len(data) < 8 {
		return
	}

	pos := 8
	for pos+8 <= len(data) {
		chunkLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		chunkType := string(data[pos+4 : pos+8])
		if chunkLen < 0 || pos+8+chunkLen+4 > len(data) {
			break
		}

		if chunkType == "tEXt" {
			payload := data[pos+8 : pos+8+chunkLen]
			if i := bytes.IndexByte(payload, 0); i >= 0 {
				view.PngTexts = append(view.PngTexts,
					string(payload[:i])+"="+string(payload[i+1:]))
			}
		}
		if chunkType == "IEND" {
			break
		}

		pos += 8 + chunkLen + 4
	}
}
