package analyzer

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"math"
	"sort"
	"strings"

	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// ============================================================
// 图片家族检测项
// ============================================================

var imageChecks = []Check{
	{Method: "image/clone_detection", Run: checkImageClones},
	{Method: "image/noise_inconsistency", Run: checkImageNoise},
	{Method: "image/compression_anomaly", Run: checkImageCompression},
	{Method: "image/edge_inconsistency", Run: checkImageEdges},
	{Method: "image/exif_anomaly", Run: checkImageExif},
	{Method: "image/thumbnail_mismatch", Run: checkImageThumbnail},
	{Method: "image/resampling_artifact", Run: checkImageResampling},
}

func imageView(view parser.View) (*parser.ImageView, error) {
	v, ok := view.(*parser.ImageView)
	if !ok {
		return nil, fmt.Errorf("结构视图类型不匹配: %T", view)
	}
	return v, nil
}

// ============================================================
// 克隆检测
// ============================================================

type blockPos struct{ x, y int }

// checkImageClones 量化块哈希匹配克隆区域
// 把图像切成定长方块，量化亮度后哈希；同哈希块两两构成候选对，
// 按位移向量聚类，同一位移上的足量块即为复制粘贴痕迹
func checkImageClones(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	img, err := imageView(view)
	if err != nil {
		return nil, err
	}

	bs := cal.Image.CloneBlockSize
	if img.Width < bs*2 || img.Height < bs*2 {
		return nil, nil
	}

	// 半块步长兼顾覆盖与开销
	stride := bs / 2
	if stride < 1 {
		stride = 1
	}

	buckets := make(map[uint64][]blockPos)
	for y := 0; y+bs <= img.Height; y += stride {
		for x := 0; x+bs <= img.Width; x += stride {
			h, flat := blockHash(img.Luminance, x, y, bs)
			if flat {
				continue // 纯色块到处都相同，不构成证据
			}
			buckets[h] = append(buckets[h], blockPos{x, y})
		}
	}

	// 位移向量 -> 匹配块对数
	type vec struct{ dx, dy int }
	clusters := make(map[vec][]blockPos)
	minDisp := cal.Image.CloneMinDisplacement

	for _, positions := range buckets {
		if len(positions) < 2 || len(positions) > 64 {
			continue // 桶过大多为纹理重复
		}
		for i := 0; i < len(positions); i++ {
			for j := i + 1; j < len(positions); j++ {
				dx := positions[j].x - positions[i].x
				dy := positions[j].y - positions[i].y
				if dx*dx+dy*dy < minDisp*minDisp {
					continue
				}
				clusters[vec{dx, dy}] = append(clusters[vec{dx, dy}], positions[i])
			}
		}
	}

	var best []blockPos
	var bestVec vec
	for v, blocks := range clusters {
		if len(blocks) > len(best) {
			best, bestVec = blocks, v
		}
	}
	if len(best) < cal.Image.CloneMinClusterSize {
		return nil, nil
	}

	region := boundingRegion(best, bs)
	conf := scaleConf(len(best), cal.Image.CloneFullConfBlocks, 0.75, 0.95)

	ind := model.NewIndicator(model.KindCloneDetection, "image/clone_detection",
		fmt.Sprintf("发现 %d 个块以相同位移 (%d,%d) 重复出现", len(best), bestVec.dx, bestVec.dy),
		model.SeverityHigh, conf).
		WithLocation(&model.Location{Region: region}).
		WithEvidence("matched_blocks", fmt.Sprintf("%d", len(best))).
		WithEvidence("displacement", fmt.Sprintf("(%d,%d)", bestVec.dx, bestVec.dy))
	return []model.Indicator{ind}, nil
}

// blockHash 量化亮度哈希，返回 (哈希, 是否纯色块)
func blockHash(lum [][]float64, x0, y0, bs int) (uint64, bool) {
	const fnvOffset = 14695981039346656037
	const fnvPrime = 1099511628211

	h := uint64(fnvOffset)
	first := uint8(lum[y0][x0] / 16)
	flat := true

	for y := y0; y < y0+bs; y++ {
		for x := x0; x < x0+bs; x++ {
			q := uint8(lum[y][x] / 16) // 16级量化容忍轻度重压缩
			if q != first {
				flat = false
			}
			h ^= uint64(q)
			h *= fnvPrime
		}
	}
	return h, flat
}

func boundingRegion(blocks []blockPos, bs int) *model.PixelRegion {
	minX, minY := blocks[0].x, blocks[0].y
	maxX, maxY := blocks[0].x, blocks[0].y
	for _, b := range blocks {
		if b.x < minX {
			minX = b.x
		}
		if b.y < minY {
			minY = b.y
		}
		if b.x > maxX {
			maxX = b.x
		}
		if b.y > maxY {
			maxY = b.y
		}
	}
	return &model.PixelRegion{X: minX, Y: minY, Width: maxX - minX + bs, Height: maxY - minY + bs}
}

// ============================================================
// 噪声一致性
// ============================================================

// checkImageNoise 分块噪声方差离群检测
func checkImageNoise(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	img, err := imageView(view)
	if err != nil {
		return nil, err
	}

	bs := cal.Image.NoiseBlockSize
	if img.Width < bs*3 || img.Height < bs*3 {
		return nil, nil
	}

	type blockVar struct {
		x, y int
		v    float64
	}
	var blocks []blockVar
	for y := 0; y+bs <= img.Height; y += bs {
		for x := 0; x+bs <= img.Width; x += bs {
			blocks = append(blocks, blockVar{x, y, residualVariance(img.Luminance, x, y, bs)})
		}
	}
	if len(blocks) < 9 {
		return nil, nil
	}

	vars := make([]float64, len(blocks))
	for i, b := range blocks {
		vars[i] = b.v
	}
	med := median(vars)
	sd := stdDev(vars)
	if sd == 0 {
		return nil, nil
	}

	var outliers []blockVar
	for _, b := range blocks {
		if math.Abs(b.v-med) > cal.Image.NoiseStdDevK*sd {
			outliers = append(outliers, b)
		}
	}
	// 单个离群块多为局部纹理，成片偏离才是拼接信号
	if len(outliers) < 2 {
		return nil, nil
	}

	first := outliers[0]
	conf := 0.6 + 0.25*minFloat(float64(len(outliers))/float64(len(blocks)/4), 1.0)
	ind := model.NewIndicator(model.KindNoiseInconsistency, "image/noise_inconsistency",
		fmt.Sprintf("%d/%d 个区块的噪声水平显著偏离整体", len(outliers), len(blocks)),
		model.SeverityMedium, conf).
		WithLocation(&model.Location{Region: &model.PixelRegion{X: first.x, Y: first.y, Width: bs, Height: bs}}).
		WithEvidence("outlier_blocks", fmt.Sprintf("%d", len(outliers))).
		WithEvidence("total_blocks", fmt.Sprintf("%d", len(blocks))).
		WithEvidence("median_variance", fmt.Sprintf("%.2f", med))
	return []model.Indicator{ind}, nil
}

// residualVariance 去局部均值后的残差方差，近似噪声强度
func residualVariance(lum [][]float64, x0, y0, bs int) float64 {
	var sum, sumSq float64
	n := 0
	for y := y0 + 1; y < y0+bs-1; y++ {
		for x := x0 + 1; x < x0+bs-1; x++ {
			local := (lum[y-1][x] + lum[y+1][x] + lum[y][x-1] + lum[y][x+1]) / 4
			r := lum[y][x] - local
			sum += r
			sumSq += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// ============================================================
// 压缩异常
// ============================================================

// checkImageCompression 检测 JPEG 分块栅格相位冲突与多余量化表
func checkImageCompression(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	img, err := imageView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	// 标准 JPEG 至多两张量化表 (亮度+色度)，更多说明被重新拼装
	if img.Format == "jpeg" && img.QuantCount > 2 {
		ind := model.NewIndicator(model.KindCompressionAnomaly, "image/compression_anomaly",
			fmt.Sprintf("JPEG 携带 %d 张量化表", img.QuantCount),
			model.SeverityMedium, 0.7).
			WithEvidence("quant_tables", fmt.Sprintf("%d", img.QuantCount))
		indicators = append(indicators, ind)
	}

	if img.Width >= 64 && img.Height >= 64 {
		primary, secondary := gridPhaseStrength(img.Luminance, img.Width, img.Height)
		if primary > 0 && secondary/primary > cal.Image.CompressionGridRatio {
			// 次级相位的栅格能量接近主相位，说明存在栅格错位的粘贴区域
			ind := model.NewIndicator(model.KindCompressionAnomaly, "image/compression_anomaly",
				"检测到相位冲突的分块压缩栅格",
				model.SeverityMedium, 0.65).
				WithEvidence("primary_strength", fmt.Sprintf("%.3f", primary)).
				WithEvidence("secondary_strength", fmt.Sprintf("%.3f", secondary))
			indicators = append(indicators, ind)
		}
	}

	return indicators, nil
}

// gridPhaseStrength 8 像素周期栅格在各相位上的能量，返回 (最强, 次强)
func gridPhaseStrength(lum [][]float64, w, h int) (float64, float64) {
	phase := make([]float64, 8)
	for y := 0; y < h; y++ {
		for x := 1; x < w; x++ {
			d := math.Abs(lum[y][x] - lum[y][x-1])
			phase[x%8] += d
		}
	}

	sorted := append([]float64(nil), phase...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	// 相对于均值的超出量才是栅格信号
	mean := 0.0
	for _, p := range phase {
		mean += p
	}
	mean /= 8

	return sorted[0] - mean, sorted[1] - mean
}

// ============================================================
// 边缘一致性
// ============================================================

// checkImageEdges 检测梯度能量成片突变的硬接缝
func checkImageEdges(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	img, err := imageView(view)
	if err != nil {
		return nil, err
	}

	const bs = 16
	if img.Width < bs*4 || img.Height < bs*4 {
		return nil, nil
	}

	cols := img.Width / bs
	rows := img.Height / bs
	energy := make([][]float64, rows)
	var all []float64
	for by := 0; by < rows; by++ {
		energy[by] = make([]float64, cols)
		for bx := 0; bx < cols; bx++ {
			e := gradientEnergy(img.Luminance, bx*bs, by*bs, bs)
			energy[by][bx] = e
			all = append(all, e)
		}
	}

	med := median(all)
	if med == 0 {
		return nil, nil
	}

	// 与全部相邻块都形成悬殊能量比的块视作接缝
	var seams []blockPos
	for by := 1; by < rows-1; by++ {
		for bx := 1; bx < cols-1; bx++ {
			e := energy[by][bx]
			if e < med*cal.Image.EdgeEnergyRatio {
				continue
			}
			neighbors := []float64{energy[by-1][bx], energy[by+1][bx], energy[by][bx-1], energy[by][bx+1]}
			low := 0
			for _, n := range neighbors {
				if n < e/cal.Image.EdgeEnergyRatio {
					low++
				}
			}
			if low >= 3 {
				seams = append(seams, blockPos{bx * bs, by * bs})
			}
		}
	}
	if len(seams) < 2 {
		return nil, nil
	}

	region := boundingRegion(seams, bs)
	ind := model.NewIndicator(model.KindEdgeInconsistency, "image/edge_inconsistency",
		fmt.Sprintf("发现 %d 个与周边梯度严重脱节的区块", len(seams)),
		model.SeverityHigh, 0.75).
		WithLocation(&model.Location{Region: region}).
		WithEvidence("seam_blocks", fmt.Sprintf("%d", len(seams)))
	return []model.Indicator{ind}, nil
}

// gradientEnergy 块内平均梯度幅值
func gradientEnergy(lum [][]float64, x0, y0, bs int) float64 {
	var sum float64
	n := 0
	for y := y0; y < y0+bs-1; y++ {
		for x := x0; x < x0+bs-1; x++ {
			gx := lum[y][x+1] - lum[y][x]
			gy := lum[y+1][x] - lum[y][x]
			sum += math.Sqrt(gx*gx + gy*gy)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ============================================================
// EXIF 异常
// ============================================================

// checkImageExif 检测编辑软件痕迹与时间矛盾
func checkImageExif(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	img, err := imageView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	softwareTag := img.Exif.Software
	// PNG 的软件标记走文本块
	if softwareTag == "" {
		for _, t := range img.PngTexts {
			if strings.HasPrefix(strings.ToLower(t), "software=") {
				softwareTag = t[len("software="):]
				break
			}
		}
	}

	if softwareTag != "" {
		lower := strings.ToLower(softwareTag)
		for _, tag := range cal.Image.SuspectSoftwareTags {
			if strings.Contains(lower, strings.ToLower(tag)) {
				ind := model.NewIndicator(model.KindExifAnomaly, "image/exif_anomaly",
					fmt.Sprintf("元数据记录了图像编辑软件 %q", softwareTag),
					model.SeverityLow, 0.6).
					WithEvidence("software", softwareTag)
				indicators = append(indicators, ind)
				break
			}
		}
	}

	// 修改时间早于拍摄时间
	e := img.Exif
	if e.Present && !e.DateTime.IsZero() && !e.DateTimeOriginal.IsZero() &&
		e.DateTime.Before(e.DateTimeOriginal) {
		ind := model.NewIndicator(model.KindExifAnomaly, "image/exif_anomaly",
			"元数据中修改时间早于拍摄时间",
			model.SeverityMedium, 0.8).
			WithEvidence("date_time", e.DateTime.Format("2006-01-02 15:04:05")).
			WithEvidence("date_time_original", e.DateTimeOriginal.Format("2006-01-02 15:04:05"))
		indicators = append(indicators, ind)
	}

	return indicators, nil
}

// ============================================================
// 缩略图比对
// ============================================================

// checkImageThumbnail 比对 EXIF 缩略图与主图内容
func checkImageThumbnail(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	img, err := imageView(view)
	if err != nil {
		return nil, err
	}

	if len(img.Thumbnail) == 0 {
		return nil, nil
	}

	thumb, err := jpeg.Decode(bytes.NewReader(img.Thumbnail))
	if err != nil {
		return nil, nil // 缩略图损坏不构成指标
	}

	tb := thumb.Bounds()
	tw, th := tb.Dx(), tb.Dy()
	if tw < 8 || th < 8 {
		return nil, nil
	}

	// 主图降采样到缩略图尺寸后逐点比对亮度
	var diff float64
	n := 0
	for ty := 0; ty < th; ty++ {
		for tx := 0; tx < tw; tx++ {
			sx := tx * img.Width / tw
			sy := ty * img.Height / th
			r, g, b, _ := thumb.At(tb.Min.X+tx, tb.Min.Y+ty).RGBA()
			tl := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			diff += math.Abs(tl - img.Luminance[sy][sx])
			n++
		}
	}
	avgDiff := diff / float64(n)

	// 重压缩与缩放会带来 10-20 级误差，大幅偏离才算内容不同
	if avgDiff < 40 {
		return nil, nil
	}

	conf := 0.7 + 0.25*minFloat((avgDiff-40)/60, 1.0)
	ind := model.NewIndicator(model.KindThumbnailMismatch, "image/thumbnail_mismatch",
		"嵌入缩略图与主图内容不一致",
		model.SeverityHigh, conf).
		WithEvidence("avg_luma_diff", fmt.Sprintf("%.1f", avgDiff)).
		WithEvidence("thumbnail_size", fmt.Sprintf("%dx%d", tw, th))
	return []model.Indicator{ind}, nil
}

// ============================================================
// 重采样痕迹
// ============================================================

// checkImageResampling 检测插值残差的周期性
func checkImageResampling(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	img, err := imageView(view)
	if err != nil {
		return nil, err
	}

	if img.Width < 64 || img.Height < 64 {
		return nil, nil
	}

	// 行方向二阶差分的幅值序列
	h := img.Height
	w := img.Width
	profile := make([]float64, w-2)
	for x := 1; x < w-1; x++ {
		var sum float64
		for y := 0; y < h; y++ {
			sum += math.Abs(img.Luminance[y][x-1] - 2*img.Luminance[y][x] + img.Luminance[y][x+1])
		}
		profile[x-1] = sum / float64(h)
	}

	// 线性插值使残差以缩放比的倒数为周期起伏
	bestLag, bestCorr := 0, 0.0
	for lag := 2; lag <= 8; lag++ {
		c := autocorrelation(profile, lag)
		if c > bestCorr {
			bestLag, bestCorr = lag, c
		}
	}
	if bestCorr < 0.5 {
		return nil, nil
	}

	conf := 0.5 + 0.35*minFloat((bestCorr-0.5)/0.4, 1.0)
	ind := model.NewIndicator(model.KindResamplingArtifact, "image/resampling_artifact",
		fmt.Sprintf("插值残差呈周期 %d 的规律起伏", bestLag),
		model.SeverityLow, conf).
		WithEvidence("period", fmt.Sprintf("%d", bestLag)).
		WithEvidence("correlation", fmt.Sprintf("%.3f", bestCorr))
	return []model.Indicator{ind}, nil
}

// autocorrelation 去均值归一化自相关
func autocorrelation(series []float64, lag int) float64 {
	if len(series) <= lag {
		return 0
	}
	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))

	var num, den float64
	for i := 0; i < len(series)-lag; i++ {
		num += (series[i] - mean) * (series[i+lag] - mean)
	}
	for _, v := range series {
		den += (v - mean) * (v - mean)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// ============================================================
// 统计工具
// ============================================================

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		sumSq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
