package analyzer

import (
	"math/rand"
	"testing"
	"time"

	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// randomLuminance 生成非平坦的确定性亮度矩阵
func randomLuminance(w, h int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	lum := make([][]float64, h)
	for y := range lum {
		lum[y] = make([]float64, w)
		for x := range lum[y] {
			lum[y][x] = float64(rng.Intn(256))
		}
	}
	return lum
}

// rampLuminance 水平线性渐变，残差与二阶差分均为零
func rampLuminance(w, h int) [][]float64 {
	lum := make([][]float64, h)
	for y := range lum {
		lum[y] = make([]float64, w)
		for x := range lum[y] {
			lum[y][x] = float64(x % 256)
		}
	}
	return lum
}

// TestCloneDetection_DuplicatedPatch 把 64x64 区域复制到远处应命中一次
func TestCloneDetection_DuplicatedPatch(t *testing.T) {
	const w, h = 160, 160
	lum := randomLuminance(w, h, 7)

	// (16,16) 的 64x64 块复制到 (96,96)，位移 (80,80)
	for dy := 0; dy < 64; dy++ {
		for dx := 0; dx < 64; dx++ {
			lum[96+dy][96+dx] = lum[16+dy][16+dx]
		}
	}
	view := &parser.ImageView{Format: "png", Width: w, Height: h, Luminance: lum}

	inds, err := checkImageClones(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}

	ind := inds[0]
	if ind.Kind != model.KindCloneDetection {
		t.Errorf("kind = %v", ind.Kind)
	}
	if ind.Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want High", ind.Severity)
	}
	if ind.Evidence["displacement"] != "(80,80)" {
		t.Errorf("displacement = %q, want (80,80)", ind.Evidence["displacement"])
	}
	if ind.Location == nil || ind.Location.Region == nil {
		t.Fatalf("location region missing")
	}
}

// TestCloneDetection_CleanImageQuiet 无重复区域不报
func TestCloneDetection_CleanImageQuiet(t *testing.T) {
	view := &parser.ImageView{
		Format: "png", Width: 160, Height: 160,
		Luminance: randomLuminance(160, 160, 11),
	}

	inds, err := checkImageClones(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0: %+v", len(inds), inds)
	}
}

// TestCloneDetection_FlatImageQuiet 纯色图不构成证据
func TestCloneDetection_FlatImageQuiet(t *testing.T) {
	lum := make([][]float64, 160)
	for y := range lum {
		lum[y] = make([]float64, 160)
		for x := range lum[y] {
			lum[y][x] = 128
		}
	}
	view := &parser.ImageView{Format: "png", Width: 160, Height: 160, Luminance: lum}

	inds, err := checkImageClones(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0", len(inds))
	}
}

// TestNoiseInconsistency_SplicedRegion 渐变底图上两块高噪声区域
func TestNoiseInconsistency_SplicedRegion(t *testing.T) {
	const w, h = 160, 160
	lum := rampLuminance(w, h)

	rng := rand.New(rand.NewSource(3))
	addNoise := func(x0, y0 int) {
		for y := y0; y < y0+32; y++ {
			for x := x0; x < x0+32; x++ {
				lum[y][x] += float64(rng.Intn(101) - 50)
			}
		}
	}
	addNoise(0, 0)
	addNoise(96, 96)

	view := &parser.ImageView{Format: "png", Width: w, Height: h, Luminance: lum}

	inds, err := checkImageNoise(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindNoiseInconsistency {
		t.Errorf("kind = %v", inds[0].Kind)
	}
	if inds[0].Evidence["outlier_blocks"] != "2" {
		t.Errorf("outlier_blocks = %q, want 2", inds[0].Evidence["outlier_blocks"])
	}
}

// TestNoiseInconsistency_UniformQuiet 噪声均匀不报
func TestNoiseInconsistency_UniformQuiet(t *testing.T) {
	view := &parser.ImageView{
		Format: "png", Width: 160, Height: 160,
		Luminance: rampLuminance(160, 160),
	}

	inds, err := checkImageNoise(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0", len(inds))
	}
}

// TestCompressionAnomaly_ExtraQuantTables 量化表超过两张
func TestCompressionAnomaly_ExtraQuantTables(t *testing.T) {
	view := &parser.ImageView{Format: "jpeg", Width: 32, Height: 32, QuantCount: 4}

	inds, err := checkImageCompression(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindCompressionAnomaly {
		t.Errorf("kind = %v", inds[0].Kind)
	}
	if inds[0].Evidence["quant_tables"] != "4" {
		t.Errorf("quant_tables = %q, want 4", inds[0].Evidence["quant_tables"])
	}
}

// TestExifAnomaly_EditorSoftware 编辑软件痕迹
func TestExifAnomaly_EditorSoftware(t *testing.T) {
	view := &parser.ImageView{
		Format: "jpeg", Width: 32, Height: 32,
		Exif: parser.ExifInfo{Present: true, Software: "Adobe Photoshop 25.0"},
	}

	inds, err := checkImageExif(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Severity != model.SeverityLow {
		t.Errorf("severity = %v, want Low", inds[0].Severity)
	}
}

// TestExifAnomaly_PngSoftwareText PNG 软件标记走文本块
func TestExifAnomaly_PngSoftwareText(t *testing.T) {
	view := &parser.ImageView{
		Format: "png", Width: 32, Height: 32,
		PngTexts: []string{"Software=GIMP 2.10.36"},
	}

	inds, err := checkImageExif(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Evidence["software"] != "GIMP 2.10.36" {
		t.Errorf("software = %q", inds[0].Evidence["software"])
	}
}

// TestExifAnomaly_TimeContradiction 修改时间早于拍摄时间
func TestExifAnomaly_TimeContradiction(t *testing.T) {
	shot := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	view := &parser.ImageView{
		Format: "jpeg", Width: 32, Height: 32,
		Exif: parser.ExifInfo{
			Present:          true,
			DateTime:         shot.Add(-48 * time.Hour),
			DateTimeOriginal: shot,
		},
	}

	inds, err := checkImageExif(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Severity != model.SeverityMedium {
		t.Errorf("severity = %v, want Medium", inds[0].Severity)
	}
}

// TestResampling_RampQuiet 无插值周期性不报
// TestEdgeInconsistency_SeamBlocks 平缓背景中梯度悬殊的孤立区块为高危
func TestEdgeInconsistency_SeamBlocks(t *testing.T) {
	const w, h = 128, 128
	lum := rampLuminance(w, h)

	// 两个 16x16 棋盘格块，梯度能量远超渐变背景
	for _, origin := range [][2]int{{32, 32}, {80, 80}} {
		for dy := 0; dy < 16; dy++ {
			for dx := 0; dx < 16; dx++ {
				if (dx+dy)%2 == 0 {
					lum[origin[1]+dy][origin[0]+dx] = 255
				} else {
					lum[origin[1]+dy][origin[0]+dx] = 0
				}
			}
		}
	}
	view := &parser.ImageView{Format: "png", Width: w, Height: h, Luminance: lum}

	inds, err := checkImageEdges(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindEdgeInconsistency {
		t.Errorf("kind = %v", inds[0].Kind)
	}
	if inds[0].Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want High", inds[0].Severity)
	}
	if inds[0].Evidence["seam_blocks"] != "2" {
		t.Errorf("seam_blocks = %q, want 2", inds[0].Evidence["seam_blocks"])
	}
}

// TestEdgeInconsistency_RampQuiet 均匀渐变不报
func TestEdgeInconsistency_RampQuiet(t *testing.T) {
	view := &parser.ImageView{
		Format: "png", Width: 128, Height: 128,
		Luminance: rampLuminance(128, 128),
	}

	inds, err := checkImageEdges(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0", len(inds))
	}
}

func TestResampling_RampQuiet(t *testing.T) {
	view := &parser.ImageView{
		Format: "png", Width: 128, Height: 128,
		Luminance: rampLuminance(128, 128),
	}

	inds, err := checkImageResampling(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0", len(inds))
	}
}
