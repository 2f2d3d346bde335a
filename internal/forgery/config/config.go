// Package config 定义引擎的可注入校准参数
// 所有启发式阈值集中在此处，检测项内部不得硬编码数值
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Calibration 校准参数集合
// 默认值为既有校准常量，由外部提供而非引擎学习得到
type Calibration struct {
	// 整体分析超时
	Timeout time.Duration `json:"timeout_ns"`

	// 严重程度置信度权重（聚合用）
	// 数值保持既有约定（Critical=1.0, High=0.8, Medium=0.6, Low=0.4），
	// 其合理性未经实证验证，调整需领域专家评审
	SeverityWeights SeverityWeights `json:"severity_weights"`

	Word  WordCalibration  `json:"word"`
	Excel ExcelCalibration `json:"excel"`
	Text  TextCalibration  `json:"text"`
	Image ImageCalibration `json:"image"`
	Pdf   PdfCalibration   `json:"pdf"`
}

// SeverityWeights 按严重程度的置信度权重
type SeverityWeights struct {
	Critical float64 `json:"critical"`
	High     float64 `json:"high"`
	Medium   float64 `json:"medium"`
	Low      float64 `json:"low"`
}

// WordCalibration Word 家族校准参数
type WordCalibration struct {
	// 隐藏文本：最小命中长度与置信度区间
	HiddenTextMinRunLen     int     `json:"hidden_text_min_run_len"`
	HiddenTextBaseConf      float64 `json:"hidden_text_base_conf"`
	HiddenTextMaxConf       float64 `json:"hidden_text_max_conf"`
	HiddenTextFullConfLen   int     `json:"hidden_text_full_conf_len"` // 达到该长度取最大置信度

	// 修订异常：多作者且相邻修订间隔低于该阈值视为"不合常理地快"
	RapidRevisionDelta time.Duration `json:"rapid_revision_delta_ns"`
	RevisionBaseConf   float64       `json:"revision_base_conf"`
	RevisionMaxConf    float64       `json:"revision_max_conf"`

	// 修订痕迹语义检查：删除内容中出现这些词时升为高危
	SignificantTokens []string `json:"significant_tokens"`

	// 元数据：创建时间晚于修改时间的容忍偏差
	MetadataClockSkew time.Duration `json:"metadata_clock_skew_ns"`
}

// ExcelCalibration Excel 家族校准参数
type ExcelCalibration struct {
	// 公式重算相对误差容忍
	FormulaTolerance float64 `json:"formula_tolerance"`
	// 相对误差达到该值时置信度取满
	FormulaFullConfRatio float64 `json:"formula_full_conf_ratio"`
}

// TextCalibration 文本家族校准参数
type TextCalibration struct {
	// 不可见字符密度达到该值时置信度取满（字符数/文本长度）
	InvisibleFullConfDensity float64 `json:"invisible_full_conf_density"`
	// 同一词内混合书写系统判定所需的最小字母数
	HomoglyphMinTokenLen int `json:"homoglyph_min_token_len"`
	// 连续行尾空白被视为隐写的最小行数
	TrailingSpaceMinLines int `json:"trailing_space_min_lines"`
}

// ImageCalibration 图片家族校准参数
type ImageCalibration struct {
	// 克隆检测：描述块边长、匹配位移向量所需的最小块数、最小位移
	CloneBlockSize       int     `json:"clone_block_size"`
	CloneMinClusterSize  int     `json:"clone_min_cluster_size"`
	CloneMinDisplacement int     `json:"clone_min_displacement"`
	CloneFullConfBlocks  int     `json:"clone_full_conf_blocks"`

	// 噪声一致性：分块边长与偏离中位数的标准差倍数
	NoiseBlockSize   int     `json:"noise_block_size"`
	NoiseStdDevK     float64 `json:"noise_stddev_k"`

	// 压缩异常：次级块栅格强度与主栅格强度之比的阈值
	CompressionGridRatio float64 `json:"compression_grid_ratio"`

	// 边缘一致性：块间梯度能量比阈值
	EdgeEnergyRatio float64 `json:"edge_energy_ratio"`

	// 可疑编辑软件标识
	SuspectSoftwareTags []string `json:"suspect_software_tags"`
}

// PdfCalibration PDF 家族校准参数
type PdfCalibration struct {
	// 增量更新指标的固定置信度（结构性事实而非概率判断）
	IncrementalUpdateConf float64 `json:"incremental_update_conf"`
	// 文本层不匹配：文字绘制操作数与可提取文本长度的偏差比
	TextLayerDivergenceRatio float64 `json:"text_layer_divergence_ratio"`
}

// DefaultCalibration 返回默认校准参数
func DefaultCalibration() *Calibration {
	return &Calibration{
		Timeout: 30 * time.Second,
		SeverityWeights: SeverityWeights{
			Critical: 1.0,
			High:     0.8,
			Medium:   0.6,
			Low:      0.4,
		},
		Word: WordCalibration{
			HiddenTextMinRunLen:   4,
			HiddenTextBaseConf:    0.9,
			HiddenTextMaxConf:     0.95,
			HiddenTextFullConfLen: 80,
			RapidRevisionDelta:    60 * time.Second,
			RevisionBaseConf:      0.6,
			RevisionMaxConf:       0.85,
			SignificantTokens: []string{
				"not", "no", "never", "shall", "must", "void",
				"不", "未", "无", "禁止", "应当", "必须",
				"$", "¥", "€", "元", "万元",
			},
			MetadataClockSkew: 2 * time.Minute,
		},
		Excel: ExcelCalibration{
			FormulaTolerance:     1e-6,
			FormulaFullConfRatio: 0.5,
		},
		Text: TextCalibration{
			InvisibleFullConfDensity: 0.01,
			HomoglyphMinTokenLen:     3,
			TrailingSpaceMinLines:    8,
		},
		Image: ImageCalibration{
			CloneBlockSize:       16,
			CloneMinClusterSize:  3,
			CloneMinDisplacement: 24,
			CloneFullConfBlocks:  16,
			NoiseBlockSize:       32,
			NoiseStdDevK:         3.0,
			CompressionGridRatio: 0.6,
			EdgeEnergyRatio:      4.0,
			SuspectSoftwareTags: []string{
				"photoshop", "gimp", "paint.net", "pixelmator", "affinity",
			},
		},
		Pdf: PdfCalibration{
			IncrementalUpdateConf:    0.9,
			TextLayerDivergenceRatio: 0.5,
		},
	}
}

// Normalize 校验并修正参数到合法区间
func (c *Calibration) Normalize() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}

	clamp01 := func(v *float64, def float64) {
		if *v <= 0 || *v > 1 {
			*v = def
		}
	}

	clamp01(&c.SeverityWeights.Critical, 1.0)
	clamp01(&c.SeverityWeights.High, 0.8)
	clamp01(&c.SeverityWeights.Medium, 0.6)
	clamp01(&c.SeverityWeights.Low, 0.4)

	if c.Word.HiddenTextMinRunLen <= 0 {
		c.Word.HiddenTextMinRunLen = 4
	}
	if c.Word.HiddenTextFullConfLen <= c.Word.HiddenTextMinRunLen {
		c.Word.HiddenTextFullConfLen = 80
	}
	clamp01(&c.Word.HiddenTextBaseConf, 0.9)
	clamp01(&c.Word.HiddenTextMaxConf, 0.95)
	if c.Word.RapidRevisionDelta <= 0 {
		c.Word.RapidRevisionDelta = 60 * time.Second
	}

	if c.Excel.FormulaTolerance <= 0 {
		c.Excel.FormulaTolerance = 1e-6
	}
	if c.Excel.FormulaFullConfRatio <= 0 {
		c.Excel.FormulaFullConfRatio = 0.5
	}

	if c.Text.InvisibleFullConfDensity <= 0 {
		c.Text.InvisibleFullConfDensity = 0.01
	}
	if c.Text.HomoglyphMinTokenLen <= 0 {
		c.Text.HomoglyphMinTokenLen = 3
	}
	if c.Text.TrailingSpaceMinLines <= 0 {
		c.Text.TrailingSpaceMinLines = 8
	}

	if c.Image.CloneBlockSize <= 0 {
		c.Image.CloneBlockSize = 16
	}
	if c.Image.CloneMinClusterSize <= 0 {
		c.Image.CloneMinClusterSize = 3
	}
	if c.Image.CloneMinDisplacement <= 0 {
		c.Image.CloneMinDisplacement = 24
	}
	if c.Image.NoiseBlockSize <= 0 {
		c.Image.NoiseBlockSize = 32
	}
	if c.Image.NoiseStdDevK <= 0 {
		c.Image.NoiseStdDevK = 3.0
	}

	clamp01(&c.Pdf.IncrementalUpdateConf, 0.9)
	if c.Pdf.TextLayerDivergenceRatio <= 0 {
		c.Pdf.TextLayerDivergenceRatio = 0.5
	}
}

// LoadFromFile 从 JSON 文件加载校准参数（缺省项回落到默认值）
func LoadFromFile(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取校准文件失败: %w", err)
	}

	cal := DefaultCalibration()
	if err := json.Unmarshal(data, cal); err != nil {
		return nil, fmt.Errorf("解析校准文件失败: %w", err)
	}

	cal.Normalize()
	return cal, nil
}
