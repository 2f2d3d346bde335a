package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultCalibration_Sane 默认参数应直接可用
func TestDefaultCalibration_Sane(t *testing.T) {
	cal := DefaultCalibration()

	if cal.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cal.Timeout)
	}
	if cal.SeverityWeights.Critical != 1.0 || cal.SeverityWeights.Low != 0.4 {
		t.Errorf("weights = %+v", cal.SeverityWeights)
	}
	if cal.Excel.FormulaTolerance != 1e-6 {
		t.Errorf("FormulaTolerance = %v", cal.Excel.FormulaTolerance)
	}
	if cal.Image.CloneMinDisplacement != 24 {
		t.Errorf("CloneMinDisplacement = %v", cal.Image.CloneMinDisplacement)
	}
	if cal.Pdf.IncrementalUpdateConf != 0.9 {
		t.Errorf("IncrementalUpdateConf = %v", cal.Pdf.IncrementalUpdateConf)
	}
}

// TestNormalize_RepairsInvalidValues 非法值回落到默认
func TestNormalize_RepairsInvalidValues(t *testing.T) {
	cal := &Calibration{}
	cal.SeverityWeights.High = 1.5
	cal.Word.HiddenTextMinRunLen = -1
	cal.Excel.FormulaTolerance = 0
	cal.Image.NoiseStdDevK = -2

	cal.Normalize()

	if cal.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cal.Timeout)
	}
	if cal.SeverityWeights.High != 0.8 {
		t.Errorf("High weight = %v, want 0.8", cal.SeverityWeights.High)
	}
	if cal.Word.HiddenTextMinRunLen != 4 {
		t.Errorf("HiddenTextMinRunLen = %v, want 4", cal.Word.HiddenTextMinRunLen)
	}
	if cal.Excel.FormulaTolerance != 1e-6 {
		t.Errorf("FormulaTolerance = %v", cal.Excel.FormulaTolerance)
	}
	if cal.Image.NoiseStdDevK != 3.0 {
		t.Errorf("NoiseStdDevK = %v, want 3.0", cal.Image.NoiseStdDevK)
	}
}

// TestLoadFromFile 局部覆写，缺省项回落默认
func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	content := `{"excel": {"formula_tolerance": 0.001}, "image": {"clone_block_size": 32}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}

	cal, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cal.Excel.FormulaTolerance != 0.001 {
		t.Errorf("FormulaTolerance = %v, want 0.001", cal.Excel.FormulaTolerance)
	}
	if cal.Image.CloneBlockSize != 32 {
		t.Errorf("CloneBlockSize = %v, want 32", cal.Image.CloneBlockSize)
	}
	// 未覆写的维持默认
	if cal.Text.HomoglyphMinTokenLen != 3 {
		t.Errorf("HomoglyphMinTokenLen = %v, want 3", cal.Text.HomoglyphMinTokenLen)
	}
}

// TestLoadFromFile_Missing 文件不存在是错误
func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("LoadFromFile should fail on missing file")
	}
}

// TestLoadFromFile_BadJSON 畸形内容是错误
func TestLoadFromFile_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile should fail on malformed json")
	}
}
