package analyzer

import (
	"strings"
	"testing"
	"time"

	"docForensics/internal/forgery/config"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

func defaultCal() *config.Calibration {
	return config.DefaultCalibration()
}

// TestHiddenText_ColorMatchesShading 字色与段落底纹同色的长文本应命中一次
func TestHiddenText_ColorMatchesShading(t *testing.T) {
	view := &parser.WordView{
		Paragraphs: []parser.Paragraph{
			{
				Index:   0,
				Shading: "FFFFFF",
				Runs: []parser.Run{
					{Index: 0, Text: "normal visible text", Color: "000000"},
					{Index: 1, Text: "this entire sentence is invisible", Color: "FFFFFF"},
				},
			},
		},
	}

	inds, err := checkWordHiddenText(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want exactly 1", len(inds))
	}

	ind := inds[0]
	if ind.Kind != model.KindHiddenText {
		t.Errorf("kind = %v, want hidden_text", ind.Kind)
	}
	if ind.Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want High", ind.Severity)
	}
	if ind.Confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9", ind.Confidence)
	}
	if ind.Location == nil || ind.Location.Paragraph != 0 || ind.Location.Run != 1 {
		t.Errorf("location = %+v, want paragraph 0 run 1", ind.Location)
	}
}

// TestHiddenText_Vanish vanish 属性文本
func TestHiddenText_Vanish(t *testing.T) {
	view := &parser.WordView{
		Paragraphs: []parser.Paragraph{
			{Runs: []parser.Run{{Text: "secretly removed clause", Vanish: true}}},
		},
	}
	inds, err := checkWordHiddenText(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Evidence["reason"] != "vanish属性" {
		t.Errorf("reason = %q", inds[0].Evidence["reason"])
	}
}

// TestHiddenText_ShortRunIgnored 低于最小长度不报
func TestHiddenText_ShortRunIgnored(t *testing.T) {
	view := &parser.WordView{
		Paragraphs: []parser.Paragraph{
			{Shading: "FFFFFF", Runs: []parser.Run{{Text: "ab", Color: "FFFFFF"}}},
		},
	}
	inds, err := checkWordHiddenText(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0 for short run", len(inds))
	}
}

// TestTrackChanges_DeletionGrading 删除否定词的修订为高危，普通删除为低危
func TestTrackChanges_DeletionGrading(t *testing.T) {
	view := &parser.WordView{
		Revisions: []parser.RevisionMark{
			{Kind: "del", Author: "x", Paragraph: 3, Text: "the party shall not be liable"},
			{Kind: "del", Author: "x", Paragraph: 7, Text: "minor wording tweak"},
		},
	}

	inds, err := checkWordTrackChanges(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 2 {
		t.Fatalf("indicators = %d, want 2", len(inds))
	}

	if inds[0].Kind != model.KindTrackChangesAnomaly {
		t.Errorf("kind = %v, want track_changes_anomaly", inds[0].Kind)
	}
	if inds[0].Severity != model.SeverityHigh {
		t.Errorf("significant deletion severity = %v, want High", inds[0].Severity)
	}
	if !strings.Contains(inds[0].Evidence["deleted_text"], "shall not") {
		t.Errorf("evidence should carry deleted text, got %q", inds[0].Evidence["deleted_text"])
	}

	if inds[1].Severity != model.SeverityLow {
		t.Errorf("plain deletion severity = %v, want Low", inds[1].Severity)
	}
	if inds[1].Location == nil || inds[1].Location.Paragraph != 7 {
		t.Errorf("location = %+v, want paragraph 7", inds[1].Location)
	}
}

// TestRevisions_RapidMultiAuthor 多作者秒级交替修订
func TestRevisions_RapidMultiAuthor(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	view := &parser.WordView{
		Revisions: []parser.RevisionMark{
			{Kind: "ins", Author: "alice", Date: base},
			{Kind: "ins", Author: "bob", Date: base.Add(5 * time.Second)},
			{Kind: "ins", Author: "alice", Date: base.Add(9 * time.Second)},
		},
	}

	inds, err := checkWordRevisions(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindRevisionManipulation {
		t.Errorf("kind = %v, want revision_manipulation", inds[0].Kind)
	}
	if inds[0].Severity != model.SeverityMedium {
		t.Errorf("severity = %v, want Medium", inds[0].Severity)
	}
	if inds[0].Evidence["rapid_pairs"] != "2" {
		t.Errorf("rapid_pairs = %q, want 2", inds[0].Evidence["rapid_pairs"])
	}
}

// TestRevisions_SingleAuthorQuiet 单作者不报
func TestRevisions_SingleAuthorQuiet(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	view := &parser.WordView{
		Revisions: []parser.RevisionMark{
			{Kind: "ins", Author: "alice", Date: base},
			{Kind: "ins", Author: "alice", Date: base.Add(time.Second)},
		},
	}
	inds, err := checkWordRevisions(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0", len(inds))
	}
}

// TestMetadata_CreatedAfterModified 创建晚于修改
func TestMetadata_CreatedAfterModified(t *testing.T) {
	view := &parser.WordView{
		Core: parser.CoreProperties{
			Created:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			Modified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	inds, err := checkWordMetadata(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindMetadataInconsistency {
		t.Errorf("kind = %v", inds[0].Kind)
	}
}

// TestTemplate_RemoteTarget 远程模板为最高危
func TestTemplate_RemoteTarget(t *testing.T) {
	view := &parser.WordView{AttachedTemplate: "https://attacker.example/x.dotm"}
	inds, err := checkWordTemplate(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want Critical", inds[0].Severity)
	}
}

// TestFieldCodes_DDE DDE 域指令
func TestFieldCodes_DDE(t *testing.T) {
	view := &parser.WordView{
		FieldCodes: []parser.FieldCode{
			{Paragraph: 2, Instruction: `DDEAUTO c:\windows\system32\cmd.exe "/c calc"`},
			{Paragraph: 3, Instruction: "PAGE"},
		},
	}
	inds, err := checkWordFieldCodes(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1 (PAGE is benign)", len(inds))
	}
	if inds[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want Critical", inds[0].Severity)
	}
}

// TestFonts_IsolatedDeviation 段内孤立字体偏离
func TestFonts_IsolatedDeviation(t *testing.T) {
	runs := []parser.Run{
		{Index: 0, Text: "part one", Font: "SimSun"},
		{Index: 1, Text: "part two", Font: "SimSun"},
		{Index: 2, Text: "42,000", Font: "Courier New"},
		{Index: 3, Text: "part four", Font: "SimSun"},
	}
	view := &parser.WordView{Paragraphs: []parser.Paragraph{{Index: 0, Runs: runs}}}

	inds, err := checkWordFonts(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Evidence["run_font"] != "Courier New" {
		t.Errorf("deviant font = %q", inds[0].Evidence["run_font"])
	}
}
