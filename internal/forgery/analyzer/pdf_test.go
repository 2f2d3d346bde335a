package analyzer

import (
	"crypto/sha256"
	"encoding/asn1"
	"testing"
	"time"

	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// ============================================================
// PKCS#7 构造工具
// ============================================================

// derTLV 拼一个 DER TLV
func derTLV(tag byte, content []byte) []byte {
	n := len(content)
	var out []byte
	switch {
	case n < 0x80:
		out = []byte{tag, byte(n)}
	case n < 0x100:
		out = []byte{tag, 0x81, byte(n)}
	default:
		out = []byte{tag, 0x82, byte(n >> 8), byte(n)}
	}
	return append(out, content...)
}

func mustDER(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := asn1.Marshal(v)
	if err != nil {
		t.Fatalf("asn1.Marshal(%v) failed: %v", v, err)
	}
	return b
}

// buildPkcs7 构造带 messageDigest 属性的最小 SignedData 容器
func buildPkcs7(t *testing.T, digest []byte) []byte {
	t.Helper()

	oidData := asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidSignedDataType := asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidRSA := asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

	intOne := mustDER(t, 1)
	algSHA256 := derTLV(0x30, mustDER(t, oidSHA256))
	algRSA := derTLV(0x30, mustDER(t, oidRSA))

	// messageDigest 属性: SEQ{OID, SET{OCTET STRING}}
	attr := derTLV(0x30, append(
		mustDER(t, oidMessageDigest),
		derTLV(0x31, mustDER(t, digest))...))

	signer := derTLV(0x30, concat(
		intOne,
		derTLV(0x30, nil), // issuerAndSerial 占位
		algSHA256,
		derTLV(0xA0, attr), // authenticatedAttributes
		algRSA,
		mustDER(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}), // encryptedDigest
	))

	sd := derTLV(0x30, concat(
		intOne,
		derTLV(0x31, algSHA256),            // digestAlgorithms
		derTLV(0x30, mustDER(t, oidData)),  // contentInfo
		derTLV(0x31, signer),               // signerInfos
	))

	return derTLV(0x30, append(mustDER(t, oidSignedDataType), derTLV(0xA0, sd)...))
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ============================================================
// 签名完整性
// ============================================================

// TestSignature_DigestMismatch 摘要与被签数据不符
func TestSignature_DigestMismatch(t *testing.T) {
	raw := []byte("%PDF-1.7 fake body for digest test %%EOF")
	wrong := sha256.Sum256([]byte("something else entirely"))

	view := &parser.PdfView{
		Raw: raw,
		Signatures: []parser.SignatureDict{{
			ObjectNum: 5,
			ByteRange: []int64{0, int64(len(raw)), int64(len(raw)), 0},
			Contents:  buildPkcs7(t, wrong[:]),
			SubFilter: "adbe.pkcs7.detached",
		}},
	}

	inds, err := checkPdfSignatures(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1: %+v", len(inds), inds)
	}
	ind := inds[0]
	if ind.Kind != model.KindSignatureBroken {
		t.Errorf("kind = %v, want SignatureBroken", ind.Kind)
	}
	if ind.Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want Critical", ind.Severity)
	}
	if ind.Evidence["digest_alg"] != "sha256" {
		t.Errorf("digest_alg = %q", ind.Evidence["digest_alg"])
	}
}

// TestSignature_DigestMatchQuiet 摘要吻合且覆盖完整不产生指标
func TestSignature_DigestMatchQuiet(t *testing.T) {
	raw := []byte("%PDF-1.7 intact signed document %%EOF")
	sum := sha256.Sum256(raw)

	view := &parser.PdfView{
		Raw: raw,
		Signatures: []parser.SignatureDict{{
			ObjectNum: 5,
			ByteRange: []int64{0, int64(len(raw)), int64(len(raw)), 0},
			Contents:  buildPkcs7(t, sum[:]),
		}},
	}

	inds, err := checkPdfSignatures(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0: %+v", len(inds), inds)
	}
}

// TestSignature_TrailingBytes 签名后追加内容
func TestSignature_TrailingBytes(t *testing.T) {
	raw := []byte("%PDF-1.7 original content %%EOF appended after signing")
	const signedEnd = 31 // "%%EOF" 结束处
	signed := append(append([]byte(nil), raw[0:10]...), raw[15:signedEnd]...)
	sum := sha256.Sum256(signed)

	view := &parser.PdfView{
		Raw: raw,
		Signatures: []parser.SignatureDict{{
			ObjectNum: 5,
			ByteRange: []int64{0, 10, 15, signedEnd - 15},
			Contents:  buildPkcs7(t, sum[:]),
		}},
	}

	inds, err := checkPdfSignatures(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1: %+v", len(inds), inds)
	}
	if inds[0].Kind != model.KindSignatureBroken {
		t.Errorf("kind = %v, want SignatureBroken", inds[0].Kind)
	}
	if inds[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %v, want Critical", inds[0].Severity)
	}
}

// TestSignature_IncompleteDict 签名字典缺字段
func TestSignature_IncompleteDict(t *testing.T) {
	view := &parser.PdfView{
		Raw:        []byte("%PDF-1.7"),
		Signatures: []parser.SignatureDict{{ObjectNum: 3, SubFilter: "adbe.pkcs7.detached"}},
	}

	inds, err := checkPdfSignatures(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindSignatureUnverified {
		t.Errorf("kind = %v, want SignatureUnverified", inds[0].Kind)
	}
	if inds[0].Severity != model.SeverityMedium {
		t.Errorf("severity = %v, want Medium", inds[0].Severity)
	}
}

// TestSignature_GarbageContents 签名容器不可解析
func TestSignature_GarbageContents(t *testing.T) {
	raw := []byte("%PDF-1.7 body %%EOF")
	view := &parser.PdfView{
		Raw: raw,
		Signatures: []parser.SignatureDict{{
			ObjectNum: 4,
			ByteRange: []int64{0, int64(len(raw)), int64(len(raw)), 0},
			Contents:  []byte{0x01, 0x02, 0x03},
		}},
	}

	inds, err := checkPdfSignatures(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1: %+v", len(inds), inds)
	}
	if inds[0].Kind != model.KindSignatureUnverified {
		t.Errorf("kind = %v, want SignatureUnverified", inds[0].Kind)
	}
}

// ============================================================
// 增量更新
// ============================================================

// TestIncrementalUpdate_SignedDocument 签名覆盖范围之后的增量更新为高危
func TestIncrementalUpdate_SignedDocument(t *testing.T) {
	view := &parser.PdfView{
		Revisions:  []parser.Revision{{EOFOffset: 100}, {EOFOffset: 200}},
		Signatures: []parser.SignatureDict{{ObjectNum: 5, ByteRange: []int64{0, 90, 95, 5}}},
	}

	inds, err := checkPdfIncremental(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}

	ind := inds[0]
	if ind.Kind != model.KindIncrementalUpdate {
		t.Errorf("kind = %v", ind.Kind)
	}
	if ind.Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want High", ind.Severity)
	}
	if ind.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", ind.Confidence)
	}
	if ind.Evidence["signed"] != "true" {
		t.Errorf("signed = %q, want true", ind.Evidence["signed"])
	}
	if ind.Evidence["post_signed_revisions"] != "1" {
		t.Errorf("post_signed_revisions = %q, want 1", ind.Evidence["post_signed_revisions"])
	}
}

// TestIncrementalUpdate_SignatureCoversFinalRevision 签名覆盖到最后一次修订时不升危
func TestIncrementalUpdate_SignatureCoversFinalRevision(t *testing.T) {
	view := &parser.PdfView{
		Revisions:  []parser.Revision{{EOFOffset: 100}, {EOFOffset: 200}},
		Signatures: []parser.SignatureDict{{ObjectNum: 5, ByteRange: []int64{0, 150, 180, 20}}},
	}

	inds, err := checkPdfIncremental(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Severity != model.SeverityMedium {
		t.Errorf("severity = %v, want Medium", inds[0].Severity)
	}
	if inds[0].Evidence["post_signed_revisions"] != "0" {
		t.Errorf("post_signed_revisions = %q, want 0", inds[0].Evidence["post_signed_revisions"])
	}
}

// TestIncrementalUpdate_UnsignedIsMedium 未签名文档的增量更新降为中危
func TestIncrementalUpdate_UnsignedIsMedium(t *testing.T) {
	view := &parser.PdfView{
		Revisions: []parser.Revision{{EOFOffset: 100}, {EOFOffset: 200}, {EOFOffset: 300}},
	}

	inds, err := checkPdfIncremental(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Severity != model.SeverityMedium {
		t.Errorf("severity = %v, want Medium", inds[0].Severity)
	}
	if inds[0].Evidence["revision_count"] != "3" {
		t.Errorf("revision_count = %q, want 3", inds[0].Evidence["revision_count"])
	}
}

// TestIncrementalUpdate_SingleRevisionQuiet 单一修订不报
func TestIncrementalUpdate_SingleRevisionQuiet(t *testing.T) {
	view := &parser.PdfView{Revisions: []parser.Revision{{EOFOffset: 100}}}

	inds, err := checkPdfIncremental(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0", len(inds))
	}
}

// ============================================================
// 交叉引用
// ============================================================

// TestXref_MissingObject 表项指向不存在的对象
func TestXref_MissingObject(t *testing.T) {
	view := &parser.PdfView{
		Raw:        []byte("%PDF-1.7"),
		Objects:    map[int]parser.Object{},
		XrefOffset: map[int]int64{7: 42},
	}

	inds, err := checkPdfXref(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindXrefInconsistency {
		t.Errorf("kind = %v", inds[0].Kind)
	}
	if inds[0].Location.ObjectNum != 7 {
		t.Errorf("object num = %d, want 7", inds[0].Location.ObjectNum)
	}
}

// TestXref_OffsetMismatch 偏移处不是对象头
func TestXref_OffsetMismatch(t *testing.T) {
	raw := []byte("%PDF-1.7\n3 0 obj\n<< >>\nendobj\n")
	view := &parser.PdfView{
		Raw:        raw,
		Objects:    map[int]parser.Object{3: {Num: 3, Offset: 9}},
		XrefOffset: map[int]int64{3: 2}, // 指向 "DF-1.7" 中间
	}

	inds, err := checkPdfXref(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Evidence["actual_offset"] != "9" {
		t.Errorf("actual_offset = %q, want 9", inds[0].Evidence["actual_offset"])
	}
}

// TestXref_MissingObjectsOrdered 多个缺失对象按对象号升序上报
func TestXref_MissingObjectsOrdered(t *testing.T) {
	view := &parser.PdfView{
		Raw:        []byte("%PDF-1.7"),
		Objects:    map[int]parser.Object{},
		XrefOffset: map[int]int64{5: 10, 2: 20, 9: 30},
	}

	inds, err := checkPdfXref(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 3 {
		t.Fatalf("indicators = %d, want 3", len(inds))
	}
	want := []int{2, 5, 9}
	for i, ind := range inds {
		if ind.Location.ObjectNum != want[i] {
			t.Errorf("indicator %d object num = %d, want %d", i, ind.Location.ObjectNum, want[i])
		}
	}
}

// TestXref_StaleButValidOffsetQuiet 偏移过期但确有对象头时不报
func TestXref_StaleButValidOffsetQuiet(t *testing.T) {
	raw := []byte("3 0 obj\n<< /Old 1 >>\nendobj\n3 0 obj\n<< /New 2 >>\nendobj\n")
	view := &parser.PdfView{
		Raw:        raw,
		Objects:    map[int]parser.Object{3: {Num: 3, Offset: 28}},
		XrefOffset: map[int]int64{3: 0},
	}

	inds, err := checkPdfXref(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 0 {
		t.Errorf("indicators = %d, want 0: %+v", len(inds), inds)
	}
}

// ============================================================
// JavaScript / 时间 / 孤儿对象
// ============================================================

func TestJavaScriptEmbedded(t *testing.T) {
	view := &parser.PdfView{HasJS: true, JSObjects: []int{12, 15}}

	inds, err := checkPdfJavaScript(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Severity != model.SeverityHigh {
		t.Errorf("severity = %v, want High", inds[0].Severity)
	}
	if inds[0].Location.ObjectNum != 12 {
		t.Errorf("object num = %d, want 12", inds[0].Location.ObjectNum)
	}
}

func TestDateInconsistency(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	view := &parser.PdfView{
		Info: parser.InfoDates{Creation: created, Modified: created.Add(-24 * time.Hour)},
		Signatures: []parser.SignatureDict{{
			ObjectNum: 6,
			SignTime:  created.Add(-48 * time.Hour),
		}},
	}

	inds, err := checkPdfDates(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	// 修改时间矛盾 + 签名时间矛盾
	if len(inds) != 2 {
		t.Fatalf("indicators = %d, want 2: %+v", len(inds), inds)
	}
	for _, ind := range inds {
		if ind.Kind != model.KindDateInconsistency {
			t.Errorf("kind = %v", ind.Kind)
		}
		if ind.Severity != model.SeverityMedium {
			t.Errorf("severity = %v, want Medium", ind.Severity)
		}
	}
}

func TestOrphanObjects(t *testing.T) {
	view := &parser.PdfView{
		Objects: map[int]parser.Object{
			1: {Num: 1, Body: "<< /Type /Catalog /Pages 2 0 R >>"},
			9: {Num: 9, Body: "<< /Length 64 >> 原先的合同金额条款残留在这里"},
		},
		Referenced: map[int]bool{1: true},
	}

	inds, err := checkPdfOrphans(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindOrphanObject {
		t.Errorf("kind = %v", inds[0].Kind)
	}
	if inds[0].Location.ObjectNum != 9 {
		t.Errorf("object num = %d, want 9", inds[0].Location.ObjectNum)
	}
}

// TestOrphanObjects_SmallestNumberFirst 多个孤儿对象时定位到最小对象号
func TestOrphanObjects_SmallestNumberFirst(t *testing.T) {
	view := &parser.PdfView{
		Objects: map[int]parser.Object{
			9: {Num: 9, Body: "<< /Length 64 >> 原先的合同金额条款残留在这里"},
			4: {Num: 4, Body: "<< /Length 48 >> 另一段被替换前的正文内容残留"},
		},
		Referenced: map[int]bool{},
	}

	inds, err := checkPdfOrphans(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Location.ObjectNum != 4 {
		t.Errorf("object num = %d, want 4", inds[0].Location.ObjectNum)
	}
	if inds[0].Evidence["orphan_count"] != "2" {
		t.Errorf("orphan_count = %q, want 2", inds[0].Evidence["orphan_count"])
	}
}

// TestTextLayerMismatch 文字绘制操作多而可提取文本少
func TestTextLayerMismatch(t *testing.T) {
	raw := []byte("1 0 obj\n<< /Length 40 >>\nstream\nBT (a) Tj (b) Tj [(c)] TJ ET\nendstream\nendobj\n")
	view := &parser.PdfView{Raw: raw}

	inds, err := checkPdfTextLayer(view, defaultCal())
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if len(inds) != 1 {
		t.Fatalf("indicators = %d, want 1", len(inds))
	}
	if inds[0].Kind != model.KindTextLayerMismatch {
		t.Errorf("kind = %v", inds[0].Kind)
	}
	if inds[0].Evidence["text_operators"] != "3" {
		t.Errorf("text_operators = %q, want 3", inds[0].Evidence["text_operators"])
	}
}

func TestCountTextOperators(t *testing.T) {
	raw := []byte("stream\n(x) Tj (y) TJ\nendstream junk stream\n(z) Tj\nendstream")
	if got := countTextOperators(raw); got != 3 {
		t.Errorf("countTextOperators = %d, want 3", got)
	}
}
