package analyzer

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	ltpdf "github.com/ledongthuc/pdf"
	"github.com/tjfoc/gmsm/sm3"
	gmx509 "github.com/tjfoc/gmsm/x509"

	"docForensics/internal/forgery/config"
	ferrors "docForensics/internal/forgery/errors"
	"docForensics/internal/forgery/model"
	"docForensics/internal/forgery/parser"
)

// ============================================================
// PDF 家族检测项
// ============================================================

var pdfChecks = []Check{
	{Method: "pdf/signature_integrity", Run: checkPdfSignatures},
	{Method: "pdf/incremental_update", Run: checkPdfIncremental},
	{Method: "pdf/text_layer_mismatch", Run: checkPdfTextLayer},
	{Method: "pdf/xref_inconsistency", Run: checkPdfXref},
	{Method: "pdf/javascript_embedded", Run: checkPdfJavaScript},
	{Method: "pdf/date_inconsistency", Run: checkPdfDates},
	{Method: "pdf/orphan_object", Run: checkPdfOrphans},
}

func pdfView(view parser.View) (*parser.PdfView, error) {
	v, ok := view.(*parser.PdfView)
	if !ok {
		return nil, fmt.Errorf("结构视图类型不匹配: %T", view)
	}
	return v, nil
}

// ============================================================
// 签名完整性
// ============================================================

// checkPdfSignatures 校验签名摘要并检查覆盖范围
func checkPdfSignatures(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := pdfView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	for _, sig := range doc.Signatures {
		loc := &model.Location{ObjectNum: sig.ObjectNum}

		if len(sig.ByteRange) != 4 || len(sig.Contents) == 0 {
			ind := model.NewIndicator(model.KindSignatureUnverified, "pdf/signature_integrity",
				"签名字典不完整，无法校验", model.SeverityMedium, 0.6).
				WithLocation(loc).
				WithEvidence("sub_filter", sig.SubFilter)
			indicators = append(indicators, ind)
			continue
		}

		// 签名未覆盖到文件末尾：签名后又追加了内容
		signedEnd := sig.ByteRange[2] + sig.ByteRange[3]
		if signedEnd < int64(len(doc.Raw)) {
			trailing := int64(len(doc.Raw)) - signedEnd
			ind := model.NewIndicator(model.KindSignatureBroken, "pdf/signature_integrity",
				fmt.Sprintf("签名之后追加了 %d 字节内容", trailing),
				model.SeverityCritical, 0.95).
				WithLocation(loc).
				WithEvidence("signed_bytes", fmt.Sprintf("%d", signedEnd)).
				WithEvidence("file_bytes", fmt.Sprintf("%d", len(doc.Raw)))
			indicators = append(indicators, ind)
		}

		verdict := verifySignatureDigest(doc.Raw, sig)
		switch verdict.status {
		case sigDigestMismatch:
			ind := model.NewIndicator(model.KindSignatureBroken, "pdf/signature_integrity",
				"签名摘要与被签数据不符",
				model.SeverityCritical, 0.95).
				WithLocation(loc).
				WithEvidence("digest_alg", verdict.digestAlg).
				WithEvidence("signer", verdict.signer)
			indicators = append(indicators, ind)
		case sigUnverifiable:
			ind := model.NewIndicator(model.KindSignatureUnverified, "pdf/signature_integrity",
				"签名容器无法解析或摘要算法不受支持",
				model.SeverityMedium, 0.5).
				WithLocation(loc).
				WithEvidence("sub_filter", sig.SubFilter).
				WithEvidence("detail", verdict.detail)
			indicators = append(indicators, ind)
		}
		// 摘要吻合不产生指标
	}

	return indicators, nil
}

type sigStatus int

const (
	sigDigestOK sigStatus = iota
	sigDigestMismatch
	sigUnverifiable
)

type sigVerdict struct {
	status    sigStatus
	digestAlg string
	signer    string
	detail    string
}

// PKCS#7 / 属性 OID
var (
	oidMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidSHA1          = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSM3           = asn1.ObjectIdentifier{1, 2, 156, 10197, 1, 401}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	ContentInfo      contentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type signerInfo struct {
	Version            int
	IssuerAndSerial    asn1.RawValue
	DigestAlgorithm    algorithmIdentifier
	AuthAttributes     asn1.RawValue `asn1:"optional,tag:0"`
	DigestEncryptAlg   algorithmIdentifier
	EncryptedDigest    []byte
	UnauthAttributes   asn1.RawValue `asn1:"optional,tag:1"`
}

type pkcsAttribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

// verifySignatureDigest 对 ByteRange 数据重算摘要并与签名容器比对
func verifySignatureDigest(raw []byte, sig parser.SignatureDict) sigVerdict {
	br := sig.ByteRange
	if br[0] < 0 || br[1] < 0 || br[2] < 0 || br[3] < 0 ||
		br[0]+br[1] > int64(len(raw)) || br[2]+br[3] > int64(len(raw)) {
		return sigVerdict{status: sigUnverifiable, detail: "ByteRange 越界"}
	}
	signed := make([]byte, 0, br[1]+br[3])
	signed = append(signed, raw[br[0]:br[0]+br[1]]...)
	signed = append(signed, raw[br[2]:br[2]+br[3]]...)

	var outer contentInfo
	if _, err := asn1.Unmarshal(sig.Contents, &outer); err != nil {
		return sigVerdict{status: sigUnverifiable, detail: "签名容器非 PKCS#7 结构"}
	}
	var sd signedData
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &sd); err != nil {
		return sigVerdict{status: sigUnverifiable, detail: "SignedData 解析失败"}
	}
	if len(sd.SignerInfos) == 0 {
		return sigVerdict{status: sigUnverifiable, detail: "签名容器无签名者"}
	}
	signer := sd.SignerInfos[0]

	verdict := sigVerdict{signer: signerCommonName(sd.Certificates.Bytes)}

	var digest []byte
	switch {
	case signer.DigestAlgorithm.Algorithm.Equal(oidSHA256):
		verdict.digestAlg = "sha256"
		sum := sha256.Sum256(signed)
		digest = sum[:]
	case signer.DigestAlgorithm.Algorithm.Equal(oidSHA1):
		verdict.digestAlg = "sha1"
		sum := sha1.Sum(signed)
		digest = sum[:]
	case signer.DigestAlgorithm.Algorithm.Equal(oidSM3):
		verdict.digestAlg = "sm3"
		digest = sm3.Sm3Sum(signed)
	default:
		verdict.status = sigUnverifiable
		verdict.detail = "摘要算法不受支持: " + signer.DigestAlgorithm.Algorithm.String()
		return verdict
	}

	claimed := extractMessageDigest(signer.AuthAttributes.Bytes)
	if claimed == nil {
		verdict.status = sigUnverifiable
		verdict.detail = "签名者属性中无 messageDigest"
		return verdict
	}

	if bytes.Equal(digest, claimed) {
		verdict.status = sigDigestOK
	} else {
		verdict.status = sigDigestMismatch
	}
	return verdict
}

// extractMessageDigest 在签名者属性中取出 messageDigest 值
func extractMessageDigest(attrBytes []byte) []byte {
	rest := attrBytes
	for len(rest) > 0 {
		var attr pkcsAttribute
		next, err := asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil
		}
		rest = next
		if attr.Type.Equal(oidMessageDigest) {
			var value []byte
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &value); err != nil {
				return nil
			}
			return value
		}
	}
	return nil
}

// signerCommonName 解析证书链并返回首个主体 CN，国密证书走 gmsm
func signerCommonName(certBytes []byte) string {
	if len(certBytes) == 0 {
		return ""
	}
	if certs, err := x509.ParseCertificates(certBytes); err == nil && len(certs) > 0 {
		return certs[0].Subject.CommonName
	}
	if cert, err := gmx509.ParseCertificate(certBytes); err == nil {
		return cert.Subject.CommonName
	}
	return ""
}

// ============================================================
// 增量更新
// ============================================================

// checkPdfIncremental 检测增量更新痕迹
func checkPdfIncremental(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := pdfView(view)
	if err != nil {
		return nil, err
	}

	if len(doc.Revisions) <= 1 {
		return nil, nil
	}

	// 签名的 ByteRange 覆盖到的最远字节，之后的增量更新不在签名保护范围内
	signedEnd := int64(-1)
	for _, sig := range doc.Signatures {
		if len(sig.ByteRange) != 4 {
			continue
		}
		if end := sig.ByteRange[2] + sig.ByteRange[3]; end > signedEnd {
			signedEnd = end
		}
	}

	postSigned := 0
	if signedEnd >= 0 {
		for _, rev := range doc.Revisions {
			if rev.EOFOffset > signedEnd {
				postSigned++
			}
		}
	}

	extra := len(doc.Revisions) - 1
	severity := model.SeverityMedium
	desc := fmt.Sprintf("文档经历了 %d 次增量更新", extra)
	if postSigned > 0 {
		severity = model.SeverityHigh
		desc = fmt.Sprintf("签名覆盖范围之后存在 %d 次增量更新", postSigned)
	}

	ind := model.NewIndicator(model.KindIncrementalUpdate, "pdf/incremental_update",
		desc,
		severity, cal.Pdf.IncrementalUpdateConf).
		WithEvidence("revision_count", fmt.Sprintf("%d", len(doc.Revisions))).
		WithEvidence("signed", fmt.Sprintf("%t", len(doc.Signatures) > 0))
	if signedEnd >= 0 {
		ind = ind.WithEvidence("post_signed_revisions", fmt.Sprintf("%d", postSigned))
	}
	return []model.Indicator{ind}, nil
}

// ============================================================
// 文本层比对
// ============================================================

var textOpRe = regexp.MustCompile(`\b(Tj|TJ)\b`)

// checkPdfTextLayer 比对文字绘制操作量与可提取文本量
func checkPdfTextLayer(view parser.View, cal *config.Calibration) ([]model.Indicator, error) {
	doc, err := pdfView(view)
	if err != nil {
		return nil, err
	}

	textOps := countTextOperators(doc.Raw)
	if textOps == 0 {
		return nil, nil
	}

	// 提取库对畸形输入会 panic，隔离执行
	extracted, err := ferrors.SafeExecuteWithResult(func() (string, error) {
		return extractPlainText(doc.Raw)
	})
	if err != nil {
		extracted = ""
	}

	extractedLen := len(strings.TrimSpace(extracted))
	// 每个文字绘制操作至少应贡献约一个可提取字符
	if float64(extractedLen) >= float64(textOps)*cal.Pdf.TextLayerDivergenceRatio {
		return nil, nil
	}

	ind := model.NewIndicator(model.KindTextLayerMismatch, "pdf/text_layer_mismatch",
		fmt.Sprintf("%d 个文字绘制操作仅对应 %d 个可提取字符", textOps, extractedLen),
		model.SeverityMedium, 0.65).
		WithEvidence("text_operators", fmt.Sprintf("%d", textOps)).
		WithEvidence("extracted_chars", fmt.Sprintf("%d", extractedLen))
	return []model.Indicator{ind}, nil
}

// countTextOperators 统计内容流中的文字绘制操作
func countTextOperators(raw []byte) int {
	count := 0
	pos := 0
	for {
		idx := bytes.Index(raw[pos:], []byte("stream"))
		if idx < 0 {
			break
		}
		start := pos + idx + len("stream")
		for start < len(raw) && (raw[start] == '\r' || raw[start] == '\n') {
			start++
		}
		end := bytes.Index(raw[start:], []byte("endstream"))
		if end < 0 {
			break
		}
		body := raw[start : start+end]

		// FlateDecode 流先解压
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			if decoded, err := io.ReadAll(io.LimitReader(zr, 8<<20)); err == nil {
				body = decoded
			}
			zr.Close()
		}
		count += len(textOpRe.FindAll(body, -1))

		pos = start + end + len("endstream")
	}
	return count
}

// extractPlainText 提取全文文本层
func extractPlainText(raw []byte) (string, error) {
	reader, err := ltpdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", err
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, textReader); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ============================================================
// 交叉引用一致性
// ============================================================

// checkPdfXref 校验交叉引用表偏移与实际对象位置
func checkPdfXref(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := pdfView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator

	nums := make([]int, 0, len(doc.XrefOffset))
	for num := range doc.XrefOffset {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	for _, num := range nums {
		claimed := doc.XrefOffset[num]
		obj, exists := doc.Objects[num]
		if !exists {
			ind := model.NewIndicator(model.KindXrefInconsistency, "pdf/xref_inconsistency",
				fmt.Sprintf("交叉引用表声明了不存在的对象 %d", num),
				model.SeverityMedium, 0.8).
				WithLocation(&model.Location{ObjectNum: num}).
				WithEvidence("claimed_offset", fmt.Sprintf("%d", claimed))
			indicators = append(indicators, ind)
			continue
		}
		// 增量更新会让旧表项指向过期偏移，这里只报与任何版本都不符的
		if obj.Offset != claimed && !objHeaderAt(doc.Raw, claimed, num) {
			ind := model.NewIndicator(model.KindXrefInconsistency, "pdf/xref_inconsistency",
				fmt.Sprintf("对象 %d 的交叉引用偏移与实际位置不符", num),
				model.SeverityMedium, 0.75).
				WithLocation(&model.Location{ObjectNum: num}).
				WithEvidence("claimed_offset", fmt.Sprintf("%d", claimed)).
				WithEvidence("actual_offset", fmt.Sprintf("%d", obj.Offset))
			indicators = append(indicators, ind)
		}
		if len(indicators) >= 10 {
			break
		}
	}

	return indicators, nil
}

// objHeaderAt 判断指定偏移处是否为该对象的头
func objHeaderAt(raw []byte, offset int64, num int) bool {
	if offset < 0 || offset >= int64(len(raw)) {
		return false
	}
	window := raw[offset:]
	if len(window) > 32 {
		window = window[:32]
	}
	return bytes.HasPrefix(bytes.TrimLeft(window, " \r\n"), []byte(fmt.Sprintf("%d ", num)))
}

// ============================================================
// JavaScript
// ============================================================

// checkPdfJavaScript 检测内嵌 JavaScript 动作
func checkPdfJavaScript(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := pdfView(view)
	if err != nil {
		return nil, err
	}

	if !doc.HasJS {
		return nil, nil
	}

	loc := &model.Location{}
	if len(doc.JSObjects) > 0 {
		loc.ObjectNum = doc.JSObjects[0]
	}

	ind := model.NewIndicator(model.KindJavaScriptEmbedded, "pdf/javascript_embedded",
		fmt.Sprintf("文档含 %d 个 JavaScript 动作对象", len(doc.JSObjects)),
		model.SeverityHigh, 0.9).
		WithLocation(loc).
		WithEvidence("object_count", fmt.Sprintf("%d", len(doc.JSObjects)))
	return []model.Indicator{ind}, nil
}

// ============================================================
// 时间一致性
// ============================================================

// checkPdfDates 检测信息字典与签名时间的矛盾
func checkPdfDates(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := pdfView(view)
	if err != nil {
		return nil, err
	}

	var indicators []model.Indicator
	info := doc.Info

	if !info.Creation.IsZero() && !info.Modified.IsZero() && info.Modified.Before(info.Creation) {
		ind := model.NewIndicator(model.KindDateInconsistency, "pdf/date_inconsistency",
			"修改时间早于创建时间",
			model.SeverityMedium, 0.8).
			WithEvidence("creation_date", info.Creation.Format("2006-01-02 15:04:05")).
			WithEvidence("mod_date", info.Modified.Format("2006-01-02 15:04:05"))
		indicators = append(indicators, ind)
	}

	// 签名时间早于文档创建时间
	for _, sig := range doc.Signatures {
		if sig.SignTime.IsZero() || info.Creation.IsZero() {
			continue
		}
		if sig.SignTime.Before(info.Creation) {
			ind := model.NewIndicator(model.KindDateInconsistency, "pdf/date_inconsistency",
				"签名时间早于文档创建时间",
				model.SeverityMedium, 0.75).
				WithLocation(&model.Location{ObjectNum: sig.ObjectNum}).
				WithEvidence("sign_time", sig.SignTime.Format("2006-01-02 15:04:05")).
				WithEvidence("creation_date", info.Creation.Format("2006-01-02 15:04:05"))
			indicators = append(indicators, ind)
		}
	}

	return indicators, nil
}

// ============================================================
// 孤儿对象
// ============================================================

// checkPdfOrphans 检测无任何引用指向的残留对象
func checkPdfOrphans(view parser.View, _ *config.Calibration) ([]model.Indicator, error) {
	doc, err := pdfView(view)
	if err != nil {
		return nil, err
	}

	var orphans []int
	for num, obj := range doc.Objects {
		if doc.Referenced[num] {
			continue
		}
		// 内容过短的对象多为占位，不值得上报
		if len(strings.TrimSpace(obj.Body)) < 20 {
			continue
		}
		orphans = append(orphans, num)
	}
	if len(orphans) == 0 {
		return nil, nil
	}
	sort.Ints(orphans)

	// 孤儿对象常是被"删除"却留在文件里的旧内容
	conf := 0.5 + 0.2*minFloat(float64(len(orphans))/5, 1.0)
	ind := model.NewIndicator(model.KindOrphanObject, "pdf/orphan_object",
		fmt.Sprintf("发现 %d 个无引用指向的残留对象", len(orphans)),
		model.SeverityLow, conf).
		WithLocation(&model.Location{ObjectNum: orphans[0]}).
		WithEvidence("orphan_count", fmt.Sprintf("%d", len(orphans)))
	return []model.Indicator{ind}, nil
}
