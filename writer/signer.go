package writer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"pdfbatch/ir"
	"pdfbatch/security"
	"pdfbatch/xref"
)

// SignConfig configures the appended signature dictionary.
type SignConfig struct {
	Reason   string
	Location string
	Contact  string
	// Now overrides the signing time; zero means time.Now.
	Now time.Time
}

// sigReserve is the hole reserved for the hex-encoded signature.
const sigReserve = 8192

const byteRangeFormat = "0 %020d %020d %020d]"

var (
	ErrNotSigned     = errors.New("writer: document carries no signature")
	ErrSignatureGone = errors.New("writer: signed bytes were modified")
)

// Sign appends an incremental update containing a byte-range signature
// object and returns the signed file. The update is laid out first with
// a reserved Contents hole, then the digest over the two ranges around
// the hole is signed and the hex signature dropped in.
func Sign(data []byte, signer security.Signer, cfg SignConfig) ([]byte, error) {
	table, err := xref.Resolve(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("writer: resolve xref before signing: %w", err)
	}
	maxObj := 0
	for _, n := range table.Objects() {
		if n > maxObj {
			maxObj = n
		}
	}
	sigObj := maxObj + 1

	rootRef, ok := table.Trailer.Get("Root")
	if !ok {
		return nil, errors.New("writer: trailer has no /Root")
	}
	root, ok := rootRef.(ir.Ref)
	if !ok {
		return nil, errors.New("writer: trailer /Root is not a reference")
	}
	prevXRef, err := xref.FindStartXRef(data)
	if err != nil {
		return nil, err
	}
	cert := signer.Certificate()
	if cert == nil {
		return nil, errors.New("writer: signer has no certificate")
	}
	when := cfg.Now
	if when.IsZero() {
		when = time.Now()
	}

	size := int64(len(data))
	var head bytes.Buffer
	fmt.Fprintf(&head, "%d 0 obj\n", sigObj)
	head.WriteString("<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /adbe.pkcs7.detached")
	if cfg.Reason != "" {
		writeSigText(&head, "Reason", cfg.Reason)
	}
	if cfg.Location != "" {
		writeSigText(&head, "Location", cfg.Location)
	}
	if cfg.Contact != "" {
		writeSigText(&head, "ContactInfo", cfg.Contact)
	}
	fmt.Fprintf(&head, " /M (%s)", ir.FormatDate(when))
	head.WriteString(" /Cert <")
	head.WriteString(hex.EncodeToString(cert.Raw))
	head.WriteString(">")
	head.WriteString(" /ByteRange [")

	dummyRange := fmt.Sprintf(byteRangeFormat, 0, 0, 0)
	contentsKey := " /Contents <"
	holeStart := size + int64(head.Len()) + int64(len(dummyRange)) + int64(len(contentsKey))
	holeLen := int64(sigReserve * 2)
	holeEnd := holeStart + holeLen

	var tail bytes.Buffer
	tail.WriteString("> >>\nendobj\n")
	xrefOffset := holeEnd + int64(tail.Len())
	fmt.Fprintf(&tail, "xref\n0 1\n0000000000 65535 f \n%d 1\n%010d 00000 n \n", sigObj, size)
	fmt.Fprintf(&tail, "trailer\n<< /Size %d /Root %d %d R /Prev %d >>\n",
		sigObj+1, root.Num, root.Gen, prevXRef)
	fmt.Fprintf(&tail, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	byteRange := fmt.Sprintf(byteRangeFormat, holeStart, holeEnd, int64(tail.Len()))
	if len(byteRange) > len(dummyRange) {
		return nil, errors.New("writer: byte range overflow")
	}
	for len(byteRange) < len(dummyRange) {
		byteRange += " "
	}

	hasher := sha256.New()
	hasher.Write(data)
	hasher.Write(head.Bytes())
	hasher.Write([]byte(byteRange))
	hasher.Write([]byte(contentsKey))
	hasher.Write(tail.Bytes())
	digest := hasher.Sum(nil)

	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("writer: sign digest: %w", err)
	}
	sigHex := hex.EncodeToString(sig)
	if int64(len(sigHex)) > holeLen {
		return nil, fmt.Errorf("writer: signature needs %d bytes, reserve is %d", len(sigHex), holeLen)
	}

	var out bytes.Buffer
	out.Grow(len(data) + head.Len() + int(holeLen) + tail.Len() + 64)
	out.Write(data)
	out.Write(head.Bytes())
	out.WriteString(byteRange)
	out.WriteString(contentsKey)
	out.WriteString(sigHex)
	for i := int64(len(sigHex)); i < holeLen; i++ {
		out.WriteByte('0')
	}
	out.Write(tail.Bytes())
	return out.Bytes(), nil
}

func writeSigText(buf *bytes.Buffer, key, val string) {
	buf.WriteString(" /")
	buf.WriteString(key)
	buf.WriteString(" ")
	var tmp bytes.Buffer
	writeString(&tmp, ir.EncodeTextString(val))
	buf.Write(tmp.Bytes())
}

// VerifyResult reports what verification established about the last
// signature in the file.
type VerifyResult struct {
	SignerName string
	SignedAt   time.Time
	// CoversWholeFile is false when bytes were appended after the
	// signed update.
	CoversWholeFile bool
}

var (
	byteRangeRe = regexp.MustCompile(`/ByteRange \[([0-9 ]+)\]`)
	certRe      = regexp.MustCompile(`/Cert <([0-9a-fA-F]+)>`)
	signedAtRe  = regexp.MustCompile(`/M \((D:[^)]*)\)`)
)

// Verify checks the last byte-range signature in data against its
// embedded certificate. The digest is recomputed from the file bytes;
// nothing the document claims about itself is trusted.
func Verify(data []byte) (*VerifyResult, error) {
	loc := byteRangeRe.FindAllSubmatchIndex(data, -1)
	if len(loc) == 0 {
		return nil, ErrNotSigned
	}
	last := loc[len(loc)-1]
	fields := bytes.Fields(data[last[2]:last[3]])
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: byte range has %d fields", ErrSignatureGone, len(fields))
	}
	var ranges [4]int64
	for i, f := range fields {
		v, err := strconv.ParseInt(string(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureGone, err)
		}
		ranges[i] = v
	}
	start1, end1, start2 := ranges[0], ranges[1], ranges[2]
	length2 := ranges[3]
	if start1 != 0 || end1 > start2 || start2+length2 > int64(len(data)) {
		return nil, fmt.Errorf("%w: byte ranges out of bounds", ErrSignatureGone)
	}

	// The hole between the ranges holds "<hexsig>" plus padding.
	hole := data[end1:start2]
	open := bytes.IndexByte(hole, '<')
	closing := bytes.LastIndexByte(hole, '>')
	if open < 0 || closing <= open {
		return nil, fmt.Errorf("%w: contents hole malformed", ErrSignatureGone)
	}
	sigBytes, err := hex.DecodeString(string(hole[open+1 : closing]))
	if err != nil {
		return nil, fmt.Errorf("%w: contents not hex", ErrSignatureGone)
	}

	certMatches := certRe.FindAllSubmatch(data[:start2], -1)
	if len(certMatches) == 0 {
		return nil, fmt.Errorf("%w: no embedded certificate", ErrSignatureGone)
	}
	certDER, err := hex.DecodeString(string(certMatches[len(certMatches)-1][1]))
	if err != nil {
		return nil, fmt.Errorf("%w: certificate not hex", ErrSignatureGone)
	}

	hasher := sha256.New()
	hasher.Write(data[:end1])
	hasher.Write(data[start2 : start2+length2])
	digest := hasher.Sum(nil)

	// Signature length equals the RSA modulus size; the rest of the
	// hole is zero padding.
	sig, err := trimSignature(certDER, sigBytes)
	if err != nil {
		return nil, err
	}
	if err := security.VerifySignature(certDER, digest, sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureGone, err)
	}

	res := &VerifyResult{CoversWholeFile: start2+length2 == int64(len(data))}
	if ms := signedAtRe.FindAllSubmatch(data[:start2], -1); len(ms) > 0 {
		res.SignedAt = ir.ParseDate(string(ms[len(ms)-1][1]))
	}
	if name := certCommonName(certDER); name != "" {
		res.SignerName = name
	}
	return res, nil
}

func trimSignature(certDER, sig []byte) ([]byte, error) {
	size, err := security.SignatureSize(certDER)
	if err != nil {
		return nil, err
	}
	if len(sig) < size {
		return nil, fmt.Errorf("%w: signature truncated", ErrSignatureGone)
	}
	return sig[:size], nil
}

func certCommonName(certDER []byte) string {
	name, err := security.CertificateCommonName(certDER)
	if err != nil {
		return ""
	}
	return name
}
