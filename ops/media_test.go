package ops

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/big"
	"regexp"
	"strings"
	"testing"
	"time"

	"pdfbatch/ir"
	"pdfbatch/writer"
)

// attachImage stores an RGB image XObject on the page under key.
func attachImage(t *testing.T, doc *ir.Document, pageIdx, w, h int, key ir.Name) ir.Ref {
	t.Helper()
	samples := make([]byte, w*h*3)
	for i := range samples {
		samples[i] = byte(i * 31)
	}
	dict := ir.NewDict()
	dict.Set("Type", ir.Name("XObject"))
	dict.Set("Subtype", ir.Name("Image"))
	dict.Set("Width", ir.Int(int64(w)))
	dict.Set("Height", ir.Int(int64(h)))
	dict.Set("ColorSpace", ir.Name("DeviceRGB"))
	dict.Set("BitsPerComponent", ir.Int(8))
	ref := doc.Put(ir.NewStream(dict, samples))

	page, err := doc.Page(pageIdx)
	if err != nil {
		t.Fatal(err)
	}
	res, err := page.OwnResources()
	if err != nil {
		t.Fatal(err)
	}
	xobjs := ir.NewDict()
	xobjs.Set(key, ref)
	res.Set("XObject", xobjs)
	return ref
}

func TestCompressDownsamplesOversizedImage(t *testing.T) {
	doc := newDoc(t, 1)
	// 3000px wide on a 612pt page is far above the medium 150 PPI cap.
	ref := attachImage(t, doc, 0, 3000, 40, "Im0")

	res := run(t, KindCompress, []*ir.Document{doc}, nil)
	if len(res.Warnings) != 0 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	stream, err := doc.ResolveStream(ref)
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := stream.Dict.Name("Filter"); f != "DCTDecode" {
		t.Fatalf("Filter = %q", f)
	}
	width, _ := stream.Dict.Int("Width")
	if width >= 3000 {
		t.Fatalf("Width = %d, not downsampled", width)
	}
	if _, err := jpeg.Decode(bytes.NewReader(stream.Raw)); err != nil {
		t.Fatalf("payload is not a JPEG: %v", err)
	}
}

func TestCompressLeavesUnsupportedCodec(t *testing.T) {
	doc := newDoc(t, 1)
	ref := attachImage(t, doc, 0, 8, 8, "Im0")
	stream, _ := doc.ResolveStream(ref)
	stream.Dict.Set("Filter", ir.Name("JPXDecode"))
	before := append([]byte(nil), stream.Raw...)

	res := run(t, KindCompress, []*ir.Document{doc}, nil)
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for JPXDecode")
	}
	if !bytes.Equal(stream.Raw, before) {
		t.Fatal("unsupported image was modified")
	}
}

func TestCompressDeflatesContentStreams(t *testing.T) {
	doc := newDoc(t, 1)
	page, _ := doc.Page(0)
	long := strings.Repeat("0 0 m 100 100 l S\n", 50)
	if err := page.AppendContent([]byte(long)); err != nil {
		t.Fatal(err)
	}
	run(t, KindCompress, []*ir.Document{doc}, nil)

	refs, err := page.ContentRefs()
	if err != nil {
		t.Fatal(err)
	}
	stream, err := doc.ResolveStream(refs[len(refs)-1])
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := stream.Dict.Name("Filter"); f != "FlateDecode" {
		t.Fatalf("Filter = %q", f)
	}
	data, err := stream.Data()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != long {
		t.Fatal("deflated stream does not decode back")
	}
}

func TestCompressBadQuality(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindCompress,
		[]*ir.Document{newDoc(t, 1)}, Params{"quality": "extreme"})
	if !errors.Is(err, ErrBadParam) {
		t.Fatalf("err = %v", err)
	}
}

func encodePNG(t *testing.T, withAlpha bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			a := uint8(255)
			if withAlpha && x == 0 {
				a = 128
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 60), G: uint8(y * 60), B: 10, A: a})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAddImagePNGWithAlpha(t *testing.T) {
	doc := newDoc(t, 1)
	run(t, KindAddImage, []*ir.Document{doc}, Params{
		"image": encodePNG(t, true), "x": 100.0, "y": 200.0,
	})
	page, _ := doc.Page(0)
	res, err := page.Resources()
	if err != nil {
		t.Fatal(err)
	}
	xobjs, _ := res.Get("XObject")
	xd, err := doc.ResolveDict(xobjs)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := xd.Get("pbIm0")
	if !ok {
		t.Fatalf("image XObject not registered: %v", xd.Keys())
	}
	stream, err := doc.ResolveStream(v)
	if err != nil {
		t.Fatal(err)
	}
	if _, hasMask := stream.Dict.Get("SMask"); !hasMask {
		t.Fatal("alpha channel lost")
	}
	content, _ := page.Content()
	if !bytes.Contains(content, []byte("/pbIm0 Do")) {
		t.Fatalf("content = %q", content)
	}
}

func TestAddImageJPEGEmbedsOriginal(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 6, 6))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	doc := newDoc(t, 1)
	run(t, KindAddImage, []*ir.Document{doc}, Params{"image": buf.Bytes()})

	page, _ := doc.Page(0)
	res, _ := page.Resources()
	xobjs, _ := res.Get("XObject")
	xd, _ := doc.ResolveDict(xobjs)
	v, _ := xd.Get("pbIm0")
	stream, err := doc.ResolveStream(v)
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := stream.Dict.Name("Filter"); f != "DCTDecode" {
		t.Fatalf("Filter = %q", f)
	}
	if !bytes.Equal(stream.Raw, buf.Bytes()) {
		t.Fatal("JPEG bytes were re-encoded")
	}
}

func TestAddImageUnsupportedFormat(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindAddImage,
		[]*ir.Document{newDoc(t, 1)}, Params{"image": []byte("GIF89a not really")})
	if !errors.Is(err, ErrUnsupportedImageFormat) {
		t.Fatalf("err = %v", err)
	}
}

func TestExtractImages(t *testing.T) {
	doc := newDoc(t, 1)
	attachImage(t, doc, 0, 4, 4, "Im0")
	res := run(t, KindExtractImages, []*ir.Document{doc}, nil)
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %v, warnings = %v", res.Artifacts, res.Warnings)
	}
	if !strings.HasSuffix(res.Artifacts[0].Name, ".png") {
		t.Fatalf("artifact name = %q", res.Artifacts[0].Name)
	}
	if _, err := png.Decode(bytes.NewReader(res.Artifacts[0].Data)); err != nil {
		t.Fatalf("artifact is not a PNG: %v", err)
	}
}

func testPEM(t *testing.T) (keyPEM, certPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(11),
		Subject:      pkix.Name{CommonName: "ops signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	return keyPEM, certPEM
}

func TestSignThenVerify(t *testing.T) {
	keyPEM, certPEM := testPEM(t)
	res := run(t, KindSign, []*ir.Document{newDoc(t, 1)}, Params{
		"key-pem": keyPEM, "cert-pem": certPEM, "reason": "batch run",
	})
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %v", res.Artifacts)
	}
	signed := res.Artifacts[0].Data

	vres := run(t, KindVerify, nil, Params{"source": signed})
	report := string(vres.Artifacts[0].Data)
	if !strings.Contains(report, "status: valid") || !strings.Contains(report, "ops signer") ||
		!strings.Contains(report, "covers-whole-file: true") {
		t.Fatalf("report = %q", report)
	}
}

func TestVerifyUnsignedReportsNoSignature(t *testing.T) {
	data, err := writer.Encode(newDoc(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	res := run(t, KindVerify, nil, Params{"source": data})
	report := string(res.Artifacts[0].Data)
	if !strings.Contains(report, "status: no-signature") {
		t.Fatalf("report = %q", report)
	}
}

func TestSignNeedsKeyMaterial(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindSign,
		[]*ir.Document{newDoc(t, 1)}, nil)
	if !errors.Is(err, ErrBadParam) {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	keyPEM, certPEM := testPEM(t)
	res := run(t, KindSign, []*ir.Document{newDoc(t, 1)}, Params{
		"key-pem": keyPEM, "cert-pem": certPEM,
	})
	tampered := bytes.Replace(res.Artifacts[0].Data, []byte("(page 1)"), []byte("(page !)"), 1)
	_, err := Default(nil).Run(context.Background(), KindVerify, nil, Params{"source": tampered})
	if !errors.Is(err, writer.ErrSignatureGone) {
		t.Fatalf("err = %v", err)
	}
}

func TestRepairRebuildsCorruptedFile(t *testing.T) {
	data, err := writer.Encode(newDoc(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	corrupted := regexp.MustCompile(`startxref\s+\d+`).
		ReplaceAll(data, []byte("startxref\n1"))

	res := run(t, KindRepair, nil, Params{"source": corrupted})
	if len(res.Docs) != 1 {
		t.Fatalf("docs = %d", len(res.Docs))
	}
	if n, _ := res.Docs[0].PageCount(); n != 2 {
		t.Fatalf("pages = %d", n)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected repair notes")
	}
}
