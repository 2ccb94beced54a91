package parser

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"pdfbatch/ir"
)

func mustContents(t *testing.T, dict *ir.Dict) ir.Object {
	t.Helper()
	v, ok := dict.Get("Contents")
	if !ok {
		t.Fatal("page has no /Contents")
	}
	return v
}

// buildFixture assembles a classic single-section PDF: bodies[i] becomes
// object i+1, offsets are computed as written.
func buildFixture(t *testing.T, header string, bodies []string, trailer string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(header)
	offsets := make([]int, len(bodies))
	for i, body := range bodies {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(bodies)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n%s\n", trailer)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefPos)
	return buf.Bytes()
}

func simpleBodies(contentObj string) []string {
	return []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>",
		contentObj,
	}
}

func streamObj(extra, payload string) string {
	return fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(payload), extra, payload)
}

const sampleText = "BT /F1 12 Tf 72 720 Td (hello) Tj ET"

func TestParseSimple(t *testing.T) {
	data := buildFixture(t, "%PDF-1.5\n",
		simpleBodies(streamObj("", sampleText)),
		"<< /Size 5 /Root 1 0 R >>")
	res, err := Parse(data, Config{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Repaired {
		t.Fatal("well-formed file should not need repair")
	}
	if res.Doc.Version != "1.5" {
		t.Fatalf("Version = %q", res.Doc.Version)
	}
	n, err := res.Doc.PageCount()
	if err != nil || n != 1 {
		t.Fatalf("page count = %d, %v", n, err)
	}
	p, _ := res.Doc.Page(0)
	content, err := p.Content()
	if err != nil {
		t.Fatal(err)
	}
	if string(bytes.TrimSpace(content)) != sampleText {
		t.Fatalf("content = %q", content)
	}
}

func TestFlateStreamDecodesLazily(t *testing.T) {
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write([]byte(sampleText))
	zw.Close()
	data := buildFixture(t, "%PDF-1.7\n",
		simpleBodies(streamObj(" /Filter /FlateDecode", z.String())),
		"<< /Size 5 /Root 1 0 R >>")

	res, err := Parse(data, Config{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, _ := res.Doc.Page(0)
	stream, err := res.Doc.ResolveStream(mustContents(t, p.Dict))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stream.Raw, z.Bytes()) {
		t.Fatal("Raw should stay compressed until first access")
	}
	decoded, err := stream.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if string(decoded) != sampleText {
		t.Fatalf("decoded = %q", decoded)
	}
}

func TestIndirectStreamLength(t *testing.T) {
	bodies := simpleBodies(fmt.Sprintf(
		"<< /Length 5 0 R >>\nstream\n%s\nendstream", sampleText))
	bodies = append(bodies, fmt.Sprintf("%d", len(sampleText)))
	data := buildFixture(t, "%PDF-1.4\n", bodies, "<< /Size 6 /Root 1 0 R >>")

	res, err := Parse(data, Config{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, _ := res.Doc.Page(0)
	content, err := p.Content()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(content, []byte("(hello) Tj")) {
		t.Fatalf("content = %q", content)
	}
}

func TestRepairAfterBrokenStartXRef(t *testing.T) {
	data := buildFixture(t, "%PDF-1.4\n",
		simpleBodies(streamObj("", sampleText)),
		"<< /Size 5 /Root 1 0 R >>")
	// Point startxref into the middle of the header.
	corrupted := regexp.MustCompile(`startxref\s+\d+`).
		ReplaceAll(data, []byte("startxref\n2"))

	res, err := Parse(corrupted, Config{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !res.Repaired {
		t.Fatal("expected the repair pass to run")
	}
	found := false
	for _, note := range res.Notes {
		if strings.Contains(note, "xref rebuilt") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Notes = %v", res.Notes)
	}
	n, err := res.Doc.PageCount()
	if err != nil || n != 1 {
		t.Fatalf("page count = %d, %v", n, err)
	}
}

func TestRepairAfterWrongOffsets(t *testing.T) {
	data := buildFixture(t, "%PDF-1.4\n",
		simpleBodies(streamObj("", sampleText)),
		"<< /Size 5 /Root 1 0 R >>")
	// Shift every xref entry so strict loading hits header mismatches.
	corrupted := regexp.MustCompile(`\n00000000(\d\d) 00000 n `).
		ReplaceAll(data, []byte("\n00000001$1 00000 n "))
	if bytes.Equal(corrupted, data) {
		t.Fatal("fixture corruption did not apply")
	}

	res, err := Parse(corrupted, Config{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !res.Repaired {
		t.Fatal("expected the repair pass to run")
	}
	p, _ := res.Doc.Page(0)
	content, err := p.Content()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(content, []byte("(hello)")) {
		t.Fatalf("content = %q", content)
	}
}

func TestUnrecoverableGarbage(t *testing.T) {
	if _, err := Parse([]byte("this is not a document at all"), Config{}); !errors.Is(err, ErrUnrecoverable) {
		t.Fatalf("err = %v, want ErrUnrecoverable", err)
	}
}

func TestNoCatalogUnrecoverable(t *testing.T) {
	data := buildFixture(t, "%PDF-1.4\n",
		[]string{"<< /Type /Pages /Kids [] /Count 0 >>"},
		"<< /Size 2 >>")
	if _, err := Parse(data, Config{}); !errors.Is(err, ErrUnrecoverable) {
		t.Fatalf("err = %v, want ErrUnrecoverable", err)
	}
}

func TestInfoMetadata(t *testing.T) {
	bodies := simpleBodies(streamObj("", sampleText))
	bodies = append(bodies,
		"<< /Title (Quarterly Report) /Author (ops) /CreationDate (D:20260301120000Z) >>")
	data := buildFixture(t, "%PDF-1.4\n", bodies,
		"<< /Size 6 /Root 1 0 R /Info 5 0 R >>")

	res, err := Parse(data, Config{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Doc.Info.Title != "Quarterly Report" || res.Doc.Info.Author != "ops" {
		t.Fatalf("Info = %+v", res.Doc.Info)
	}
	if res.Doc.Info.Created.Year() != 2026 {
		t.Fatalf("Created = %v", res.Doc.Info.Created)
	}
}
