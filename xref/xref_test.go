package xref

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"pdfbatch/ir"
)

// buildSimplePDF lays out a two-object body with a correct classic table.
func buildSimplePDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	off1 := int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	xrefOff := int64(buf.Len())
	buf.WriteString("xref\n0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	fmt.Fprintf(&buf, "%010d 00000 n \n", off1)
	fmt.Fprintf(&buf, "%010d 00000 n \n", off2)
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestResolveClassicTable(t *testing.T) {
	data := buildSimplePDF()
	table, err := Resolve(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("len = %d, want 2", table.Len())
	}
	off, gen, ok := table.Lookup(1)
	if !ok || gen != 0 {
		t.Fatalf("Lookup(1) = %d %d %v", off, gen, ok)
	}
	if !bytes.HasPrefix(data[off:], []byte("1 0 obj")) {
		t.Fatalf("offset %d does not point at object 1", off)
	}
	root, ok := table.Trailer.Get("Root")
	if !ok {
		t.Fatal("trailer missing /Root")
	}
	if root.(ir.Ref) != (ir.Ref{Num: 1}) {
		t.Fatalf("Root = %v", root)
	}
}

func TestResolvePrevChain(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	off1 := int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /V 1 >>\nendobj\n")
	firstXref := int64(buf.Len())
	buf.WriteString("xref\n0 2\n0000000000 65535 f \n")
	fmt.Fprintf(&buf, "%010d 00000 n \n", off1)
	buf.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", firstXref)

	// Incremental update redefines object 1.
	off1b := int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /V 2 >>\nendobj\n")
	secondXref := int64(buf.Len())
	buf.WriteString("xref\n1 1\n")
	fmt.Fprintf(&buf, "%010d 00000 n \n", off1b)
	fmt.Fprintf(&buf, "trailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\n", firstXref)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", secondXref)

	table, err := Resolve(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	off, _, ok := table.Lookup(1)
	if !ok {
		t.Fatal("object 1 not found")
	}
	if off != off1b {
		t.Fatalf("offset = %d, want newest %d", off, off1b)
	}
}

func TestResolveMissingStartXRef(t *testing.T) {
	_, err := Resolve(strings.NewReader("%PDF-1.7\nno table here"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRepairRebuildsTable(t *testing.T) {
	data := buildSimplePDF()
	// Corrupt the table offsets; repair must ignore the table entirely.
	corrupted := bytes.Replace(data, []byte("startxref"), []byte("startxrXX"), 1)
	table, notes, err := Repair(bytes.NewReader(corrupted))
	if err != nil {
		t.Fatalf("Repair: %v (notes %v)", err, notes)
	}
	off, _, ok := table.Lookup(2)
	if !ok {
		t.Fatal("object 2 not found by repair")
	}
	if !bytes.HasPrefix(corrupted[off:], []byte("2 0 obj")) {
		t.Fatalf("repair offset %d does not point at object 2", off)
	}
	if _, ok := table.Trailer.Get("Root"); !ok {
		t.Fatal("repair lost the trailer /Root")
	}
}

func TestRepairLastDefinitionWins(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("1 0 obj\n<< /V 1 >>\nendobj\n")
	second := int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /V 2 >>\nendobj\n")
	table, _, err := Repair(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	off, _, _ := table.Lookup(1)
	if off != second {
		t.Fatalf("offset = %d, want %d (last definition)", off, second)
	}
}

func TestRepairSynthesizesTrailer(t *testing.T) {
	input := "%PDF-1.4\n5 0 obj\n<< /Type /Page >>\nendobj\n"
	table, _, err := Repair(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if table.Trailer == nil {
		t.Fatal("no trailer synthesized")
	}
	if _, ok := table.Trailer.Int("Size"); !ok {
		t.Fatal("synthesized trailer missing /Size")
	}
}

func TestRepairEmptyInput(t *testing.T) {
	if _, _, err := Repair(strings.NewReader("not a pdf at all")); err == nil {
		t.Fatal("expected error for input with no objects")
	}
}
