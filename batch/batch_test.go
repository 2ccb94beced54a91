package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdfbatch/ir"
	"pdfbatch/ocr"
	"pdfbatch/ops"
	"pdfbatch/parser"
	"pdfbatch/writer"
)

func buildDoc(t *testing.T, pages int) *ir.Document {
	t.Helper()
	doc := ir.NewDocument()
	for i := 0; i < pages; i++ {
		page := ir.NewDict()
		page.Set("Type", ir.Name("Page"))
		page.Set("MediaBox", ir.Rect{URX: 612, URY: 792}.Array())
		content := fmt.Sprintf("BT /F1 12 Tf 72 700 Td (page %d) Tj ET", i+1)
		page.Set("Contents", doc.Put(ir.NewStream(nil, []byte(content))))
		if err := doc.AppendPage(doc.Put(page)); err != nil {
			t.Fatal(err)
		}
	}
	return doc
}

func writePDF(t *testing.T, dir, name string, pages int) string {
	t.Helper()
	data, err := writer.Encode(buildDoc(t, pages))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitSucceeded(t *testing.T, p *Processor, id string) Status {
	t.Helper()
	st, err := p.Poll(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateSucceeded {
		t.Fatalf("job state = %s, err = %q", st.State, st.Err)
	}
	return st
}

func TestBatchIsolatesFailingJob(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	p := New(Config{Workers: 4, OutputDir: out})
	defer p.Close()

	var ids []string
	for i := 0; i < 4; i++ {
		path := writePDF(t, in, fmt.Sprintf("doc%d.pdf", i), 1)
		id, err := p.Submit(Spec{Kind: ops.KindRotate, Inputs: []string{path},
			Params: ops.Params{"angle": 90}})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	badID, err := p.Submit(Spec{Kind: ops.KindRotate,
		Inputs: []string{filepath.Join(in, "missing.pdf")},
		Params: ops.Params{"angle": 90}})
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	for _, id := range ids {
		st := waitSucceeded(t, p, id)
		if len(st.Outputs) != 1 {
			t.Fatalf("outputs = %v", st.Outputs)
		}
		data, err := os.ReadFile(st.Outputs[0])
		if err != nil {
			t.Fatal(err)
		}
		res, err := parser.Parse(data, parser.Config{})
		if err != nil {
			t.Fatalf("output does not parse: %v", err)
		}
		page, _ := res.Doc.Page(0)
		if page.Rotate() != 90 {
			t.Fatalf("rotation = %d", page.Rotate())
		}
	}

	st, err := p.Poll(badID)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateFailed {
		t.Fatalf("bad job state = %s", st.State)
	}
	if !strings.Contains(st.Err, "read input") {
		t.Fatalf("bad job err = %q", st.Err)
	}
}

func TestOutputNamesNeverCollide(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := writePDF(t, in, "doc.pdf", 1)
	p := New(Config{Workers: 2, OutputDir: out})
	defer p.Close()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := p.Submit(Spec{Kind: ops.KindRotate, Inputs: []string{path},
			Params: ops.Params{"angle": 180}})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	p.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		st := waitSucceeded(t, p, id)
		for _, o := range st.Outputs {
			if seen[o] {
				t.Fatalf("duplicate output path %s", o)
			}
			seen[o] = true
			if _, err := os.Stat(o); err != nil {
				t.Fatalf("output missing: %v", err)
			}
		}
	}
	if len(seen) != 3 {
		t.Fatalf("outputs = %v", seen)
	}
}

func TestOverwriteReplacesExistingOutput(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := writePDF(t, in, "doc.pdf", 1)
	p := New(Config{Workers: 1, OutputDir: out})
	defer p.Close()

	submit := func(angle int) Status {
		id, err := p.Submit(Spec{Kind: ops.KindRotate, Inputs: []string{path},
			Params: ops.Params{"angle": angle}, Overwrite: true})
		if err != nil {
			t.Fatal(err)
		}
		p.Wait()
		return waitSucceeded(t, p, id)
	}
	first := submit(90)
	second := submit(180)

	if first.Outputs[0] != second.Outputs[0] {
		t.Fatalf("paths differ: %q vs %q", first.Outputs[0], second.Outputs[0])
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("output dir has %d files", len(entries))
	}
	data, err := os.ReadFile(second.Outputs[0])
	if err != nil {
		t.Fatal(err)
	}
	res, err := parser.Parse(data, parser.Config{})
	if err != nil {
		t.Fatal(err)
	}
	pg, _ := res.Doc.Page(0)
	if pg.Rotate() != 180 {
		t.Fatalf("rotation = %d, second write did not win", pg.Rotate())
	}
}

func TestSplitNumbersOutputs(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := writePDF(t, in, "report.pdf", 3)
	p := New(Config{Workers: 1, OutputDir: out})
	defer p.Close()

	id, err := p.Submit(Spec{Kind: ops.KindSplit, Inputs: []string{path},
		Params: ops.Params{"every": 1}})
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	st := waitSucceeded(t, p, id)
	if len(st.Outputs) != 3 {
		t.Fatalf("outputs = %v", st.Outputs)
	}
	if filepath.Base(st.Outputs[0]) != "report-split-01.pdf" {
		t.Fatalf("first output = %s", st.Outputs[0])
	}
}

func TestExtractTextWritesArtifact(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := writePDF(t, in, "doc.pdf", 2)
	p := New(Config{Workers: 1, OutputDir: out})
	defer p.Close()

	id, err := p.Submit(Spec{Kind: ops.KindExtractText, Inputs: []string{path}})
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	st := waitSucceeded(t, p, id)
	if len(st.Outputs) != 1 {
		t.Fatalf("outputs = %v", st.Outputs)
	}
	data, err := os.ReadFile(st.Outputs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "page 1") {
		t.Fatalf("artifact = %q", data)
	}
}

// gateOp blocks inside Apply until released, keeping its worker busy so
// later jobs stay queued.
type gateOp struct {
	started chan struct{}
	release chan struct{}
}

func (g gateOp) Kind() ops.Kind     { return "gate" }
func (g gateOp) Schema() ops.Schema { return ops.Schema{} }

func (g gateOp) Apply(ctx context.Context, docs []*ir.Document, _ ops.Params) (*ops.Result, error) {
	close(g.started)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ops.Result{Docs: docs}, nil
}

func TestCancelDropsQueuedJobOnly(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := writePDF(t, in, "doc.pdf", 1)

	gate := gateOp{started: make(chan struct{}), release: make(chan struct{})}
	reg := ops.Default(nil)
	reg.Register(gate)
	p := New(Config{Workers: 1, OutputDir: out, Registry: reg})
	defer p.Close()

	runningID, err := p.Submit(Spec{Kind: "gate", Inputs: []string{path}})
	if err != nil {
		t.Fatal(err)
	}
	<-gate.started

	queuedID, err := p.Submit(Spec{Kind: ops.KindRotate, Inputs: []string{path},
		Params: ops.Params{"angle": 90}})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Cancel(queuedID); err != nil {
		t.Fatal(err)
	}
	close(gate.release)
	p.Wait()

	waitSucceeded(t, p, runningID)
	st, err := p.Poll(queuedID)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateCanceled {
		t.Fatalf("queued job state = %s", st.State)
	}
	if len(st.Outputs) != 0 {
		t.Fatalf("canceled job wrote outputs: %v", st.Outputs)
	}
}

type stubEngine struct{ text string }

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) Recognize(context.Context, ocr.Input) (ocr.Result, error) {
	return ocr.Result{
		PlainText: s.text,
		Words:     []ocr.Word{{Text: s.text, Bounds: ocr.Region{X: 10, Y: 10, Width: 100, Height: 20}}},
	}, nil
}

func writeScannedPDF(t *testing.T, dir, name string) string {
	t.Helper()
	doc := ir.NewDocument()
	samples := make([]byte, 8*8*3)
	imgDict := ir.NewDict()
	imgDict.Set("Type", ir.Name("XObject"))
	imgDict.Set("Subtype", ir.Name("Image"))
	imgDict.Set("Width", ir.Int(8))
	imgDict.Set("Height", ir.Int(8))
	imgDict.Set("ColorSpace", ir.Name("DeviceRGB"))
	imgDict.Set("BitsPerComponent", ir.Int(8))
	xobjs := ir.NewDict()
	xobjs.Set("Im0", doc.Put(ir.NewStream(imgDict, samples)))
	res := ir.NewDict()
	res.Set("XObject", xobjs)

	page := ir.NewDict()
	page.Set("Type", ir.Name("Page"))
	page.Set("MediaBox", ir.Rect{URX: 612, URY: 792}.Array())
	page.Set("Resources", res)
	page.Set("Contents", doc.Put(ir.NewStream(nil, []byte("q 612 0 0 792 0 0 cm /Im0 Do Q"))))
	if err := doc.AppendPage(doc.Put(page)); err != nil {
		t.Fatal(err)
	}
	data, err := writer.Encode(doc)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOCRJobProducesSearchableOutput(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := writeScannedPDF(t, in, "scan.pdf")
	p := New(Config{Workers: 1, OutputDir: out,
		Engine: stubEngine{text: "INVOICE"},
		OCR:    ocr.Config{DPI: 72}})
	defer p.Close()

	id, err := p.Submit(Spec{Kind: ops.KindMetadataEdit, Inputs: []string{path}, OCR: true})
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	st := waitSucceeded(t, p, id)
	if len(st.Outputs) != 2 {
		t.Fatalf("outputs = %v", st.Outputs)
	}

	pdfData, err := os.ReadFile(st.Outputs[0])
	if err != nil {
		t.Fatal(err)
	}
	res, err := parser.Parse(pdfData, parser.Config{})
	if err != nil {
		t.Fatal(err)
	}
	page, _ := res.Doc.Page(0)
	content, err := page.Content()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "(INVOICE)") {
		t.Fatalf("no text layer in %q", content)
	}

	txt, err := os.ReadFile(st.Outputs[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(txt) != "INVOICE" {
		t.Fatalf("ocr artifact = %q", txt)
	}
}

func TestOCRJobWithoutEngineFails(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	path := writePDF(t, in, "doc.pdf", 1)
	p := New(Config{Workers: 1, OutputDir: out})
	defer p.Close()

	id, err := p.Submit(Spec{Kind: ops.KindMetadataEdit, Inputs: []string{path}, OCR: true})
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	st, err := p.Poll(id)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateFailed || !strings.Contains(st.Err, "engine unavailable") {
		t.Fatalf("state = %s, err = %q", st.State, st.Err)
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	p := New(Config{Workers: 1, OutputDir: t.TempDir()})
	defer p.Close()
	_, err := p.Submit(Spec{Kind: "transmogrify", Inputs: []string{"x.pdf"}})
	if !errors.Is(err, ops.ErrUnknownKind) {
		t.Fatalf("err = %v", err)
	}
}

func TestPollUnknownJob(t *testing.T) {
	p := New(Config{Workers: 1, OutputDir: t.TempDir()})
	defer p.Close()
	if _, err := p.Poll("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v", err)
	}
}
