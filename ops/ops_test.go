package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pdfbatch/contentstream"
	"pdfbatch/ir"
)

func newDoc(t *testing.T, pages int) *ir.Document {
	t.Helper()
	doc := ir.NewDocument()
	for i := 0; i < pages; i++ {
		page := ir.NewDict()
		page.Set("Type", ir.Name("Page"))
		page.Set("MediaBox", ir.Rect{URX: 612, URY: 792}.Array())
		content := fmt.Sprintf("BT /F1 12 Tf 72 700 Td (page %d) Tj ET", i+1)
		page.Set("Contents", doc.Put(ir.NewStream(nil, []byte(content))))
		ref := doc.Put(page)
		if err := doc.AppendPage(ref); err != nil {
			t.Fatal(err)
		}
	}
	return doc
}

func pageTexts(t *testing.T, doc *ir.Document) []string {
	t.Helper()
	pages, err := doc.Pages()
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, p := range pages {
		content, err := p.Content()
		if err != nil {
			t.Fatal(err)
		}
		ops, err := contentstream.Parse(content)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, contentstream.ExtractText(ops))
	}
	return out
}

func run(t *testing.T, kind Kind, docs []*ir.Document, p Params) *Result {
	t.Helper()
	res, err := Default(nil).Run(context.Background(), kind, docs, p)
	if err != nil {
		t.Fatalf("%s: %v", kind, err)
	}
	return res
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	res := run(t, KindMerge, []*ir.Document{newDoc(t, 2), newDoc(t, 3)}, nil)
	if len(res.Docs) != 1 {
		t.Fatalf("docs = %d", len(res.Docs))
	}
	texts := pageTexts(t, res.Docs[0])
	want := []string{"page 1", "page 2", "page 1", "page 2", "page 3"}
	if len(texts) != len(want) {
		t.Fatalf("pages = %v", texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("page %d = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestMergeAssociative(t *testing.T) {
	build := func() (a, b, c *ir.Document) {
		return newDoc(t, 1), newDoc(t, 2), newDoc(t, 3)
	}
	a1, b1, c1 := build()
	left := run(t, KindMerge, []*ir.Document{a1, b1}, nil).Docs[0]
	left = run(t, KindMerge, []*ir.Document{left, c1}, nil).Docs[0]

	a2, b2, c2 := build()
	flat := run(t, KindMerge, []*ir.Document{a2, b2, c2}, nil).Docs[0]

	lt, ft := pageTexts(t, left), pageTexts(t, flat)
	if len(lt) != len(ft) {
		t.Fatalf("page counts differ: %d vs %d", len(lt), len(ft))
	}
	for i := range lt {
		if lt[i] != ft[i] {
			t.Fatalf("page %d: %q vs %q", i, lt[i], ft[i])
		}
	}
}

func TestMergeEmptyInput(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindMerge, nil, nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestSplitEveryThenMergeIdentity(t *testing.T) {
	src := newDoc(t, 4)
	want := pageTexts(t, src)

	parts := run(t, KindSplit, []*ir.Document{src}, nil).Docs
	if len(parts) != 4 {
		t.Fatalf("parts = %d", len(parts))
	}
	merged := run(t, KindMerge, parts, nil).Docs[0]
	got := pageTexts(t, merged)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitRanges(t *testing.T) {
	res := run(t, KindSplit, []*ir.Document{newDoc(t, 5)}, Params{"ranges": "1-2;3-5"})
	if len(res.Docs) != 2 {
		t.Fatalf("docs = %d", len(res.Docs))
	}
	if n, _ := res.Docs[0].PageCount(); n != 2 {
		t.Fatalf("first part pages = %d", n)
	}
	if n, _ := res.Docs[1].PageCount(); n != 3 {
		t.Fatalf("second part pages = %d", n)
	}
}

func TestSplitEveryN(t *testing.T) {
	res := run(t, KindSplit, []*ir.Document{newDoc(t, 5)}, Params{"every": 2})
	if len(res.Docs) != 3 {
		t.Fatalf("docs = %d", len(res.Docs))
	}
	if n, _ := res.Docs[2].PageCount(); n != 1 {
		t.Fatalf("tail pages = %d", n)
	}
}

func TestSplitInvalidRange(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindSplit,
		[]*ir.Document{newDoc(t, 2)}, Params{"ranges": "1-9"})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err = %v", err)
	}
}

func TestSplitOverlappingRanges(t *testing.T) {
	for _, ranges := range []string{"1-3;2-5", "1,2;2,3", "4;1-4"} {
		_, err := Default(nil).Run(context.Background(), KindSplit,
			[]*ir.Document{newDoc(t, 5)}, Params{"ranges": ranges})
		if !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("ranges %q: err = %v", ranges, err)
		}
	}
}

func TestRotateAccumulatesAndNormalizes(t *testing.T) {
	doc := newDoc(t, 2)
	run(t, KindRotate, []*ir.Document{doc}, Params{"angle": 90, "pages": "2"})
	p1, _ := doc.Page(0)
	p2, _ := doc.Page(1)
	if p1.Rotate() != 0 || p2.Rotate() != 90 {
		t.Fatalf("rotations = %d, %d", p1.Rotate(), p2.Rotate())
	}
	run(t, KindRotate, []*ir.Document{doc}, Params{"angle": 270, "pages": "2"})
	p2, _ = doc.Page(1)
	if p2.Rotate() != 0 {
		t.Fatalf("full circle rotation = %d", p2.Rotate())
	}
}

func TestRotateInvalidAngle(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindRotate,
		[]*ir.Document{newDoc(t, 1)}, Params{"angle": 45})
	if !errors.Is(err, ErrInvalidAngle) {
		t.Fatalf("err = %v", err)
	}
}

func TestReorder(t *testing.T) {
	doc := newDoc(t, 3)
	run(t, KindReorder, []*ir.Document{doc}, Params{"order": []int{3, 1, 2}})
	texts := pageTexts(t, doc)
	want := []string{"page 3", "page 1", "page 2"}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("page %d = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestReorderInvalidPermutation(t *testing.T) {
	for _, order := range [][]int{{1, 1, 2}, {1, 2}, {0, 1, 2}, {1, 2, 4}} {
		_, err := Default(nil).Run(context.Background(), KindReorder,
			[]*ir.Document{newDoc(t, 3)}, Params{"order": order})
		if !errors.Is(err, ErrInvalidPermutation) {
			t.Fatalf("order %v: err = %v", order, err)
		}
	}
}

func TestEncryptSetsState(t *testing.T) {
	doc := newDoc(t, 1)
	run(t, KindEncrypt, []*ir.Document{doc}, Params{
		"user-password": "secret", "algorithm": "rc4-128", "permissions": -44,
	})
	if doc.Encrypt == nil || doc.Encrypt.Algorithm != "rc4-128" {
		t.Fatalf("Encrypt = %+v", doc.Encrypt)
	}
	if doc.Encrypt.Permissions != -44 {
		t.Fatalf("Permissions = %d", doc.Encrypt.Permissions)
	}
}

func TestEncryptRequiresPassword(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindEncrypt,
		[]*ir.Document{newDoc(t, 1)}, nil)
	if !errors.Is(err, ErrBadParam) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecryptClearsState(t *testing.T) {
	doc := newDoc(t, 1)
	doc.Encrypt = &ir.EncryptionState{Algorithm: "aes-128", UserPassword: "pw"}
	run(t, KindDecrypt, []*ir.Document{doc}, nil)
	if doc.Encrypt != nil {
		t.Fatal("encryption state not cleared")
	}

	res := run(t, KindDecrypt, []*ir.Document{newDoc(t, 1)}, nil)
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestMetadataEdit(t *testing.T) {
	doc := newDoc(t, 1)
	doc.Info.Author = "before"
	run(t, KindMetadataEdit, []*ir.Document{doc}, Params{"title": "after", "author": ""})
	if doc.Info.Title != "after" {
		t.Fatalf("Title = %q", doc.Info.Title)
	}
	if doc.Info.Author != "" {
		t.Fatalf("Author = %q, want cleared", doc.Info.Author)
	}
	if doc.Info.Modified.IsZero() {
		t.Fatal("Modified not stamped")
	}
}

func TestWatermarkUnderLayer(t *testing.T) {
	doc := newDoc(t, 1)
	run(t, KindWatermark, []*ir.Document{doc}, Params{"text": "DRAFT"})
	page, _ := doc.Page(0)
	content, err := page.Content()
	if err != nil {
		t.Fatal(err)
	}
	wmAt := strings.Index(string(content), "(DRAFT)")
	pageAt := strings.Index(string(content), "(page 1)")
	if wmAt < 0 || pageAt < 0 || wmAt > pageAt {
		t.Fatalf("watermark not drawn under content: wm=%d page=%d", wmAt, pageAt)
	}
	res, err := page.Resources()
	if err != nil {
		t.Fatal(err)
	}
	fonts, _ := res.Get("Font")
	fd, err := doc.ResolveDict(fonts)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fd.Get(overlayFontKey); !ok {
		t.Fatal("overlay font not registered")
	}
	states, _ := res.Get("ExtGState")
	if states == nil {
		t.Fatal("overlay ExtGState not registered")
	}
}

func TestAddTextAppears(t *testing.T) {
	doc := newDoc(t, 2)
	run(t, KindAddText, []*ir.Document{doc}, Params{"text": "stamp", "pages": "2"})
	texts := pageTexts(t, doc)
	if strings.Contains(texts[0], "stamp") {
		t.Fatal("page 1 should be untouched")
	}
	if !strings.Contains(texts[1], "stamp") {
		t.Fatalf("page 2 = %q", texts[1])
	}
}

func TestPaginate(t *testing.T) {
	doc := newDoc(t, 3)
	run(t, KindPaginate, []*ir.Document{doc}, Params{"format": "{page} / {pages}"})
	texts := pageTexts(t, doc)
	if !strings.Contains(texts[2], "3 / 3") {
		t.Fatalf("page 3 = %q", texts[2])
	}
}

func TestExtractTextArtifact(t *testing.T) {
	res := run(t, KindExtractText, []*ir.Document{newDoc(t, 2)}, nil)
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %v", res.Artifacts)
	}
	got := string(res.Artifacts[0].Data)
	if got != "page 1\fpage 2" {
		t.Fatalf("text = %q", got)
	}
}

func TestSchemaRejectsUnknownParam(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindRotate,
		[]*ir.Document{newDoc(t, 1)}, Params{"angle": 90, "anlge": 90})
	if !errors.Is(err, ErrBadParam) {
		t.Fatalf("err = %v", err)
	}
}

func TestSchemaRequiredParam(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), KindRotate,
		[]*ir.Document{newDoc(t, 1)}, nil)
	if !errors.Is(err, ErrBadParam) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	_, err := Default(nil).Run(context.Background(), "explode", nil, nil)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistryListsAllKinds(t *testing.T) {
	kinds := Default(nil).Kinds()
	if len(kinds) != 17 {
		t.Fatalf("registered %d kinds: %v", len(kinds), kinds)
	}
}
