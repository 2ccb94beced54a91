package ir

import (
	"errors"
	"testing"
)

func newTestPage(doc *Document, width, height float64) Ref {
	page := NewDict()
	page.Set("Type", Name("Page"))
	page.Set("MediaBox", Rect{URX: width, URY: height}.Array())
	content := doc.Put(NewStream(nil, []byte("BT /F1 12 Tf (x) Tj ET")))
	page.Set("Contents", content)
	ref := doc.Put(page)
	if err := doc.AppendPage(ref); err != nil {
		panic(err)
	}
	return ref
}

func TestNewDocumentHasEmptyPageTree(t *testing.T) {
	doc := NewDocument()
	n, err := doc.PageCount()
	if err != nil {
		t.Fatalf("PageCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("page count = %d, want 0", n)
	}
	if _, err := doc.Catalog(); err != nil {
		t.Fatalf("Catalog: %v", err)
	}
}

func TestAppendPageOrdering(t *testing.T) {
	doc := NewDocument()
	a := newTestPage(doc, 612, 792)
	b := newTestPage(doc, 595, 842)
	refs, err := doc.PageRefs()
	if err != nil {
		t.Fatalf("PageRefs: %v", err)
	}
	if len(refs) != 2 || refs[0] != a || refs[1] != b {
		t.Fatalf("refs = %v, want [%v %v]", refs, a, b)
	}
}

func TestResolveBrokenReference(t *testing.T) {
	doc := NewDocument()
	_, err := doc.Resolve(Ref{Num: 999})
	if !errors.Is(err, ErrBrokenReference) {
		t.Fatalf("err = %v, want ErrBrokenReference", err)
	}
}

func TestPageInheritance(t *testing.T) {
	doc := NewDocument()
	_, root, err := doc.pagesRoot()
	if err != nil {
		t.Fatalf("pagesRoot: %v", err)
	}
	root.Set("MediaBox", Rect{URX: 595, URY: 842}.Array())
	root.Set("Rotate", Int(90))

	page := NewDict()
	page.Set("Type", Name("Page"))
	ref := doc.Put(page)
	if err := doc.AppendPage(ref); err != nil {
		t.Fatalf("AppendPage: %v", err)
	}

	p, err := doc.Page(0)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	mb := p.MediaBox()
	if mb.Width() != 595 || mb.Height() != 842 {
		t.Fatalf("MediaBox = %+v, want inherited A4", mb)
	}
	if p.Rotate() != 90 {
		t.Fatalf("Rotate = %d, want inherited 90", p.Rotate())
	}
}

func TestRotateNormalization(t *testing.T) {
	doc := NewDocument()
	ref := newTestPage(doc, 612, 792)
	dict, _ := doc.ResolveDict(ref)
	dict.Set("Rotate", Int(-90))
	p, _ := doc.Page(0)
	if p.Rotate() != 270 {
		t.Fatalf("Rotate = %d, want 270", p.Rotate())
	}
	dict.Set("Rotate", Int(450))
	if p.Rotate() != 90 {
		t.Fatalf("Rotate = %d, want 90", p.Rotate())
	}
}

func TestContentConcatenation(t *testing.T) {
	doc := NewDocument()
	newTestPage(doc, 612, 792)
	p, _ := doc.Page(0)
	if err := p.AppendContent([]byte("0 0 m")); err != nil {
		t.Fatalf("AppendContent: %v", err)
	}
	data, err := p.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	want := "BT /F1 12 Tf (x) Tj ET\n0 0 m"
	if string(data) != want {
		t.Fatalf("content = %q, want %q", data, want)
	}
}

func TestPrependContent(t *testing.T) {
	doc := NewDocument()
	newTestPage(doc, 612, 792)
	p, _ := doc.Page(0)
	if err := p.PrependContent([]byte("q")); err != nil {
		t.Fatalf("PrependContent: %v", err)
	}
	data, err := p.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(data) != "q\nBT /F1 12 Tf (x) Tj ET" {
		t.Fatalf("content = %q", data)
	}
}

func TestImportPagesCopiesClosure(t *testing.T) {
	src := NewDocument()
	font := NewDict()
	font.Set("Type", Name("Font"))
	font.Set("Subtype", Name("Type1"))
	font.Set("BaseFont", Name("Helvetica"))
	fontRef := src.Put(font)

	pageRef := newTestPage(src, 612, 792)
	pageDict, _ := src.ResolveDict(pageRef)
	res := NewDict()
	fonts := NewDict()
	fonts.Set("F1", fontRef)
	res.Set("Font", fonts)
	pageDict.Set("Resources", res)

	dst := NewDocument()
	newRefs, err := ImportPages(dst, src, []int{0})
	if err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	if len(newRefs) != 1 {
		t.Fatalf("imported %d pages, want 1", len(newRefs))
	}
	n, _ := dst.PageCount()
	if n != 1 {
		t.Fatalf("dst page count = %d, want 1", n)
	}
	p, err := dst.Page(0)
	if err != nil {
		t.Fatalf("dst.Page: %v", err)
	}
	resDict, err := p.Resources()
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	fontsObj, ok := resDict.Get("Font")
	if !ok {
		t.Fatal("imported page lost its font resources")
	}
	fontsDict, err := dst.ResolveDict(fontsObj)
	if err != nil {
		t.Fatalf("resolve fonts: %v", err)
	}
	f1, ok := fontsDict.Get("F1")
	if !ok {
		t.Fatal("imported fonts dict lost F1")
	}
	copied, err := dst.ResolveDict(f1)
	if err != nil {
		t.Fatalf("resolve copied font: %v", err)
	}
	if base, _ := copied.Name("BaseFont"); base != "Helvetica" {
		t.Fatalf("BaseFont = %q, want Helvetica", base)
	}

	// The copy must be independent of the source.
	copied.Set("BaseFont", Name("Courier"))
	if base, _ := font.Name("BaseFont"); base != "Helvetica" {
		t.Fatal("mutating imported object changed the source document")
	}
}

func TestImportPagesMaterializesInheritance(t *testing.T) {
	src := NewDocument()
	_, root, _ := src.pagesRoot()
	root.Set("MediaBox", Rect{URX: 595, URY: 842}.Array())
	page := NewDict()
	page.Set("Type", Name("Page"))
	ref := src.Put(page)
	if err := src.AppendPage(ref); err != nil {
		t.Fatalf("AppendPage: %v", err)
	}

	dst := NewDocument()
	if _, err := ImportPages(dst, src, []int{0}); err != nil {
		t.Fatalf("ImportPages: %v", err)
	}
	p, _ := dst.Page(0)
	if _, ok := p.Dict.Get("MediaBox"); !ok {
		t.Fatal("imported page did not materialize inherited MediaBox")
	}
	mb := p.MediaBox()
	if mb.Width() != 595 {
		t.Fatalf("MediaBox width = %v, want 595", mb.Width())
	}
}

func TestSetPageRefsReorders(t *testing.T) {
	doc := NewDocument()
	a := newTestPage(doc, 612, 792)
	b := newTestPage(doc, 612, 792)
	c := newTestPage(doc, 612, 792)
	if err := doc.SetPageRefs([]Ref{c, a, b}); err != nil {
		t.Fatalf("SetPageRefs: %v", err)
	}
	refs, _ := doc.PageRefs()
	if refs[0] != c || refs[1] != a || refs[2] != b {
		t.Fatalf("order = %v, want [c a b]", refs)
	}
}

func TestStreamSetDataDropsFilters(t *testing.T) {
	dict := NewDict()
	dict.Set("Filter", Name("FlateDecode"))
	s := &Stream{Dict: dict, Raw: []byte{1, 2, 3}}
	s.SetData([]byte("clear"))
	if _, ok := s.Dict.Get("Filter"); ok {
		t.Fatal("SetData kept /Filter")
	}
	if n, _ := s.Dict.Int("Length"); n != 5 {
		t.Fatalf("Length = %d, want 5", n)
	}
	data, err := s.Data()
	if err != nil || string(data) != "clear" {
		t.Fatalf("Data = %q, %v", data, err)
	}
}
