package ir

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBrokenReference is returned when a reference points at an object
	// number the document table does not contain.
	ErrBrokenReference = errors.New("ir: broken object reference")

	// ErrNoPages is returned when the catalog has no usable page tree.
	ErrNoPages = errors.New("ir: document has no page tree")
)

// Metadata mirrors the document information dictionary. Empty fields are
// omitted on write.
type Metadata struct {
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
	Producer string
	Created  time.Time
	Modified time.Time
}

// EncryptionState describes how a document is, or should be, encrypted.
// The parser records the state of an encrypted input here after decrypting
// all objects; the writer consults it to re-encrypt on output. A nil state
// means plaintext.
type EncryptionState struct {
	// Algorithm is one of "rc4-40", "rc4-128", "aes-128", "aes-256".
	Algorithm     string
	UserPassword  string
	OwnerPassword string
	Permissions   int32
	// FileID is the first element of the trailer /ID array; key derivation
	// binds to it.
	FileID []byte
}

// Document is the in-memory form of a PDF file: a flat table of indirect
// objects plus the trailer that roots them. All object payloads are held
// decrypted and links between objects are Ref values.
type Document struct {
	Objects map[Ref]Object
	Trailer *Dict
	Info    Metadata
	Version string
	Encrypt *EncryptionState

	maxNum int
}

// NewDocument builds an empty document with a catalog and an empty page
// tree, ready for pages to be appended.
func NewDocument() *Document {
	doc := &Document{
		Objects: make(map[Ref]Object),
		Trailer: NewDict(),
		Version: "1.7",
	}
	pages := NewDict()
	pages.Set("Type", Name("Pages"))
	pages.Set("Kids", NewArray())
	pages.Set("Count", Int(0))
	pagesRef := doc.Put(pages)

	catalog := NewDict()
	catalog.Set("Type", Name("Catalog"))
	catalog.Set("Pages", pagesRef)
	catalogRef := doc.Put(catalog)

	doc.Trailer.Set("Root", catalogRef)
	return doc
}

// Put stores obj under a fresh object number and returns its reference.
func (d *Document) Put(obj Object) Ref {
	d.maxNum++
	ref := Ref{Num: d.maxNum}
	d.Objects[ref] = obj
	return ref
}

// Set stores obj under an explicit reference, growing the numbering
// watermark so later Put calls do not collide. Used by the parser.
func (d *Document) Set(ref Ref, obj Object) {
	if d.Objects == nil {
		d.Objects = make(map[Ref]Object)
	}
	d.Objects[ref] = obj
	if ref.Num > d.maxNum {
		d.maxNum = ref.Num
	}
}

// Get returns the object stored under ref without resolving chains.
func (d *Document) Get(ref Ref) (Object, bool) {
	o, ok := d.Objects[ref]
	return o, ok
}

// Resolve follows obj until it is no longer a reference. A reference to a
// missing object is an error; references are never silently treated as
// null because downstream operations would corrupt the page tree.
func (d *Document) Resolve(obj Object) (Object, error) {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(Ref)
		if !ok {
			return obj, nil
		}
		next, ok := d.Objects[ref]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBrokenReference, ref)
		}
		obj = next
	}
	return nil, fmt.Errorf("%w: reference chain too deep", ErrBrokenReference)
}

// ResolveDict resolves obj and asserts it is a dictionary.
func (d *Document) ResolveDict(obj Object) (*Dict, error) {
	res, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch v := res.(type) {
	case *Dict:
		return v, nil
	case *Stream:
		return v.Dict, nil
	}
	return nil, fmt.Errorf("ir: expected dictionary, got %T", res)
}

// ResolveStream resolves obj and asserts it is a stream.
func (d *Document) ResolveStream(obj Object) (*Stream, error) {
	res, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	s, ok := res.(*Stream)
	if !ok {
		return nil, fmt.Errorf("ir: expected stream, got %T", res)
	}
	return s, nil
}

// ResolveArray resolves obj and asserts it is an array.
func (d *Document) ResolveArray(obj Object) (*Array, error) {
	res, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	a, ok := res.(*Array)
	if !ok {
		return nil, fmt.Errorf("ir: expected array, got %T", res)
	}
	return a, nil
}

// ResolveInt resolves a dictionary entry to an integer, following an
// indirect reference if present.
func (d *Document) ResolveInt(dict *Dict, key Name) (int64, error) {
	v, ok := dict.Get(key)
	if !ok {
		return 0, fmt.Errorf("ir: missing /%s", key)
	}
	res, err := d.Resolve(v)
	if err != nil {
		return 0, err
	}
	n, ok := res.(Number)
	if !ok {
		return 0, fmt.Errorf("ir: /%s is not a number", key)
	}
	return n.Int(), nil
}

// CatalogRef returns the reference the trailer Root entry points at.
func (d *Document) CatalogRef() (Ref, error) {
	root, ok := d.Trailer.Get("Root")
	if !ok {
		return Ref{}, fmt.Errorf("%w: trailer has no /Root", ErrNoPages)
	}
	ref, ok := root.(Ref)
	if !ok {
		return Ref{}, fmt.Errorf("ir: trailer /Root is not a reference")
	}
	return ref, nil
}

// Catalog returns the document catalog dictionary.
func (d *Document) Catalog() (*Dict, error) {
	ref, err := d.CatalogRef()
	if err != nil {
		return nil, err
	}
	return d.ResolveDict(ref)
}

// pagesRoot returns the reference and dictionary of the page tree root.
func (d *Document) pagesRoot() (Ref, *Dict, error) {
	cat, err := d.Catalog()
	if err != nil {
		return Ref{}, nil, err
	}
	pagesObj, ok := cat.Get("Pages")
	if !ok {
		return Ref{}, nil, ErrNoPages
	}
	ref, ok := pagesObj.(Ref)
	if !ok {
		return Ref{}, nil, fmt.Errorf("ir: catalog /Pages is not a reference")
	}
	dict, err := d.ResolveDict(ref)
	if err != nil {
		return Ref{}, nil, err
	}
	return ref, dict, nil
}

// PageRefs walks the page tree in display order and returns the leaf page
// references. Cycles in a damaged tree are cut rather than looped over.
func (d *Document) PageRefs() ([]Ref, error) {
	rootRef, _, err := d.pagesRoot()
	if err != nil {
		return nil, err
	}
	var out []Ref
	seen := make(map[Ref]bool)
	var walk func(ref Ref) error
	walk = func(ref Ref) error {
		if seen[ref] {
			return nil
		}
		seen[ref] = true
		node, err := d.ResolveDict(ref)
		if err != nil {
			return err
		}
		typ, _ := node.Name("Type")
		if typ == "Page" {
			out = append(out, ref)
			return nil
		}
		kidsObj, ok := node.Get("Kids")
		if !ok {
			// Leaf without a Type entry: treat as a page if it looks
			// like one, which repairs a common class of damage.
			if _, hasContents := node.Get("Contents"); hasContents {
				out = append(out, ref)
			}
			return nil
		}
		kids, err := d.ResolveArray(kidsObj)
		if err != nil {
			return err
		}
		for _, kid := range kids.Items {
			kidRef, ok := kid.(Ref)
			if !ok {
				return fmt.Errorf("ir: page tree kid is not a reference")
			}
			if err := walk(kidRef); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootRef); err != nil {
		return nil, err
	}
	return out, nil
}

// PageCount returns the number of leaf pages.
func (d *Document) PageCount() (int, error) {
	refs, err := d.PageRefs()
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

// Page returns a view of the zero-based i-th page.
func (d *Document) Page(i int) (*Page, error) {
	refs, err := d.PageRefs()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(refs) {
		return nil, fmt.Errorf("ir: page index %d out of range [0,%d)", i, len(refs))
	}
	dict, err := d.ResolveDict(refs[i])
	if err != nil {
		return nil, err
	}
	return &Page{doc: d, Ref: refs[i], Dict: dict}, nil
}

// Pages returns views of every leaf page in display order.
func (d *Document) Pages() ([]*Page, error) {
	refs, err := d.PageRefs()
	if err != nil {
		return nil, err
	}
	out := make([]*Page, 0, len(refs))
	for _, ref := range refs {
		dict, err := d.ResolveDict(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, &Page{doc: d, Ref: ref, Dict: dict})
	}
	return out, nil
}

// AppendPage links an already-stored page dictionary into the page tree
// root and fixes up Parent and Count.
func (d *Document) AppendPage(pageRef Ref) error {
	rootRef, root, err := d.pagesRoot()
	if err != nil {
		return err
	}
	pageDict, err := d.ResolveDict(pageRef)
	if err != nil {
		return err
	}
	pageDict.Set("Parent", rootRef)

	kidsObj, ok := root.Get("Kids")
	if !ok {
		kids := NewArray(pageRef)
		root.Set("Kids", kids)
	} else {
		kids, err := d.ResolveArray(kidsObj)
		if err != nil {
			return err
		}
		kids.Append(pageRef)
	}
	count, _ := root.Int("Count")
	root.Set("Count", Int(count+1))
	return nil
}

// SetPageRefs replaces the page tree with a flat tree over the given
// refs, in order. Used by reorder and split.
func (d *Document) SetPageRefs(refs []Ref) error {
	rootRef, root, err := d.pagesRoot()
	if err != nil {
		return err
	}
	kids := NewArray()
	for _, ref := range refs {
		pageDict, err := d.ResolveDict(ref)
		if err != nil {
			return err
		}
		pageDict.Set("Parent", rootRef)
		kids.Append(ref)
	}
	root.Set("Kids", kids)
	root.Set("Count", Int(int64(len(refs))))
	return nil
}

// MaxObjectNum reports the highest object number in use.
func (d *Document) MaxObjectNum() int { return d.maxNum }
