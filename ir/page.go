package ir

import "fmt"

// Inheritable page attributes per the page tree model. A leaf page that
// lacks one of these entries takes it from the nearest ancestor that has
// it.
var inheritable = map[Name]bool{
	"MediaBox":  true,
	"CropBox":   true,
	"Resources": true,
	"Rotate":    true,
}

// Page is a resolved view over a leaf page dictionary. Mutations through
// the view write to the underlying dictionary.
type Page struct {
	doc  *Document
	Ref  Ref
	Dict *Dict
}

// inherited looks up key on the page, then up the Parent chain.
func (p *Page) inherited(key Name) (Object, bool) {
	node := p.Dict
	for i := 0; node != nil && i < 64; i++ {
		if v, ok := node.Get(key); ok {
			return v, true
		}
		if !inheritable[key] {
			return nil, false
		}
		parentObj, ok := node.Get("Parent")
		if !ok {
			return nil, false
		}
		parent, err := p.doc.ResolveDict(parentObj)
		if err != nil {
			return nil, false
		}
		node = parent
	}
	return nil, false
}

// MediaBox returns the effective media box; US Letter when the document
// never declares one.
func (p *Page) MediaBox() Rect {
	if v, ok := p.inherited("MediaBox"); ok {
		if a, err := p.doc.ResolveArray(v); err == nil {
			if r, ok := RectFromArray(a); ok && r.Width() > 0 && r.Height() > 0 {
				return r
			}
		}
	}
	return Rect{URX: 612, URY: 792}
}

// Rotate returns the effective page rotation normalized to {0,90,180,270}.
func (p *Page) Rotate() int {
	if v, ok := p.inherited("Rotate"); ok {
		if res, err := p.doc.Resolve(v); err == nil {
			if n, ok := res.(Number); ok {
				r := int(n.Int()) % 360
				if r < 0 {
					r += 360
				}
				return r - r%90
			}
		}
	}
	return 0
}

// SetRotate writes an absolute rotation onto the leaf page.
func (p *Page) SetRotate(deg int) {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	p.Dict.Set("Rotate", Int(int64(deg)))
}

// Resources returns the effective resource dictionary, creating an empty
// one on the leaf if none is reachable.
func (p *Page) Resources() (*Dict, error) {
	if v, ok := p.inherited("Resources"); ok {
		return p.doc.ResolveDict(v)
	}
	res := NewDict()
	p.Dict.Set("Resources", res)
	return res, nil
}

// OwnResources returns a resource dictionary attached directly to the
// leaf page, cloning the inherited one first if needed. Operations that
// add resources to a single page must not mutate a dictionary shared
// through inheritance.
func (p *Page) OwnResources() (*Dict, error) {
	if v, ok := p.Dict.Get("Resources"); ok {
		return p.doc.ResolveDict(v)
	}
	inheritedRes, err := p.Resources()
	if err != nil {
		return nil, err
	}
	clone := NewDict()
	for _, k := range inheritedRes.Keys() {
		v, _ := inheritedRes.Get(k)
		clone.Set(k, v)
	}
	p.Dict.Set("Resources", clone)
	return clone, nil
}

// ContentRefs returns the page's content stream references in order.
// A direct stream Contents entry is hoisted into the object table first.
func (p *Page) ContentRefs() ([]Ref, error) {
	v, ok := p.Dict.Get("Contents")
	if !ok {
		return nil, nil
	}
	switch c := v.(type) {
	case Ref:
		res, err := p.doc.Resolve(c)
		if err != nil {
			return nil, err
		}
		if arr, ok := res.(*Array); ok {
			return refItems(arr)
		}
		return []Ref{c}, nil
	case *Array:
		return refItems(c)
	case *Stream:
		ref := p.doc.Put(c)
		p.Dict.Set("Contents", ref)
		return []Ref{ref}, nil
	}
	return nil, fmt.Errorf("ir: page /Contents has unexpected type %T", v)
}

func refItems(a *Array) ([]Ref, error) {
	out := make([]Ref, 0, a.Len())
	for _, item := range a.Items {
		ref, ok := item.(Ref)
		if !ok {
			return nil, fmt.Errorf("ir: contents array element is not a reference")
		}
		out = append(out, ref)
	}
	return out, nil
}

// Content concatenates the decoded content streams with a separating
// newline, which is how multi-stream pages are defined to behave.
func (p *Page) Content() ([]byte, error) {
	refs, err := p.ContentRefs()
	if err != nil {
		return nil, err
	}
	var out []byte
	for i, ref := range refs {
		s, err := p.doc.ResolveStream(ref)
		if err != nil {
			return nil, err
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("content stream %s: %w", ref, err)
		}
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, data...)
	}
	return out, nil
}

// AppendContent adds a content stream after the existing ones.
func (p *Page) AppendContent(data []byte) error {
	return p.addContent(data, false)
}

// PrependContent adds a content stream before the existing ones. Used to
// reset graphics state (q) around injected drawing.
func (p *Page) PrependContent(data []byte) error {
	return p.addContent(data, true)
}

func (p *Page) addContent(data []byte, front bool) error {
	newRef := p.doc.Put(NewStream(nil, data))
	refs, err := p.ContentRefs()
	if err != nil {
		return err
	}
	var all []Object
	if front {
		all = append(all, newRef)
	}
	for _, r := range refs {
		all = append(all, r)
	}
	if !front {
		all = append(all, newRef)
	}
	p.Dict.Set("Contents", NewArray(all...))
	return nil
}

// Doc exposes the owning document for operations that need to resolve
// page-reachable objects.
func (p *Page) Doc() *Document { return p.doc }
