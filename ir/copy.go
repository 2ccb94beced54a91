package ir

import "fmt"

// ImportPages deep-copies the given pages of src into dst and appends
// them to dst's page tree. The copy is done in two passes: first the
// reference closure of the selected pages is walked and every reachable
// indirect object gets a fresh number in dst, then each object is cloned
// with its references rewritten through that map. Parent links are
// stripped before the walk so the closure never drags in src's page tree
// or the siblings hanging off it.
func ImportPages(dst, src *Document, pageIdx []int) ([]Ref, error) {
	srcRefs, err := src.PageRefs()
	if err != nil {
		return nil, err
	}
	var selected []Ref
	for _, i := range pageIdx {
		if i < 0 || i >= len(srcRefs) {
			return nil, fmt.Errorf("ir: import page index %d out of range [0,%d)", i, len(srcRefs))
		}
		selected = append(selected, srcRefs[i])
	}

	// Pass 1: closure walk and number allocation. Page dictionaries are
	// flattened (inherited attributes materialized, Parent dropped) into
	// detached clones so the walk starts from self-contained roots.
	renum := make(map[Ref]Ref)
	detached := make(map[Ref]*Dict)
	var pending []Ref

	enqueue := func(obj Object) {
		walkRefs(obj, func(r Ref) {
			if _, ok := renum[r]; !ok {
				renum[r] = dst.reserve()
				pending = append(pending, r)
			}
		})
	}

	newPageRefs := make([]Ref, 0, len(selected))
	for _, pageRef := range selected {
		srcDict, err := src.ResolveDict(pageRef)
		if err != nil {
			return nil, err
		}
		page := &Page{doc: src, Ref: pageRef, Dict: srcDict}
		flat := NewDict()
		for _, k := range srcDict.Keys() {
			if k == "Parent" {
				continue
			}
			v, _ := srcDict.Get(k)
			flat.Set(k, v)
		}
		if _, ok := flat.Get("MediaBox"); !ok {
			flat.Set("MediaBox", page.MediaBox().Array())
		}
		if _, ok := flat.Get("Resources"); !ok {
			if v, found := page.inherited("Resources"); found {
				flat.Set("Resources", v)
			}
		}
		if _, ok := flat.Get("Rotate"); !ok {
			if r := page.Rotate(); r != 0 {
				flat.Set("Rotate", Int(int64(r)))
			}
		}
		newRef := dst.reserve()
		renum[pageRef] = newRef
		detached[pageRef] = flat
		newPageRefs = append(newPageRefs, newRef)
		enqueue(flat)
	}
	for len(pending) > 0 {
		ref := pending[0]
		pending = pending[1:]
		obj, ok := src.Get(ref)
		if !ok {
			// A dangling reference inside an annotation or resource does
			// not fail the import; it is rewritten to null.
			continue
		}
		enqueue(obj)
	}

	// Pass 2: clone with rewritten references.
	for srcRef, dstRef := range renum {
		var obj Object
		if flat, ok := detached[srcRef]; ok {
			obj = flat
		} else {
			orig, ok := src.Get(srcRef)
			if !ok {
				obj = Null{}
			} else {
				obj = orig
			}
		}
		dst.Objects[dstRef] = cloneObject(obj, renum)
	}

	for _, ref := range newPageRefs {
		if err := dst.AppendPage(ref); err != nil {
			return nil, err
		}
	}
	return newPageRefs, nil
}

// reserve allocates an object number without storing anything yet.
func (d *Document) reserve() Ref {
	d.maxNum++
	return Ref{Num: d.maxNum}
}

// walkRefs invokes fn for every Ref directly contained in obj.
func walkRefs(obj Object, fn func(Ref)) {
	switch v := obj.(type) {
	case Ref:
		fn(v)
	case *Array:
		for _, item := range v.Items {
			walkRefs(item, fn)
		}
	case *Dict:
		for _, item := range v.KV {
			walkRefs(item, fn)
		}
	case *Stream:
		walkRefs(v.Dict, fn)
	}
}

// cloneObject deep-copies obj, rewriting every reference through renum.
// References absent from the map become null.
func cloneObject(obj Object, renum map[Ref]Ref) Object {
	switch v := obj.(type) {
	case Ref:
		if nr, ok := renum[v]; ok {
			return nr
		}
		return Null{}
	case *Array:
		out := &Array{Items: make([]Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = cloneObject(item, renum)
		}
		return out
	case *Dict:
		out := NewDict()
		for k, item := range v.KV {
			out.Set(k, cloneObject(item, renum))
		}
		return out
	case *Stream:
		dict := cloneObject(v.Dict, renum).(*Dict)
		raw := make([]byte, len(v.Raw))
		copy(raw, v.Raw)
		out := &Stream{Dict: dict, Raw: raw}
		if v.haveClear {
			out.decoded = v.decoded
			out.haveClear = true
		} else {
			out.decode = v.decode
		}
		return out
	case String:
		cp := make(String, len(v))
		copy(cp, v)
		return cp
	default:
		return v
	}
}
