// Package ir holds the in-memory representation of a PDF: the tagged
// object values, the document-level object table keyed by object number,
// and dictionary-backed page views. All cross-object links are expressed
// as Ref values resolved through the owning Document, so the ownership
// graph stays acyclic even when the logical graph is not.
package ir

import (
	"fmt"
	"sort"
)

// Kind tags an Object variant.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindName
	KindArray
	KindDict
	KindStream
	KindRef
)

// Object is the base of all PDF values.
type Object interface {
	Kind() Kind
}

// Ref identifies an indirect object. It is both the key of the document
// object table and an Object in its own right (an indirect reference).
type Ref struct {
	Num int
	Gen int
}

func (r Ref) Kind() Kind     { return KindRef }
func (r Ref) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }
func (r Ref) IsZero() bool   { return r.Num == 0 && r.Gen == 0 }

type Null struct{}

func (Null) Kind() Kind { return KindNull }

type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Number carries either an integer or a real; PDF syntax distinguishes
// them and some entries (object numbers, counts) must stay integral.
type Number struct {
	I     int64
	F     float64
	IsInt bool
}

func (Number) Kind() Kind { return KindNumber }

func (n Number) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}

func (n Number) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}

func Int(i int64) Number    { return Number{I: i, IsInt: true} }
func Real(f float64) Number { return Number{F: f} }

// String holds raw string bytes; literal vs hex is a serialization choice.
type String []byte

func (String) Kind() Kind { return KindString }

type Name string

func (Name) Kind() Kind { return KindName }

type Array struct {
	Items []Object
}

func (*Array) Kind() Kind { return KindArray }

func NewArray(items ...Object) *Array { return &Array{Items: items} }

func (a *Array) Len() int { return len(a.Items) }

func (a *Array) At(i int) Object {
	if i < 0 || i >= len(a.Items) {
		return Null{}
	}
	return a.Items[i]
}

func (a *Array) Append(items ...Object) { a.Items = append(a.Items, items...) }

type Dict struct {
	KV map[Name]Object
}

func (*Dict) Kind() Kind { return KindDict }

func NewDict() *Dict { return &Dict{KV: make(map[Name]Object)} }

func (d *Dict) Get(key Name) (Object, bool) {
	if d == nil || d.KV == nil {
		return nil, false
	}
	o, ok := d.KV[key]
	return o, ok
}

func (d *Dict) Set(key Name, value Object) {
	if d.KV == nil {
		d.KV = make(map[Name]Object)
	}
	d.KV[key] = value
}

func (d *Dict) Delete(key Name) {
	if d != nil && d.KV != nil {
		delete(d.KV, key)
	}
}

func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.KV)
}

// Keys returns the dictionary keys in sorted order for deterministic
// serialization and iteration.
func (d *Dict) Keys() []Name {
	if d == nil {
		return nil
	}
	keys := make([]Name, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Typed accessors. Each returns the zero value when the entry is absent
// or of a different type; direct values only, references are left to
// Document.Resolve.

func (d *Dict) Name(key Name) (Name, bool) {
	if v, ok := d.Get(key); ok {
		if n, ok := v.(Name); ok {
			return n, true
		}
	}
	return "", false
}

func (d *Dict) Int(key Name) (int64, bool) {
	if v, ok := d.Get(key); ok {
		if n, ok := v.(Number); ok {
			return n.Int(), true
		}
	}
	return 0, false
}

func (d *Dict) Bool(key Name) (bool, bool) {
	if v, ok := d.Get(key); ok {
		if b, ok := v.(Bool); ok {
			return bool(b), true
		}
	}
	return false, false
}

func (d *Dict) String(key Name) ([]byte, bool) {
	if v, ok := d.Get(key); ok {
		if s, ok := v.(String); ok {
			return []byte(s), true
		}
	}
	return nil, false
}

// Stream pairs a dictionary with its payload. Raw holds the bytes as
// stored in the file (possibly filtered); decoding happens on first
// access through the decode hook installed by the parser, so large
// payloads are not decompressed until something reads them.
type Stream struct {
	Dict *Dict
	Raw  []byte

	decoded   []byte
	haveClear bool
	decode    func() ([]byte, error)
}

func (*Stream) Kind() Kind { return KindStream }

// NewStream builds a stream whose payload is already in clear form (no
// filters). The Length entry is kept consistent with the raw payload.
func NewStream(dict *Dict, data []byte) *Stream {
	if dict == nil {
		dict = NewDict()
	}
	dict.Set("Length", Int(int64(len(data))))
	return &Stream{Dict: dict, Raw: data, decoded: data, haveClear: true}
}

// SetDecodeFunc installs the lazy decode hook. Used by the parser for
// streams that carry filters.
func (s *Stream) SetDecodeFunc(f func() ([]byte, error)) {
	s.decode = f
	s.haveClear = false
}

// Data returns the decoded payload, running the filter chain at most
// once. Streams built in memory return their payload directly.
func (s *Stream) Data() ([]byte, error) {
	if s.haveClear {
		return s.decoded, nil
	}
	if s.decode == nil {
		return s.Raw, nil
	}
	out, err := s.decode()
	if err != nil {
		return nil, err
	}
	s.decoded = out
	s.haveClear = true
	return out, nil
}

// SetRawFiltered replaces the payload with bytes already encoded by the
// named filter, dropping any previous decode state.
func (s *Stream) SetRawFiltered(raw []byte, filter Name) {
	s.Raw = raw
	s.decoded = nil
	s.haveClear = false
	s.decode = nil
	s.Dict.Set("Filter", filter)
	s.Dict.Delete("DecodeParms")
	s.Dict.Set("Length", Int(int64(len(raw))))
}

// SetData replaces the payload with clear bytes and drops any filter
// entries, keeping Length consistent.
func (s *Stream) SetData(data []byte) {
	s.Raw = data
	s.decoded = data
	s.haveClear = true
	s.decode = nil
	s.Dict.Delete("Filter")
	s.Dict.Delete("DecodeParms")
	s.Dict.Set("Length", Int(int64(len(data))))
}

// Rect is a PDF rectangle in default user space units.
type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

func (r Rect) Array() *Array {
	return NewArray(Real(r.LLX), Real(r.LLY), Real(r.URX), Real(r.URY))
}

// RectFromArray reads a rectangle from a 4-element array, normalizing
// flipped corners.
func RectFromArray(a *Array) (Rect, bool) {
	if a == nil || a.Len() != 4 {
		return Rect{}, false
	}
	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		n, ok := a.At(i).(Number)
		if !ok {
			return Rect{}, false
		}
		vals[i] = n.Float()
	}
	r := Rect{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	return r, true
}
