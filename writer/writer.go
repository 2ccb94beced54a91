// Package writer serializes an ir.Document back to PDF bytes: objects
// renumbered from the trailer closure, a classic xref table with exact
// byte offsets, and string/stream encryption when the document carries
// an EncryptionState. Signing appends an incremental update with a
// byte-range signature.
package writer

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"pdfbatch/ir"
	"pdfbatch/observability"
	"pdfbatch/security"
)

type Config struct {
	Logger observability.Logger
}

// Encode serializes doc with default configuration.
func Encode(doc *ir.Document) ([]byte, error) {
	return EncodeWithConfig(doc, Config{})
}

func EncodeWithConfig(doc *ir.Document, cfg Config) ([]byte, error) {
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	enc := &encoder{doc: doc, log: log, handler: security.NoopHandler()}
	return enc.encode()
}

type encoder struct {
	doc     *ir.Document
	log     observability.Logger
	handler security.Handler

	renum   map[ir.Ref]int
	ordered []ir.Ref
	fileID  []byte
	encDict *ir.Dict
}

func (e *encoder) encode() ([]byte, error) {
	if _, err := e.doc.CatalogRef(); err != nil {
		return nil, err
	}
	e.collect()
	if err := e.setupEncryption(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	version := e.doc.Version
	if version == "" {
		version = "1.7"
	}
	fmt.Fprintf(&buf, "%%PDF-%s\n", version)
	// Binary marker comment so transfer tools treat the file as binary.
	buf.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	offsets := make([]int64, len(e.ordered)+2)
	for i, ref := range e.ordered {
		num := i + 1
		offsets[num] = int64(buf.Len())
		obj := e.doc.Objects[ref]
		fmt.Fprintf(&buf, "%d 0 obj\n", num)
		if err := e.serialize(&buf, obj, num); err != nil {
			return nil, fmt.Errorf("writer: object %d: %w", num, err)
		}
		buf.WriteString("\nendobj\n")
	}

	infoNum := 0
	if info := e.infoDict(); info != nil {
		infoNum = len(e.ordered) + 1
		offsets[infoNum] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", infoNum)
		if err := e.serialize(&buf, info, infoNum); err != nil {
			return nil, err
		}
		buf.WriteString("\nendobj\n")
	}
	encNum := 0
	if e.encDict != nil {
		encNum = len(e.ordered) + 1
		if infoNum > 0 {
			encNum++
		}
		if len(offsets) <= encNum {
			offsets = append(offsets, 0)
		}
		offsets[encNum] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", encNum)
		// The Encrypt dictionary itself is written in the clear.
		plain := &encoder{doc: e.doc, log: e.log, handler: security.NoopHandler(), renum: e.renum}
		if err := plain.serialize(&buf, e.encDict, encNum); err != nil {
			return nil, err
		}
		buf.WriteString("\nendobj\n")
	}

	size := len(e.ordered) + 1
	if infoNum > 0 {
		size++
	}
	if encNum > 0 {
		size++
	}
	xrefOffset := int64(buf.Len())
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}

	buf.WriteString("trailer\n")
	trailer := ir.NewDict()
	trailer.Set("Size", ir.Int(int64(size)))
	rootRef, _ := e.doc.CatalogRef()
	trailer.Set("Root", ir.Ref{Num: e.renum[rootRef]})
	if infoNum > 0 {
		trailer.Set("Info", ir.Ref{Num: infoNum})
	}
	if encNum > 0 {
		trailer.Set("Encrypt", ir.Ref{Num: encNum})
	}
	if len(e.fileID) > 0 {
		trailer.Set("ID", ir.NewArray(ir.String(e.fileID), ir.String(e.fileID)))
	}
	plain := &encoder{doc: e.doc, log: e.log, handler: security.NoopHandler(), renum: trailerRenum(e.renum, rootRef, infoNum, encNum)}
	if err := plain.serialize(&buf, trailer, 0); err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), nil
}

// trailerRenum maps the root ref through the main renumbering; Info and
// Encrypt refs in the trailer are already final numbers.
func trailerRenum(renum map[ir.Ref]int, rootRef ir.Ref, infoNum, encNum int) map[ir.Ref]int {
	out := map[ir.Ref]int{rootRef: renum[rootRef]}
	if infoNum > 0 {
		out[ir.Ref{Num: infoNum}] = infoNum
	}
	if encNum > 0 {
		out[ir.Ref{Num: encNum}] = encNum
	}
	return out
}

// collect walks the reference closure from the trailer and fixes the
// output order: reachable objects sorted by their old number.
func (e *encoder) collect() {
	seen := make(map[ir.Ref]bool)
	var stack []ir.Ref
	push := func(obj ir.Object) {
		walkRefs(obj, func(r ir.Ref) {
			if !seen[r] {
				seen[r] = true
				stack = append(stack, r)
			}
		})
	}
	for _, k := range e.doc.Trailer.Keys() {
		if k == "Info" || k == "Encrypt" {
			continue
		}
		v, _ := e.doc.Trailer.Get(k)
		push(v)
	}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		obj, ok := e.doc.Objects[ref]
		if !ok {
			continue
		}
		push(obj)
	}
	var refs []ir.Ref
	for ref := range seen {
		if _, ok := e.doc.Objects[ref]; ok {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	e.ordered = refs
	e.renum = make(map[ir.Ref]int, len(refs))
	for i, ref := range refs {
		e.renum[ref] = i + 1
	}
}

func (e *encoder) setupEncryption() error {
	state := e.doc.Encrypt
	if state == nil {
		return nil
	}
	fileID := state.FileID
	if len(fileID) == 0 {
		fileID = security.NewFileID()
	}
	e.fileID = fileID
	encDict, _, err := security.BuildStandardEncryption(security.Options{
		Algorithm:     state.Algorithm,
		UserPassword:  state.UserPassword,
		OwnerPassword: state.OwnerPassword,
		Permissions:   state.Permissions,
		FileID:        fileID,
	})
	if err != nil {
		return err
	}
	handler, err := security.NewHandlerBuilder().
		WithEncryptDict(encDict).
		WithFileID(fileID).
		Build()
	if err != nil {
		return err
	}
	if err := handler.Authenticate(state.UserPassword); err != nil {
		return err
	}
	e.encDict = encDict
	e.handler = handler
	return nil
}

// infoDict builds the information dictionary from document metadata.
func (e *encoder) infoDict() *ir.Dict {
	meta := e.doc.Info
	dict := ir.NewDict()
	set := func(key ir.Name, val string) {
		if val != "" {
			dict.Set(key, ir.String(ir.EncodeTextString(val)))
		}
	}
	set("Title", meta.Title)
	set("Author", meta.Author)
	set("Subject", meta.Subject)
	set("Keywords", meta.Keywords)
	set("Creator", meta.Creator)
	set("Producer", meta.Producer)
	if !meta.Created.IsZero() {
		dict.Set("CreationDate", ir.String(ir.FormatDate(meta.Created)))
	}
	if !meta.Modified.IsZero() {
		dict.Set("ModDate", ir.String(ir.FormatDate(meta.Modified)))
	}
	if dict.Len() == 0 {
		return nil
	}
	return dict
}

func (e *encoder) serialize(buf *bytes.Buffer, obj ir.Object, objNum int) error {
	switch v := obj.(type) {
	case nil, ir.Null:
		buf.WriteString("null")
	case ir.Bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case ir.Number:
		if v.IsInt {
			buf.WriteString(strconv.FormatInt(v.I, 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v.F, 'f', -1, 64))
		}
	case ir.Name:
		writeName(buf, string(v))
	case ir.String:
		data := []byte(v)
		if e.handler.IsEncrypted() && objNum > 0 {
			enc, err := e.handler.Encrypt(objNum, 0, data, security.DataClassString)
			if err != nil {
				return err
			}
			data = enc
		}
		writeString(buf, data)
	case ir.Ref:
		num, ok := e.renum[v]
		if !ok {
			// Dangling reference in a damaged source; null keeps the
			// output well formed.
			buf.WriteString("null")
			return nil
		}
		fmt.Fprintf(buf, "%d 0 R", num)
	case *ir.Array:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(' ')
			}
			if err := e.serialize(buf, item, objNum); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *ir.Dict:
		return e.serializeDict(buf, v, objNum)
	case *ir.Stream:
		payload := v.Raw
		if e.handler.IsEncrypted() && objNum > 0 {
			enc, err := e.handler.Encrypt(objNum, 0, payload, security.DataClassStream)
			if err != nil {
				return err
			}
			payload = enc
		}
		dict := cloneShallow(v.Dict)
		dict.Set("Length", ir.Int(int64(len(payload))))
		if err := e.serializeDict(buf, dict, objNum); err != nil {
			return err
		}
		buf.WriteString("\nstream\n")
		buf.Write(payload)
		buf.WriteString("\nendstream")
	default:
		return fmt.Errorf("unsupported object type %T", obj)
	}
	return nil
}

func (e *encoder) serializeDict(buf *bytes.Buffer, dict *ir.Dict, objNum int) error {
	buf.WriteString("<<")
	for _, k := range dict.Keys() {
		buf.WriteByte(' ')
		writeName(buf, string(k))
		buf.WriteByte(' ')
		v, _ := dict.Get(k)
		if err := e.serialize(buf, v, objNum); err != nil {
			return err
		}
	}
	buf.WriteString(" >>")
	return nil
}

func cloneShallow(d *ir.Dict) *ir.Dict {
	out := ir.NewDict()
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		out.Set(k, v)
	}
	return out
}

// writeName emits a name with #-escapes for delimiters, whitespace and
// non-ASCII bytes.
func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7F || c == '#' || isDelimiterByte(c) {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func isDelimiterByte(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// writeString picks literal form for mostly-printable data and hex form
// otherwise.
func writeString(buf *bytes.Buffer, data []byte) {
	printable := 0
	for _, c := range data {
		if c >= 0x20 && c < 0x7F {
			printable++
		}
	}
	if len(data) > 0 && printable*4 < len(data)*3 {
		buf.WriteByte('<')
		const digits = "0123456789ABCDEF"
		for _, c := range data {
			buf.WriteByte(digits[c>>4])
			buf.WriteByte(digits[c&0xF])
		}
		buf.WriteByte('>')
		return
	}
	buf.WriteByte('(')
	for _, c := range data {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 || c >= 0x7F {
				fmt.Fprintf(buf, `\%03o`, c)
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte(')')
}

func walkRefs(obj ir.Object, fn func(ir.Ref)) {
	switch v := obj.(type) {
	case ir.Ref:
		fn(v)
	case *ir.Array:
		for _, item := range v.Items {
			walkRefs(item, fn)
		}
	case *ir.Dict:
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			walkRefs(item, fn)
		}
	case *ir.Stream:
		walkRefs(v.Dict, fn)
	}
}
