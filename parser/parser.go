// Package parser turns PDF bytes into an ir.Document: it resolves the
// cross-reference table, loads every indirect object, decrypts string
// and stream payloads in place, and arranges lazy filter decoding for
// stream data. Structurally damaged files go through a repair pass that
// rebuilds the table by scanning for object headers.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"

	"pdfbatch/filters"
	"pdfbatch/ir"
	"pdfbatch/observability"
	"pdfbatch/scanner"
	"pdfbatch/security"
	"pdfbatch/xref"
)

var (
	// ErrMalformed marks structural damage the strict pass could not
	// handle; the caller may retry through Repair-backed parsing.
	ErrMalformed = errors.New("parser: malformed document")

	// ErrUnrecoverable means even the repair scan could not produce a
	// usable document.
	ErrUnrecoverable = errors.New("parser: unrecoverable document")
)

type Config struct {
	// Password authenticates encrypted documents; empty tries the blank
	// user password.
	Password string
	Logger   observability.Logger
	Limits   filters.Limits
	// ForceRepair skips the strict path and rebuilds the xref table by
	// scanning, even when the file's own table looks healthy.
	ForceRepair bool
}

// Result is a parsed document plus how it got parsed.
type Result struct {
	Doc      *ir.Document
	Repaired bool
	// Notes lists what the repair pass had to patch over.
	Notes []string
}

var versionRe = regexp.MustCompile(`%PDF-(\d\.\d)`)

// Parse decodes data into a document. The strict path uses the xref
// table as written; if that fails structurally, the repair scan runs
// once before giving up.
func Parse(data []byte, cfg Config) (*Result, error) {
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	version := "1.4"
	if m := versionRe.FindSubmatch(data[:min(len(data), 1024)]); m != nil {
		version = string(m[1])
	}

	var strictErr error
	if cfg.ForceRepair {
		strictErr = errors.New("repair requested")
	} else if table, err := xref.Resolve(bytes.NewReader(data)); err != nil {
		strictErr = err
		log.Warn("xref resolve failed, attempting repair",
			observability.Error("error", err))
	} else {
		doc, buildErr := buildDocument(data, table, cfg, false, log)
		if buildErr == nil {
			doc.Version = version
			return &Result{Doc: doc}, nil
		}
		if errors.Is(buildErr, security.ErrWrongPassword) || errors.Is(buildErr, security.ErrUnsupported) {
			return nil, buildErr
		}
		strictErr = buildErr
		log.Warn("strict parse failed, attempting repair",
			observability.Error("error", buildErr))
	}

	table, notes, err := xref.Repair(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v (strict: %v)", ErrUnrecoverable, err, strictErr)
	}
	doc, err := buildDocument(data, table, cfg, true, log)
	if err != nil {
		if errors.Is(err, security.ErrWrongPassword) || errors.Is(err, security.ErrUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v (strict: %v)", ErrUnrecoverable, err, strictErr)
	}
	doc.Version = version
	notes = append(notes, fmt.Sprintf("xref rebuilt: %v", strictErr))
	return &Result{Doc: doc, Repaired: true, Notes: notes}, nil
}

type loader struct {
	data     []byte
	table    *xref.Table
	pipeline *filters.Pipeline
	handler  security.Handler
	lenient  bool
	log      observability.Logger

	encryptRef ir.Ref
}

func buildDocument(data []byte, table *xref.Table, cfg Config, lenient bool, log observability.Logger) (*ir.Document, error) {
	ld := &loader{
		data:     data,
		table:    table,
		pipeline: filters.NewPipeline(cfg.Limits),
		handler:  security.NoopHandler(),
		lenient:  lenient,
		log:      log,
	}
	trailer := table.Trailer
	if trailer == nil {
		return nil, fmt.Errorf("%w: no trailer", ErrMalformed)
	}

	var fileID []byte
	if idObj, ok := trailer.Get("ID"); ok {
		if arr, ok := idObj.(*ir.Array); ok && arr.Len() > 0 {
			if s, ok := arr.At(0).(ir.String); ok {
				fileID = []byte(s)
			}
		}
	}
	if encObj, ok := trailer.Get("Encrypt"); ok {
		encDict, err := ld.loadEncryptDict(encObj)
		if err != nil {
			return nil, err
		}
		handler, err := security.NewHandlerBuilder().
			WithEncryptDict(encDict).
			WithFileID(fileID).
			Build()
		if err != nil {
			return nil, err
		}
		if err := handler.Authenticate(cfg.Password); err != nil {
			return nil, err
		}
		ld.handler = handler
	}

	doc := &ir.Document{Objects: make(map[ir.Ref]ir.Object), Trailer: ir.NewDict()}
	for _, k := range trailer.Keys() {
		switch k {
		case "Encrypt", "Prev", "XRefStm", "Size":
			continue
		}
		v, _ := trailer.Get(k)
		doc.Trailer.Set(k, v)
	}

	for _, num := range table.Objects() {
		offset, gen, _ := table.Lookup(num)
		ref := ir.Ref{Num: num, Gen: gen}
		if ref == ld.encryptRef {
			continue
		}
		obj, err := ld.loadObject(num, gen, offset)
		if err != nil {
			if lenient {
				log.Warn("skipping unreadable object",
					observability.Int("obj", num), observability.Error("error", err))
				continue
			}
			return nil, fmt.Errorf("%w: object %d: %v", ErrMalformed, num, err)
		}
		doc.Set(ref, obj)
	}

	if ld.handler.IsEncrypted() {
		doc.Encrypt = &ir.EncryptionState{
			Algorithm:     ld.handler.Algorithm(),
			UserPassword:  cfg.Password,
			OwnerPassword: cfg.Password,
			Permissions:   ld.handler.PermissionsValue(),
			FileID:        fileID,
		}
	}
	if err := repairTrailerRoot(doc); err != nil {
		return nil, err
	}
	if _, err := doc.PageRefs(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	populateMetadata(doc)
	if ld.handler.IsEncrypted() {
		doc.Trailer.Delete("Encrypt")
	}
	return doc, nil
}

// repairTrailerRoot finds a catalog by scanning loaded objects when the
// trailer has no usable /Root. The repair path commonly lands here.
func repairTrailerRoot(doc *ir.Document) error {
	if _, err := doc.Catalog(); err == nil {
		return nil
	}
	for ref, obj := range doc.Objects {
		dict, ok := obj.(*ir.Dict)
		if !ok {
			continue
		}
		if typ, _ := dict.Name("Type"); typ == "Catalog" {
			doc.Trailer.Set("Root", ref)
			return nil
		}
	}
	return fmt.Errorf("%w: no document catalog", ErrMalformed)
}

func (ld *loader) newScanner() *scanner.Scanner {
	return scanner.NewBytes(ld.data, scanner.Config{})
}

// loadEncryptDict reads the Encrypt dictionary without decryption and
// remembers its reference so the object table skips it.
func (ld *loader) loadEncryptDict(obj ir.Object) (*ir.Dict, error) {
	switch v := obj.(type) {
	case *ir.Dict:
		return v, nil
	case ir.Ref:
		offset, gen, found := ld.table.Lookup(v.Num)
		if !found {
			return nil, fmt.Errorf("%w: Encrypt object missing", ErrMalformed)
		}
		ld.encryptRef = ir.Ref{Num: v.Num, Gen: gen}
		raw, err := ld.loadRawObject(v.Num, offset)
		if err != nil {
			return nil, err
		}
		dict, ok := raw.(*ir.Dict)
		if !ok {
			return nil, fmt.Errorf("%w: Encrypt is not a dictionary", ErrMalformed)
		}
		return dict, nil
	}
	return nil, fmt.Errorf("%w: bad Encrypt entry", ErrMalformed)
}

// loadObject reads, decrypts and wires up one indirect object.
func (ld *loader) loadObject(num, gen int, offset int64) (ir.Object, error) {
	obj, err := ld.loadRawObject(num, offset)
	if err != nil {
		return nil, err
	}
	if ld.handler.IsEncrypted() {
		if err := ld.decryptObject(obj, num, gen); err != nil {
			return nil, err
		}
	}
	ld.installDecoders(obj)
	return obj, nil
}

// loadRawObject parses the "N G obj ... endobj" at offset.
func (ld *loader) loadRawObject(num int, offset int64) (ir.Object, error) {
	s := ld.newScanner()
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	numTok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if numTok.Type != scanner.TokenNumber || !numTok.IsInt || int(numTok.Int) != num {
		return nil, fmt.Errorf("object header mismatch at offset %d", offset)
	}
	genTok, err := s.Next()
	if err != nil || genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		return nil, errors.New("bad object generation")
	}
	objTok, err := s.Next()
	if err != nil || objTok.Type != scanner.TokenKeyword || objTok.Str != "obj" {
		return nil, errors.New("missing obj keyword")
	}
	val, err := ld.parseValue(s, 0)
	if err != nil {
		return nil, err
	}
	if dict, ok := val.(*ir.Dict); ok {
		s.SetStreamLengthHint(ld.resolveLength(dict))
		tok, err := s.Next()
		if err == nil && tok.Type == scanner.TokenStream {
			return &ir.Stream{Dict: dict, Raw: tok.Bytes}, nil
		}
		s.SetStreamLengthHint(-1)
	}
	return val, nil
}

// resolveLength reads /Length, chasing one level of indirection through
// the table; -1 means unknown and lets the scanner find endstream.
func (ld *loader) resolveLength(dict *ir.Dict) int64 {
	v, ok := dict.Get("Length")
	if !ok {
		return -1
	}
	switch n := v.(type) {
	case ir.Number:
		return n.Int()
	case ir.Ref:
		offset, _, found := ld.table.Lookup(n.Num)
		if !found {
			return -1
		}
		obj, err := ld.loadRawObject(n.Num, offset)
		if err != nil {
			return -1
		}
		if num, ok := obj.(ir.Number); ok {
			return num.Int()
		}
	}
	return -1
}

func (ld *loader) parseValue(s *scanner.Scanner, depth int) (ir.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return ld.tokenValue(s, tok, depth)
}

func (ld *loader) tokenValue(s *scanner.Scanner, tok scanner.Token, depth int) (ir.Object, error) {
	if depth > 64 {
		return nil, errors.New("object nesting too deep")
	}
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return ir.Int(tok.Int), nil
		}
		return ir.Real(tok.Flt), nil
	case scanner.TokenBool:
		return ir.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return ir.Null{}, nil
	case scanner.TokenString:
		return ir.String(tok.Bytes), nil
	case scanner.TokenName:
		return ir.Name(tok.Str), nil
	case scanner.TokenRef:
		return ir.Ref{Num: tok.Num, Gen: tok.Gen}, nil
	case scanner.TokenDictOpen:
		dict := ir.NewDict()
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenDictClose {
				return dict, nil
			}
			if t.Type != scanner.TokenName {
				return nil, fmt.Errorf("dictionary key is %v, not a name", t.Type)
			}
			val, err := ld.parseValue(s, depth+1)
			if err != nil {
				return nil, err
			}
			dict.Set(ir.Name(t.Str), val)
		}
	case scanner.TokenArrayOpen:
		arr := ir.NewArray()
		for {
			t, err := s.Next()
			if err != nil {
				return nil, err
			}
			if t.Type == scanner.TokenArrayClose {
				return arr, nil
			}
			val, err := ld.tokenValue(s, t, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Append(val)
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok.Type)
}

// decryptObject decrypts strings and stream payloads in place.
func (ld *loader) decryptObject(obj ir.Object, num, gen int) error {
	switch v := obj.(type) {
	case *ir.Dict:
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			if s, ok := item.(ir.String); ok {
				clear, err := ld.handler.Decrypt(num, gen, []byte(s), security.DataClassString)
				if err != nil {
					return err
				}
				v.Set(k, ir.String(clear))
				continue
			}
			if err := ld.decryptObject(item, num, gen); err != nil {
				return err
			}
		}
	case *ir.Array:
		for i, item := range v.Items {
			if s, ok := item.(ir.String); ok {
				clear, err := ld.handler.Decrypt(num, gen, []byte(s), security.DataClassString)
				if err != nil {
					return err
				}
				v.Items[i] = ir.String(clear)
				continue
			}
			if err := ld.decryptObject(item, num, gen); err != nil {
				return err
			}
		}
	case *ir.Stream:
		if err := ld.decryptObject(v.Dict, num, gen); err != nil {
			return err
		}
		if typ, _ := v.Dict.Name("Type"); typ == "Metadata" && !ld.handler.EncryptMetadata() {
			return nil
		}
		clear, err := ld.handler.Decrypt(num, gen, v.Raw, security.DataClassStream)
		if err != nil {
			return err
		}
		v.Raw = clear
		v.Dict.Set("Length", ir.Int(int64(len(clear))))
	}
	return nil
}

// installDecoders hooks the filter pipeline into streams that carry
// filters so payloads decode on first access.
func (ld *loader) installDecoders(obj ir.Object) {
	stream, ok := obj.(*ir.Stream)
	if !ok {
		return
	}
	names, params := filterChain(stream.Dict)
	if len(names) == 0 {
		return
	}
	allPassthrough := true
	for _, n := range names {
		if !ld.pipeline.Passthrough(n) {
			allPassthrough = false
		}
	}
	if allPassthrough {
		return
	}
	pipeline := ld.pipeline
	raw := stream.Raw
	stream.SetDecodeFunc(func() ([]byte, error) {
		return pipeline.Decode(raw, names, params)
	})
}

// filterChain flattens /Filter and /DecodeParms into parallel slices.
func filterChain(dict *ir.Dict) ([]string, []filters.Params) {
	var names []string
	switch f := mustGet(dict, "Filter").(type) {
	case ir.Name:
		names = []string{string(f)}
	case *ir.Array:
		for _, item := range f.Items {
			if n, ok := item.(ir.Name); ok {
				names = append(names, string(n))
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	params := make([]filters.Params, len(names))
	switch p := mustGet(dict, "DecodeParms").(type) {
	case *ir.Dict:
		params[0] = decodeParams(p)
	case *ir.Array:
		for i := 0; i < p.Len() && i < len(params); i++ {
			if d, ok := p.At(i).(*ir.Dict); ok {
				params[i] = decodeParams(d)
			}
		}
	}
	return names, params
}

func decodeParams(d *ir.Dict) filters.Params {
	var p filters.Params
	if v, ok := d.Int("Predictor"); ok {
		p.Predictor = int(v)
	}
	if v, ok := d.Int("EarlyChange"); ok {
		p.EarlyChange = int(v)
	} else {
		p.EarlyChange = 1
	}
	return p
}

func mustGet(dict *ir.Dict, key ir.Name) ir.Object {
	v, ok := dict.Get(key)
	if !ok {
		return ir.Null{}
	}
	return v
}

// populateMetadata mirrors the /Info dictionary into Document.Info.
func populateMetadata(doc *ir.Document) {
	infoObj, ok := doc.Trailer.Get("Info")
	if !ok {
		return
	}
	info, err := doc.ResolveDict(infoObj)
	if err != nil {
		return
	}
	get := func(key ir.Name) string {
		if raw, ok := info.String(key); ok {
			return ir.DecodeTextString(raw)
		}
		return ""
	}
	doc.Info = ir.Metadata{
		Title:    get("Title"),
		Author:   get("Author"),
		Subject:  get("Subject"),
		Keywords: get("Keywords"),
		Creator:  get("Creator"),
		Producer: get("Producer"),
		Created:  ir.ParseDate(get("CreationDate")),
		Modified: ir.ParseDate(get("ModDate")),
	}
}
