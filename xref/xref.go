// Package xref locates and parses cross-reference information: the
// classic table chain reached from startxref, and a full-file repair
// scan for documents whose tables are damaged or missing.
package xref

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"pdfbatch/ir"
	"pdfbatch/scanner"
)

var (
	ErrNoStartXRef = errors.New("xref: startxref not found")
	ErrNoTable     = errors.New("xref: table not found at offset")
)

type entry struct {
	offset int64
	gen    int
}

// Table maps object numbers to byte offsets and carries the merged
// trailer dictionary of the section chain.
type Table struct {
	entries map[int]entry
	Trailer *ir.Dict
}

func (t *Table) Lookup(objNum int) (offset int64, gen int, found bool) {
	e, ok := t.entries[objNum]
	if !ok {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for n := range t.entries {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (t *Table) Len() int { return len(t.entries) }

// FindStartXRef returns the offset recorded by the last startxref
// keyword in data.
func FindStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoStartXRef
	}
	rest := data[idx+len("startxref"):]
	lines := bufio.NewScanner(bytes.NewReader(rest))
	for lines.Scan() {
		text := strings.TrimSpace(lines.Text())
		if text == "" {
			continue
		}
		val, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("xref: parse startxref: %w", err)
		}
		return val, nil
	}
	return 0, ErrNoStartXRef
}

// Resolve reads the classic table chain starting at the last startxref
// offset, following /Prev links. Entries from newer sections shadow
// older ones; the trailer keeps the newest value of each key.
func Resolve(r io.ReaderAt) (*Table, error) {
	data := ReadAll(r)
	offset, err := FindStartXRef(data)
	if err != nil {
		return nil, err
	}
	t := &Table{entries: make(map[int]entry), Trailer: ir.NewDict()}
	visited := make(map[int64]bool)
	for offset > 0 {
		if visited[offset] {
			return nil, errors.New("xref: /Prev chain loops")
		}
		visited[offset] = true
		if offset >= int64(len(data)) {
			return nil, fmt.Errorf("xref: offset %d beyond end of file", offset)
		}
		trailer, err := t.parseSection(data, offset)
		if err != nil {
			return nil, err
		}
		for _, k := range trailer.Keys() {
			if _, have := t.Trailer.Get(k); !have {
				v, _ := trailer.Get(k)
				t.Trailer.Set(k, v)
			}
		}
		prev, ok := trailer.Int("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	return t, nil
}

// parseSection parses one "xref ... trailer <<...>>" section at offset
// and returns its trailer. Existing entries are not overwritten so the
// newest definition of each object wins across the chain.
func (t *Table) parseSection(data []byte, offset int64) (*ir.Dict, error) {
	s := scanner.NewBytes(data, scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil || tok.Type != scanner.TokenKeyword || tok.Str != "xref" {
		return nil, fmt.Errorf("%w: offset %d", ErrNoTable, offset)
	}
	for {
		tok, err = s.Next()
		if err != nil {
			return nil, fmt.Errorf("xref: section at %d truncated: %w", offset, err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			break
		}
		if tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, fmt.Errorf("xref: unexpected token in section at %d", offset)
		}
		start := int(tok.Int)
		countTok, err := s.Next()
		if err != nil || countTok.Type != scanner.TokenNumber || !countTok.IsInt {
			return nil, errors.New("xref: malformed subsection header")
		}
		count := int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err := s.Next()
			if err != nil || !offTok.IsInt {
				return nil, errors.New("xref: malformed entry offset")
			}
			genTok, err := s.Next()
			if err != nil || !genTok.IsInt {
				return nil, errors.New("xref: malformed entry generation")
			}
			kindTok, err := s.Next()
			if err != nil || kindTok.Type != scanner.TokenKeyword {
				return nil, errors.New("xref: malformed entry type")
			}
			objNum := start + i
			if kindTok.Str != "n" {
				continue
			}
			if _, have := t.entries[objNum]; !have {
				t.entries[objNum] = entry{offset: offTok.Int, gen: int(genTok.Int)}
			}
		}
	}
	trailer, err := parseTrailerDict(s)
	if err != nil {
		return nil, fmt.Errorf("xref: trailer at %d: %w", offset, err)
	}
	return trailer, nil
}

// parseTrailerDict reads one dictionary from the token stream. This is a
// deliberately small structural parser; the full document parser has its
// own and cannot be used here without an import cycle.
func parseTrailerDict(s *scanner.Scanner) (*ir.Dict, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenDictOpen {
		return nil, errors.New("expected dictionary")
	}
	return parseDictBody(s, 0)
}

func parseDictBody(s *scanner.Scanner, depth int) (*ir.Dict, error) {
	if depth > 32 {
		return nil, errors.New("dictionary nesting too deep")
	}
	dict := ir.NewDict()
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenDictClose {
			return dict, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, errors.New("expected name key")
		}
		val, err := parseValue(s, depth)
		if err != nil {
			return nil, err
		}
		dict.Set(ir.Name(tok.Str), val)
	}
}

func parseValue(s *scanner.Scanner, depth int) (ir.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return tokenValue(s, tok, depth)
}

func tokenValue(s *scanner.Scanner, tok scanner.Token, depth int) (ir.Object, error) {
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
		return parseDictBody(s, depth+1)
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
			v, err := tokenValue(s, t, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Append(v)
		}
	}
	return nil, fmt.Errorf("unexpected token type %d in trailer", tok.Type)
}

// ReadAll drains a ReaderAt into memory.
func ReadAll(r io.ReaderAt) []byte {
	if br, ok := r.(*bytes.Reader); ok {
		out := make([]byte, br.Size())
		if n, err := br.ReadAt(out, 0); err == nil || errors.Is(err, io.EOF) {
			return out[:n]
		}
	}
	var buf bytes.Buffer
	const chunk = int64(64 * 1024)
	for off := int64(0); ; off += chunk {
		tmp := make([]byte, chunk)
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
