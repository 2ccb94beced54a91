// Package contentstream parses page content into operator/operand runs
// and assembles new content fragments. Tokenization rides on the scanner
// package, so strings containing spaces, parentheses or binary bytes
// survive intact.
package contentstream

import (
	"errors"
	"fmt"
	"io"

	"pdfbatch/ir"
	"pdfbatch/recovery"
	"pdfbatch/scanner"
)

// Operation is one content operator together with the operands that
// preceded it. Inline images surface as operator "EI": the BI dict
// entries arrive as operands and the raw sample data is appended as the
// final String operand.
type Operation struct {
	Operator string
	Operands []ir.Object
}

// Parse splits content into operations. Damaged constructs are patched
// over rather than failing the page; content from broken generators is
// common and a page should still count and extract what it can.
func Parse(content []byte) ([]Operation, error) {
	s := scanner.NewBytes(content, scanner.Config{Recovery: recovery.NewLenient()})
	var (
		ops   []Operation
		stack []ir.Object
	)
	for {
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ops, fmt.Errorf("contentstream: %w", err)
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			ops = append(ops, Operation{Operator: tok.Str, Operands: stack})
			stack = nil
		case scanner.TokenInlineImage:
			stack = append(stack, ir.String(tok.Bytes))
			ops = append(ops, Operation{Operator: "EI", Operands: stack})
			stack = nil
		case scanner.TokenDictClose, scanner.TokenArrayClose:
			// Stray closer, drop it.
		default:
			obj, err := operand(s, tok, 0)
			if err != nil {
				return ops, fmt.Errorf("contentstream: %w", err)
			}
			stack = append(stack, obj)
		}
	}
	return ops, nil
}

func operand(s *scanner.Scanner, tok scanner.Token, depth int) (ir.Object, error) {
	if depth > 32 {
		return nil, errors.New("operand nesting too deep")
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
				return nil, fmt.Errorf("dict key is %v, not a name", t.Type)
			}
			vt, err := s.Next()
			if err != nil {
				return nil, err
			}
			val, err := operand(s, vt, depth+1)
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
			val, err := operand(s, t, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Append(val)
		}
	}
	return nil, fmt.Errorf("token %v cannot be an operand", tok.Type)
}

// textShowing reports whether op draws glyphs.
func textShowing(op string) bool {
	switch op {
	case "Tj", "TJ", "'", `"`:
		return true
	}
	return false
}

// CountTextOps returns how many operators in ops draw text. Pages below
// a small count are rasterized scans as far as OCR is concerned.
func CountTextOps(ops []Operation) int {
	n := 0
	for _, op := range ops {
		if textShowing(op.Operator) {
			n++
		}
	}
	return n
}
