package contentstream

import (
	"strings"

	"pdfbatch/ir"
)

// kernSpaceThreshold is the TJ displacement (thousandths of an em,
// negated) treated as an inter-word gap.
const kernSpaceThreshold = 180

// ExtractText reconstructs drawn text in operator order. Strings are
// decoded as PDF text strings, which covers simple Latin-1 fonts and
// UTF-16BE; CID-keyed composite fonts come out approximate. Line-move
// operators become newlines.
func ExtractText(ops []Operation) string {
	var b strings.Builder
	lineOpen := false

	newline := func() {
		if lineOpen {
			b.WriteByte('\n')
			lineOpen = false
		}
	}
	show := func(s ir.String) {
		text := ir.DecodeTextString([]byte(s))
		if text != "" {
			b.WriteString(text)
			lineOpen = true
		}
	}

	for _, op := range ops {
		switch op.Operator {
		case "Td", "TD", "T*", "Tm", "BT", "ET":
			newline()
		case "Tj":
			if s, ok := lastString(op); ok {
				show(s)
			}
		case "'", `"`:
			newline()
			if s, ok := lastString(op); ok {
				show(s)
			}
		case "TJ":
			if len(op.Operands) == 0 {
				continue
			}
			arr, ok := op.Operands[len(op.Operands)-1].(*ir.Array)
			if !ok {
				continue
			}
			for _, item := range arr.Items {
				switch v := item.(type) {
				case ir.String:
					show(v)
				case ir.Number:
					if v.Float() < -kernSpaceThreshold && lineOpen {
						b.WriteByte(' ')
					}
				}
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastString(op Operation) (ir.String, bool) {
	if len(op.Operands) == 0 {
		return nil, false
	}
	s, ok := op.Operands[len(op.Operands)-1].(ir.String)
	return s, ok
}
