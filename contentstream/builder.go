package contentstream

import (
	"bytes"
	"math"
	"strconv"

	"pdfbatch/ir"
)

// Builder assembles a content stream fragment operator by operator.
// Methods chain; Bytes returns the accumulated stream.
type Builder struct {
	buf bytes.Buffer
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

func (b *Builder) op(name string, args ...float64) *Builder {
	for _, a := range args {
		b.buf.WriteString(fmtNum(a))
		b.buf.WriteByte(' ')
	}
	b.buf.WriteString(name)
	b.buf.WriteByte('\n')
	return b
}

func (b *Builder) Save() *Builder    { return b.op("q") }
func (b *Builder) Restore() *Builder { return b.op("Q") }

func (b *Builder) Concat(m Matrix) *Builder {
	return b.op("cm", m[0], m[1], m[2], m[3], m[4], m[5])
}

func (b *Builder) BeginText() *Builder { return b.op("BT") }
func (b *Builder) EndText() *Builder   { return b.op("ET") }

func (b *Builder) SetFont(name ir.Name, size float64) *Builder {
	b.writeName(name)
	return b.op("Tf", size)
}

// SetRenderMode sets the Tr text rendering mode; 3 draws nothing and is
// what OCR text layers use.
func (b *Builder) SetRenderMode(mode int) *Builder {
	return b.op("Tr", float64(mode))
}

func (b *Builder) SetTextMatrix(m Matrix) *Builder {
	return b.op("Tm", m[0], m[1], m[2], m[3], m[4], m[5])
}

func (b *Builder) MoveText(tx, ty float64) *Builder { return b.op("Td", tx, ty) }

// ShowText draws s with a Tj. Runes beyond Latin-1 are replaced; simple
// fonts address at most 256 glyphs.
func (b *Builder) ShowText(s string) *Builder {
	b.buf.WriteByte('(')
	for _, r := range s {
		c := byte('?')
		if r <= 0xFF {
			c = byte(r)
		}
		switch c {
		case '(', ')', '\\':
			b.buf.WriteByte('\\')
			b.buf.WriteByte(c)
		case '\n':
			b.buf.WriteString(`\n`)
		case '\r':
			b.buf.WriteString(`\r`)
		default:
			b.buf.WriteByte(c)
		}
	}
	b.buf.WriteString(") Tj\n")
	return b
}

func (b *Builder) SetFillGray(g float64) *Builder { return b.op("g", g) }

func (b *Builder) SetFillRGB(r, g, bl float64) *Builder { return b.op("rg", r, g, bl) }

func (b *Builder) SetLineWidth(w float64) *Builder { return b.op("w", w) }

func (b *Builder) Rect(x, y, w, h float64) *Builder { return b.op("re", x, y, w, h) }

func (b *Builder) Fill() *Builder   { return b.op("f") }
func (b *Builder) Stroke() *Builder { return b.op("S") }

// DrawXObject paints the named image or form XObject.
func (b *Builder) DrawXObject(name ir.Name) *Builder {
	b.writeName(name)
	return b.op("Do")
}

// ApplyExtGState selects a named graphics state, used for watermark
// transparency.
func (b *Builder) ApplyExtGState(name ir.Name) *Builder {
	b.writeName(name)
	return b.op("gs")
}

func (b *Builder) writeName(name ir.Name) {
	b.buf.WriteByte('/')
	b.buf.WriteString(string(name))
	b.buf.WriteByte(' ')
}

func fmtNum(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e9 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = string(bytes.TrimRight([]byte(s), "0"))
	return string(bytes.TrimRight([]byte(s), "."))
}
