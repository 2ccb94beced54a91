package ops

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pdfbatch/contentstream"
	"pdfbatch/ir"
)

// Resource keys injected by drawing operations. Prefixed to stay clear
// of names the document already uses.
const (
	overlayFontKey  ir.Name = "pbF1"
	overlayStateKey ir.Name = "pbGS0"
)

// ensureOverlayFont registers a Helvetica Type1 font on the page's own
// resource dictionary and returns its key.
func ensureOverlayFont(page *ir.Page) (ir.Name, error) {
	res, err := page.OwnResources()
	if err != nil {
		return "", err
	}
	fonts, err := resolveOrCreate(page.Doc(), res, "Font")
	if err != nil {
		return "", err
	}
	if _, ok := fonts.Get(overlayFontKey); !ok {
		font := ir.NewDict()
		font.Set("Type", ir.Name("Font"))
		font.Set("Subtype", ir.Name("Type1"))
		font.Set("BaseFont", ir.Name("Helvetica"))
		fonts.Set(overlayFontKey, font)
	}
	return overlayFontKey, nil
}

// ensureOverlayState registers an ExtGState carrying the fill/stroke
// alpha used by translucent watermarks.
func ensureOverlayState(page *ir.Page, opacity float64) (ir.Name, error) {
	res, err := page.OwnResources()
	if err != nil {
		return "", err
	}
	states, err := resolveOrCreate(page.Doc(), res, "ExtGState")
	if err != nil {
		return "", err
	}
	gs := ir.NewDict()
	gs.Set("Type", ir.Name("ExtGState"))
	gs.Set("ca", ir.Real(opacity))
	gs.Set("CA", ir.Real(opacity))
	states.Set(overlayStateKey, gs)
	return overlayStateKey, nil
}

func resolveOrCreate(doc *ir.Document, res *ir.Dict, key ir.Name) (*ir.Dict, error) {
	if v, ok := res.Get(key); ok {
		return doc.ResolveDict(v)
	}
	d := ir.NewDict()
	res.Set(key, d)
	return d, nil
}

// estTextWidth approximates the width of s in Helvetica at the given
// size; half an em per glyph is close enough for centering.
func estTextWidth(s string, size float64) float64 {
	return 0.5 * size * float64(len(s))
}

// Watermark stamps translucent diagonal text across the selected pages,
// under the existing content by default so it never obscures it.
type Watermark struct{}

func (Watermark) Kind() Kind { return KindWatermark }

func (Watermark) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "text", Type: FieldString, Required: true},
		{Name: "layer", Type: FieldString, Default: "under"},
		{Name: "opacity", Type: FieldFloat, Default: 0.3},
		{Name: "size", Type: FieldFloat, Default: 48.0},
		{Name: "angle", Type: FieldFloat, Default: 45.0},
		{Name: "pages", Type: FieldString, Default: "all"},
	}}
}

func (Watermark) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	layer := p.String("layer")
	if layer != "under" && layer != "over" {
		return nil, fmt.Errorf("%w: layer %q", ErrBadParam, layer)
	}
	text := p.String("text")
	size := p.Float("size")
	for _, doc := range docs {
		count, err := doc.PageCount()
		if err != nil {
			return nil, err
		}
		idxs, err := parsePageSelector(p.String("pages"), count)
		if err != nil {
			return nil, err
		}
		for _, i := range idxs {
			page, err := doc.Page(i)
			if err != nil {
				return nil, err
			}
			fontKey, err := ensureOverlayFont(page)
			if err != nil {
				return nil, err
			}
			stateKey, err := ensureOverlayState(page, p.Float("opacity"))
			if err != nil {
				return nil, err
			}
			box := page.MediaBox()
			tm := contentstream.Rotation(p.Float("angle")).
				Mul(contentstream.Translate(box.LLX+box.Width()/2, box.LLY+box.Height()/2))
			frag := contentstream.NewBuilder().
				Save().
				ApplyExtGState(stateKey).
				SetFillGray(0.5).
				BeginText().
				SetFont(fontKey, size).
				SetTextMatrix(tm).
				MoveText(-estTextWidth(text, size)/2, -size/2).
				ShowText(text).
				EndText().
				Restore().
				Bytes()
			if layer == "under" {
				err = page.PrependContent(frag)
			} else {
				err = page.AppendContent(frag)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return &Result{Docs: docs}, nil
}

// AddText draws a text line at a fixed position on the selected pages,
// over the existing content.
type AddText struct{}

func (AddText) Kind() Kind { return KindAddText }

func (AddText) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "text", Type: FieldString, Required: true},
		{Name: "x", Type: FieldFloat, Default: 72.0},
		{Name: "y", Type: FieldFloat, Default: 720.0},
		{Name: "size", Type: FieldFloat, Default: 12.0},
		{Name: "gray", Type: FieldFloat, Default: 0.0},
		{Name: "pages", Type: FieldString, Default: "all"},
	}}
}

func (AddText) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		count, err := doc.PageCount()
		if err != nil {
			return nil, err
		}
		idxs, err := parsePageSelector(p.String("pages"), count)
		if err != nil {
			return nil, err
		}
		for _, i := range idxs {
			page, err := doc.Page(i)
			if err != nil {
				return nil, err
			}
			fontKey, err := ensureOverlayFont(page)
			if err != nil {
				return nil, err
			}
			frag := contentstream.NewBuilder().
				Save().
				SetFillGray(p.Float("gray")).
				BeginText().
				SetFont(fontKey, p.Float("size")).
				MoveText(p.Float("x"), p.Float("y")).
				ShowText(p.String("text")).
				EndText().
				Restore().
				Bytes()
			if err := page.AppendContent(frag); err != nil {
				return nil, err
			}
		}
	}
	return &Result{Docs: docs}, nil
}

// Paginate writes a page number at the bottom center of every page. The
// format string may use {page} and {pages} placeholders.
type Paginate struct{}

func (Paginate) Kind() Kind { return KindPaginate }

func (Paginate) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "format", Type: FieldString, Default: "{page}"},
		{Name: "size", Type: FieldFloat, Default: 10.0},
		{Name: "margin", Type: FieldFloat, Default: 30.0},
	}}
}

func (Paginate) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	size := p.Float("size")
	for _, doc := range docs {
		pages, err := doc.Pages()
		if err != nil {
			return nil, err
		}
		total := strconv.Itoa(len(pages))
		for i, page := range pages {
			label := strings.NewReplacer(
				"{page}", strconv.Itoa(i+1),
				"{pages}", total,
			).Replace(p.String("format"))
			fontKey, err := ensureOverlayFont(page)
			if err != nil {
				return nil, err
			}
			box := page.MediaBox()
			x := box.LLX + box.Width()/2 - estTextWidth(label, size)/2
			frag := contentstream.NewBuilder().
				Save().
				SetFillGray(0).
				BeginText().
				SetFont(fontKey, size).
				MoveText(x, box.LLY+p.Float("margin")).
				ShowText(label).
				EndText().
				Restore().
				Bytes()
			if err := page.AppendContent(frag); err != nil {
				return nil, err
			}
		}
	}
	return &Result{Docs: docs}, nil
}
