package ocr

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"pdfbatch/contentstream"
	"pdfbatch/ir"
	pdfops "pdfbatch/ops"
)

// maxRasterPixels caps the canvas so a malformed media box cannot ask
// for gigabytes.
const maxRasterPixels = 64 << 20

// rasterize composites the page's image XObjects onto a white canvas
// sized from the media box at dpi, following the q/Q/cm graphics state
// so images land where the content stream paints them. It returns nil
// when the page paints no decodable image.
func rasterize(doc *ir.Document, page *ir.Page, cmds []contentstream.Operation, dpi int) *image.NRGBA {
	box := page.MediaBox()
	scale := float64(dpi) / 72.0
	w := int(math.Ceil(box.Width() * scale))
	h := int(math.Ceil(box.Height() * scale))
	if w <= 0 || h <= 0 || w*h > maxRasterPixels {
		return nil
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	xobjects := pageXObjects(doc, page)
	ctm := contentstream.Identity()
	var stack []contentstream.Matrix
	drawn := false

	for _, cmd := range cmds {
		switch cmd.Operator {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if n := len(stack); n > 0 {
				ctm = stack[n-1]
				stack = stack[:n-1]
			}
		case "cm":
			if m, ok := operandMatrix(cmd.Operands); ok {
				ctm = m.Mul(ctm)
			}
		case "Do":
			if len(cmd.Operands) != 1 {
				continue
			}
			name, ok := cmd.Operands[0].(ir.Name)
			if !ok || xobjects == nil {
				continue
			}
			if compositeImage(doc, canvas, xobjects, name, ctm, box, scale) {
				drawn = true
			}
		}
	}
	if !drawn {
		return nil
	}
	return canvas
}

func pageXObjects(doc *ir.Document, page *ir.Page) *ir.Dict {
	res, err := page.Resources()
	if err != nil {
		return nil
	}
	v, ok := res.Get("XObject")
	if !ok {
		return nil
	}
	dict, err := doc.ResolveDict(v)
	if err != nil {
		return nil
	}
	return dict
}

// compositeImage draws the named image XObject into the pixel rectangle
// the current transform maps the unit square to.
func compositeImage(doc *ir.Document, canvas *image.NRGBA, xobjects *ir.Dict, name ir.Name, ctm contentstream.Matrix, box ir.Rect, scale float64) bool {
	v, ok := xobjects.Get(name)
	if !ok {
		return false
	}
	stream, err := doc.ResolveStream(v)
	if err != nil {
		return false
	}
	if sub, _ := stream.Dict.Name("Subtype"); sub != "Image" {
		return false
	}
	img, err := pdfops.DecodeImage(doc, stream)
	if err != nil {
		return false
	}

	// Map the unit square's corners through the transform, then into
	// pixels with the vertical axis flipped.
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := ctm.Apply(c[0], c[1])
		px := (x - box.LLX) * scale
		py := (box.URY - y) * scale
		minX = math.Min(minX, px)
		minY = math.Min(minY, py)
		maxX = math.Max(maxX, px)
		maxY = math.Max(maxY, py)
	}
	dst := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)),
		int(math.Ceil(maxX)), int(math.Ceil(maxY))).
		Intersect(canvas.Bounds())
	if dst.Empty() {
		return false
	}
	draw.CatmullRom.Scale(canvas, dst, img, img.Bounds(), draw.Over, nil)
	return true
}

func operandMatrix(operands []ir.Object) (contentstream.Matrix, bool) {
	var m contentstream.Matrix
	if len(operands) != 6 {
		return m, false
	}
	for i, o := range operands {
		n, ok := o.(ir.Number)
		if !ok {
			return m, false
		}
		m[i] = n.Float()
	}
	return m, true
}
