package ops

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"pdfbatch/contentstream"
	"pdfbatch/filters"
	"pdfbatch/ir"
)

// AddImage draws a PNG or JPEG onto a page. JPEG bytes are embedded as
// they are (DCTDecode); PNGs are decoded to raw samples and deflated,
// with the alpha channel carried as a soft mask.
type AddImage struct{}

func (AddImage) Kind() Kind { return KindAddImage }

func (AddImage) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "image", Type: FieldBytes, Required: true},
		{Name: "page", Type: FieldInt, Default: 1},
		{Name: "x", Type: FieldFloat, Default: 72.0},
		{Name: "y", Type: FieldFloat, Default: 72.0},
		{Name: "width", Type: FieldFloat, Default: 0.0},
		{Name: "height", Type: FieldFloat, Default: 0.0},
	}}
}

func (AddImage) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	doc := docs[0]
	page, err := doc.Page(p.Int("page") - 1)
	if err != nil {
		return nil, err
	}
	imgRef, pxW, pxH, err := embedImage(doc, p.Bytes("image"))
	if err != nil {
		return nil, err
	}

	res, err := page.OwnResources()
	if err != nil {
		return nil, err
	}
	xobjs, err := resolveOrCreate(doc, res, "XObject")
	if err != nil {
		return nil, err
	}
	key := freeResourceKey(xobjs, "pbIm")
	xobjs.Set(key, imgRef)

	w := p.Float("width")
	h := p.Float("height")
	if w <= 0 {
		w = float64(pxW)
	}
	if h <= 0 {
		h = float64(pxH) * w / float64(pxW)
	}
	frag := contentstream.NewBuilder().
		Save().
		Concat(contentstream.Matrix{w, 0, 0, h, p.Float("x"), p.Float("y")}).
		DrawXObject(key).
		Restore().
		Bytes()
	if err := page.AppendContent(frag); err != nil {
		return nil, err
	}
	return &Result{Docs: []*ir.Document{doc}}, nil
}

func freeResourceKey(dict *ir.Dict, prefix string) ir.Name {
	for i := 0; ; i++ {
		key := ir.Name(fmt.Sprintf("%s%d", prefix, i))
		if _, taken := dict.Get(key); !taken {
			return key
		}
	}
}

// embedImage stores data as an image XObject and returns its reference
// plus pixel dimensions.
func embedImage(doc *ir.Document, data []byte) (ir.Ref, int, int, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ir.Ref{}, 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}
	switch format {
	case "jpeg":
		return embedJPEG(doc, data)
	case "png":
		return embedPNG(doc, data)
	}
	return ir.Ref{}, 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedImageFormat, format)
}

func embedJPEG(doc *ir.Document, data []byte) (ir.Ref, int, int, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ir.Ref{}, 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}
	cs := ir.Name("DeviceRGB")
	switch cfg.ColorModel {
	case color.GrayModel, color.Gray16Model:
		cs = "DeviceGray"
	case color.CMYKModel:
		cs = "DeviceCMYK"
	}
	dict := imageDict(cfg.Width, cfg.Height, cs)
	stream := &ir.Stream{Dict: dict, Raw: data}
	dict.Set("Filter", ir.Name("DCTDecode"))
	dict.Set("Length", ir.Int(int64(len(data))))
	return doc.Put(stream), cfg.Width, cfg.Height, nil
}

func embedPNG(doc *ir.Document, data []byte) (ir.Ref, int, int, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return ir.Ref{}, 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	opaque := true
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			rgb = append(rgb, byte(r>>8), byte(g>>8), byte(b>>8))
			alpha = append(alpha, byte(a>>8))
			if a != 0xFFFF {
				opaque = false
			}
		}
	}

	packed, err := filters.FlateEncode(rgb)
	if err != nil {
		return ir.Ref{}, 0, 0, err
	}
	dict := imageDict(w, h, "DeviceRGB")
	stream := &ir.Stream{Dict: dict, Raw: packed}
	dict.Set("Filter", ir.Name("FlateDecode"))
	dict.Set("Length", ir.Int(int64(len(packed))))

	if !opaque {
		packedA, err := filters.FlateEncode(alpha)
		if err != nil {
			return ir.Ref{}, 0, 0, err
		}
		maskDict := imageDict(w, h, "DeviceGray")
		mask := &ir.Stream{Dict: maskDict, Raw: packedA}
		maskDict.Set("Filter", ir.Name("FlateDecode"))
		maskDict.Set("Length", ir.Int(int64(len(packedA))))
		dict.Set("SMask", doc.Put(mask))
	}
	return doc.Put(stream), w, h, nil
}

func imageDict(w, h int, cs ir.Name) *ir.Dict {
	dict := ir.NewDict()
	dict.Set("Type", ir.Name("XObject"))
	dict.Set("Subtype", ir.Name("Image"))
	dict.Set("Width", ir.Int(int64(w)))
	dict.Set("Height", ir.Int(int64(h)))
	dict.Set("ColorSpace", cs)
	dict.Set("BitsPerComponent", ir.Int(8))
	return dict
}
