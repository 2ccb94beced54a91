package ops

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"

	"pdfbatch/filters"
	"pdfbatch/ir"
)

// qualityTier maps a named quality to a pixel-density cap and a JPEG
// re-encode quality. Medium matches the 150 DPI default the batch
// defaults carry.
type qualityTier struct {
	maxPPI float64
	jpegQ  int
}

var qualityTiers = map[string]qualityTier{
	"low":    {maxPPI: 72, jpegQ: 40},
	"medium": {maxPPI: 150, jpegQ: 60},
	"high":   {maxPPI: 300, jpegQ: 80},
}

// Compress shrinks documents by downsampling and JPEG-re-encoding raster
// images and by deflating uncompressed streams. Page count, page
// dimensions and text are never touched; images in codecs the engine
// cannot decode are left as they are with a warning.
type Compress struct{}

func (Compress) Kind() Kind { return KindCompress }

func (Compress) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "quality", Type: FieldString, Default: "medium"},
	}}
}

func (Compress) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	tier, ok := qualityTiers[p.String("quality")]
	if !ok {
		return nil, fmt.Errorf("%w: quality %q", ErrBadParam, p.String("quality"))
	}
	res := &Result{Docs: docs}
	for _, doc := range docs {
		if err := compressDoc(ctx, doc, tier, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func compressDoc(ctx context.Context, doc *ir.Document, tier qualityTier, res *Result) error {
	pages, err := doc.Pages()
	if err != nil {
		return err
	}
	seen := make(map[ir.Ref]bool)
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		box := page.MediaBox()
		// An image cannot usefully hold more pixels than the page area
		// it is painted into at the tier's density.
		maxW := tier.maxPPI * box.Width() / 72.0
		maxH := tier.maxPPI * box.Height() / 72.0

		resources, err := page.Resources()
		if err != nil {
			continue
		}
		xobjs, ok := resources.Get("XObject")
		if !ok {
			continue
		}
		dict, err := doc.ResolveDict(xobjs)
		if err != nil {
			continue
		}
		for _, key := range dict.Keys() {
			v, _ := dict.Get(key)
			ref, isRef := v.(ir.Ref)
			if isRef {
				if seen[ref] {
					continue
				}
				seen[ref] = true
			}
			stream, err := doc.ResolveStream(v)
			if err != nil {
				continue
			}
			if sub, _ := stream.Dict.Name("Subtype"); sub != "Image" {
				continue
			}
			if warn := recompressImage(doc, stream, maxW, maxH, tier.jpegQ); warn != "" {
				res.warnf("image %s: %s", key, warn)
			}
		}
	}
	deflatePlainStreams(doc)
	return nil
}

// recompressImage re-encodes one image XObject in place. A non-empty
// return is a warning; the image stays untouched.
func recompressImage(doc *ir.Document, stream *ir.Stream, maxW, maxH float64, quality int) string {
	if _, hasMask := stream.Dict.Get("SMask"); hasMask {
		return "has a soft mask, left untouched"
	}
	if masked, _ := stream.Dict.Bool("ImageMask"); masked {
		return "is an image mask, left untouched"
	}
	filter := primaryFilter(stream.Dict)
	switch filter {
	case "JPXDecode", "CCITTFaxDecode", "JBIG2Decode":
		return fmt.Sprintf("codec %s not re-encoded", filter)
	}

	img, warn := decodeImage(doc, stream, filter)
	if img == nil {
		return warn
	}

	bounds := img.Bounds()
	needsResize := maxW > 0 && maxH > 0 &&
		(float64(bounds.Dx()) > maxW*1.2 || float64(bounds.Dy()) > maxH*1.2)
	if filter == "DCTDecode" && !needsResize {
		return ""
	}
	if needsResize {
		scale := math.Min(maxW/float64(bounds.Dx()), maxH/float64(bounds.Dy()))
		tw := int(math.Max(1, float64(bounds.Dx())*scale))
		th := int(math.Max(1, float64(bounds.Dy())*scale))
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Sprintf("jpeg encode failed: %v", err)
	}
	if !needsResize && buf.Len() >= len(stream.Raw) {
		return ""
	}

	stream.SetRawFiltered(buf.Bytes(), "DCTDecode")
	stream.Dict.Set("Width", ir.Int(int64(img.Bounds().Dx())))
	stream.Dict.Set("Height", ir.Int(int64(img.Bounds().Dy())))
	stream.Dict.Set("BitsPerComponent", ir.Int(8))
	if isGray(img) {
		stream.Dict.Set("ColorSpace", ir.Name("DeviceGray"))
	} else {
		stream.Dict.Set("ColorSpace", ir.Name("DeviceRGB"))
	}
	return ""
}

// DecodeImage turns an image XObject into an image.Image. The OCR
// rasterizer uses it to composite page scans.
func DecodeImage(doc *ir.Document, stream *ir.Stream) (image.Image, error) {
	img, warn := decodeImage(doc, stream, primaryFilter(stream.Dict))
	if img == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImageFormat, warn)
	}
	return img, nil
}

// decodeImage turns an image XObject into an image.Image, or explains
// why it cannot.
func decodeImage(doc *ir.Document, stream *ir.Stream, filter string) (image.Image, string) {
	if filter == "DCTDecode" {
		img, err := jpeg.Decode(bytes.NewReader(stream.Raw))
		if err != nil {
			return nil, fmt.Sprintf("broken JPEG: %v", err)
		}
		return img, ""
	}

	data, err := stream.Data()
	if err != nil {
		return nil, fmt.Sprintf("decode failed: %v", err)
	}
	width, err1 := doc.ResolveInt(stream.Dict, "Width")
	height, err2 := doc.ResolveInt(stream.Dict, "Height")
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return nil, "missing dimensions"
	}
	bpc, _ := stream.Dict.Int("BitsPerComponent")
	if bpc == 0 {
		bpc = 8
	}
	if bpc != 8 {
		return nil, fmt.Sprintf("%d bits per component not supported", bpc)
	}
	cs, _ := stream.Dict.Name("ColorSpace")
	w, h := int(width), int(height)
	switch cs {
	case "DeviceGray":
		if len(data) < w*h {
			return nil, "truncated samples"
		}
		return &image.Gray{Pix: data, Stride: w, Rect: image.Rect(0, 0, w, h)}, ""
	case "DeviceRGB":
		if len(data) < w*h*3 {
			return nil, "truncated samples"
		}
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		i := 0
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				o := (y*w + x) * 4
				img.Pix[o] = data[i]
				img.Pix[o+1] = data[i+1]
				img.Pix[o+2] = data[i+2]
				img.Pix[o+3] = 255
				i += 3
			}
		}
		return img, ""
	case "DeviceCMYK":
		if len(data) < w*h*4 {
			return nil, "truncated samples"
		}
		img := image.NewCMYK(image.Rect(0, 0, w, h))
		copy(img.Pix, data)
		return img, ""
	}
	return nil, fmt.Sprintf("color space %q not supported", cs)
}

func isGray(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

// primaryFilter returns the single or last filter name; the last entry
// in a chain is the innermost codec.
func primaryFilter(dict *ir.Dict) string {
	v, ok := dict.Get("Filter")
	if !ok {
		return ""
	}
	switch f := v.(type) {
	case ir.Name:
		return string(f)
	case *ir.Array:
		if f.Len() > 0 {
			if n, ok := f.At(f.Len() - 1).(ir.Name); ok {
				return string(n)
			}
		}
	}
	return ""
}

// deflatePlainStreams flate-compresses unfiltered streams above a small
// size floor. Content streams written by the drawing operations are the
// usual beneficiaries.
func deflatePlainStreams(doc *ir.Document) {
	for _, obj := range doc.Objects {
		stream, ok := obj.(*ir.Stream)
		if !ok {
			continue
		}
		if _, filtered := stream.Dict.Get("Filter"); filtered {
			continue
		}
		if len(stream.Raw) < 64 {
			continue
		}
		clear := stream.Raw
		packed, err := filters.FlateEncode(clear)
		if err != nil || len(packed) >= len(clear) {
			continue
		}
		stream.SetRawFiltered(packed, "FlateDecode")
		stream.SetDecodeFunc(func() ([]byte, error) { return clear, nil })
	}
}
