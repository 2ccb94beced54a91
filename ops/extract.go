package ops

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"pdfbatch/contentstream"
	"pdfbatch/ir"
)

// ExtractText pulls the drawn text out of every page and returns it as
// one plain-text artifact per document, pages separated by form feeds.
type ExtractText struct{}

func (ExtractText) Kind() Kind { return KindExtractText }

func (ExtractText) Schema() Schema { return Schema{} }

func (ExtractText) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	res := &Result{}
	for d, doc := range docs {
		pages, err := doc.Pages()
		if err != nil {
			return nil, err
		}
		var parts []string
		for i, page := range pages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			content, err := page.Content()
			if err != nil {
				res.warnf("document %d page %d: %v", d+1, i+1, err)
				parts = append(parts, "")
				continue
			}
			ops, err := contentstream.Parse(content)
			if err != nil {
				res.warnf("document %d page %d: %v", d+1, i+1, err)
			}
			parts = append(parts, contentstream.ExtractText(ops))
		}
		res.Artifacts = append(res.Artifacts, Artifact{
			Name: fmt.Sprintf("text-%d.txt", d+1),
			Data: []byte(strings.Join(parts, "\f")),
		})
	}
	return res, nil
}

// ExtractImages exports every image XObject reachable from a page.
// JPEGs come out as stored; other decodable images are re-encoded as
// PNG. Codecs the engine cannot decode produce a warning, not a
// failure.
type ExtractImages struct{}

func (ExtractImages) Kind() Kind { return KindExtractImages }

func (ExtractImages) Schema() Schema { return Schema{} }

func (ExtractImages) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	res := &Result{}
	for d, doc := range docs {
		pages, err := doc.Pages()
		if err != nil {
			return nil, err
		}
		seen := make(map[ir.Ref]bool)
		for pi, page := range pages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
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
				if ref, isRef := v.(ir.Ref); isRef {
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
				name := fmt.Sprintf("doc%d-page%d-%s", d+1, pi+1, key)
				art, warn := exportImage(doc, stream, name)
				if warn != "" {
					res.warnf("%s: %s", name, warn)
					continue
				}
				res.Artifacts = append(res.Artifacts, art)
			}
		}
	}
	return res, nil
}

func exportImage(doc *ir.Document, stream *ir.Stream, name string) (Artifact, string) {
	filter := primaryFilter(stream.Dict)
	if filter == "DCTDecode" {
		return Artifact{Name: name + ".jpg", Data: stream.Raw}, ""
	}
	img, warn := decodeImage(doc, stream, filter)
	if img == nil {
		return Artifact{}, warn
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Artifact{}, fmt.Sprintf("png encode: %v", err)
	}
	return Artifact{Name: name + ".png", Data: buf.Bytes()}, ""
}
