package ops

import (
	"context"
	"fmt"

	"pdfbatch/ir"
)

// Rotate adds a rotation to the selected pages. The angle must be a
// multiple of 90; it combines with whatever rotation the page already
// carries, so four quarter turns are an identity.
type Rotate struct{}

func (Rotate) Kind() Kind { return KindRotate }

func (Rotate) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "angle", Type: FieldInt, Required: true},
		{Name: "pages", Type: FieldString, Default: "all"},
	}}
}

func (Rotate) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	angle := p.Int("angle")
	if angle%90 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAngle, angle)
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
			page.SetRotate(page.Rotate() + angle)
		}
	}
	return &Result{Docs: docs}, nil
}
