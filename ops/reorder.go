package ops

import (
	"context"

	"pdfbatch/ir"
)

// Reorder rearranges pages by a 1-based permutation: order[i] names the
// source page that becomes output page i+1. Every page must appear
// exactly once.
type Reorder struct{}

func (Reorder) Kind() Kind { return KindReorder }

func (Reorder) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "order", Type: FieldIntList, Required: true},
	}}
}

func (Reorder) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	doc := docs[0]
	refs, err := doc.PageRefs()
	if err != nil {
		return nil, err
	}
	order := p.Ints("order")
	perm := make([]int, len(order))
	for i, v := range order {
		perm[i] = v - 1
	}
	if err := validatePermutation(perm, len(refs)); err != nil {
		return nil, err
	}
	reordered := make([]ir.Ref, len(refs))
	for i, src := range perm {
		reordered[i] = refs[src]
	}
	if err := doc.SetPageRefs(reordered); err != nil {
		return nil, err
	}
	return &Result{Docs: []*ir.Document{doc}}, nil
}
