package ops

import (
	"context"
	"fmt"

	"pdfbatch/ir"
)

// Merge concatenates the pages of every input document, in input order,
// into one output document.
type Merge struct{}

func (Merge) Kind() Kind { return KindMerge }

func (Merge) Schema() Schema { return Schema{} }

func (Merge) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	out := ir.NewDocument()
	for i, src := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		count, err := src.PageCount()
		if err != nil {
			return nil, fmt.Errorf("merge input %d: %w", i, err)
		}
		all := make([]int, count)
		for j := range all {
			all[j] = j
		}
		if _, err := ir.ImportPages(out, src, all); err != nil {
			return nil, fmt.Errorf("merge input %d: %w", i, err)
		}
	}
	out.Info = docs[0].Info
	return &Result{Docs: []*ir.Document{out}}, nil
}
