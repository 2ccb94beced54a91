package ops

import (
	"context"
	"fmt"
	"strings"

	"pdfbatch/ir"
)

// Split cuts one document into several. Either "ranges" names the output
// documents as semicolon-separated page selectors ("1-3;4-6"), or
// "every" groups fixed-size runs of pages. With neither set, every page
// becomes its own document.
type Split struct{}

func (Split) Kind() Kind { return KindSplit }

func (Split) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "ranges", Type: FieldString, Default: ""},
		{Name: "every", Type: FieldInt, Default: 0},
	}}
}

func (Split) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	src := docs[0]
	count, err := src.PageCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrEmptyInput)
	}

	groups, err := splitGroups(p, count)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i, idxs := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := ir.NewDocument()
		if _, err := ir.ImportPages(out, src, idxs); err != nil {
			return nil, fmt.Errorf("split part %d: %w", i+1, err)
		}
		out.Info = src.Info
		res.Docs = append(res.Docs, out)
	}
	return res, nil
}

func splitGroups(p Params, count int) ([][]int, error) {
	if ranges := p.String("ranges"); ranges != "" {
		var groups [][]int
		seen := make(map[int]bool, count)
		for _, sel := range strings.Split(ranges, ";") {
			idxs, err := parsePageSelector(sel, count)
			if err != nil {
				return nil, err
			}
			// Each page belongs to at most one output document.
			for _, idx := range idxs {
				if seen[idx] {
					return nil, fmt.Errorf("%w: page %d appears in more than one range",
						ErrInvalidRange, idx+1)
				}
				seen[idx] = true
			}
			groups = append(groups, idxs)
		}
		return groups, nil
	}
	every := p.Int("every")
	if every <= 0 {
		every = 1
	}
	var groups [][]int
	for start := 0; start < count; start += every {
		end := start + every
		if end > count {
			end = count
		}
		idxs := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			idxs = append(idxs, i)
		}
		groups = append(groups, idxs)
	}
	return groups, nil
}
