package ops

import (
	"context"

	"pdfbatch/ir"
	"pdfbatch/parser"
)

// Repair re-parses a file with the xref rebuilt from a full scan,
// regardless of what the file's own table claims, and hands back the
// reconstructed document. Files where the scan finds no page at all are
// unrecoverable.
type Repair struct{}

func (Repair) Kind() Kind { return KindRepair }

func (Repair) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "source", Type: FieldBytes, Required: true},
		{Name: "password", Type: FieldString, Default: ""},
	}}
}

func (Repair) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	res, err := parser.Parse(p.Bytes("source"), parser.Config{
		Password:    p.String("password"),
		ForceRepair: true,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Docs:     []*ir.Document{res.Doc},
		Warnings: res.Notes,
	}, nil
}
