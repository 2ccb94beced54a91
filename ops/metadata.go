package ops

import (
	"context"
	"time"

	"pdfbatch/ir"
)

// MetadataEdit sets document information fields. Only parameters the
// caller supplies change; a supplied empty string clears the field.
type MetadataEdit struct{}

func (MetadataEdit) Kind() Kind { return KindMetadataEdit }

func (MetadataEdit) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "title", Type: FieldString},
		{Name: "author", Type: FieldString},
		{Name: "subject", Type: FieldString},
		{Name: "keywords", Type: FieldString},
		{Name: "creator", Type: FieldString},
		{Name: "producer", Type: FieldString},
	}}
}

func (MetadataEdit) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		apply := func(key string, dst *string) {
			if v, ok := p[key]; ok {
				*dst, _ = v.(string)
			}
		}
		apply("title", &doc.Info.Title)
		apply("author", &doc.Info.Author)
		apply("subject", &doc.Info.Subject)
		apply("keywords", &doc.Info.Keywords)
		apply("creator", &doc.Info.Creator)
		apply("producer", &doc.Info.Producer)
		doc.Info.Modified = time.Now()
	}
	return &Result{Docs: docs}, nil
}
