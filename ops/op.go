// Package ops implements the document operations: structural transforms
// over ir.Document values plus the byte-level operations (sign, verify,
// repair) that work on encoded files. Every operation sits behind the
// same capability interface and declares a parameter schema, so the
// batch layer and the CLI can drive any of them uniformly.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pdfbatch/ir"
	"pdfbatch/observability"
)

// Kind names an operation.
type Kind string

const (
	KindMerge         Kind = "merge"
	KindSplit         Kind = "split"
	KindRotate        Kind = "rotate"
	KindReorder       Kind = "reorder"
	KindCompress      Kind = "compress"
	KindEncrypt       Kind = "encrypt"
	KindDecrypt       Kind = "decrypt"
	KindSign          Kind = "sign"
	KindVerify        Kind = "verify"
	KindWatermark     Kind = "watermark"
	KindAddText       Kind = "add-text"
	KindAddImage      Kind = "add-image"
	KindPaginate      Kind = "paginate"
	KindExtractText   Kind = "extract-text"
	KindExtractImages Kind = "extract-images"
	KindMetadataEdit  Kind = "metadata-edit"
	KindRepair        Kind = "repair"
)

var (
	ErrEmptyInput             = errors.New("ops: no input documents")
	ErrInvalidRange           = errors.New("ops: invalid page range")
	ErrInvalidPermutation     = errors.New("ops: invalid page permutation")
	ErrInvalidAngle           = errors.New("ops: rotation angle must be a multiple of 90")
	ErrUnsupportedImageFormat = errors.New("ops: unsupported image format")
	ErrUnknownKind            = errors.New("ops: unknown operation")
	ErrBadParam               = errors.New("ops: bad parameter")
)

// Artifact is a non-document output: extracted text, extracted images,
// signed bytes, a verification report.
type Artifact struct {
	Name string
	Data []byte
}

// Result carries everything an operation produced.
type Result struct {
	Docs      []*ir.Document
	Artifacts []Artifact
	Warnings  []string
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Operation is the capability every document operation implements.
// Apply must not retain the input documents; callers own them.
type Operation interface {
	Kind() Kind
	Schema() Schema
	Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error)
}

// Registry maps kinds to operations.
type Registry struct {
	byKind map[Kind]Operation
	log    observability.Logger
}

func NewRegistry(log observability.Logger) *Registry {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Registry{byKind: make(map[Kind]Operation), log: log}
}

func (r *Registry) Register(op Operation) {
	r.byKind[op.Kind()] = op
}

func (r *Registry) Get(kind Kind) (Operation, error) {
	op, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return op, nil
}

// Kinds lists the registered operation names in stable order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run validates p against the operation's schema and applies it.
func (r *Registry) Run(ctx context.Context, kind Kind, docs []*ir.Document, p Params) (*Result, error) {
	op, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	merged, err := op.Schema().Resolve(p)
	if err != nil {
		return nil, err
	}
	r.log.Debug("applying operation", observability.String("op", string(kind)),
		observability.Int("docs", len(docs)))
	return op.Apply(ctx, docs, merged)
}

// Default builds a registry with every operation registered.
func Default(log observability.Logger) *Registry {
	r := NewRegistry(log)
	for _, op := range []Operation{
		Merge{}, Split{}, Rotate{}, Reorder{}, Compress{},
		Encrypt{}, Decrypt{}, Sign{}, Verify{},
		Watermark{}, AddText{}, AddImage{}, Paginate{},
		ExtractText{}, ExtractImages{}, MetadataEdit{}, Repair{},
	} {
		r.Register(op)
	}
	return r
}

func requireDocs(docs []*ir.Document, atLeast int) error {
	if len(docs) < atLeast {
		return fmt.Errorf("%w: need %d, have %d", ErrEmptyInput, atLeast, len(docs))
	}
	for _, d := range docs {
		if d == nil {
			return fmt.Errorf("%w: nil document", ErrEmptyInput)
		}
	}
	return nil
}
