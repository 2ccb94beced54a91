package ops

import (
	"context"
	"fmt"

	"pdfbatch/ir"
	"pdfbatch/security"
)

// Encrypt marks the documents for standard-handler encryption on write.
// The actual key derivation happens in the writer; this operation only
// validates and records the requested state.
type Encrypt struct{}

func (Encrypt) Kind() Kind { return KindEncrypt }

func (Encrypt) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "user-password", Type: FieldString, Default: ""},
		{Name: "owner-password", Type: FieldString, Default: ""},
		{Name: "algorithm", Type: FieldString, Default: "aes-128"},
		{Name: "permissions", Type: FieldInt, Default: 0},
	}}
}

func (Encrypt) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	algo := p.String("algorithm")
	switch algo {
	case "rc4-40", "rc4-128", "aes-128":
	case "aes-256":
		return nil, fmt.Errorf("%w: aes-256 is read-only", security.ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: algorithm %q", ErrBadParam, algo)
	}
	user := p.String("user-password")
	owner := p.String("owner-password")
	if user == "" && owner == "" {
		return nil, fmt.Errorf("%w: a user or owner password is required", ErrBadParam)
	}
	for _, doc := range docs {
		doc.Encrypt = &ir.EncryptionState{
			Algorithm:     algo,
			UserPassword:  user,
			OwnerPassword: owner,
			Permissions:   int32(p.Int("permissions")),
		}
	}
	return &Result{Docs: docs}, nil
}

// Decrypt drops the encryption state so the documents write out as
// plaintext. Password verification already happened at parse time; a
// wrong password never reaches this point.
type Decrypt struct{}

func (Decrypt) Kind() Kind { return KindDecrypt }

func (Decrypt) Schema() Schema { return Schema{} }

func (Decrypt) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	res := &Result{Docs: docs}
	for i, doc := range docs {
		if doc.Encrypt == nil {
			res.warnf("input %d was not encrypted", i)
			continue
		}
		doc.Encrypt = nil
	}
	return res, nil
}
