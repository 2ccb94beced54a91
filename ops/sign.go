package ops

import (
	"context"
	"errors"
	"fmt"

	"pdfbatch/ir"
	"pdfbatch/security"
	"pdfbatch/writer"
)

// Sign encodes each document and appends a byte-range signature. Key
// material comes either from a PKCS#12 keystore or from PEM key +
// certificate parameters. Signed files are byte-level outputs, so they
// surface as artifacts rather than documents.
type Sign struct{}

func (Sign) Kind() Kind { return KindSign }

func (Sign) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "keystore", Type: FieldBytes},
		{Name: "keystore-password", Type: FieldString, Default: ""},
		{Name: "key-pem", Type: FieldBytes},
		{Name: "cert-pem", Type: FieldBytes},
		{Name: "reason", Type: FieldString, Default: ""},
		{Name: "location", Type: FieldString, Default: ""},
		{Name: "contact", Type: FieldString, Default: ""},
	}}
}

func (Sign) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	if err := requireDocs(docs, 1); err != nil {
		return nil, err
	}
	signer, err := loadSigner(p)
	if err != nil {
		return nil, err
	}
	cfg := writer.SignConfig{
		Reason:   p.String("reason"),
		Location: p.String("location"),
		Contact:  p.String("contact"),
	}
	res := &Result{}
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := writer.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i+1, err)
		}
		signed, err := writer.Sign(data, signer, cfg)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i+1, err)
		}
		res.Artifacts = append(res.Artifacts, Artifact{
			Name: fmt.Sprintf("signed-%d.pdf", i+1),
			Data: signed,
		})
	}
	return res, nil
}

func loadSigner(p Params) (security.Signer, error) {
	if keystore := p.Bytes("keystore"); len(keystore) > 0 {
		return security.LoadPKCS12(keystore, p.String("keystore-password"))
	}
	keyPEM, certPEM := p.Bytes("key-pem"), p.Bytes("cert-pem")
	if len(keyPEM) > 0 && len(certPEM) > 0 {
		return security.LoadPEM(keyPEM, certPEM)
	}
	return nil, fmt.Errorf("%w: sign needs a keystore or key-pem + cert-pem", ErrBadParam)
}

// Verify checks the last byte-range signature of an encoded file. It is
// pure: nothing is modified and the outcome is a small report artifact.
// An unsigned file is a valid outcome, reported as such; a signature
// that fails its digest is an error.
type Verify struct{}

func (Verify) Kind() Kind { return KindVerify }

func (Verify) Schema() Schema {
	return Schema{Fields: []Field{
		{Name: "source", Type: FieldBytes, Required: true},
	}}
}

func (Verify) Apply(ctx context.Context, docs []*ir.Document, p Params) (*Result, error) {
	vr, err := writer.Verify(p.Bytes("source"))
	if errors.Is(err, writer.ErrNotSigned) {
		return &Result{Artifacts: []Artifact{{
			Name: "verify.txt",
			Data: []byte("status: no-signature\n"),
		}}}, nil
	}
	if err != nil {
		return nil, err
	}
	report := fmt.Sprintf("status: valid\nsigner: %s\nsigned-at: %s\ncovers-whole-file: %t\n",
		vr.SignerName, vr.SignedAt.Format("2006-01-02 15:04:05 MST"), vr.CoversWholeFile)
	return &Result{Artifacts: []Artifact{{Name: "verify.txt", Data: []byte(report)}}}, nil
}
