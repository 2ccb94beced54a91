package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pdfbatch/ops"
	"pdfbatch/writer"
)

// writeOutputs encodes result documents and artifacts into the output
// directory under collision-safe names derived from the job.
func (p *Processor) writeOutputs(spec Spec, res *ops.Result) ([]string, error) {
	stem := spec.Name
	if stem == "" {
		base := filepath.Base(spec.Inputs[0])
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}

	var outputs []string
	for i, doc := range res.Docs {
		data, err := writer.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("encode output %d: %w", i+1, err)
		}
		name := fmt.Sprintf("%s-%s.pdf", stem, spec.Kind)
		if len(res.Docs) > 1 {
			name = fmt.Sprintf("%s-%s-%02d.pdf", stem, spec.Kind, i+1)
		}
		path, err := p.writeFile(name, data, spec.Overwrite)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, path)
	}
	for _, a := range res.Artifacts {
		path, err := p.writeFile(stem+"-"+a.Name, a.Data, spec.Overwrite)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, path)
	}
	return outputs, nil
}

// writeFile writes the payload to a temp file in the output directory
// and renames it into place so readers never see a half-written file.
// Without overwrite the name is claimed collision-free first; with it
// the rename replaces whatever sits at the target.
func (p *Processor) writeFile(name string, data []byte, overwrite bool) (string, error) {
	target := filepath.Join(p.cfg.OutputDir, name)
	if !overwrite {
		var err error
		if target, err = p.claimPath(name); err != nil {
			return "", err
		}
	}
	tmp, err := os.CreateTemp(p.cfg.OutputDir, ".pdfbatch-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return target, nil
}

// claimPath reserves a free file name. The placeholder is created with
// O_EXCL so two concurrent jobs cannot pick the same name; the payload
// is renamed over it once fully written.
func (p *Processor) claimPath(name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, i+1, ext)
		}
		target := filepath.Join(p.cfg.OutputDir, candidate)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return target, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
}
