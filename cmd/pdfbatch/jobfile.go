package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdfbatch/batch"
	"pdfbatch/ops"
)

// jobEntry is one job-file record.
type jobEntry struct {
	Op        string         `json:"op"`
	Inputs    []string       `json:"inputs"`
	Params    map[string]any `json:"params"`
	Password  string         `json:"password"`
	OCR       bool           `json:"ocr"`
	Name      string         `json:"name"`
	Overwrite bool           `json:"overwrite"`
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <jobs.json>",
		Short: "Run a batch of jobs from a file",
		Long: `The job file is a JSON array of jobs:

  [{"op": "rotate", "inputs": ["a.pdf"], "params": {"angle": 90}},
   {"op": "merge", "inputs": ["a.pdf", "b.pdf"], "name": "combined"}]

Byte-valued parameters reference files: {"image": {"$file": "logo.png"}}.
All jobs run concurrently; a failing job never affects the others.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := loadJobFile(args[0])
			if err != nil {
				return err
			}
			return a.runAll(cmd, specs)
		},
	}
}

func loadJobFile(path string) ([]batch.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	var entries []jobEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	specs := make([]batch.Spec, 0, len(entries))
	for i, e := range entries {
		params := make(ops.Params, len(e.Params))
		for k, v := range e.Params {
			nv, err := normalizeParam(v)
			if err != nil {
				return nil, fmt.Errorf("job %d, parameter %q: %w", i+1, k, err)
			}
			params[k] = nv
		}
		specs = append(specs, batch.Spec{
			Kind:      ops.Kind(e.Op),
			Inputs:    e.Inputs,
			Params:    params,
			Password:  e.Password,
			OCR:       e.OCR,
			Name:      e.Name,
			Overwrite: e.Overwrite,
		})
	}
	return specs, nil
}

// normalizeParam maps JSON values onto the types the operation schemas
// expect: whole numbers become ints and {"$file": path} objects are
// read as bytes.
func normalizeParam(v any) (any, error) {
	switch val := v.(type) {
	case float64:
		if val == float64(int(val)) {
			return int(val), nil
		}
		return val, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			ni, err := normalizeParam(item)
			if err != nil {
				return nil, err
			}
			out[i] = ni
		}
		return out, nil
	case map[string]any:
		ref, ok := val["$file"].(string)
		if !ok || len(val) != 1 {
			return nil, fmt.Errorf("objects must be {\"$file\": path}")
		}
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, err
		}
		return data, nil
	default:
		return v, nil
	}
}
