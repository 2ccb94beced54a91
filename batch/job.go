// Package batch runs document operations over many files with isolated
// per-job failure handling. Jobs go through a bounded worker pool; OCR
// passes are gated by a second, smaller pool so recognition-heavy work
// cannot starve structural jobs. Outputs are written to a temp file in
// the destination directory and renamed into place.
package batch

import (
	"errors"
	"fmt"
	"time"

	"pdfbatch/ops"
)

// State is a job's lifecycle position. A job moves Pending to Running
// exactly once and then to a single terminal state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

var (
	ErrUnknownJob = errors.New("batch: unknown job")
	ErrClosed     = errors.New("batch: processor closed")
)

// Spec describes one unit of work: an operation applied to input files.
type Spec struct {
	Kind   ops.Kind
	Inputs []string
	Params ops.Params
	// Password decrypts protected inputs.
	Password string
	// OCR requests a recognition pass over the operation's output
	// documents.
	OCR bool
	// Name overrides the output file stem; empty derives it from the
	// first input.
	Name string
	// Overwrite replaces existing output files instead of picking a
	// suffixed free name.
	Overwrite bool
}

// Status is a point-in-time snapshot of a job.
type Status struct {
	ID       string
	State    State
	Err      string
	Outputs  []string
	Warnings []string
	Created  time.Time
	Started  time.Time
	Finished time.Time
}

// job is the mutable record behind a handle. Fields past spec are
// guarded by the processor mutex.
type job struct {
	id       string
	spec     Spec
	state    State
	err      string
	outputs  []string
	warnings []string
	created  time.Time
	started  time.Time
	finished time.Time
}

func (j *job) snapshot() Status {
	return Status{
		ID:       j.id,
		State:    j.state,
		Err:      j.err,
		Outputs:  append([]string(nil), j.outputs...),
		Warnings: append([]string(nil), j.warnings...),
		Created:  j.created,
		Started:  j.started,
		Finished: j.finished,
	}
}

func (j *job) fail(err error) {
	j.state = StateFailed
	j.err = err.Error()
	j.finished = time.Now()
}

func (j *job) succeed(outputs []string, warnings []string) {
	j.state = StateSucceeded
	j.outputs = outputs
	j.warnings = warnings
	j.finished = time.Now()
}

func (j *job) String() string {
	return fmt.Sprintf("job %s (%s)", j.id, j.spec.Kind)
}
