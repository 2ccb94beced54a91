package batch

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"pdfbatch/ir"
	"pdfbatch/observability"
	"pdfbatch/ocr"
	"pdfbatch/ops"
	"pdfbatch/parser"
)

// Config tunes a Processor. Zero values mean GOMAXPROCS workers, half
// as many OCR slots, outputs in the working directory, and the full
// default operation registry.
type Config struct {
	Workers    int
	OCRWorkers int
	OutputDir  string
	Registry   *ops.Registry
	// Engine powers OCR passes; jobs requesting OCR fail with
	// ocr.ErrUnavailable when it is nil.
	Engine ocr.Engine
	OCR    ocr.Config
	Logger observability.Logger
}

// Processor owns a queue of jobs and the workers draining it. Each job
// holds exclusive ownership of its documents; a failing job never
// touches its siblings.
type Processor struct {
	cfg      Config
	log      observability.Logger
	registry *ops.Registry

	ctx    context.Context
	cancel context.CancelFunc

	queue   chan *job
	ocrSem  chan struct{}
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

func New(cfg Config) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.OCRWorkers <= 0 {
		cfg.OCRWorkers = (cfg.Workers + 1) / 2
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	if cfg.Registry == nil {
		cfg.Registry = ops.Default(log)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		cfg:      cfg,
		log:      log,
		registry: cfg.Registry,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan *job, 256),
		ocrSem:   make(chan struct{}, cfg.OCRWorkers),
		jobs:     make(map[string]*job),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues a job and returns its handle.
func (p *Processor) Submit(spec Spec) (string, error) {
	if _, err := p.registry.Get(spec.Kind); err != nil {
		return "", err
	}
	if len(spec.Inputs) == 0 {
		return "", fmt.Errorf("%w: job has no inputs", ops.ErrEmptyInput)
	}
	j := &job{
		id:      uuid.NewString(),
		spec:    spec,
		state:   StatePending,
		created: time.Now(),
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	p.jobs[j.id] = j
	p.pending.Add(1)
	p.mu.Unlock()

	p.queue <- j
	p.log.Debug("job queued", observability.String("job", j.id),
		observability.String("op", string(spec.Kind)))
	return j.id, nil
}

// Poll returns the job's current status.
func (p *Processor) Poll(id string) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return Status{}, ErrUnknownJob
	}
	return j.snapshot(), nil
}

// Jobs snapshots every known job.
func (p *Processor) Jobs() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Cancel drops a queued job. Running jobs are left to finish; canceling
// one is a no-op.
func (p *Processor) Cancel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if j.state == StatePending {
		j.state = StateCanceled
		j.finished = time.Now()
	}
	return nil
}

// Wait blocks until every submitted job has reached a terminal state.
func (p *Processor) Wait() { p.pending.Wait() }

// Close stops accepting jobs, waits for the workers to drain the queue,
// and releases the processor's context. Close must not race Submit;
// finish submitting before closing.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.queue)
	p.workers.Wait()
	p.cancel()
}

func (p *Processor) worker() {
	defer p.workers.Done()
	for j := range p.queue {
		p.run(j)
		p.pending.Done()
	}
}

func (p *Processor) run(j *job) {
	p.mu.Lock()
	if j.state != StatePending {
		p.mu.Unlock()
		return
	}
	j.state = StateRunning
	j.started = time.Now()
	p.mu.Unlock()

	outputs, warnings, err := p.executeGuarded(j.spec)

	p.mu.Lock()
	if err != nil {
		j.fail(err)
	} else {
		j.succeed(outputs, warnings)
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warn("job failed", observability.String("job", j.id),
			observability.String("op", string(j.spec.Kind)),
			observability.Error("err", err))
		return
	}
	p.log.Info("job finished", observability.String("job", j.id),
		observability.String("op", string(j.spec.Kind)),
		observability.Int("outputs", len(outputs)))
}

// executeGuarded converts a panicking operation into a failed job so a
// bad input file cannot take the worker down.
func (p *Processor) executeGuarded(spec Spec) (outputs, warnings []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return p.execute(spec)
}

func (p *Processor) execute(spec Spec) ([]string, []string, error) {
	var warnings []string

	params := ops.Params{}
	for k, v := range spec.Params {
		params[k] = v
	}

	var docs []*ir.Document
	switch spec.Kind {
	case ops.KindRepair, ops.KindVerify:
		// Byte-level operations take the raw file; parsing it first
		// would defeat their purpose.
		data, err := os.ReadFile(spec.Inputs[0])
		if err != nil {
			return nil, nil, fmt.Errorf("read input: %w", err)
		}
		params["source"] = data
	default:
		for _, path := range spec.Inputs {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, fmt.Errorf("read input: %w", err)
			}
			res, err := parser.Parse(data, parser.Config{Password: spec.Password})
			if err != nil {
				return nil, nil, fmt.Errorf("parse %s: %w", path, err)
			}
			warnings = append(warnings, res.Notes...)
			docs = append(docs, res.Doc)
		}
	}

	res, err := p.registry.Run(p.ctx, spec.Kind, docs, params)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, res.Warnings...)

	if spec.OCR {
		if err := p.runOCR(res, &warnings); err != nil {
			return nil, nil, err
		}
	}

	outputs, err := p.writeOutputs(spec, res)
	if err != nil {
		return nil, nil, err
	}
	return outputs, warnings, nil
}

// runOCR processes every result document under the OCR slot limit and
// attaches the recognized text as an artifact.
func (p *Processor) runOCR(res *ops.Result, warnings *[]string) error {
	if p.cfg.Engine == nil {
		return ocr.ErrUnavailable
	}
	select {
	case p.ocrSem <- struct{}{}:
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
	defer func() { <-p.ocrSem }()

	cfg := p.cfg.OCR
	cfg.Logger = p.log
	bridge := ocr.NewBridge(p.cfg.Engine, cfg)
	for i, doc := range res.Docs {
		report, err := bridge.Process(p.ctx, doc)
		if err != nil {
			return fmt.Errorf("ocr: %w", err)
		}
		*warnings = append(*warnings, report.Notes...)
		if text := report.PlainText(); text != "" {
			res.Artifacts = append(res.Artifacts, ops.Artifact{
				Name: fmt.Sprintf("ocr-%d.txt", i+1),
				Data: []byte(text),
			})
		}
	}
	return nil
}
