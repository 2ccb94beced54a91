// Package ocr recovers text from scanned pages. A Bridge walks a
// document, rasterizes pages that carry images but hardly any text,
// hands the raster to an Engine, and injects the recognized words back
// into the page as an invisible text layer so the file becomes
// searchable without changing its appearance.
//
// The package defines only the provider contract; ocr/tesseract binds
// it to a real recognizer.
package ocr

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no recognition engine is configured
// or the configured one cannot run.
var ErrUnavailable = errors.New("ocr: engine unavailable")

// Region is a rectangle in pixel coordinates with the origin in the
// upper-left corner of the image, the convention recognizers use.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Input is one encoded image submitted for recognition.
type Input struct {
	// Image is the encoded payload, PNG unless the engine says otherwise.
	Image []byte
	// PageIndex is the zero-based page the image was rendered from.
	PageIndex int
	// DPI is the density the image was rendered at; engines use it for
	// layout heuristics. Zero means unknown.
	DPI int
	// Languages holds trained-data hints such as "eng" or "deu".
	Languages []string
}

// Word is a single recognized token with its pixel bounds.
type Word struct {
	Text       string
	Bounds     Region
	Confidence float64
}

// Result is the recognition output for one input image.
type Result struct {
	PlainText string
	Words     []Word
}

// Engine is the provider contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Result, error)
}
