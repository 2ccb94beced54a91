package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"
	"time"

	"pdfbatch/contentstream"
	"pdfbatch/ir"
	"pdfbatch/observability"
)

const (
	// layerFontKey names the simple font the injected layer shows text
	// with. Render mode 3 draws nothing, so any base font works.
	layerFontKey ir.Name = "pbOCR"

	// pieceInfoApp keys the idempotence marker inside /PieceInfo.
	pieceInfoApp ir.Name = "pdfbatch"
)

// Config tunes a Bridge. Zero values fall back to English at 300 DPI
// with a text-run threshold of 5.
type Config struct {
	// Languages are trained-data hints passed to the engine.
	Languages []string
	// DPI is the rasterization density for page images.
	DPI int
	// TextRunThreshold is the number of text-showing operators at or
	// above which a page counts as born-digital and is left alone.
	TextRunThreshold int
	Logger           observability.Logger
}

// Bridge runs recognition over a document and injects the results back
// into it.
type Bridge struct {
	engine Engine
	cfg    Config
	log    observability.Logger
}

func NewBridge(engine Engine, cfg Config) *Bridge {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.TextRunThreshold <= 0 {
		cfg.TextRunThreshold = 5
	}
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Bridge{engine: engine, cfg: cfg, log: log}
}

// Report summarizes one Process run.
type Report struct {
	// Text holds the recognized plain text per page, empty for pages
	// that were skipped.
	Text       []string
	Recognized int
	Skipped    int
	Notes      []string
}

// PlainText joins the per-page text with form feeds, the layout the
// text artifact uses.
func (r *Report) PlainText() string {
	return strings.TrimRight(strings.Join(r.Text, "\f"), "\f")
}

func (r *Report) notef(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Process recognizes every page that looks scanned and appends an
// invisible text layer to it. Pages already carrying a layer marker,
// pages with enough native text, and pages without images are skipped.
// The document is modified in place.
func (b *Bridge) Process(ctx context.Context, doc *ir.Document) (*Report, error) {
	if b.engine == nil {
		return nil, ErrUnavailable
	}
	pages, err := doc.Pages()
	if err != nil {
		return nil, err
	}
	report := &Report{Text: make([]string, len(pages))}
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, why := b.processPage(ctx, doc, page, i, report)
		switch {
		case why != "":
			report.Skipped++
			report.notef("page %d: %s", i+1, why)
		case done:
			report.Recognized++
		}
	}
	b.log.Info("ocr pass finished",
		observability.Int("recognized", report.Recognized),
		observability.Int("skipped", report.Skipped))
	return report, nil
}

// processPage handles one page; a non-empty reason means it was
// skipped.
func (b *Bridge) processPage(ctx context.Context, doc *ir.Document, page *ir.Page, idx int, report *Report) (bool, string) {
	if hasLayerMarker(page) {
		return false, "already carries a text layer"
	}
	content, err := page.Content()
	if err != nil {
		return false, fmt.Sprintf("unreadable content: %v", err)
	}
	cmds, err := contentstream.Parse(content)
	if err != nil {
		return false, fmt.Sprintf("unparsable content: %v", err)
	}
	if n := contentstream.CountTextOps(cmds); n >= b.cfg.TextRunThreshold {
		return false, fmt.Sprintf("has %d text runs, treated as born-digital", n)
	}

	canvas := rasterize(doc, page, cmds, b.cfg.DPI)
	if canvas == nil {
		return false, "no raster images to recognize"
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return false, fmt.Sprintf("raster encode failed: %v", err)
	}

	res, err := b.engine.Recognize(ctx, Input{
		Image:     buf.Bytes(),
		PageIndex: idx,
		DPI:       b.cfg.DPI,
		Languages: b.cfg.Languages,
	})
	if err != nil {
		report.notef("page %d: recognition failed: %v", idx+1, err)
		return false, ""
	}

	bounds := canvas.Bounds()
	if err := injectLayer(doc, page, res.Words, bounds.Dx(), bounds.Dy()); err != nil {
		report.notef("page %d: layer injection failed: %v", idx+1, err)
		return false, ""
	}
	markPage(doc, page)
	report.Text[idx] = res.PlainText
	b.log.Debug("ocr layer injected",
		observability.Int("page", idx+1),
		observability.Int("words", len(res.Words)))
	return true, ""
}

// injectLayer appends a render-mode-3 text run positioned from the
// recognizer's pixel boxes, mapped into the page coordinate space.
func injectLayer(doc *ir.Document, page *ir.Page, words []Word, pxW, pxH int) error {
	if err := ensureLayerFont(doc, page); err != nil {
		return err
	}
	box := page.MediaBox()
	sx := box.Width() / float64(pxW)
	sy := box.Height() / float64(pxH)

	layer := contentstream.NewBuilder().Save().BeginText().SetRenderMode(3)
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		size := w.Bounds.Height * sy
		if size <= 0 {
			size = 10
		}
		// Pixel boxes hang down from the image top; page coordinates
		// grow upward from the bottom-left corner.
		tx := box.LLX + w.Bounds.X*sx
		ty := box.URY - (w.Bounds.Y+w.Bounds.Height)*sy
		layer.SetFont(layerFontKey, size).
			SetTextMatrix(contentstream.Translate(tx, ty)).
			ShowText(w.Text)
	}
	layer.EndText().Restore()
	return page.AppendContent(layer.Bytes())
}

func ensureLayerFont(doc *ir.Document, page *ir.Page) error {
	res, err := page.OwnResources()
	if err != nil {
		return err
	}
	fonts, err := childDict(doc, res, "Font")
	if err != nil {
		return err
	}
	if _, ok := fonts.Get(layerFontKey); ok {
		return nil
	}
	font := ir.NewDict()
	font.Set("Type", ir.Name("Font"))
	font.Set("Subtype", ir.Name("Type1"))
	font.Set("BaseFont", ir.Name("Helvetica"))
	fonts.Set(layerFontKey, doc.Put(font))
	return nil
}

// childDict resolves dict[key] as a dictionary, creating a direct empty
// one when the entry is missing.
func childDict(doc *ir.Document, dict *ir.Dict, key ir.Name) (*ir.Dict, error) {
	if v, ok := dict.Get(key); ok {
		return doc.ResolveDict(v)
	}
	child := ir.NewDict()
	dict.Set(key, child)
	return child, nil
}

// markPage records the injected layer under /PieceInfo so a second pass
// recognizes the page as already handled.
func markPage(doc *ir.Document, page *ir.Page) {
	info, err := childDict(doc, page.Dict, "PieceInfo")
	if err != nil {
		info = ir.NewDict()
		page.Dict.Set("PieceInfo", info)
	}
	private := ir.NewDict()
	private.Set("Layer", ir.Name("ocr"))
	entry := ir.NewDict()
	entry.Set("LastModified", ir.String(ir.FormatDate(time.Now())))
	entry.Set("Private", private)
	info.Set(pieceInfoApp, entry)
}

func hasLayerMarker(page *ir.Page) bool {
	v, ok := page.Dict.Get("PieceInfo")
	if !ok {
		return false
	}
	info, err := page.Doc().ResolveDict(v)
	if err != nil {
		return false
	}
	_, marked := info.Get(pieceInfoApp)
	return marked
}
