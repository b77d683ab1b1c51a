package certificates

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"event-portal/portal-backend/pkg/pdf"
)

// PlacedRun is a piece of text as it was laid out on the page
type PlacedRun struct {
	ElementID string  `json:"element_id"`
	Text      string  `json:"text"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	SizePt    float64 `json:"size_pt"`
	Bold      bool    `json:"bold"`
	Color     pdf.RGB `json:"color"`
}

func (r PlacedRun) textRun() pdf.TextRun {
	face := pdf.FaceRegular
	if r.Bold {
		face = pdf.FaceBold
	}
	return pdf.TextRun{Text: r.Text, X: r.X, Y: r.Y, SizePt: r.SizePt, Face: face, Color: r.Color}
}

// Rendering is a finished single-page certificate document
type Rendering struct {
	PDF        []byte           `json:"-"`
	PageWidth  float64          `json:"page_width"`
	PageHeight float64          `json:"page_height"`
	Runs       []PlacedRun      `json:"runs"`
	Warnings   []ElementWarning `json:"warnings"`
}

type CompositorOptions struct {
	// TemplateRoot is the directory base page paths are resolved against
	TemplateRoot string
	Compress     bool
}

// Compositor overlays resolved template text on a base page. It holds no
// per-document state and is safe for concurrent use.
type Compositor struct {
	resolver *Resolver
	opts     CompositorOptions
	logger   *zap.Logger
	metrics  *Metrics
}

func NewCompositor(resolver *Resolver, opts CompositorOptions, logger *zap.Logger, metrics *Metrics) *Compositor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compositor{resolver: resolver, opts: opts, logger: logger, metrics: metrics}
}

// Render produces the certificate document for data. Element problems are
// returned as warnings; only base document and configuration problems fail.
func (c *Compositor) Render(tmpl *TemplateDescriptor, data RecipientData) (*Rendering, error) {
	start := time.Now()

	if err := checkDescriptor(tmpl); err != nil {
		c.metrics.observeRender("invalid", start)
		return nil, err
	}

	base, err := c.loadBase(tmpl.BasePagePath)
	if err != nil {
		c.metrics.observeRender("load_failed", start)
		return nil, err
	}

	overlay, err := pdf.NewOverlay(base, pdf.Options{Compress: c.opts.Compress})
	if err != nil {
		c.metrics.observeRender("load_failed", start)
		return nil, &TemplateLoadError{Path: tmpl.BasePagePath, Err: err}
	}

	width, height := overlay.Size()
	runs, warnings := c.compose(tmpl, data, height, overlay, overlay.DrawText)

	out, err := overlay.Bytes()
	if err != nil {
		c.metrics.observeRender("failed", start)
		return nil, fmt.Errorf("template %d: %w", tmpl.ID, err)
	}

	c.metrics.observeRender("ok", start)
	return &Rendering{
		PDF:        out,
		PageWidth:  width,
		PageHeight: height,
		Runs:       runs,
		Warnings:   warnings,
	}, nil
}

// Plan lays out the template without producing a document
func (c *Compositor) Plan(tmpl *TemplateDescriptor, data RecipientData, pageHeight float64, m TextMeasurer) ([]PlacedRun, []ElementWarning, error) {
	if err := checkDescriptor(tmpl); err != nil {
		return nil, nil, err
	}
	runs, warnings := c.compose(tmpl, data, pageHeight, m, nil)
	return runs, warnings, nil
}

func checkDescriptor(tmpl *TemplateDescriptor) error {
	if tmpl == nil {
		return &InvalidConfigurationError{Reason: "template is missing"}
	}
	if tmpl.Elements == nil {
		return &InvalidConfigurationError{TemplateID: tmpl.ID, Reason: "elements are missing"}
	}
	return nil
}

func (c *Compositor) compose(tmpl *TemplateDescriptor, data RecipientData, pageHeight float64, m TextMeasurer, draw func(pdf.TextRun) error) ([]PlacedRun, []ElementWarning) {
	runs := make([]PlacedRun, 0, len(tmpl.Elements))
	var warnings []ElementWarning

	for i, el := range tmpl.Elements {
		run, err := c.composeElement(tmpl.Calibration, el, data, pageHeight, m)
		if err == nil && run != nil && draw != nil {
			err = draw(run.textRun())
		}
		if err != nil {
			w := ElementWarning{ElementID: el.ID, Index: i, Err: err}
			warnings = append(warnings, w)
			c.metrics.elementSkipped()
			c.logger.Warn("Skipping certificate element",
				zap.Uint("template_id", tmpl.ID),
				zap.String("element_id", el.ID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		if run != nil {
			runs = append(runs, *run)
		}
	}
	return runs, warnings
}

// composeElement returns a nil run for elements with nothing to draw
func (c *Compositor) composeElement(cal Calibration, el Element, data RecipientData, pageHeight float64, m TextMeasurer) (run *PlacedRun, err error) {
	defer func() {
		if r := recover(); r != nil {
			run = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if el.invalid != nil {
		return nil, el.invalid
	}

	text, err := el.Text(c.resolver, data)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	color, err := el.Style.RGB()
	if err != nil {
		return nil, err
	}

	p := cal.Place(el, text, pageHeight, m)
	if !finite(p.X) || !finite(p.Y) {
		return nil, fmt.Errorf("placement is not a finite point (%v, %v)", p.X, p.Y)
	}
	return &PlacedRun{
		ElementID: el.ID,
		Text:      text,
		X:         p.X,
		Y:         p.Y,
		SizePt:    el.Style.SizePt(),
		Bold:      el.Style.Face() == pdf.FaceBold,
		Color:     color,
	}, nil
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (c *Compositor) loadBase(path string) ([]byte, error) {
	if path == "" {
		return nil, &TemplateLoadError{Path: path, Err: errors.New("template has no base document")}
	}
	full := c.resolvePath(path)
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, &TemplateLoadError{Path: path, Err: err}
	}
	return b, nil
}

// resolvePath keeps relative and leading-slash paths inside the template root
func (c *Compositor) resolvePath(path string) string {
	if c.opts.TemplateRoot == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(c.opts.TemplateRoot, filepath.Clean("/"+path))
}
