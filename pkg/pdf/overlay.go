package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

// Face selects one of the two built-in font faces
type Face int

const (
	FaceRegular Face = iota
	FaceBold
)

const fontFamily = "Helvetica"

func (f Face) style() string {
	if f == FaceBold {
		return "B"
	}
	return ""
}

// RGB represents a colour with components normalized to 0..1
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

func (c RGB) bytes() (int, int, int) {
	return channel(c.R), channel(c.G), channel(c.B)
}

func channel(v float64) int {
	return int(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// TextRun is a single line of text in PDF user space: points, origin at the
// bottom-left corner of the page, y pointing up.
type TextRun struct {
	Text   string
	X      float64
	Y      float64
	SizePt float64
	Face   Face
	Color  RGB
}

// Options configures overlay output
type Options struct {
	Compress bool `json:"compress"`
}

// Overlay draws text onto page 1 of an existing PDF. The result is always a
// single page with the base page's MediaBox size.
type Overlay struct {
	pdf       *gofpdf.Fpdf
	width     float64
	height    float64
	translate func(string) string
}

// NewOverlay imports the first page of base as a template and prepares a
// document of the same size for drawing.
func NewOverlay(base []byte, opts Options) (o *Overlay, err error) {
	if len(base) == 0 {
		return nil, errors.New("base document is empty")
	}

	// gofpdi reports malformed input by panicking
	defer func() {
		if r := recover(); r != nil {
			o = nil
			err = fmt.Errorf("import base page: %v", r)
		}
	}()

	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetCompression(opts.Compress)
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)

	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(base))
	tpl := importer.ImportPageFromStream(doc, &rs, 1, "/MediaBox")

	box, ok := importer.GetPageSizes()[1]["/MediaBox"]
	if !ok || box["w"] <= 0 || box["h"] <= 0 {
		return nil, errors.New("base document has no usable MediaBox on page 1")
	}
	w, h := box["w"], box["h"]

	doc.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: h})
	importer.UseImportedTemplate(doc, tpl, 0, 0, w, h)
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("prepare page: %w", err)
	}

	return &Overlay{
		pdf:       doc,
		width:     w,
		height:    h,
		translate: doc.UnicodeTranslatorFromDescriptor(""),
	}, nil
}

// Size returns the page width and height in points
func (o *Overlay) Size() (float64, float64) {
	return o.width, o.height
}

// MeasureText returns the advance width of text in points
func (o *Overlay) MeasureText(text string, face Face, sizePt float64) float64 {
	return measure(o.pdf, o.translate, text, face, sizePt)
}

// DrawText draws a run. Coordinates are bottom-left based.
func (o *Overlay) DrawText(run TextRun) error {
	if !(run.SizePt > 0) || math.IsInf(run.SizePt, 0) {
		return fmt.Errorf("invalid font size %v", run.SizePt)
	}
	if math.IsNaN(run.X) || math.IsInf(run.X, 0) || math.IsNaN(run.Y) || math.IsInf(run.Y, 0) {
		return fmt.Errorf("invalid position (%v, %v)", run.X, run.Y)
	}
	o.pdf.SetFont(fontFamily, run.Face.style(), run.SizePt)
	r, g, b := run.Color.bytes()
	o.pdf.SetTextColor(r, g, b)
	// gofpdf measures y from the top edge
	o.pdf.Text(run.X, o.height-run.Y, o.translate(run.Text))
	return o.pdf.Error()
}

// Bytes finalizes the document and returns it
func (o *Overlay) Bytes() (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("write document: %v", r)
		}
	}()

	var buf bytes.Buffer
	if err := o.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Measurer computes text widths with the built-in faces without a page.
// It is not safe for concurrent use.
type Measurer struct {
	pdf       *gofpdf.Fpdf
	translate func(string) string
}

// NewMeasurer creates a standalone measurer
func NewMeasurer() *Measurer {
	doc := gofpdf.New("P", "pt", "A4", "")
	return &Measurer{
		pdf:       doc,
		translate: doc.UnicodeTranslatorFromDescriptor(""),
	}
}

// MeasureText returns the advance width of text in points
func (m *Measurer) MeasureText(text string, face Face, sizePt float64) float64 {
	return measure(m.pdf, m.translate, text, face, sizePt)
}

func measure(doc *gofpdf.Fpdf, translate func(string) string, text string, face Face, sizePt float64) float64 {
	doc.SetFont(fontFamily, face.style(), sizePt)
	return doc.GetStringWidth(translate(text))
}
