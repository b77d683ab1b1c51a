package certificates

import (
	"strings"

	"event-portal/portal-backend/pkg/pdf"
)

// TextMeasurer reports the advance width of a string in points
type TextMeasurer interface {
	MeasureText(text string, face pdf.Face, sizePt float64) float64
}

// Point is a position in PDF user space (origin bottom-left)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

const (
	largeFontThreshold = 30.0
	largeFontLift      = 0.02
)

// Place converts an element's editor position into the baseline origin of
// its text. Positions are measured from the top-left of the page.
func (c Calibration) Place(el Element, text string, pageHeight float64, m TextMeasurer) Point {
	size := el.Style.SizePt()

	x := el.Position.X * c.ScaleX
	yTop := pageHeight - (el.Position.Y*c.ScaleY + c.OffsetY)

	width := m.MeasureText(text, el.Style.Face(), size)
	switch el.Anchor() {
	case AnchorMiddle:
		x -= width / 2
	case AnchorEnd:
		x -= width
	}

	baseline := size*c.BaselineRatio + fontSpecificOffset(el.Style.Family(), size)
	y := yTop - baseline
	if size > largeFontThreshold {
		y += size * largeFontLift
	}
	return Point{X: x, Y: y}
}

// fontSpecificOffset compensates for serif families whose editor baseline
// sits lower than Helvetica's
func fontSpecificOffset(family string, size float64) float64 {
	f := strings.ToLower(family)
	switch {
	case strings.Contains(f, "georgia"):
		return size * 0.05
	case strings.Contains(f, "times"):
		return size * 0.03
	default:
		return 0
	}
}
