package certificates

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"event-portal/portal-backend/pkg/pdf"
)

type ElementKind string

const (
	KindStaticText  ElementKind = "static_text"
	KindDynamicText ElementKind = "dynamic_text"
)

type TextAnchor string

const (
	AnchorStart  TextAnchor = "start"
	AnchorMiddle TextAnchor = "middle"
	AnchorEnd    TextAnchor = "end"
)

const (
	defaultFontSize   = 16.0
	defaultFontFamily = "Arial"
	defaultColor      = "#000000"
)

// FontSize accepts a JSON number or a numeric string such as "24" or "24px".
// Unparsable values decode as zero and fall back to the default size.
type FontSize float64

func (s *FontSize) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*s = FontSize(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("font_size must be a number or string: %w", err)
	}
	str = strings.TrimSpace(strings.ToLower(str))
	str = strings.TrimSuffix(strings.TrimSuffix(str, "px"), "pt")
	n, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		n = 0
	}
	*s = FontSize(n)
	return nil
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Style struct {
	FontFamily string   `json:"font_family,omitempty"`
	FontSize   FontSize `json:"font_size,omitempty"`
	FontWeight string   `json:"font_weight,omitempty"`
	Color      string   `json:"color,omitempty"`
}

// SizePt returns the font size in points, defaulting to 16
func (s Style) SizePt() float64 {
	n := float64(s.FontSize)
	if n <= 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return defaultFontSize
	}
	return n
}

func (s Style) Family() string {
	if strings.TrimSpace(s.FontFamily) == "" {
		return defaultFontFamily
	}
	return s.FontFamily
}

func (s Style) Face() pdf.Face {
	if strings.EqualFold(strings.TrimSpace(s.FontWeight), "bold") {
		return pdf.FaceBold
	}
	return pdf.FaceRegular
}

// RGB parses the style colour
func (s Style) RGB() (pdf.RGB, error) {
	c := s.Color
	if strings.TrimSpace(c) == "" {
		c = defaultColor
	}
	return ParseHexColor(c)
}

// ParseHexColor parses six hex digits with an optional leading '#'
func ParseHexColor(s string) (pdf.RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return pdf.RGB{}, fmt.Errorf("invalid colour %q", s)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return pdf.RGB{}, fmt.Errorf("invalid colour %q", s)
	}
	return pdf.RGB{
		R: float64(b[0]) / 255,
		G: float64(b[1]) / 255,
		B: float64(b[2]) / 255,
	}, nil
}

// Element is one positioned text item. Static elements draw Content;
// dynamic elements draw Prefix followed by the resolved Placeholder.
type Element struct {
	ID          string      `json:"id"`
	Kind        ElementKind `json:"type"`
	Content     string      `json:"content,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	Prefix      string      `json:"prefix,omitempty"`
	Position    Position    `json:"position"`
	TextAnchor  TextAnchor  `json:"text_anchor,omitempty"`
	Style       Style       `json:"style"`

	// decode problems surface as a warning when the element is rendered
	invalid error
}

func (e Element) Anchor() TextAnchor {
	switch e.TextAnchor {
	case AnchorMiddle, AnchorEnd:
		return e.TextAnchor
	default:
		return AnchorStart
	}
}

// Text returns the string the element draws for the given recipient
func (e Element) Text(r *Resolver, data RecipientData) (string, error) {
	switch e.Kind {
	case KindStaticText:
		return e.Content, nil
	case KindDynamicText:
		return e.Prefix + r.Resolve(e.Placeholder, data), nil
	default:
		return "", fmt.Errorf("unknown element type %q", e.Kind)
	}
}

// Calibration maps editor coordinates to PDF points
type Calibration struct {
	ScaleX        float64 `json:"scaleX"`
	ScaleY        float64 `json:"scaleY"`
	OffsetY       float64 `json:"offsetY"`
	BaselineRatio float64 `json:"baselineRatio"`
}

func DefaultCalibration() Calibration {
	return Calibration{ScaleX: 1, ScaleY: 1, OffsetY: 0, BaselineRatio: 0.35}
}

func (c Calibration) normalized() Calibration {
	if c == (Calibration{}) {
		return DefaultCalibration()
	}
	if c.ScaleX == 0 {
		c.ScaleX = 1
	}
	if c.ScaleY == 0 {
		c.ScaleY = 1
	}
	return c
}

// TemplateDescriptor is the parsed, render-ready form of a template
type TemplateDescriptor struct {
	ID            uint        `json:"id"`
	BasePagePath  string      `json:"base_page_path"`
	TargetType    TargetType  `json:"target_type"`
	SerialEnabled bool        `json:"serial_enabled"`
	Elements      []Element   `json:"elements"`
	Calibration   Calibration `json:"calibration"`
}

type rawConfiguration struct {
	Elements    *[]json.RawMessage `json:"elements"`
	Calibration *Calibration       `json:"calibration"`
}

type rawElement struct {
	ID          string      `json:"id"`
	Kind        ElementKind `json:"type"`
	Content     string      `json:"content"`
	Placeholder string      `json:"placeholder"`
	Prefix      string      `json:"prefix"`
	Position    *Position   `json:"position"`
	TextAnchor  TextAnchor  `json:"text_anchor"`
	Style       Style       `json:"style"`
}

// ParseDescriptor decodes a template configuration. Only structural problems
// are returned as errors; a broken element is kept and reported when rendered.
func ParseDescriptor(templateID uint, configuration []byte) (*TemplateDescriptor, error) {
	if len(bytes.TrimSpace(configuration)) == 0 {
		return nil, &InvalidConfigurationError{TemplateID: templateID, Reason: "configuration is empty"}
	}

	var raw rawConfiguration
	if err := json.Unmarshal(configuration, &raw); err != nil {
		return nil, &InvalidConfigurationError{TemplateID: templateID, Reason: err.Error()}
	}
	if raw.Elements == nil {
		return nil, &InvalidConfigurationError{TemplateID: templateID, Reason: "elements are missing"}
	}

	desc := &TemplateDescriptor{
		ID:          templateID,
		Elements:    make([]Element, 0, len(*raw.Elements)),
		Calibration: DefaultCalibration(),
	}
	if raw.Calibration != nil {
		desc.Calibration = raw.Calibration.normalized()
	}

	for _, msg := range *raw.Elements {
		desc.Elements = append(desc.Elements, decodeElement(msg))
	}
	return desc, nil
}

func decodeElement(msg json.RawMessage) Element {
	var re rawElement
	if err := json.Unmarshal(msg, &re); err != nil {
		// salvage the id so the warning can name the element
		var probe struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(msg, &probe)
		return Element{ID: probe.ID, invalid: fmt.Errorf("decode element: %w", err)}
	}

	el := Element{
		ID:          re.ID,
		Kind:        re.Kind,
		Content:     re.Content,
		Placeholder: re.Placeholder,
		Prefix:      re.Prefix,
		TextAnchor:  re.TextAnchor,
		Style:       re.Style,
	}
	switch {
	case re.Position == nil:
		el.invalid = errors.New("element has no position")
	case re.Kind != KindStaticText && re.Kind != KindDynamicText:
		el.invalid = fmt.Errorf("unknown element type %q", re.Kind)
	default:
		el.Position = *re.Position
	}
	return el
}
