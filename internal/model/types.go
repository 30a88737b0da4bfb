package model

import (
	"errors"
	"fmt"
	"strings"
)

// Labels the classifier was trained on.
const (
	Glioma     = "glioma"
	Meningioma = "meningioma"
	NoTumor    = "no_tumor"
	Pituitary  = "pituitary"
)

// DefaultClasses is the output ordering used during training.
var DefaultClasses = []string{Glioma, Meningioma, NoTumor, Pituitary}

const DefaultImageSize = 224

// Tensor layouts.
const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

var (
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrDecode            = errors.New("image decode failed")
	ErrShapeMismatch     = errors.New("tensor shape mismatch")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image too large")
)

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	Layout      string   `json:"layout"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
}

// DefaultMetadata describes a Keras export of the classifier.
func DefaultMetadata() Metadata {
	m := Metadata{}
	m.applyDefaults()
	return m
}

func (m *Metadata) applyDefaults() {
	if len(m.Classes) == 0 {
		m.Classes = append([]string(nil), DefaultClasses...)
	}
	if m.ImageSize == 0 {
		m.ImageSize = DefaultImageSize
	}
	m.Layout = strings.ToUpper(m.Layout)
	if m.Layout == "" {
		m.Layout = LayoutNHWC
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	size := int64(m.ImageSize)
	if len(m.InputShape) == 0 {
		if m.Layout == LayoutNCHW {
			m.InputShape = []int64{1, 3, size, size}
		} else {
			m.InputShape = []int64{1, size, size, 3}
		}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
}

// Validate checks that the metadata can drive the preprocessing and that
// the class ordering covers exactly the known labels.
func (m *Metadata) Validate() error {
	if m.Layout != LayoutNHWC && m.Layout != LayoutNCHW {
		return fmt.Errorf("unknown layout %q", m.Layout)
	}
	if len(m.Classes) != len(DefaultClasses) {
		return fmt.Errorf("expected %d classes, got %d", len(DefaultClasses), len(m.Classes))
	}
	seen := make(map[string]bool, len(m.Classes))
	for _, c := range m.Classes {
		if !IsLabel(c) {
			return fmt.Errorf("unknown class %q", c)
		}
		if seen[c] {
			return fmt.Errorf("duplicate class %q", c)
		}
		seen[c] = true
	}
	if err := m.checkInputShape(); err != nil {
		return err
	}
	if got := m.OutputSize(); got != len(m.Classes) {
		return fmt.Errorf("output shape %v holds %d values for %d classes", m.OutputShape, got, len(m.Classes))
	}
	return nil
}

// checkInputShape requires a single-image batch laid out as the layout says.
func (m *Metadata) checkInputShape() error {
	shape := m.InputShape
	if len(shape) != 4 || shape[0] != 1 {
		return fmt.Errorf("%w: input shape %v is not a batch of one image", ErrShapeMismatch, shape)
	}
	size := int64(m.ImageSize)
	var channels, height, width int64
	if m.Layout == LayoutNCHW {
		channels, height, width = shape[1], shape[2], shape[3]
	} else {
		height, width, channels = shape[1], shape[2], shape[3]
	}
	if channels != 3 || height != size || width != size {
		return fmt.Errorf("%w: input shape %v does not match %s layout of 3x%dx%d",
			ErrShapeMismatch, shape, m.Layout, size, size)
	}
	return nil
}

// InputSize is the number of float32 values the model consumes per call.
func (m *Metadata) InputSize() int {
	return shapeSize(m.InputShape)
}

func (m *Metadata) OutputSize() int {
	return shapeSize(m.OutputShape)
}

func shapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// IsLabel reports whether s belongs to the closed label set.
func IsLabel(s string) bool {
	for _, c := range DefaultClasses {
		if c == s {
			return true
		}
	}
	return false
}

// ClassificationResult is the outcome of one classification.
type ClassificationResult struct {
	Class         string
	Confidence    float64
	Probabilities map[string]float64
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float64            `json:"confidence"`
	Predictions map[string]float64 `json:"predictions"`
}

func NewPredictionResponse(r ClassificationResult) PredictionResponse {
	return PredictionResponse{
		Class:       r.Class,
		Confidence:  r.Confidence,
		Predictions: r.Probabilities,
	}
}
