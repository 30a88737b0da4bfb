package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Normalization selects how 8-bit pixel values become model inputs.
type Normalization int

const (
	// NormalizeRescale divides every value by 255.
	NormalizeRescale Normalization = iota
	// NormalizeMedical rescales, clips to the 1st/99th percentile and
	// standardizes to zero mean and unit variance.
	NormalizeMedical
)

func ParseNormalization(name string) (Normalization, error) {
	switch strings.ToLower(name) {
	case "", "rescale":
		return NormalizeRescale, nil
	case "medical":
		return NormalizeMedical, nil
	}
	return 0, fmt.Errorf("unknown normalization %q", name)
}

func (n Normalization) String() string {
	switch n {
	case NormalizeRescale:
		return "rescale"
	case NormalizeMedical:
		return "medical"
	}
	return fmt.Sprintf("Normalization(%d)", int(n))
}

// Rescale maps a byte value into [0,1].
func Rescale(v uint8) float32 {
	return float32(v) / 255
}

func (n Normalization) Apply(pixels []uint8) []float32 {
	if n == NormalizeMedical {
		return medicalNormalize(pixels)
	}
	out := make([]float32, len(pixels))
	for i, v := range pixels {
		out[i] = Rescale(v)
	}
	return out
}

func medicalNormalize(pixels []uint8) []float32 {
	out := make([]float32, len(pixels))
	if len(pixels) == 0 {
		return out
	}

	x := make([]float64, len(pixels))
	for i, v := range pixels {
		x[i] = float64(v) / 255
	}

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	lo, hi := percentile(sorted, 1), percentile(sorted, 99)
	for i := range x {
		x[i] = math.Min(math.Max(x[i], lo), hi)
	}

	mean, std := stat.PopMeanStdDev(x, nil)
	for i := range x {
		v := x[i] - mean
		if std > 0 {
			v /= std
		}
		out[i] = float32(v)
	}
	return out
}

// percentile interpolates linearly between closest ranks of sorted data.
func percentile(sorted []float64, p float64) float64 {
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
