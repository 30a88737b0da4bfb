package pipeline

import (
	"fmt"
	"math"

	"github.com/Brownie44l1/mri-api/internal/model"
	"gonum.org/v1/gonum/floats"
)

// Softmax turns raw scores into a probability distribution. The maximum is
// subtracted first so large logits do not overflow.
func Softmax(logits []float32) []float64 {
	p := make([]float64, len(logits))
	if len(p) == 0 {
		return p
	}
	for i, v := range logits {
		p[i] = float64(v)
	}
	floats.AddConst(-floats.Max(p), p)
	for i := range p {
		p[i] = math.Exp(p[i])
	}
	floats.Scale(1/floats.Sum(p), p)
	return p
}

// Interpret decodes one row of model output against the class ordering.
func Interpret(logits []float32, classes []string) (model.ClassificationResult, error) {
	if len(logits) == 0 || len(logits) != len(classes) {
		return model.ClassificationResult{}, fmt.Errorf("%w: %d scores for %d classes",
			model.ErrShapeMismatch, len(logits), len(classes))
	}
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return model.ClassificationResult{}, fmt.Errorf("model returned non-finite score at index %d", i)
		}
	}

	probs := Softmax(logits)
	best := floats.MaxIdx(probs)

	byClass := make(map[string]float64, len(classes))
	for i, c := range classes {
		byClass[c] = probs[i]
	}

	return model.ClassificationResult{
		Class:         classes[best],
		Confidence:    probs[best],
		Probabilities: byClass,
	}, nil
}
