// Package pipeline turns uploaded MRI images into classification results:
// decode, normalize, forward pass, softmax and argmax.
package pipeline

import (
	"context"
	"fmt"

	"github.com/Brownie44l1/mri-api/internal/model"
	"github.com/nfnt/resize"
)

// Model is the pretrained classifier. Forward receives one batch in the
// metadata layout and returns the raw scores for that batch.
type Model = model.Forwarder

type Options struct {
	Metadata      model.Metadata
	Interpolation resize.InterpolationFunction
	Normalization Normalization
	MaxBytes      int64
	MaxDim        int
}

// Pipeline is safe for concurrent use as long as the Model is.
type Pipeline struct {
	model   Model
	loadErr error
	opts    Options
}

// New builds a pipeline around a loaded model. A non-nil loadErr marks the
// model as unavailable for the lifetime of the pipeline.
func New(m Model, loadErr error, opts Options) *Pipeline {
	if loadErr == nil && m == nil {
		loadErr = fmt.Errorf("no model configured")
	}
	if loadErr != nil {
		m = nil
	}
	if opts.Metadata.ImageSize == 0 {
		opts.Metadata = model.DefaultMetadata()
	}
	return &Pipeline{model: m, loadErr: loadErr, opts: opts}
}

// Available returns the cached load failure, wrapped as ErrModelUnavailable.
func (p *Pipeline) Available() error {
	if p.loadErr != nil {
		return fmt.Errorf("%w: %v", model.ErrModelUnavailable, p.loadErr)
	}
	return nil
}

func (p *Pipeline) Metadata() model.Metadata {
	return p.opts.Metadata
}

// InputSize is the length of the tensor handed to the model.
func (p *Pipeline) InputSize() int {
	return p.opts.Metadata.InputSize()
}

// Prepare decodes and normalizes image bytes into a model input tensor.
// ctx is checked between the decode, resize and normalize stages.
func (p *Pipeline) Prepare(ctx context.Context, data []byte) ([]float32, error) {
	img, err := Decode(data, p.opts.MaxBytes, p.opts.MaxDim)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := p.opts.Metadata.ImageSize
	resized := Resize(ToRGB(img), size, p.opts.Interpolation)
	if b := resized.Bounds(); b.Dx() != size || b.Dy() != size {
		return nil, fmt.Errorf("%w: resized to %dx%d, want %dx%d", model.ErrShapeMismatch, b.Dx(), b.Dy(), size, size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensor := p.opts.Normalization.Apply(Pixels(resized, p.opts.Metadata.Layout))
	if len(tensor) != p.InputSize() {
		return nil, fmt.Errorf("%w: prepared %d values, model takes %d", model.ErrShapeMismatch, len(tensor), p.InputSize())
	}
	return tensor, nil
}

// Classify runs the full pipeline on uploaded image bytes.
func (p *Pipeline) Classify(ctx context.Context, data []byte) (model.ClassificationResult, error) {
	if err := p.Available(); err != nil {
		return model.ClassificationResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return model.ClassificationResult{}, err
	}
	tensor, err := p.Prepare(ctx, data)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return p.ClassifyTensor(ctx, tensor)
}

// ClassifyTensor classifies an already prepared input tensor.
func (p *Pipeline) ClassifyTensor(ctx context.Context, tensor []float32) (model.ClassificationResult, error) {
	if err := p.Available(); err != nil {
		return model.ClassificationResult{}, err
	}
	if len(tensor) != p.InputSize() {
		return model.ClassificationResult{}, fmt.Errorf("%w: expected %d values, got %d",
			model.ErrShapeMismatch, p.InputSize(), len(tensor))
	}
	if err := ctx.Err(); err != nil {
		return model.ClassificationResult{}, err
	}

	logits, err := p.model.Forward(ctx, tensor)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return Interpret(logits, p.opts.Metadata.Classes)
}
