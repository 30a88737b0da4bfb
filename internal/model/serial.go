package model

import (
	"context"
	"sync"
)

// Forwarder runs one batch through a network.
type Forwarder interface {
	Forward(ctx context.Context, input []float32) ([]float32, error)
}

// ForwardFunc adapts a function to Forwarder.
type ForwardFunc func(ctx context.Context, input []float32) ([]float32, error)

func (f ForwardFunc) Forward(ctx context.Context, input []float32) ([]float32, error) {
	return f(ctx, input)
}

// Serialized lets one forward pass run at a time. Callers whose context
// ends while they wait for their turn never reach the network.
type Serialized struct {
	mu    sync.Mutex
	inner Forwarder
}

func Serialize(f Forwarder) *Serialized {
	return &Serialized{inner: f}
}

func (s *Serialized) Forward(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.Forward(ctx, input)
}

// exclusive runs fn with no forward pass in flight.
func (s *Serialized) exclusive(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}
