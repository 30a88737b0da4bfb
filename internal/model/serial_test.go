package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// blockingNet holds the first caller until release is closed.
type blockingNet struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingNet() *blockingNet {
	return &blockingNet{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingNet) Forward(ctx context.Context, input []float32) ([]float32, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-b.release
	}
	return []float32{1, 0, 0, 0}, nil
}

func TestSerializedDropsExpiredWaiters(t *testing.T) {
	net := newBlockingNet()
	s := Serialize(net)

	first := make(chan error, 1)
	go func() {
		_, err := s.Forward(context.Background(), nil)
		first <- err
	}()
	<-net.entered

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			if _, err := s.Forward(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("waiter: expected deadline exceeded, got %v", err)
			}
		}()
	}

	// Every waiter is parked on the lock or already expired.
	time.Sleep(50 * time.Millisecond)
	close(net.release)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if got := net.calls.Load(); got != 1 {
		t.Fatalf("network ran %d times, want 1", got)
	}
}

func TestSerializedRunsLiveCallers(t *testing.T) {
	var calls atomic.Int32
	s := Serialize(ForwardFunc(func(ctx context.Context, input []float32) ([]float32, error) {
		calls.Add(1)
		return input, nil
	}))

	out, err := s.Forward(context.Background(), []float32{0.5})
	if err != nil || len(out) != 1 || out[0] != 0.5 {
		t.Fatalf("got %v, %v", out, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Forward(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("network ran %d times", calls.Load())
	}
}
