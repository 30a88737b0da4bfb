package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"sync/atomic"
	"testing"

	"github.com/Brownie44l1/mri-api/internal/config"
	"github.com/Brownie44l1/mri-api/internal/model"
	"github.com/nfnt/resize"
)

type fakeModel struct {
	logits []float32
	err    error
	calls  atomic.Int32
	inLen  atomic.Int32
}

func (f *fakeModel) Forward(ctx context.Context, input []float32) ([]float32, error) {
	f.calls.Add(1)
	f.inLen.Store(int32(len(input)))
	if f.err != nil {
		return nil, f.err
	}
	return f.logits, nil
}

func testOptions() Options {
	return Options{
		Metadata:      model.DefaultMetadata(),
		Interpolation: resize.Bilinear,
		MaxBytes:      10 << 20,
		MaxDim:        4096,
	}
}

func TestClassifyValidImage(t *testing.T) {
	m := &fakeModel{logits: []float32{2.5, 0.1, -1, 0.3}}
	p := New(m, nil, testOptions())

	res, err := p.Classify(context.Background(), encodePNG(t, noisyImage(300, 260, 5)))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !model.IsLabel(res.Class) {
		t.Fatalf("label %q outside the class set", res.Class)
	}
	if res.Class != model.Glioma {
		t.Fatalf("got %s, want %s", res.Class, model.Glioma)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		t.Fatalf("confidence %v outside [0,1]", res.Confidence)
	}

	var sum float64
	for _, v := range res.Probabilities {
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("probabilities sum to %v", sum)
	}
	if got := m.inLen.Load(); int(got) != 3*224*224 {
		t.Fatalf("model received %d values", got)
	}
}

func TestClassifyGrayscaleImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i)
	}
	p := New(&fakeModel{logits: []float32{0, 0, 0, 1}}, nil, testOptions())
	res, err := p.Classify(context.Background(), encodePNG(t, gray))
	if err != nil {
		t.Fatal(err)
	}
	if res.Class != model.Pituitary {
		t.Fatalf("got %s", res.Class)
	}
}

func TestPrepareRescalesToUnitRange(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 224, 224))
	for i := 0; i < 224*224; i++ {
		img.SetNRGBA(i%224, i/224, color.NRGBA{R: 255, G: 0, B: 128, A: 0xff})
	}
	p := New(&fakeModel{}, nil, testOptions())
	tensor, err := p.Prepare(context.Background(), encodePNG(t, img))
	if err != nil {
		t.Fatal(err)
	}
	if tensor[0] != 1 || tensor[1] != 0 || tensor[2] != Rescale(128) {
		t.Fatalf("first pixel %v", tensor[:3])
	}
}

func TestClassifyModelUnavailable(t *testing.T) {
	m := &fakeModel{logits: []float32{1, 0, 0, 0}}
	loadErr := errors.New("open models/model.onnx: no such file or directory")
	p := New(m, loadErr, testOptions())

	img := encodePNG(t, noisyImage(32, 32, 6))
	for i := 0; i < 3; i++ {
		if _, err := p.Classify(context.Background(), img); !errors.Is(err, model.ErrModelUnavailable) {
			t.Fatalf("call %d: expected ErrModelUnavailable, got %v", i, err)
		}
		if _, err := p.ClassifyTensor(context.Background(), make([]float32, p.InputSize())); !errors.Is(err, model.ErrModelUnavailable) {
			t.Fatalf("call %d: expected ErrModelUnavailable, got %v", i, err)
		}
	}
	if got := m.calls.Load(); got != 0 {
		t.Fatalf("model called %d times", got)
	}
	if !errors.Is(p.Available(), model.ErrModelUnavailable) {
		t.Fatal("Available should report the load failure")
	}
}

func TestNewWithoutModel(t *testing.T) {
	p := New(nil, nil, testOptions())
	if !errors.Is(p.Available(), model.ErrModelUnavailable) {
		t.Fatalf("got %v", p.Available())
	}
}

func TestClassifyDecodeErrorSkipsModel(t *testing.T) {
	m := &fakeModel{logits: []float32{1, 0, 0, 0}}
	p := New(m, nil, testOptions())

	_, err := p.Classify(context.Background(), []byte("GIF? no, just text"))
	if !errors.Is(err, model.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if m.calls.Load() != 0 {
		t.Fatal("model called for an undecodable image")
	}
}

func TestClassifyTensorShapeMismatch(t *testing.T) {
	m := &fakeModel{logits: []float32{1, 0, 0, 0}}
	p := New(m, nil, testOptions())

	if _, err := p.ClassifyTensor(context.Background(), make([]float32, 10)); !errors.Is(err, model.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if m.calls.Load() != 0 {
		t.Fatal("model called with a malformed tensor")
	}
}

func TestClassifyWrongOutputWidth(t *testing.T) {
	p := New(&fakeModel{logits: []float32{1, 0}}, nil, testOptions())
	if _, err := p.ClassifyTensor(context.Background(), make([]float32, p.InputSize())); !errors.Is(err, model.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestClassifyPropagatesModelError(t *testing.T) {
	boom := errors.New("inference failed")
	p := New(&fakeModel{err: boom}, nil, testOptions())
	if _, err := p.ClassifyTensor(context.Background(), make([]float32, p.InputSize())); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	m := &fakeModel{logits: []float32{1, 0, 0, 0}}
	p := New(m, nil, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.ClassifyTensor(ctx, make([]float32, p.InputSize())); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.calls.Load() != 0 {
		t.Fatal("model called after cancellation")
	}
}

func TestPrepareStopsWhenCancelled(t *testing.T) {
	p := New(&fakeModel{}, nil, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tensor, err := p.Prepare(ctx, encodePNG(t, noisyImage(640, 480, 8)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tensor != nil {
		t.Fatal("tensor returned for a cancelled request")
	}
}

func TestClassifyCancelledBeforeDecode(t *testing.T) {
	m := &fakeModel{logits: []float32{1, 0, 0, 0}}
	p := New(m, nil, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Classify(ctx, encodePNG(t, noisyImage(64, 64, 9))); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.calls.Load() != 0 {
		t.Fatal("model called after cancellation")
	}
}

// Runs against an exported model and a fixture scan known to be a glioma.
func TestClassifyGliomaFixture(t *testing.T) {
	modelPath := os.Getenv("MRI_MODEL_PATH")
	fixture := os.Getenv("MRI_FIXTURE_GLIOMA")
	if modelPath == "" || fixture == "" {
		t.Skip("MRI_MODEL_PATH and MRI_FIXTURE_GLIOMA not set")
	}

	srv, err := model.NewServer(modelPath, os.Getenv("MRI_METADATA_PATH"), os.Getenv("ORT_LIBRARY_PATH"))
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	defer srv.Close()

	opts := testOptions()
	opts.Metadata = srv.Metadata
	p := New(srv, nil, opts)

	data, err := os.ReadFile(fixture)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Classify(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Class != model.Glioma || res.Confidence <= 0.5 {
		t.Fatalf("got %s at %.4f, want %s above 0.5", res.Class, res.Confidence, model.Glioma)
	}
}

func TestSetupMissingModel(t *testing.T) {
	cfg := &config.Config{
		ModelPath:      t.TempDir() + "/missing.onnx",
		MaxUploadBytes: 1 << 20,
		MaxImageDim:    1024,
	}
	p, closeFn, err := Setup(cfg)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer closeFn()

	if !errors.Is(p.Available(), model.ErrModelUnavailable) {
		t.Fatalf("got %v", p.Available())
	}
	if _, err := p.Classify(context.Background(), encodePNG(t, noisyImage(8, 8, 7))); !errors.Is(err, model.ErrModelUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func TestSetupRejectsUnknownSettings(t *testing.T) {
	if _, _, err := Setup(&config.Config{Interpolation: "area"}); err == nil {
		t.Fatal("expected error for unknown interpolation")
	}
	if _, _, err := Setup(&config.Config{Normalization: "minmax"}); err == nil {
		t.Fatal("expected error for unknown normalization")
	}
}
