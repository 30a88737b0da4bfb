package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Brownie44l1/mri-api/internal/model"
	"github.com/Brownie44l1/mri-api/internal/pipeline"
	"github.com/Brownie44l1/mri-api/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PredictionLog records results. A nil log disables the history endpoint.
type PredictionLog interface {
	Insert(ctx context.Context, id uuid.UUID, requestID, filename string, res model.ClassificationResult) error
	Recent(ctx context.Context, limit int) ([]store.Prediction, error)
}

type Handler struct {
	pipeline *pipeline.Pipeline
	log      PredictionLog
	timeout  time.Duration
	maxBytes int64
}

func NewHandler(p *pipeline.Pipeline, predictions PredictionLog, timeout time.Duration, maxBytes int64) *Handler {
	return &Handler{
		pipeline: p,
		log:      predictions,
		timeout:  timeout,
		maxBytes: maxBytes,
	}
}

var allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

func (h *Handler) Health(c *gin.Context) {
	if err := h.pipeline.Available(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "model_unavailable", "error": err.Error()})
		return
	}
	meta := h.pipeline.Metadata()
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"classes":    meta.Classes,
		"image_size": meta.ImageSize,
	})
}

// Predict classifies a tensor that the caller has already preprocessed.
func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxTensorBytes())

	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	res, err := h.run(c, func(ctx context.Context) (model.ClassificationResult, error) {
		return h.pipeline.ClassifyTensor(ctx, req.Image)
	})
	if err != nil {
		h.fail(c, err, http.StatusBadRequest)
		return
	}

	h.record(c, "", res)
	c.JSON(http.StatusOK, model.NewPredictionResponse(res))
}

// maxTensorBytes bounds a JSON tensor body at 24 bytes per value.
func (h *Handler) maxTensorBytes() int64 {
	return int64(h.pipeline.InputSize())*24 + 1024
}

func (h *Handler) PredictFromImage(c *gin.Context) {
	if h.maxBytes > 0 {
		// Leave room for the multipart envelope around the file.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}

	header, err := c.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided. Use 'image' as the form field name"})
		return
	}

	if ext := strings.ToLower(filepath.Ext(header.Filename)); !allowedExtensions[ext] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Unsupported file type. Supported: jpg, jpeg, png"})
		return
	}
	if h.maxBytes > 0 && header.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	log.Printf("[%s] Received file: %s, size: %d bytes", requestID(c), header.Filename, len(data))

	res, err := h.run(c, func(ctx context.Context) (model.ClassificationResult, error) {
		return h.pipeline.Classify(ctx, data)
	})
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError)
		return
	}

	log.Printf("[%s] Predicted %s (%.2f%%)", requestID(c), res.Class, res.Confidence*100)
	h.record(c, header.Filename, res)
	c.JSON(http.StatusOK, model.NewPredictionResponse(res))
}

// Predictions lists the most recent logged results.
func (h *Handler) Predictions(c *gin.Context) {
	if h.log == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Prediction log is disabled"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 200)
	}

	items, err := h.log.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Printf("[%s] Listing predictions failed: %v", requestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list predictions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": items})
}

// run bounds a classification by the request timeout. A timed out forward
// pass finishes in the background and its result is dropped.
func (h *Handler) run(c *gin.Context, fn func(context.Context) (model.ClassificationResult, error)) (model.ClassificationResult, error) {
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	type outcome struct {
		res model.ClassificationResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(ctx)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return model.ClassificationResult{}, ctx.Err()
	}
}

// fail maps pipeline errors to status codes. shapeStatus depends on whether
// the caller or the server built the tensor.
func (h *Handler) fail(c *gin.Context, err error, shapeStatus int) {
	status, msg := http.StatusInternalServerError, "Prediction failed"
	switch {
	case errors.Is(err, model.ErrModelUnavailable):
		status, msg = http.StatusServiceUnavailable, "Model unavailable"
	case errors.Is(err, model.ErrUnsupportedFormat):
		status, msg = http.StatusUnsupportedMediaType, "Unsupported image format. Supported: JPEG, PNG"
	case errors.Is(err, model.ErrDecode):
		status, msg = http.StatusBadRequest, "Invalid image"
	case errors.Is(err, model.ErrTooLarge):
		status, msg = http.StatusRequestEntityTooLarge, "Image too large"
	case errors.Is(err, model.ErrShapeMismatch):
		status, msg = shapeStatus, "Input does not match the model shape"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "Prediction timed out"
	case errors.Is(err, context.Canceled):
		status, msg = 499, "Request cancelled"
	}

	log.Printf("[%s] Prediction error: %v", requestID(c), err)
	c.JSON(status, gin.H{"error": msg, "details": err.Error()})
}

// record logs a result under a fresh row id. The request id is kept
// alongside it since clients may resend the same one.
func (h *Handler) record(c *gin.Context, filename string, res model.ClassificationResult) {
	if h.log == nil {
		return
	}
	if err := h.log.Insert(c.Request.Context(), uuid.New(), requestID(c), filename, res); err != nil {
		log.Printf("[%s] Failed to log prediction: %v", requestID(c), err)
	}
}
