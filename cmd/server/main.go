package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/mri-api/internal/config"
	"github.com/Brownie44l1/mri-api/internal/handlers"
	"github.com/Brownie44l1/mri-api/internal/pipeline"
	"github.com/Brownie44l1/mri-api/internal/store"
)

func main() {
	cfg := config.Load()

	p, closeModel, err := pipeline.Setup(cfg)
	if err != nil {
		log.Fatalf("Invalid preprocessing config: %v", err)
	}
	defer closeModel()

	// Keep the interface nil when the log is disabled.
	var predictions handlers.PredictionLog
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		repo, err := store.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("Failed to open prediction log: %v", err)
		}
		defer repo.Close()
		predictions = repo
		log.Println("Prediction log enabled")
	}

	handler := handlers.NewHandler(p, predictions, cfg.RequestTimeout, cfg.MaxUploadBytes)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(handler),
	}

	log.Printf("Server starting on port %s", cfg.Port)
	log.Println("Endpoints:")
	log.Println("  GET  /health        - Health check")
	log.Println("  POST /predict       - Raw tensor prediction")
	log.Println("  POST /predict/image - Predict from image upload")
	log.Println("  GET  /predictions   - Recent predictions")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	if err := serve(srv, quit); err != nil {
		log.Printf("Server failed: %v", err)
	}
}

// serve runs srv until it fails or quit fires, then shuts it down.
// It returns so that deferred cleanup in main still runs.
func serve(srv *http.Server, quit <-chan os.Signal) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}
