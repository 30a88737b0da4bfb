package pipeline

import (
	"log"

	"github.com/Brownie44l1/mri-api/internal/config"
	"github.com/Brownie44l1/mri-api/internal/model"
)

// Setup loads the model once and builds the pipeline. A model that fails
// to load is reported here and then held as unavailable. Only invalid
// preprocessing settings are returned as errors.
func Setup(cfg *config.Config) (*Pipeline, func(), error) {
	interp, err := ParseInterpolation(cfg.Interpolation)
	if err != nil {
		return nil, nil, err
	}
	norm, err := ParseNormalization(cfg.Normalization)
	if err != nil {
		return nil, nil, err
	}

	opts := Options{
		Metadata:      model.DefaultMetadata(),
		Interpolation: interp,
		Normalization: norm,
		MaxBytes:      cfg.MaxUploadBytes,
		MaxDim:        cfg.MaxImageDim,
	}

	log.Printf("Loading model from: %s", cfg.ModelPath)
	srv, err := model.NewServer(cfg.ModelPath, cfg.MetadataPath, cfg.ORTLibraryPath)
	if err != nil {
		log.Printf("Model unavailable: %v", err)
		return New(nil, err, opts), func() {}, nil
	}

	opts.Metadata = srv.Metadata
	log.Printf("Classes: %v, layout %s, normalization %s", srv.Metadata.Classes, srv.Metadata.Layout, norm)
	return New(srv, nil, opts), srv.Close, nil
}
