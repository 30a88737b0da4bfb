package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	ModelPath      string
	MetadataPath   string
	ORTLibraryPath string

	MaxUploadBytes int64
	MaxImageDim    int
	RequestTimeout time.Duration
	Interpolation  string
	Normalization  string

	DatabaseURL string
}

// Load reads an optional .env file, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	return &Config{
		Port: getEnv("PORT", "8080"),

		ModelPath:      getEnv("MODEL_PATH", "models/model.onnx"),
		MetadataPath:   getEnv("METADATA_PATH", "models/model_metadata.json"),
		ORTLibraryPath: getEnv("ORT_LIBRARY_PATH", ""),

		MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),
		MaxImageDim:    getInt("MAX_IMAGE_DIM", 8192),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 30*time.Second),
		Interpolation:  getEnv("INTERPOLATION", "bilinear"),
		Normalization:  getEnv("NORMALIZATION", "rescale"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("Invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		log.Printf("Invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return v
}
