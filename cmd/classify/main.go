// Command classify runs the MRI classifier over local files or directories.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/mri-api/internal/config"
	"github.com/Brownie44l1/mri-api/internal/pipeline"
	"github.com/cheggaaa/pb/v3"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

func main() {
	cfg := config.Load()
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "path to the ONNX model")
	flag.StringVar(&cfg.MetadataPath, "metadata", cfg.MetadataPath, "path to the model metadata JSON")
	flag.StringVar(&cfg.Interpolation, "interpolation", cfg.Interpolation, "resize filter: nearest, bilinear, bicubic, lanczos3")
	flag.StringVar(&cfg.Normalization, "normalization", cfg.Normalization, "pixel normalization: rescale, medical")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: classify [flags] path...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	files, err := collect(flag.Args())
	if err != nil {
		log.Fatalf("Failed to list inputs: %v", err)
	}

	p, closeModel, err := pipeline.Setup(cfg)
	if err != nil {
		log.Fatalf("Invalid preprocessing config: %v", err)
	}
	defer closeModel()
	if err := p.Available(); err != nil {
		log.Fatalf("%v", err)
	}

	failed := 0
	bar := pb.StartNew(len(files))
	for _, path := range files {
		bar.Increment()
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("%s\terror\t%v\n", path, err)
			failed++
			continue
		}
		res, err := p.Classify(context.Background(), data)
		if err != nil {
			fmt.Printf("%s\terror\t%v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("%s\t%s\t%.2f%%\n", path, res.Class, res.Confidence*100)
	}
	bar.Finish()

	log.Printf("Classified %d of %d files", len(files)-failed, len(files))
}

// collect expands directories into the image files they contain.
func collect(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
