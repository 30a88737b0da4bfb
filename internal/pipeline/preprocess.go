package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/Brownie44l1/mri-api/internal/model"
	"github.com/nfnt/resize"
)

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation maps a config name to a resize filter. Empty means bilinear.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	if name == "" {
		return resize.Bilinear, nil
	}
	f, ok := interpolations[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown interpolation %q", name)
	}
	return f, nil
}

var acceptedFormats = map[string]bool{"jpeg": true, "png": true}

// Decode turns uploaded bytes into an image. Sizes are checked from the
// header before any pixel data is decoded.
func Decode(data []byte, maxBytes int64, maxDim int) (image.Image, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", model.ErrTooLarge, len(data), maxBytes)
	}

	// Images of other kinds are turned away before decode; anything else
	// falls through and fails as a decode error.
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") &&
		ct != "image/jpeg" && ct != "image/png" {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedFormat, ct)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	if !acceptedFormats[format] {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", model.ErrDecode, cfg.Width, cfg.Height)
	}
	if maxDim > 0 && (cfg.Width > maxDim || cfg.Height > maxDim) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d per side", model.ErrTooLarge, cfg.Width, cfg.Height, maxDim)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	return img, nil
}

// ToRGB copies img into an opaque NRGBA image anchored at the origin.
// Alpha is dropped, not composited, and gray images are expanded.
func ToRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// Resize scales img to size×size. Images already at that size are returned as is.
func Resize(img *image.NRGBA, size int, interp resize.InterpolationFunction) image.Image {
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		return img
	}
	return resize.Resize(uint(size), uint(size), img, interp)
}

// Pixels flattens img into 8-bit RGB values in the given tensor layout.
func Pixels(img image.Image, layout string) []uint8 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	plane := width * height
	out := make([]uint8, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*width + x
			if layout == model.LayoutNCHW {
				out[i] = c.R
				out[plane+i] = c.G
				out[2*plane+i] = c.B
			} else {
				out[3*i] = c.R
				out[3*i+1] = c.G
				out[3*i+2] = c.B
			}
		}
	}
	return out
}
