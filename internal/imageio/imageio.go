// Package imageio encodes captured frames for disk and decodes the
// files written by external capture tools.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/bryanchriswhite/ScreenCap/internal/naming"
	"github.com/disintegration/imaging"

	// Interactive tools may be configured to emit any of these.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// JPEGQuality matches the 0.9 compression factor screenshots were
// always saved with.
const JPEGQuality = 90

var dragBackdrop = color.NRGBA{A: 26}

// Encode serializes img with the given format's codec.
func Encode(img image.Image, format naming.Format) ([]byte, error) {
	buf := new(bytes.Buffer)
	switch format.Encoding {
	case naming.EncodingJPEG:
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		if err := png.Encode(buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode PNG: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// EncodePNG is Encode with the PNG codec.
func EncodePNG(img image.Image) ([]byte, error) {
	return Encode(img, naming.PNG)
}

// Load decodes the image stored at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// FitSize returns the size of src scaled down to fit within max,
// preserving the aspect ratio. Images that already fit are unchanged.
func FitSize(src image.Point, max image.Point) image.Point {
	if src.X <= 0 || src.Y <= 0 {
		return image.Point{}
	}
	if src.X <= max.X && src.Y <= max.Y {
		return src
	}
	aspect := float64(src.X) / float64(src.Y)
	if aspect > 1 {
		return image.Pt(max.X, maxInt(1, int(float64(max.X)/aspect)))
	}
	return image.Pt(maxInt(1, int(float64(max.Y)*aspect)), max.Y)
}

// Fit resizes img to FitSize(img, max) with a Lanczos filter.
func Fit(img image.Image, max image.Point) *image.NRGBA {
	size := FitSize(img.Bounds().Size(), max)
	if size == img.Bounds().Size() {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, size.X, size.Y, imaging.Lanczos)
}

// DragIcon renders the square thumbnail shown under the pointer while
// dragging: a translucent backdrop with the image inset by 4px.
func DragIcon(img image.Image, side int) *image.NRGBA {
	backdrop := imaging.New(side, side, dragBackdrop)
	inner := side - 8
	if inner <= 0 {
		return backdrop
	}
	thumb := imaging.Fit(img, inner, inner, imaging.Linear)
	return imaging.PasteCenter(backdrop, thumb)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
