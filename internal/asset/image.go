package asset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// minPayloadBytes filters out error bodies served with a 200.
	minPayloadBytes = 100
	// MaxDimension is the largest side stored in the cache.
	MaxDimension = 4096
	jpegQuality  = 92
)

// ErrInvalidImage marks a payload that is not a usable image.
var ErrInvalidImage = errors.New("invalid image payload")

// ValidateImage decodes data and returns the image and its format name.
func ValidateImage(data []byte) (image.Image, string, error) {
	if len(data) < minPayloadBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrInvalidImage, len(data))
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: empty bounds %v", ErrInvalidImage, b)
	}
	return img, format, nil
}

// normalizeJPEG returns data as a JPEG no larger than MaxDimension per side.
// JPEG payloads within bounds are returned unchanged.
func normalizeJPEG(data []byte) ([]byte, error) {
	img, format, err := ValidateImage(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if format == "jpeg" && b.Dx() <= MaxDimension && b.Dy() <= MaxDimension {
		return data, nil
	}

	w, h := b.Dx(), b.Dy()
	if w > MaxDimension || h > MaxDimension {
		scale := float64(MaxDimension) / float64(max(w, h))
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}

	// Flatten onto black so transparent PNG/WebP areas do not turn grey.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ValidateImageFile is ValidateImage for a file on disk.
func ValidateImageFile(path string) (image.Image, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return ValidateImage(data)
}

// readableImage reports whether path holds a fully decodable image.
func readableImage(path string) bool {
	_, _, err := ValidateImageFile(path)
	return err == nil
}
