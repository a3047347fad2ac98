package asset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// fallbackColor matches the dark backdrop shown when no visual is available.
var fallbackColor = color.RGBA{R: 30, G: 30, B: 30, A: 255}

// EnsureFallback returns a readable placeholder image path. A user supplied
// image is used when it decodes; otherwise a flat PNG of width x height is
// written to the cache directory once.
func EnsureFallback(cache *Cache, custom string, width, height int) (string, error) {
	if custom != "" {
		if readableImage(custom) {
			return custom, nil
		}
		return "", fmt.Errorf("fallback image %s is not a readable image", custom)
	}
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}

	path := filepath.Join(cache.Dir(), fallbackName)
	if readableImage(path) {
		return path, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(fallbackColor), image.Point{}, draw.Src)

	tmp, err := os.CreateTemp(cache.Dir(), "fallback.*.tmp")
	if err != nil {
		return "", fmt.Errorf("fallback: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return "", fmt.Errorf("fallback: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("fallback: commit: %w", err)
	}
	return path, nil
}
