// Package analyzer locates the visually busiest region of an image so the
// camera move can drift toward it.
package analyzer

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Point is a position in normalized image coordinates (0..1 on each axis).
type Point struct {
	X, Y float64
}

// Center is used when an image has no usable detail.
var Center = Point{X: 0.5, Y: 0.5}

// FocusDetector finds the edge-weighted centroid of an image.
type FocusDetector struct {
	// SampleWidth is the width images are reduced to before analysis.
	SampleWidth int
	// EdgeThreshold is the Sobel magnitude below which pixels are ignored.
	EdgeThreshold float64
}

func NewFocusDetector() *FocusDetector {
	return &FocusDetector{SampleWidth: 160, EdgeThreshold: 30}
}

// Focus returns the point the camera should favour.
func (d *FocusDetector) Focus(img image.Image) Point {
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return Center
	}

	w := min(d.SampleWidth, b.Dx())
	h := max(3, int(math.Round(float64(b.Dy())*float64(w)/float64(b.Dx()))))
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, b, draw.Src, nil)

	var sum, sx, sy float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			mag := sobel(gray, x, y)
			if mag < d.EdgeThreshold {
				continue
			}
			sum += mag
			sx += mag * float64(x)
			sy += mag * float64(y)
		}
	}
	if sum == 0 {
		return Center
	}
	return Point{
		X: clamp01(sx / sum / float64(w-1)),
		Y: clamp01(sy / sum / float64(h-1)),
	}
}

func sobel(g *image.Gray, x, y int) float64 {
	at := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x]) }
	gx := -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) +
		at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
	gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
		at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
	return math.Hypot(gx, gy)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
