package effects

import (
	"fmt"
	"math"
	"strings"

	"github.com/ivlev/topic2video/internal/config"
)

// Effect builds the ffmpeg filter chain that animates one still image.
type Effect interface {
	GenerateFilter(params config.SegmentParams) string
}

// KenBurns zooms slowly into the image over the whole segment.
type KenBurns struct{}

// maxZoom caps how far a long segment zooms in.
const maxZoom = 1.3

var anchors = []string{"center", "top-left", "top-right", "bottom-left", "bottom-right"}

func (e *KenBurns) GenerateFilter(p config.SegmentParams) string {
	mode := strings.ToLower(p.ZoomMode)
	if mode == "random" || mode == "" {
		// Deterministic per layer so a re-render produces the same video.
		mode = anchors[p.LayerIndex%len(anchors)]
	}

	var zoomX, zoomY string
	switch mode {
	case "top-left":
		zoomX, zoomY = "0", "0"
	case "top-right":
		zoomX, zoomY = "iw-(iw/zoom)", "0"
	case "bottom-left":
		zoomX, zoomY = "0", "ih-(ih/zoom)"
	case "bottom-right":
		zoomX, zoomY = "iw-(iw/zoom)", "ih-(ih/zoom)"
	case "focus":
		fx, fy := p.FocusX, p.FocusY
		if fx == 0 && fy == 0 {
			fx, fy = 0.5, 0.5
		}
		zoomX = fmt.Sprintf("max(0,min(iw-iw/zoom,iw*%.4f-iw/zoom/2))", fx)
		zoomY = fmt.Sprintf("max(0,min(ih-ih/zoom,ih*%.4f-ih/zoom/2))", fy)
	case "none":
		return staticFilter(p)
	default: // center
		zoomX, zoomY = "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"
	}

	frames := int(math.Max(math.Round(p.Duration*float64(p.FPS)), 1))

	zSpeed := p.ZoomSpeed
	if zSpeed <= 0 {
		zSpeed = 0.001
	}
	// Frame at which the zoom reaches maxZoom and holds.
	peakFrame := (maxZoom - 1.0) / zSpeed

	zFormula := fmt.Sprintf("if(lte(on,%f),1.0+(%f*on),%f)", peakFrame, zSpeed, maxZoom)

	// Upscale first so zoompan's integer crop does not jitter.
	aspectFilter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		p.Width*2, p.Height*2, p.Width*2, p.Height*2,
	)

	zoomFilter := fmt.Sprintf(
		"zoompan=z='%s':d=%d:s=%dx%d:x='%s':y='%s':fps=%d",
		zFormula, frames, p.Width, p.Height, zoomX, zoomY, p.FPS,
	)

	return fmt.Sprintf("%s,%s,setsar=1", aspectFilter, zoomFilter)
}

func staticFilter(p config.SegmentParams) string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d",
		p.Width, p.Height, p.Width, p.Height, p.FPS)
}
