// Package timeline lays resolved scene images and captions onto a single
// track whose length is the narration length.
package timeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/ivlev/topic2video/internal/asset"
	"github.com/ivlev/topic2video/internal/scene"
)

// epsilon absorbs float noise when comparing layer boundaries.
const epsilon = 1e-6

var (
	ErrNoScenes        = errors.New("timeline: no scenes to compose")
	ErrInvalidDuration = errors.New("timeline: total duration must be positive")
	ErrUnorderedScenes = errors.New("timeline: scenes are not in start order")
	ErrInvalidTimeline = errors.New("timeline: invalid layout")
)

// Timeline is the renderer's input. Times are in seconds.
type Timeline struct {
	TotalDuration float64        `yaml:"total_duration"`
	FallbackImage string         `yaml:"fallback_image,omitempty"`
	Images        []ImageLayer   `yaml:"images"`
	Captions      []CaptionLayer `yaml:"captions,omitempty"`
}

type ImageLayer struct {
	SceneIndex int          `yaml:"scene"`
	ImagePath  string       `yaml:"image"`
	Source     asset.Source `yaml:"source,omitempty"`
	Start      float64      `yaml:"start"`
	Duration   float64      `yaml:"duration"`
}

// End returns Start+Duration.
func (l ImageLayer) End() float64 { return l.Start + l.Duration }

type CaptionLayer struct {
	SceneIndex int     `yaml:"scene"`
	Text       string  `yaml:"text"`
	Start      float64 `yaml:"start"`
	Duration   float64 `yaml:"duration"`
}

// Compose builds a Timeline for scenes. Each scene gets one image layer
// starting at its own start; a layer runs until the next scene starts, and
// the last one runs to total, so the track has no holes and ends exactly at
// total. Layers that would start at or past total collapse to zero length at
// total. A scene without a result uses fallbackPath.
func Compose(scenes []scene.Scene, results map[int]asset.Result, total float64, fallbackPath string) (*Timeline, error) {
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDuration, total)
	}
	for i := 1; i < len(scenes); i++ {
		if scenes[i].Start < scenes[i-1].Start {
			return nil, fmt.Errorf("%w: scene %d starts at %.3f before scene %d at %.3f",
				ErrUnorderedScenes, scenes[i].Index, scenes[i].Start, scenes[i-1].Index, scenes[i-1].Start)
		}
	}

	tl := &Timeline{
		TotalDuration: total,
		FallbackImage: fallbackPath,
		Images:        make([]ImageLayer, 0, len(scenes)),
	}
	for i, sc := range scenes {
		start := math.Min(math.Max(sc.Start, 0), total)
		end := total
		if i+1 < len(scenes) {
			end = math.Min(scenes[i+1].Start, total)
		}

		layer := ImageLayer{
			SceneIndex: sc.Index,
			ImagePath:  fallbackPath,
			Source:     asset.SourceFallback,
			Start:      start,
			Duration:   math.Max(end-start, 0),
		}
		if res, ok := results[sc.Index]; ok && res.ImagePath != "" {
			layer.ImagePath, layer.Source = res.ImagePath, res.Source
		}
		tl.Images = append(tl.Images, layer)

		if sc.Caption != "" {
			tl.Captions = append(tl.Captions, CaptionLayer{
				SceneIndex: sc.Index,
				Text:       sc.Caption,
				Start:      layer.Start,
				Duration:   layer.Duration,
			})
		}
	}
	return tl, nil
}

// Validate checks the layout a renderer relies on.
func (t *Timeline) Validate() error {
	if t == nil || len(t.Images) == 0 {
		return ErrNoScenes
	}
	if t.TotalDuration <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, t.TotalDuration)
	}
	for i, l := range t.Images {
		switch {
		case l.ImagePath == "":
			return fmt.Errorf("%w: layer %d has no image", ErrInvalidTimeline, i)
		case l.Start < -epsilon || l.Duration < -epsilon:
			return fmt.Errorf("%w: layer %d has negative timing", ErrInvalidTimeline, i)
		case l.End() > t.TotalDuration+epsilon:
			return fmt.Errorf("%w: layer %d ends at %.3f past %.3f", ErrInvalidTimeline, i, l.End(), t.TotalDuration)
		}
		if i == 0 {
			continue
		}
		prev := t.Images[i-1]
		if l.Start < prev.Start-epsilon {
			return fmt.Errorf("%w: layer %d starts before layer %d", ErrInvalidTimeline, i, i-1)
		}
		if l.Start > prev.End()+epsilon {
			return fmt.Errorf("%w: gap of %.3fs before layer %d", ErrInvalidTimeline, l.Start-prev.End(), i)
		}
	}
	if last := t.Images[len(t.Images)-1]; math.Abs(last.End()-t.TotalDuration) > epsilon {
		return fmt.Errorf("%w: last layer ends at %.3f, want %.3f", ErrInvalidTimeline, last.End(), t.TotalDuration)
	}
	return nil
}

// LeadIn returns the uncovered interval before the first layer, if any.
func (t *Timeline) LeadIn() float64 {
	if len(t.Images) == 0 {
		return 0
	}
	return t.Images[0].Start
}
