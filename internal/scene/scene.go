// Package scene splits a timestamped script into ordered scenes.
//
// A script is a sequence of segments introduced by range markers such as
// "[0:05-0:12]". Text inside parentheses is the visual description for the
// segment; the rest is the caption that is narrated and shown on screen.
package scene

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MinDuration is the floor applied to Scene.Duration, in seconds.
const MinDuration = 1.0

// DefaultVisualDescription is used when a segment carries no parenthesized text.
const DefaultVisualDescription = "soft abstract gradient backdrop, cinematic lighting"

// ErrNoScenes is returned by callers that require at least one scene.
var ErrNoScenes = errors.New("script contains no timestamped scenes")

// Scene is one timed segment of the script. It is never modified after Parse.
type Scene struct {
	Index             int     `yaml:"index" json:"index"`
	Start             float64 `yaml:"start" json:"start"`
	End               float64 `yaml:"end" json:"end"`
	Caption           string  `yaml:"caption" json:"caption"`
	VisualDescription string  `yaml:"visual_description" json:"visual_description"`
}

// Duration returns End-Start floored at MinDuration.
func (s Scene) Duration() float64 {
	d := s.End - s.Start
	if d < MinDuration {
		return MinDuration
	}
	return d
}

// Dropped describes a segment the parser refused.
type Dropped struct {
	Marker string
	Offset int
	Reason string
}

var (
	// Both sides must contain a colon; the components are validated later so
	// that a malformed marker still bounds its own segment.
	markerPattern = regexp.MustCompile(`\[\s*([^\[\]\-:]*:[^\[\]\-]*?)\s*-\s*([^\[\]\-:]*:[^\[\]\-]*?)\s*\]`)
	parenPattern  = regexp.MustCompile(`\(([^()]*)\)`)
	bracketStrip  = regexp.MustCompile(`\[[^\]]*\]`)
	// Speaker labels are recognized only where a line begins with one.
	labelPattern  = regexp.MustCompile(`(?im)^[ \t]*(visuals?|narrator|voice[ \t]?over|vo)[ \t]*:`)
	spacePattern  = regexp.MustCompile(`\s+`)
	leadingLabel  = regexp.MustCompile(`(?i)^\s*visuals?\s*:\s*`)
)

// Parse returns the scenes of text in marker order. Segments with a bad
// timestamp or out-of-order timing are skipped; use ParseWithReport to see
// why. A marker with no text still yields a scene with an empty caption.
func Parse(text string) []Scene {
	scenes, _ := ParseWithReport(text)
	return scenes
}

// ParseWithReport is Parse plus the list of dropped segments.
func ParseWithReport(text string) ([]Scene, []Dropped) {
	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	var (
		scenes  []Scene
		dropped []Dropped
		lastEnd float64
	)

	for i, m := range matches {
		bodyEnd := len(text)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1][0]
		}
		marker := text[m[0]:m[1]]
		body := text[m[1]:bodyEnd]
		drop := func(reason string) {
			dropped = append(dropped, Dropped{Marker: marker, Offset: m[0], Reason: reason})
		}

		start, err := parseClock(text[m[2]:m[3]])
		if err != nil {
			drop(err.Error())
			continue
		}
		end, err := parseClock(text[m[4]:m[5]])
		if err != nil {
			drop(err.Error())
			continue
		}
		if end <= start {
			drop(fmt.Sprintf("end %.0fs is not after start %.0fs", end, start))
			continue
		}
		if len(scenes) > 0 && start < lastEnd {
			drop(fmt.Sprintf("start %.0fs overlaps previous scene ending at %.0fs", start, lastEnd))
			continue
		}

		caption, visual := splitBody(body)
		if visual == "" {
			visual = DefaultVisualDescription
		}

		scenes = append(scenes, Scene{
			Index:             len(scenes),
			Start:             start,
			End:               end,
			Caption:           caption,
			VisualDescription: visual,
		})
		lastEnd = end
	}

	return scenes, dropped
}

// FullText joins the captions of scenes into narration text.
func FullText(scenes []Scene) string {
	parts := make([]string, 0, len(scenes))
	for _, s := range scenes {
		if s.Caption != "" {
			parts = append(parts, s.Caption)
		}
	}
	return strings.Join(parts, " ")
}

// parseClock converts "m:ss" to seconds.
func parseClock(s string) (float64, error) {
	minPart, secPart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("timestamp %q is not m:ss", s)
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(minPart))
	if err != nil || minutes < 0 {
		return 0, fmt.Errorf("timestamp %q has invalid minutes", s)
	}
	secPart = strings.TrimSpace(secPart)
	seconds, err := strconv.Atoi(secPart)
	if err != nil || seconds < 0 || len(secPart) != 2 {
		return 0, fmt.Errorf("timestamp %q has invalid seconds", s)
	}
	if seconds >= 60 {
		return 0, fmt.Errorf("timestamp %q has seconds out of range", s)
	}
	return float64(minutes*60 + seconds), nil
}

func splitBody(body string) (caption, visual string) {
	if m := parenPattern.FindStringSubmatch(body); m != nil {
		visual = cleanText(leadingLabel.ReplaceAllString(m[1], ""))
	}
	rest := parenPattern.ReplaceAllString(body, " ")
	rest = bracketStrip.ReplaceAllString(rest, " ")
	rest = strings.ReplaceAll(rest, "*", "")
	rest = labelPattern.ReplaceAllString(rest, " ")
	caption = cleanText(rest)
	return caption, visual
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "*", "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
