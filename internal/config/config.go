package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Paths     Paths     `yaml:"paths"`
	Script    Script    `yaml:"script"`
	Narration Narration `yaml:"narration"`
	Assets    Assets    `yaml:"assets"`
	Video     Video     `yaml:"video"`
	Logging   Logging   `yaml:"logging"`
	History   History   `yaml:"history"`
}

type Paths struct {
	OutputDir string `yaml:"output_dir"`
	CacheDir  string `yaml:"cache_dir"`
	TempDir   string `yaml:"temp_dir"`
}

type Script struct {
	// Provider is "gemini" or "file".
	Provider string `yaml:"provider"`
	File     string `yaml:"file"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  int    `yaml:"timeout_seconds"`
}

type Narration struct {
	// Provider is "command" or "file".
	Provider string   `yaml:"provider"`
	File     string   `yaml:"file"`
	// Command is a TTS command template; {text_file} and {output} are substituted.
	Command  []string `yaml:"command"`
	Format   string   `yaml:"format"`
}

type Assets struct {
	Backend        string  `yaml:"backend"`
	Concurrency    int     `yaml:"concurrency"`
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffSeconds float64 `yaml:"backoff_seconds"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst"`
	FallbackImage  string  `yaml:"fallback_image"`
	// CacheTTLHours of 0 keeps cache entries forever.
	CacheTTLHours  int     `yaml:"cache_ttl_hours"`

	PollinationsURL string `yaml:"pollinations_url"`
	StabilityURL    string `yaml:"stability_url"`
	StabilityAPIKey string `yaml:"stability_api_key"`
	SessionURL      string `yaml:"session_url"`
	SessionState    string `yaml:"session_state"`
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
}

type Video struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	FPS       int     `yaml:"fps"`
	ZoomMode  string  `yaml:"zoom_mode"`
	ZoomSpeed float64 `yaml:"zoom_speed"`
	Quality   int     `yaml:"quality"`
	Encoder   string  `yaml:"encoder"`
	Captions  bool    `yaml:"captions"`
	FontSize  int     `yaml:"font_size"`
	Workers   int     `yaml:"workers"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SegmentParams describes one still-image segment handed to an effect.
type SegmentParams struct {
	Width, Height  int
	FPS            int
	Duration       float64
	ZoomMode       string
	ZoomSpeed      float64
	LayerIndex     int
	// FocusX, FocusY are the normalized point a "focus" zoom drifts toward.
	FocusX, FocusY float64
}

// Default returns a Config with the values used when no file is present.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: "outputs",
			CacheDir:  "cache/images",
			TempDir:   "temp",
		},
		Script: Script{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  60,
		},
		Narration: Narration{
			Provider: "command",
			Command:  []string{"espeak-ng", "-f", "{text_file}", "-w", "{output}"},
			Format:   "wav",
		},
		Assets: Assets{
			Backend:         "pollinations",
			Concurrency:     4,
			MaxAttempts:     3,
			BackoffSeconds:  2,
			TimeoutSeconds:  60,
			RatePerSecond:   1,
			RateBurst:       2,
			PollinationsURL: "https://image.pollinations.ai/prompt/",
			StabilityURL:    "https://api.stability.ai/v2beta/stable-image/generate/sd3",
			Width:           1280,
			Height:          720,
		},
		Video: Video{
			Width:     1280,
			Height:    720,
			FPS:       24,
			ZoomMode:  "center",
			ZoomSpeed: 0.0008,
			Captions:  true,
			FontSize:  32,
		},
		Logging: Logging{
			Level:  "info",
			Format: "",
		},
		History: History{
			Enabled: true,
			Path:    "outputs/history.db",
		},
	}
}

// Load reads a YAML config on top of Default. A missing file is not an error.
// Secrets are taken from the environment (and a .env file) when unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if c.Script.APIKey == "" {
		c.Script.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Assets.StabilityAPIKey == "" {
		c.Assets.StabilityAPIKey = os.Getenv("STABILITY_API_KEY")
	}
	if c.Assets.SessionState == "" {
		c.Assets.SessionState = os.Getenv("T2V_SESSION_STATE")
	}
	if v := os.Getenv("T2V_IMAGE_BACKEND"); v != "" {
		c.Assets.Backend = v
	}
}

func (c *Config) normalize() {
	c.Assets.Backend = strings.ToLower(strings.TrimSpace(c.Assets.Backend))
	c.Script.Provider = strings.ToLower(strings.TrimSpace(c.Script.Provider))
	c.Narration.Provider = strings.ToLower(strings.TrimSpace(c.Narration.Provider))
	if c.Assets.Concurrency <= 0 {
		c.Assets.Concurrency = 4
	}
	if c.Assets.MaxAttempts <= 0 {
		c.Assets.MaxAttempts = 1
	}
	if c.Video.FPS <= 0 {
		c.Video.FPS = 24
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.Assets.Backend {
	case "pollinations", "stability", "session":
	default:
		return fmt.Errorf("assets.backend: unsupported value %q", c.Assets.Backend)
	}
	switch c.Script.Provider {
	case "gemini", "file":
	default:
		return fmt.Errorf("script.provider: unsupported value %q", c.Script.Provider)
	}
	switch c.Narration.Provider {
	case "command", "file":
	default:
		return fmt.Errorf("narration.provider: unsupported value %q", c.Narration.Provider)
	}
	if c.Narration.Provider == "command" && len(c.Narration.Command) == 0 {
		return errors.New("narration.command must be set for the command provider")
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return errors.New("video.width and video.height must be positive")
	}
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return errors.New("video.width and video.height must be even")
	}
	switch strings.ToLower(c.Video.ZoomMode) {
	case "", "center", "top-left", "top-right", "bottom-left", "bottom-right", "random", "focus", "none":
	default:
		return fmt.Errorf("video.zoom_mode: unsupported value %q", c.Video.ZoomMode)
	}
	if c.Assets.BackoffSeconds < 0 {
		return errors.New("assets.backoff_seconds must not be negative")
	}
	if c.Paths.CacheDir == "" {
		return errors.New("paths.cache_dir must be set")
	}
	return nil
}

func (a Assets) Backoff() time.Duration {
	return time.Duration(a.BackoffSeconds * float64(time.Second))
}

func (a Assets) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a Assets) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLHours) * time.Hour
}
