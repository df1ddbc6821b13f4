// Package config loads conscript settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/labstack/gommon/bytes"

	"github.com/tmpim/conscript"
)

// Config is the full configuration file.
type Config struct {
	Image  ImageConfig  `toml:"image"`
	Video  VideoConfig  `toml:"video"`
	Server ServerConfig `toml:"server"`
}

// ImageConfig controls single image export.
type ImageConfig struct {
	Width          int    `toml:"width"`
	Height         int    `toml:"height"`
	KeepAlpha      bool   `toml:"keep_alpha"`
	AlphaThreshold int    `toml:"alpha_threshold"`
	Print          string `toml:"print"`
	Wait           int    `toml:"wait"`
}

// VideoConfig controls animation export.
type VideoConfig struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Print  string `toml:"print"`
	Ext    string `toml:"ext"`

	// FrameWait holds every frame for a fixed number of wait ticks. When
	// zero, the wait is derived from FPS (or the source rate) and TickRate.
	FrameWait int     `toml:"frame_wait"`
	FPS       float64 `toml:"fps"`
	TickRate  float64 `toml:"tick_rate"`

	Workers int    `toml:"workers"`
	TempDir string `toml:"temp_dir"`
}

// ServerConfig controls cmd/conserver.
type ServerConfig struct {
	Listen    string `toml:"listen"`
	OutputDir string `toml:"output_dir"`

	// BodyLimit caps uploaded images, in echo's size notation ("8M").
	BodyLimit string `toml:"body_limit"`
	// MaxDimension caps the width and height of generated scripts.
	MaxDimension int `toml:"max_dimension"`
	// MaxSourceDimension caps the width and height of uploaded images.
	MaxSourceDimension int `toml:"max_source_dimension"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Image: ImageConfig{
			Width:          60,
			Height:         40,
			AlphaThreshold: conscript.DefaultAlphaThreshold,
			Print:          string(conscript.Say),
			Wait:           5,
		},
		Video: VideoConfig{
			Width:     60,
			Height:    40,
			Print:     string(conscript.Say),
			Ext:       conscript.DefaultExt,
			FrameWait: 6,
			TickRate:  60,
		},
		Server: ServerConfig{
			Listen:             ":9999",
			OutputDir:          "output",
			BodyLimit:          "8M",
			MaxDimension:       512,
			MaxSourceDimension: 4096,
		},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("conscript config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse reads configuration from a TOML document over the defaults.
func Parse(data string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("conscript config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func checkUndecoded(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	return fmt.Errorf("conscript config: unknown keys: %s", strings.Join(keys, ", "))
}

// Validate checks the configuration for values the encoder would reject.
func (c Config) Validate() error {
	if _, err := conscript.ParsePrintMethod(c.Image.Print); err != nil {
		return fmt.Errorf("conscript config: image: %w", err)
	}
	if _, err := conscript.ParsePrintMethod(c.Video.Print); err != nil {
		return fmt.Errorf("conscript config: video: %w", err)
	}
	if c.Image.Wait < 0 {
		return errors.New("conscript config: image: wait must not be negative")
	}
	if c.Image.AlphaThreshold < 1 || c.Image.AlphaThreshold > 255 {
		return errors.New("conscript config: image: alpha_threshold must be within 1-255")
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return errors.New("conscript config: video: width and height must be specified")
	}
	if c.Video.FrameWait < 0 {
		return errors.New("conscript config: video: frame_wait must not be negative")
	}
	if c.Video.FrameWait == 0 && c.Video.TickRate <= 0 {
		return errors.New("conscript config: video: tick_rate is required without frame_wait")
	}
	if _, err := bytes.Parse(c.Server.BodyLimit); err != nil {
		return fmt.Errorf("conscript config: server: body_limit: %w", err)
	}
	if c.Server.MaxDimension <= 0 || c.Server.MaxSourceDimension <= 0 {
		return errors.New("conscript config: server: max_dimension and max_source_dimension must be positive")
	}
	return nil
}

// FrameRate returns the frame rate, in frames per wait tick, to pack a video
// with. sourceFPS is used when no fps is configured.
func (v VideoConfig) FrameRate(sourceFPS float64) float64 {
	if v.FrameWait > 0 {
		return 1 / float64(v.FrameWait)
	}
	fps := v.FPS
	if fps <= 0 {
		fps = sourceFPS
	}
	return conscript.FrameRateFromFPS(fps, v.TickRate)
}
