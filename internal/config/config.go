// Package config loads and validates Memoria's run configuration: a TOML
// file layered under command-line flag overrides, following the same
// load → normalize → validate shape the teacher's own config package uses.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds every knob a memoria run needs.
type Config struct {
	InputDir              string   `toml:"input_dir"`
	OutputDir             string   `toml:"output_dir"`
	Workers               int      `toml:"workers"`
	LogDir                string   `toml:"log_dir"`
	LogFormat             string   `toml:"log_format"`
	LogLevel              string   `toml:"log_level"`
	SkipUpload            bool     `toml:"skip_upload"`
	AllowCrossCategoryExt bool     `toml:"allow_cross_category_ext"`
	EncoderOverride       string   `toml:"encoder_override"`
	HTTPTimeoutSeconds    int      `toml:"http_timeout_seconds"`
	HTTPRetries           int      `toml:"http_retries"`
	BannedPatterns        []string `toml:"banned_patterns"`
	ExifToolPath          string   `toml:"exiftool_path"`
	FFmpegPath            string   `toml:"ffmpeg_path"`
	FFprobePath           string   `toml:"ffprobe_path"`
}

const (
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultHTTPTimeoutSeconds = 30
	defaultHTTPRetries        = 3
	defaultExifToolPath       = "exiftool"
	defaultFFmpegPath         = "ffmpeg"
	defaultFFprobePath        = "ffprobe"
)

// Defaults returns a Config populated with repository defaults. Workers
// defaults to 0, meaning "let internal/worker pick NumCPU()-1".
func Defaults() Config {
	return Config{
		LogFormat:          defaultLogFormat,
		LogLevel:           defaultLogLevel,
		HTTPTimeoutSeconds: defaultHTTPTimeoutSeconds,
		HTTPRetries:        defaultHTTPRetries,
		ExifToolPath:       defaultExifToolPath,
		FFmpegPath:         defaultFFmpegPath,
		FFprobePath:        defaultFFprobePath,
	}
}

// Load parses and normalizes a configuration file at path (if non-empty
// and present); missing files are not an error, since every field
// carries a usable default or is supplied via CLI flags instead. Load
// does not call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(expanded)
		switch {
		case err == nil:
			defer file.Close()
			decoder := toml.NewDecoder(file)
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", expanded, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// no config file; defaults plus flags/env carry the run
		default:
			return nil, fmt.Errorf("config: open %s: %w", expanded, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	var err error
	if c.InputDir != "" {
		if c.InputDir, err = ExpandPath(c.InputDir); err != nil {
			return fmt.Errorf("config: input_dir: %w", err)
		}
	}
	if c.OutputDir != "" {
		if c.OutputDir, err = ExpandPath(c.OutputDir); err != nil {
			return fmt.Errorf("config: output_dir: %w", err)
		}
	}
	if c.LogDir != "" {
		if c.LogDir, err = ExpandPath(c.LogDir); err != nil {
			return fmt.Errorf("config: log_dir: %w", err)
		}
	}
	if strings.TrimSpace(c.LogFormat) == "" {
		c.LogFormat = defaultLogFormat
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = defaultHTTPTimeoutSeconds
	}
	if c.HTTPRetries <= 0 {
		c.HTTPRetries = defaultHTTPRetries
	}
	if strings.TrimSpace(c.ExifToolPath) == "" {
		c.ExifToolPath = defaultExifToolPath
	}
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = defaultFFmpegPath
	}
	if strings.TrimSpace(c.FFprobePath) == "" {
		c.FFprobePath = defaultFFprobePath
	}
	return nil
}

// Validate rejects a configuration that cannot start a run: an unset,
// missing, or non-directory input_dir; an unset output_dir; negative
// workers; or a log_level/log_format outside the supported set. The
// output directory itself is not checked here. Called after CLI flags
// have been layered onto the loaded config, immediately before dispatch.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.InputDir) == "" {
		return errors.New("config: input_dir must be set")
	}
	info, err := os.Stat(c.InputDir)
	if err != nil {
		return fmt.Errorf("config: input_dir %q: %w", c.InputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: input_dir %q is not a directory", c.InputDir)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("config: output_dir must be set")
	}
	if c.Workers < 0 {
		return errors.New("config: workers must not be negative")
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		return fmt.Errorf("config: log_level %q is not one of debug,info,warn,error", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("config: log_format %q is not one of console,json", c.LogFormat)
	}
	return nil
}

// ExpandPath resolves "~" and relative segments into a clean absolute
// path, matching the teacher's own path expansion rules.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
