package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Workers contains configuration for the task manager worker pool.
type Workers struct {
	// Count caps how many tasks may be Running at once.
	Count int `toml:"count"`
	// PollInterval is how often the dispatcher checks for queued tasks, in seconds.
	PollInterval int `toml:"poll_interval"`
	// ProgressInterval bounds how often task progress is persisted, in milliseconds.
	ProgressInterval int `toml:"progress_interval_ms"`
}

// Tracker contains configuration for temporal mask stabilization.
type Tracker struct {
	// Window is the number of lookahead/lookbehind frames the tracker keeps.
	Window int `toml:"window"`
	// Corroborate is how many neighboring detections must agree before a
	// detection is honored into the mask.
	Corroborate int `toml:"corroborate"`
	// Smooth is the span of the moving average applied to region boundaries.
	Smooth int `toml:"smooth"`
	// Padding is the pixel margin added around the stabilized region.
	Padding int `toml:"padding"`
}

// ModelWorker contains configuration for an external model worker process.
type ModelWorker struct {
	Command        string  `toml:"command"`
	Script         string  `toml:"script"`
	StartupTimeout int     `toml:"startup_timeout"`
	Confidence     float64 `toml:"confidence_threshold"`
}

// FFmpeg contains binary names for the container decode/encode services.
type FFmpeg struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clearmark.
//
// Configuration sections by subsystem:
//   - Paths: work/log directories and API bind address
//   - Workers: task manager concurrency and polling
//   - Tracker: temporal mask stabilization tunables
//   - Detector/Inpainter: external model worker processes
//   - FFmpeg: decode/encode binary names
//   - Logging: log format and level
type Config struct {
	Paths     Paths       `toml:"paths"`
	Workers   Workers     `toml:"workers"`
	Tracker   Tracker     `toml:"tracker"`
	Detector  ModelWorker `toml:"detector"`
	Inpainter ModelWorker `toml:"inpainter"`
	FFmpeg    FFmpeg      `toml:"ffmpeg"`
	Logging   Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clearmark/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clearmark.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for frame decode/encode.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.FFmpeg.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.FFmpeg.FFprobeBinary); bin != "" {
		return bin
	}
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
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

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
