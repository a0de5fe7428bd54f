package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clearmark/internal/config"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "clearmark", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7519" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Workers.Count != 2 {
		t.Fatalf("unexpected worker count: %d", cfg.Workers.Count)
	}
	if cfg.Tracker.Window != 12 || cfg.Tracker.Corroborate != 1 || cfg.Tracker.Smooth != 5 || cfg.Tracker.Padding != 6 {
		t.Fatalf("unexpected tracker defaults: %+v", cfg.Tracker)
	}
	if cfg.Detector.Command != "python3" {
		t.Fatalf("unexpected detector command: %q", cfg.Detector.Command)
	}
	if cfg.FFmpegBinary() != "ffmpeg" || cfg.FFprobeBinary() != "ffprobe" {
		t.Fatalf("unexpected ffmpeg binaries: %q %q", cfg.FFmpegBinary(), cfg.FFprobeBinary())
	}
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := `
[paths]
work_dir = "` + filepath.Join(base, "work") + `"
log_dir = "` + filepath.Join(base, "logs") + `"
api_bind = "127.0.0.1:9999"

[workers]
count = 4

[tracker]
window = 8
padding = 2

[detector]
confidence_threshold = 0.6

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.APIBind != "127.0.0.1:9999" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Workers.Count != 4 {
		t.Fatalf("unexpected worker count: %d", cfg.Workers.Count)
	}
	if cfg.Tracker.Window != 8 || cfg.Tracker.Padding != 2 {
		t.Fatalf("unexpected tracker overrides: %+v", cfg.Tracker)
	}
	// Unset sections keep defaults.
	if cfg.Tracker.Smooth != 5 {
		t.Fatalf("expected default smooth, got %d", cfg.Tracker.Smooth)
	}
	if cfg.Detector.Confidence != 0.6 {
		t.Fatalf("unexpected confidence: %v", cfg.Detector.Confidence)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "worker count too high",
			content: "[workers]\ncount = 100\n",
			wantErr: "workers.count",
		},
		{
			name:    "corroborate exceeds window",
			content: "[tracker]\nwindow = 3\ncorroborate = 5\n",
			wantErr: "tracker.corroborate",
		},
		{
			name:    "confidence out of range",
			content: "[detector]\nconfidence_threshold = 1.5\n",
			wantErr: "confidence_threshold",
		},
		{
			name:    "bad log format",
			content: "[logging]\nformat = \"yaml\"\n",
			wantErr: "logging.format",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
}

func TestExpandPathResolvesHome(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	got, err := config.ExpandPath("~/videos")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if got != filepath.Join(tempHome, "videos") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
