package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkers()
	c.normalizeTracker()
	c.normalizeModelWorkers()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeWorkers() {
	if c.Workers.Count <= 0 {
		c.Workers.Count = defaultWorkerCount
	}
	if c.Workers.PollInterval <= 0 {
		c.Workers.PollInterval = defaultPollInterval
	}
	if c.Workers.ProgressInterval <= 0 {
		c.Workers.ProgressInterval = defaultProgressInterval
	}
}

func (c *Config) normalizeTracker() {
	if c.Tracker.Window <= 0 {
		c.Tracker.Window = defaultTrackerWindow
	}
	if c.Tracker.Corroborate < 0 {
		c.Tracker.Corroborate = defaultCorroborate
	}
	if c.Tracker.Smooth <= 0 {
		c.Tracker.Smooth = defaultSmooth
	}
	if c.Tracker.Padding < 0 {
		c.Tracker.Padding = defaultPadding
	}
}

func (c *Config) normalizeModelWorkers() {
	normalizeWorker(&c.Detector, defaultDetectorScript)
	normalizeWorker(&c.Inpainter, defaultInpainterScript)
}

func normalizeWorker(w *ModelWorker, defaultScript string) {
	w.Command = strings.TrimSpace(w.Command)
	if w.Command == "" {
		w.Command = defaultWorkerCommand
	}
	w.Script = strings.TrimSpace(w.Script)
	if w.Script == "" {
		w.Script = defaultScript
	}
	if w.StartupTimeout <= 0 {
		w.StartupTimeout = defaultStartupTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
