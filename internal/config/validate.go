package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateTracker(); err != nil {
		return err
	}
	if err := c.validateModelWorkers(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 1 {
		return errors.New("workers.count must be at least 1")
	}
	if c.Workers.Count > 64 {
		return errors.New("workers.count must not exceed 64")
	}
	return nil
}

func (c *Config) validateTracker() error {
	if c.Tracker.Window < 1 {
		return errors.New("tracker.window must be at least 1")
	}
	if c.Tracker.Corroborate >= c.Tracker.Window {
		return fmt.Errorf("tracker.corroborate (%d) must be smaller than tracker.window (%d)", c.Tracker.Corroborate, c.Tracker.Window)
	}
	if c.Tracker.Smooth > 2*c.Tracker.Window+1 {
		return fmt.Errorf("tracker.smooth (%d) must fit inside the tracker window", c.Tracker.Smooth)
	}
	return nil
}

func (c *Config) validateModelWorkers() error {
	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		return errors.New("detector.confidence_threshold must be between 0 and 1")
	}
	if c.Detector.Command == "" {
		return errors.New("detector.command must be set")
	}
	if c.Inpainter.Command == "" {
		return errors.New("inpainter.command must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}
