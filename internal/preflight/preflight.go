package preflight

import (
	"context"

	"clearmark/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// minFreeBytes is the floor for usable scratch space. Raw frame piping
// needs room for at least one muxed temp output.
const minFreeBytes = 1 << 30

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDiskSpace("Work directory space", cfg.Paths.WorkDir, minFreeBytes),
		CheckBinary("ffmpeg", cfg.FFmpegBinary(), "Required for frame decode and encode"),
		CheckBinary("ffprobe", cfg.FFprobeBinary(), "Required for video inspection"),
		CheckBinary("Model runtime", cfg.Detector.Command, "Required for detection and inpainting workers"),
	}

	results = append(results,
		CheckWorkerScript("Detector script", cfg.Detector.Script),
		CheckWorkerScript("Inpainter script", cfg.Inpainter.Script),
	)
	return results
}

// AllPassed reports whether every check succeeded.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
