package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// VideoInfo describes the properties of a video needed to stream and
// reassemble its frames.
type VideoInfo struct {
	Path       string
	Width      int
	Height     int
	FrameRate  float64
	TotalFrames int64
	Duration   float64
	HasAudio   bool
}

// FrameSize returns the byte length of one packed BGR frame.
func (v VideoInfo) FrameSize() int {
	return v.Width * v.Height * 3
}

// Inspect executes ffprobe against the provided path and derives the
// stream geometry and frame count.
func Inspect(ctx context.Context, binary string, path string) (VideoInfo, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return VideoInfo{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return buildInfo(path, result)
}

// ParseProbeJSON converts raw ffprobe JSON output into a VideoInfo.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(path string, data []byte) (VideoInfo, error) {
	var result probeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return buildInfo(path, result)
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NBFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
	Disposition  map[string]int `json:"disposition"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func buildInfo(path string, result probeResult) (VideoInfo, error) {
	info := VideoInfo{Path: path}

	var video *probeStream
	for i := range result.Streams {
		stream := &result.Streams[i]
		switch strings.ToLower(stream.CodecType) {
		case "video":
			if stream.Disposition["attached_pic"] == 1 {
				continue
			}
			if video == nil {
				video = stream
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return VideoInfo{}, fmt.Errorf("no video stream in %s", path)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid dimensions %dx%d in %s", video.Width, video.Height, path)
	}

	info.Width = video.Width
	info.Height = video.Height
	info.FrameRate = parseFrameRate(video.AvgFrameRate)

	info.Duration = parseFloat(video.Duration)
	if info.Duration <= 0 {
		info.Duration = parseFloat(result.Format.Duration)
	}

	info.TotalFrames = parseInt64(video.NBFrames)
	if info.TotalFrames <= 0 && info.FrameRate > 0 && info.Duration > 0 {
		info.TotalFrames = int64(math.Round(info.Duration * info.FrameRate))
	}
	return info, nil
}

// parseFrameRate handles ffprobe's rational rate strings ("30000/1001").
func parseFrameRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "0/0" {
		return 0
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseFloat(value)
}

func parseFloat(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt64(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
