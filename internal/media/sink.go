package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Sink encodes processed frames back into a video container. Frames are
// written to a temporary file next to the final output and the original
// audio track is copied in during the same encode. Finalize renames the
// temporary file into place so a partial output is never visible.
type Sink struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *bytes.Buffer
	frameSize int
	tempPath  string
	finalPath string
	written   int64
}

// OpenSink starts an ffmpeg encode process writing to a temporary file
// beside outputPath. The source video supplies the audio track when it
// has one.
func OpenSink(ctx context.Context, binary string, info VideoInfo, outputPath string) (*Sink, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	outputPath = strings.TrimSpace(outputPath)
	if outputPath == "" {
		return nil, errors.New("sink: empty output path")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	frameRate := info.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}

	tempPath := filepath.Join(filepath.Dir(outputPath), ".clearmark-"+filepath.Base(outputPath)+".tmp.mp4")

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-framerate", strconv.FormatFloat(frameRate, 'f', -1, 64),
		"-i", "-",
	}
	if info.HasAudio {
		args = append(args,
			"-i", info.Path,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:a", "copy",
			"-shortest",
		)
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		tempPath,
	)

	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sink stdin pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encode: %w", err)
	}

	return &Sink{
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderr,
		frameSize: info.FrameSize(),
		tempPath:  tempPath,
		finalPath: outputPath,
	}, nil
}

// Write sends one frame to the encoder. Frames must arrive in order.
func (s *Sink) Write(frame Frame) error {
	if len(frame.Data) != s.frameSize {
		return fmt.Errorf("frame %d: %d bytes, want %d", frame.Index, len(frame.Data), s.frameSize)
	}
	if _, err := s.stdin.Write(frame.Data); err != nil {
		return fmt.Errorf("write frame %d: %w: %s", frame.Index, err, strings.TrimSpace(s.stderr.String()))
	}
	s.written++
	return nil
}

// Written reports the number of frames accepted so far.
func (s *Sink) Written() int64 {
	return s.written
}

// Finalize closes the encoder, waits for it to flush, and renames the
// temporary file to the final output path.
func (s *Sink) Finalize() error {
	if s.cmd == nil {
		return errors.New("sink already closed")
	}
	if err := s.stdin.Close(); err != nil {
		return fmt.Errorf("close encoder input: %w", err)
	}
	err := s.cmd.Wait()
	s.cmd = nil
	if err != nil {
		_ = os.Remove(s.tempPath)
		return fmt.Errorf("ffmpeg encode: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	}
	if err := os.Rename(s.tempPath, s.finalPath); err != nil {
		_ = os.Remove(s.tempPath)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// Discard aborts the encode and removes the temporary file. Safe to call
// after Finalize.
func (s *Sink) Discard() {
	if s.cmd != nil {
		_ = s.stdin.Close()
		_ = s.cmd.Wait()
		s.cmd = nil
	}
	_ = os.Remove(s.tempPath)
}
