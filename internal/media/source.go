package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Frame is a single decoded video frame in packed BGR order, one byte per
// channel, row major.
type Frame struct {
	Index int64
	Data  []byte
}

// Source streams decoded frames from a video file through an ffmpeg
// rawvideo pipe.
type Source struct {
	info   VideoInfo
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	next   int64
}

// OpenSource starts an ffmpeg decode process for the given video. The
// caller must drain frames with Next and then call Close.
func OpenSource(ctx context.Context, binary string, info VideoInfo) (*Source, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("source dimensions %dx%d", info.Width, info.Height)
	}

	cmd := exec.CommandContext(ctx, binary,
		"-hide_banner", "-loglevel", "error",
		"-i", info.Path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("source stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg decode: %w", err)
	}

	return &Source{info: info, cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Info returns the probed properties of the source video.
func (s *Source) Info() VideoInfo {
	return s.info
}

// Next reads the next frame. It returns io.EOF once the stream is
// exhausted and the decode process exited cleanly. The returned frame
// owns its buffer; callers may retain it.
func (s *Source) Next() (Frame, error) {
	data := make([]byte, s.info.FrameSize())
	if _, err := io.ReadFull(s.stdout, data); err != nil {
		if errors.Is(err, io.EOF) {
			if waitErr := s.cmd.Wait(); waitErr != nil {
				return Frame{}, fmt.Errorf("ffmpeg decode: %w: %s", waitErr, strings.TrimSpace(s.stderr.String()))
			}
			s.cmd = nil
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("read frame %d: %w", s.next, err)
	}
	frame := Frame{Index: s.next, Data: data}
	s.next++
	return frame, nil
}

// Close releases the decode process. Safe to call after Next returned
// io.EOF or on early abort.
func (s *Source) Close() error {
	if s.cmd == nil {
		return nil
	}
	_ = s.stdout.Close()
	err := s.cmd.Wait()
	s.cmd = nil
	// Early close kills the pipe mid stream; ffmpeg's broken pipe exit
	// is expected there.
	if err != nil && s.stderr.Len() > 0 {
		return fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	}
	return nil
}
