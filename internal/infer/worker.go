package infer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"clearmark/internal/services"
)

// maxResponseBytes bounds a single worker response. A full 4K BGR frame is
// under 25 MiB; anything past this indicates a corrupt length prefix.
const maxResponseBytes = 64 << 20

// Worker is a running model worker process. Requests are serialized; the
// worker handles one inference at a time, which is also what bounds model
// memory when several tasks share one worker.
type Worker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	data   io.ReadCloser
	stderr *bytes.Buffer
	closed bool
}

// Spawn starts a worker process running the given script. The worker
// receives requests on stdin and writes responses to the pipe passed as
// file descriptor 3, keeping stdout free for the model's own chatter.
func Spawn(ctx context.Context, command, script string, startupTimeout time.Duration) (*Worker, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		command = "python3"
	}
	if strings.TrimSpace(script) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "infer", "spawn", "worker script not configured", nil)
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "infer", "spawn", fmt.Sprintf("%s not found in PATH", command), err)
	}

	cmd := exec.CommandContext(ctx, command, "-u", script)

	dataRead, dataWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create data pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{dataWrite}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		dataWrite.Close()
		dataRead.Close()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		dataWrite.Close()
		dataRead.Close()
		return nil, services.Wrap(services.ErrExternalTool, "infer", "spawn", "worker failed to start", err)
	}
	// Only the child holds the write end now; a worker crash surfaces as
	// EOF on the read end instead of a hang.
	dataWrite.Close()

	worker := &Worker{cmd: cmd, stdin: stdin, data: dataRead, stderr: stderr}

	if startupTimeout > 0 {
		if err := worker.awaitReady(startupTimeout); err != nil {
			worker.Close()
			return nil, err
		}
	}
	return worker, nil
}

// awaitReady blocks until the worker emits its ready message.
func (w *Worker) awaitReady(timeout time.Duration) error {
	type readyMsg struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}

	done := make(chan error, 1)
	go func() {
		header, _, err := w.read()
		if err != nil {
			done <- err
			return
		}
		var msg readyMsg
		if err := json.Unmarshal(header, &msg); err != nil {
			done <- fmt.Errorf("parse ready message: %w", err)
			return
		}
		if msg.Status != "ready" {
			done <- services.Wrap(services.ErrExternalTool, "infer", "startup", msg.Error, nil)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return services.Wrap(services.ErrExternalTool, "infer", "startup", w.stderrTail(), err)
		}
		return nil
	case <-time.After(timeout):
		return services.Wrap(services.ErrExternalTool, "infer", "startup", "worker did not become ready in time", context.DeadlineExceeded)
	}
}

// Call sends one request and reads one response. The header is marshaled
// to JSON; payload may be nil. The returned payload is owned by the caller.
func (w *Worker) Call(ctx context.Context, header any, payload []byte) (json.RawMessage, []byte, error) {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request header: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, nil, services.Wrap(services.ErrExternalTool, "infer", "call", "worker is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if err := w.writeChunk(headerBytes); err != nil {
		return nil, nil, services.Wrap(services.ErrExternalTool, "infer", "call", w.stderrTail(), err)
	}
	if err := w.writeChunk(payload); err != nil {
		return nil, nil, services.Wrap(services.ErrExternalTool, "infer", "call", w.stderrTail(), err)
	}

	respHeader, respPayload, err := w.read()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrExternalTool, "infer", "call", w.stderrTail(), err)
	}
	return respHeader, respPayload, nil
}

func (w *Worker) writeChunk(data []byte) error {
	if err := binary.Write(w.stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.stdin.Write(data)
	return err
}

// read pulls one header chunk and one payload chunk off the data pipe.
func (w *Worker) read() (json.RawMessage, []byte, error) {
	header, err := w.readChunk()
	if err != nil {
		return nil, nil, err
	}
	payload, err := w.readChunk()
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

func (w *Worker) readChunk() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(w.data, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.New("worker exited mid response")
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, nil
	}
	if length > maxResponseBytes {
		return nil, fmt.Errorf("response chunk of %d bytes exceeds limit", length)
	}
	chunk := make([]byte, length)
	if _, err := io.ReadFull(w.data, chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}

// stderrTail returns the last portion of the worker's stderr for error
// context.
func (w *Worker) stderrTail() string {
	text := strings.TrimSpace(w.stderr.String())
	const limit = 512
	if len(text) > limit {
		text = "..." + text[len(text)-limit:]
	}
	if text == "" {
		return "worker request failed"
	}
	return text
}

// Close terminates the worker process. Idempotent.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.stdin.Close()
	_ = w.data.Close()
	return w.cmd.Wait()
}

// HealthCheck verifies the worker command exists and the script is
// readable without spawning a process.
func HealthCheck(command, script string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		command = "python3"
	}
	if _, err := exec.LookPath(command); err != nil {
		return services.Wrap(services.ErrExternalTool, "infer", "health", fmt.Sprintf("%s not found in PATH", command), err)
	}
	if script != "" {
		if _, err := os.Stat(script); err != nil {
			return services.Wrap(services.ErrExternalTool, "infer", "health", "worker script missing", err)
		}
	}
	return nil
}
