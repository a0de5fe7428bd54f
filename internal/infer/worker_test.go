package infer

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

const echoWorkerScript = `import json, os, struct, sys

out = os.fdopen(3, "wb")

def write_message(header, payload=b""):
    raw = json.dumps(header).encode()
    out.write(struct.pack(">I", len(raw)))
    out.write(raw)
    out.write(struct.pack(">I", len(payload)))
    if payload:
        out.write(payload)
    out.flush()

def read_chunk():
    prefix = sys.stdin.buffer.read(4)
    if len(prefix) < 4:
        raise EOFError
    length = struct.unpack(">I", prefix)[0]
    return sys.stdin.buffer.read(length) if length else b""

write_message({"status": "ready"})
while True:
    try:
        header = json.loads(read_chunk())
        payload = read_chunk()
    except EOFError:
        break
    if header.get("op") == "fail":
        write_message({"ok": False, "error": "requested failure"})
        continue
    write_message({"ok": True, "echo": header.get("op")}, payload[::-1])
`

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skipf("python3 not available: %v", err)
	}
}

func writeWorkerScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.py")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestWorkerCallRoundTrip(t *testing.T) {
	requirePython(t)
	script := writeWorkerScript(t, echoWorkerScript)

	ctx := context.Background()
	worker, err := Spawn(ctx, "python3", script, 10*time.Second)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer worker.Close()

	header, payload, err := worker.Call(ctx, map[string]string{"op": "detect"}, []byte("abcdef"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	var response struct {
		OK   bool   `json:"ok"`
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(header, &response); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !response.OK || response.Echo != "detect" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if string(payload) != "fedcba" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestWorkerReportsApplicationError(t *testing.T) {
	requirePython(t)
	script := writeWorkerScript(t, echoWorkerScript)

	ctx := context.Background()
	worker, err := Spawn(ctx, "python3", script, 10*time.Second)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer worker.Close()

	header, _, err := worker.Call(ctx, map[string]string{"op": "fail"}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var response struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(header, &response); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if response.OK || response.Error != "requested failure" {
		t.Fatalf("unexpected response: %+v", response)
	}
}

func TestSpawnFailsWhenWorkerNeverReady(t *testing.T) {
	requirePython(t)
	script := writeWorkerScript(t, `import sys; sys.exit(2)`)

	_, err := Spawn(context.Background(), "python3", script, 5*time.Second)
	if err == nil {
		t.Fatal("expected spawn to fail for a worker that exits before ready")
	}
}

func TestSpawnRejectsMissingConfiguration(t *testing.T) {
	if _, err := Spawn(context.Background(), "python3", "", time.Second); err == nil {
		t.Fatal("expected error for empty script")
	}
	if _, err := Spawn(context.Background(), "definitely-not-a-binary", "worker.py", time.Second); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestHealthCheck(t *testing.T) {
	requirePython(t)
	script := writeWorkerScript(t, echoWorkerScript)

	if err := HealthCheck("python3", script); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if err := HealthCheck("python3", filepath.Join(t.TempDir(), "missing.py")); err == nil {
		t.Fatal("expected error for missing script")
	}
	if err := HealthCheck("definitely-not-a-binary", script); err == nil {
		t.Fatal("expected error for missing command")
	}
}
