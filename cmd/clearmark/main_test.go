package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clearmark/internal/config"
	"clearmark/internal/daemon"
	"clearmark/internal/logging"
	"clearmark/internal/manager"
	"clearmark/internal/pipeline"
	"clearmark/internal/queue"
	"clearmark/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	apiAddr    string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)

	run := func(ctx context.Context, task *queue.Task, progress pipeline.ProgressFunc) (pipeline.Summary, error) {
		progress(100, "complete")
		return pipeline.Summary{TotalFrames: 10, InpaintedFrames: 4}, nil
	}
	mgr, err := manager.New(cfg, store, logging.NewNop(), run)
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}

	d, err := daemon.New(cfg, store, logging.NewNop(), mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		apiAddr:    d.APIAddr(),
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nwork_dir = %q\nlog_dir = %q\napi_bind = %q\n\n[workers]\ncount = %d\npoll_interval = %d\nprogress_interval_ms = %d\n",
		cfg.Paths.WorkDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Workers.Count,
		cfg.Workers.PollInterval,
		cfg.Workers.ProgressInterval,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, apiAddr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--api", apiAddr}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestCLIStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon running: yes")
	requireContains(t, out, "Queued")
}

func TestCLITasksLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t,
		[]string{"tasks", "submit", "/tmp/movie.mp4", "--output", "/tmp/cleaned_movie.mp4", "--wait"},
		env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("tasks submit: %v", err)
	}
	requireContains(t, out, "Submitted task")
	requireContains(t, out, "succeeded")

	out, _, err = runCLI(t, []string{"tasks", "list"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	requireContains(t, out, "Succeeded")
	requireContains(t, out, "/tmp/movie.mp4")

	out, _, err = runCLI(t, []string{"tasks", "clear"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("tasks clear: %v", err)
	}
	requireContains(t, out, "Removed 1 tasks")

	out, _, err = runCLI(t, []string{"tasks", "list"}, env.apiAddr, env.configPath)
	if err != nil {
		t.Fatalf("tasks list after clear: %v", err)
	}
	requireContains(t, out, "No tasks")
}

func TestCLITasksShowUnknown(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"tasks", "show", "missing-id"}, env.apiAddr, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
	requireContains(t, err.Error(), "not found")
}
