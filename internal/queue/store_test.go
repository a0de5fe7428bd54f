package queue_test

import (
	"context"
	"testing"
	"time"

	"clearmark/internal/queue"
	"clearmark/internal/testsupport"
)

func TestNewTaskRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task, err := store.NewTask(ctx, "/in/video.mp4", "/out/cleaned_video.mp4")
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.ID == "" {
		t.Fatal("task id not assigned")
	}
	if task.Status != queue.StatusQueued {
		t.Fatalf("fresh task status %s", task.Status)
	}

	task.Status = queue.StatusRunning
	now := time.Now().UTC()
	task.StartedAt = &now
	task.SetProgress(42.0, "processing frames")
	task.TotalFrames = 300
	task.InpaintedFrames = 120
	if err := store.Update(ctx, task); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil {
		t.Fatal("task not found after update")
	}
	if loaded.Status != queue.StatusRunning || loaded.ProgressPercent != 42.0 {
		t.Fatalf("round trip lost fields: %+v", loaded)
	}
	if loaded.TotalFrames != 300 || loaded.InpaintedFrames != 120 {
		t.Fatalf("counters lost: %+v", loaded)
	}
	if loaded.StartedAt == nil {
		t.Fatal("started_at lost")
	}
}

func TestGetByIDUnknownReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	task, err := store.GetByID(context.Background(), "not-a-task")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil for unknown id, got %+v", task)
	}
}

func TestNextQueuedFIFO(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewTask(t, store, "/in/a.mp4", "/out/a.mp4")
	testsupport.NewTask(t, store, "/in/b.mp4", "/out/b.mp4")

	next, err := store.NextQueued(ctx)
	if err != nil {
		t.Fatalf("next queued: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected first submission, got %+v", next)
	}

	claimed, err := store.MarkRunning(ctx, first.ID)
	if err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if claimed == nil || claimed.Status != queue.StatusRunning {
		t.Fatalf("claim result %+v", claimed)
	}
	if claimed.StartedAt == nil {
		t.Fatal("claim did not set started_at")
	}

	next, err = store.NextQueued(ctx)
	if err != nil {
		t.Fatalf("next queued: %v", err)
	}
	if next == nil || next.SourcePath != "/in/b.mp4" {
		t.Fatalf("expected second submission, got %+v", next)
	}
}

func TestMarkRunningClaimsOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, store, "/in/a.mp4", "/out/a.mp4")

	if claimed, err := store.MarkRunning(ctx, task.ID); err != nil || claimed == nil {
		t.Fatalf("first claim: %v %v", claimed, err)
	}
	claimed, err := store.MarkRunning(ctx, task.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed != nil {
		t.Fatal("second claim should lose")
	}
}

func TestCancelQueuedOnlyWhileQueued(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, store, "/in/a.mp4", "/out/a.mp4")
	cancelled, err := store.CancelQueued(ctx, task.ID)
	if err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	if !cancelled {
		t.Fatal("queued task should cancel")
	}

	loaded, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != queue.StatusCancelled || loaded.ErrorMessage != queue.UserCancelReason {
		t.Fatalf("cancelled task %+v", loaded)
	}
	if loaded.FinishedAt == nil {
		t.Fatal("cancel did not set finished_at")
	}

	again, err := store.CancelQueued(ctx, task.ID)
	if err != nil {
		t.Fatalf("cancel terminal: %v", err)
	}
	if again {
		t.Fatal("terminal task should not cancel again")
	}
}

func TestResetStuckRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stuck := testsupport.NewTask(t, store, "/in/a.mp4", "/out/a.mp4")
	if _, err := store.MarkRunning(ctx, stuck.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	queued := testsupport.NewTask(t, store, "/in/b.mp4", "/out/b.mp4")

	reset, err := store.ResetStuckRunning(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset %d tasks, want 1", reset)
	}

	loaded, err := store.GetByID(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != queue.StatusFailed || loaded.ErrorMessage != queue.DaemonStopReason {
		t.Fatalf("stuck task after reset: %+v", loaded)
	}

	untouched, err := store.GetByID(ctx, queued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if untouched.Status != queue.StatusQueued {
		t.Fatalf("queued task should be untouched, got %s", untouched.Status)
	}
}

func TestListStatsAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewTask(t, store, "/in/a.mp4", "/out/a.mp4")
	testsupport.NewTask(t, store, "/in/b.mp4", "/out/b.mp4")
	if _, err := store.CancelQueued(ctx, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list returned %d tasks", len(all))
	}

	onlyQueued, err := store.List(ctx, queue.StatusQueued)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(onlyQueued) != 1 {
		t.Fatalf("queued filter returned %d tasks", len(onlyQueued))
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Cancelled != 1 {
		t.Fatalf("health %+v", health)
	}

	cleared, err := store.ClearTerminal(ctx)
	if err != nil {
		t.Fatalf("clear terminal: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared %d, want 1", cleared)
	}

	remaining, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("clear removed %d, want 1", remaining)
	}
}

func TestRemove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, store, "/in/a.mp4", "/out/a.mp4")
	removed, err := store.Remove(ctx, task.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("expected removal")
	}
	removed, err = store.Remove(ctx, task.ID)
	if err != nil {
		t.Fatalf("remove again: %v", err)
	}
	if removed {
		t.Fatal("second removal should report false")
	}
}
