package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// apiClient talks to a running clearmark daemon over its HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func (c *commandContext) withClient(fn func(*apiClient) error) error {
	addr := c.apiAddress()
	if addr == "" {
		return errors.New("daemon API address is not configured")
	}
	client := &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	return fn(client)
}

type daemonStatus struct {
	Running bool `json:"running"`
	Queue   struct {
		Total     int `json:"total"`
		Queued    int `json:"queued"`
		Running   int `json:"running"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Cancelled int `json:"cancelled"`
	} `json:"queue"`
	QueueDBPath string `json:"queue_db_path"`
}

type taskRecord struct {
	ID              string  `json:"id"`
	SourcePath      string  `json:"source_path"`
	OutputPath      string  `json:"output_path"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progress_percent"`
	ProgressMessage string  `json:"progress_message"`
	TotalFrames     int64   `json:"total_frames"`
	InpaintedFrames int64   `json:"inpainted_frames"`
	DetectorErrors  int64   `json:"detector_errors"`
	InpaintErrors   int64   `json:"inpaint_errors"`
	Error           string  `json:"error"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	StartedAt       string  `json:"started_at"`
	FinishedAt      string  `json:"finished_at"`
}

func (a *apiClient) status(ctx context.Context) (daemonStatus, error) {
	var status daemonStatus
	err := a.get(ctx, "/api/status", &status)
	return status, err
}

func (a *apiClient) listTasks(ctx context.Context, statusFilter string) ([]taskRecord, error) {
	path := "/api/tasks"
	if strings.TrimSpace(statusFilter) != "" {
		path += "?status=" + statusFilter
	}
	var payload struct {
		Tasks []taskRecord `json:"tasks"`
	}
	if err := a.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Tasks, nil
}

func (a *apiClient) task(ctx context.Context, id string) (taskRecord, error) {
	var record taskRecord
	err := a.get(ctx, "/api/tasks/"+id, &record)
	return record, err
}

func (a *apiClient) submit(ctx context.Context, input, output string) (string, error) {
	body, err := json.Marshal(map[string]string{"input": input, "output": output})
	if err != nil {
		return "", err
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := a.post(ctx, "/api/tasks", body, &payload); err != nil {
		return "", err
	}
	return payload.ID, nil
}

func (a *apiClient) cancel(ctx context.Context, id string) error {
	return a.post(ctx, "/api/tasks/"+id+"/cancel", nil, nil)
}

func (a *apiClient) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, dest)
}

func (a *apiClient) post(ctx context.Context, path string, body []byte, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, dest)
}

func (a *apiClient) do(req *http.Request, dest any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return wrapDialError(err, a.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `clearmark serve`", base)
	}
	return fmt.Errorf("connect to daemon at %s: %w", base, err)
}
