package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fetchbay/fetchd/internal/adapter/sqlite"
	"github.com/fetchbay/fetchd/internal/domain"
	"github.com/fetchbay/fetchd/internal/gate"
	"github.com/fetchbay/fetchd/internal/tool"
)

// stubResolver knows a single site.
type stubResolver struct{}

func (stubResolver) Resolve(rawURL string) (string, string, error) {
	if !strings.Contains(rawURL, "://") {
		return "", "", domain.ErrInvalidURL
	}
	if strings.Contains(rawURL, "example") {
		return "example", "/scripts/linksniff-example.py", nil
	}
	return "", "", fmt.Errorf("site has no worker: %w", domain.ErrNoWorkerForSite)
}

func newTestServer(t *testing.T, apiKey string, updateCmd []string) (*Server, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	svc := domain.NewQueueService(repo, repo, stubResolver{}, gate.New(3))
	updater := tool.NewUpdater(updateCmd, 0, nil)
	return NewServer(svc, updater, ":0", apiKey, nil), repo
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestServer_SubmitJob(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"true"})

	w := doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/video"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp jobResponse
	decodeJSON(t, w, &resp)
	if resp.SiteKey != "example" {
		t.Errorf("site_key = %q, want %q", resp.SiteKey, "example")
	}
	if resp.Status != "pending" {
		t.Errorf("status = %q, want %q", resp.Status, "pending")
	}
	if resp.SubmittedAt == "" {
		t.Error("submitted_at is empty")
	}
}

func TestServer_SubmitJob_Rejections(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"true"})

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{`},
		{"missing url", `{}`},
		{"invalid URL", `{"url":"not a url"}`},
		{"unknown site", `{"url":"https://other.net/v"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, http.MethodPost, "/jobs", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestServer_ListJobs(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"true"})

	doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/1"}`)
	doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/2"}`)

	w := doRequest(srv, http.MethodGet, "/jobs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp listResponse
	decodeJSON(t, w, &resp)
	if len(resp.Jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(resp.Jobs))
	}
	if resp.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", resp.Concurrency)
	}
}

func TestServer_GetJob(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"true"})
	doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/1"}`)

	if w := doRequest(srv, http.MethodGet, "/jobs/1", ""); w.Code != http.StatusOK {
		t.Errorf("GET /jobs/1 status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := doRequest(srv, http.MethodGet, "/jobs/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET /jobs/999 status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := doRequest(srv, http.MethodGet, "/jobs/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("GET /jobs/abc status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestServer_Requeue(t *testing.T) {
	srv, repo := newTestServer(t, "", []string{"true"})
	ctx := context.Background()

	doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/1"}`)

	if w := doRequest(srv, http.MethodPost, "/jobs/1/requeue", ""); w.Code != http.StatusConflict {
		t.Errorf("requeue pending status = %d, want %d", w.Code, http.StatusConflict)
	}
	if w := doRequest(srv, http.MethodPost, "/jobs/999/requeue", ""); w.Code != http.StatusNotFound {
		t.Errorf("requeue unknown status = %d, want %d", w.Code, http.StatusNotFound)
	}

	if err := repo.Transition(ctx, 1, domain.StatusPending, domain.StatusActive, ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.Transition(ctx, 1, domain.StatusActive, domain.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	if w := doRequest(srv, http.MethodPost, "/jobs/1/requeue", ""); w.Code != http.StatusOK {
		t.Fatalf("requeue failed-job status = %d, want %d", w.Code, http.StatusOK)
	}
	job, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.StatusPending {
		t.Errorf("status after requeue = %q, want %q", job.Status, domain.StatusPending)
	}
}

func TestServer_SetConcurrency(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"true"})

	w := doRequest(srv, http.MethodPut, "/settings/concurrency", `{"concurrency":5}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusNoContent, w.Body.String())
	}

	var resp listResponse
	lw := doRequest(srv, http.MethodGet, "/jobs", "")
	decodeJSON(t, lw, &resp)
	if resp.Concurrency != 5 {
		t.Errorf("concurrency after update = %d, want 5", resp.Concurrency)
	}

	if w := doRequest(srv, http.MethodPut, "/settings/concurrency", `{"concurrency":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative concurrency status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := doRequest(srv, http.MethodPut, "/settings/concurrency", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestServer_ClearEndpoints(t *testing.T) {
	srv, repo := newTestServer(t, "", []string{"true"})
	ctx := context.Background()

	doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/1"}`)
	doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/2"}`)
	doRequest(srv, http.MethodPost, "/jobs", `{"url":"https://example.com/3"}`)

	// Job 1 completed, job 2 active, job 3 pending.
	repo.Transition(ctx, 1, domain.StatusPending, domain.StatusActive, "")
	repo.Transition(ctx, 1, domain.StatusActive, domain.StatusCompleted, "")
	repo.Transition(ctx, 2, domain.StatusPending, domain.StatusActive, "")

	w := doRequest(srv, http.MethodPost, "/jobs/clear_completed", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear_completed status = %d", w.Code)
	}
	var resp map[string]int64
	decodeJSON(t, w, &resp)
	if resp["removed"] != 1 {
		t.Errorf("clear_completed removed = %d, want 1", resp["removed"])
	}

	w = doRequest(srv, http.MethodPost, "/jobs/clear_all", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear_all status = %d", w.Code)
	}
	decodeJSON(t, w, &resp)
	if resp["removed"] != 1 {
		t.Errorf("clear_all removed = %d, want 1 (active job is kept)", resp["removed"])
	}

	if _, err := repo.Get(ctx, 2); err != nil {
		t.Errorf("active job was removed by clear_all: %v", err)
	}
}

func TestServer_ToolUpdate(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"true"})

	w := doRequest(srv, http.MethodPost, "/tool/update", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	decodeJSON(t, w, &resp)
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
}

func TestServer_ToolUpdate_Failure(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"false"})

	w := doRequest(srv, http.MethodPost, "/tool/update", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var resp map[string]any
	decodeJSON(t, w, &resp)
	if resp["success"] != false {
		t.Errorf("success = %v, want false", resp["success"])
	}
	if resp["error"] == "" || resp["error"] == nil {
		t.Error("error message is empty")
	}
}

func TestServer_APIKey(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit", []string{"true"})

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", "sekrit")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want %d", w.Code, http.StatusOK)
	}

	// Health stays open without a key.
	if w := doRequest(srv, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, "", []string{"true"})

	w := doRequest(srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	decodeJSON(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status field = %q, want %q", resp["status"], "ok")
	}
}
