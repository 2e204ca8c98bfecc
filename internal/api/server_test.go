package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/meterflow-core/internal/infrastructure/config"
	"github.com/nerrad567/meterflow-core/internal/infrastructure/logging"
	"github.com/nerrad567/meterflow-core/internal/measurement"
	"github.com/nerrad567/meterflow-core/internal/registry"
	"github.com/nerrad567/meterflow-core/internal/stage"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeRegistry struct {
	entries []registry.Entry
	err     error
}

func (f *fakeRegistry) Entries(context.Context) ([]registry.Entry, error) {
	return f.entries, f.err
}

func (f *fakeRegistry) Progress(context.Context) (registry.Progress, error) {
	if f.err != nil {
		return registry.Progress{}, f.err
	}
	var p registry.Progress
	for _, e := range f.entries {
		if e.Processed {
			p.Processed++
		} else {
			p.Unprocessed++
		}
		p.Total++
	}
	return p, nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// testServer creates a Server over a fake registry and a real silver store.
func testServer(t *testing.T, reg RegistryReader, checks map[string]HealthChecker) (*httptest.Server, *stage.Pipeline) {
	t.Helper()

	root := t.TempDir()
	pipe := stage.NewPipeline(stage.Dirs{
		Raw:    filepath.Join(root, "raw"),
		Bronze: filepath.Join(root, "bronze"),
		Silver: filepath.Join(root, "silver"),
	})

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1"},
		Logger:   log,
		Registry: reg,
		Silver:   pipe,
		Checks:   checks,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, pipe
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // test URL
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	if _, err := New(Deps{Registry: &fakeRegistry{}, Silver: stage.NewPipeline(stage.Dirs{})}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: log, Silver: stage.NewPipeline(stage.Dirs{})}); err == nil {
		t.Error("New() without registry succeeded")
	}
	if _, err := New(Deps{Logger: log, Registry: &fakeRegistry{}}); err == nil {
		t.Error("New() without silver reader succeeded")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantState  string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all healthy", map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return nil }),
		}, http.StatusOK, "ok"},
		{"one failing", map[string]HealthChecker{
			"database": checkFunc(func(context.Context) error { return nil }),
			"mqtt":     checkFunc(func(context.Context) error { return errors.New("not connected") }),
		}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := testServer(t, &fakeRegistry{}, tt.checks)

			var body struct {
				Status  string            `json:"status"`
				Version string            `json:"version"`
				Checks  map[string]string `json:"checks"`
			}
			resp := getJSON(t, ts.URL+"/health", &body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body.Status != tt.wantState || body.Version != "test" {
				t.Errorf("body = %+v", body)
			}
			if tt.wantState == "degraded" && body.Checks["mqtt"] != "not connected" {
				t.Errorf("checks = %v, want mqtt failure reported", body.Checks)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header missing")
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := &fakeRegistry{entries: []registry.Entry{
		{GroupID: "T1", DeviceIDs: []string{"a", "b"}, DeviceCount: 2, Processed: true, Position: 0},
		{GroupID: "T2", DeviceIDs: []string{"c"}, DeviceCount: 1, Position: 1},
	}}
	ts, _ := testServer(t, reg, nil)

	var body registryResponse
	resp := getJSON(t, ts.URL+"/api/v1/registry", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Progress.Processed != 1 || body.Progress.Total != 2 {
		t.Errorf("progress = %+v", body.Progress)
	}
	if len(body.Groups) != 2 || body.Groups[0].GroupID != "T1" || len(body.Groups[0].DeviceIDs) != 2 {
		t.Errorf("groups = %+v", body.Groups)
	}
}

func TestRegistry_Error(t *testing.T) {
	ts, _ := testServer(t, &fakeRegistry{err: errors.New("database is locked")}, nil)

	var body ErrorResponse
	resp := getJSON(t, ts.URL+"/api/v1/registry", &body)
	if resp.StatusCode != http.StatusServiceUnavailable || body.Code != CodeRegistryUnavailable {
		t.Errorf("response = %d %+v", resp.StatusCode, body)
	}
	if body.RequestID == "" || body.RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("request_id = %q, header %q", body.RequestID, resp.Header.Get("X-Request-ID"))
	}
}

func TestSilver(t *testing.T) {
	ts, pipe := testServer(t, &fakeRegistry{}, nil)
	err := pipe.WriteSilver("T1", []measurement.SilverRecord{
		{IntervalStart: t0, IntervalEnd: t0.Add(time.Hour), GroupID: "T1", DeviceID: "a", PLoadKWh: 1},
		{IntervalStart: t0, IntervalEnd: t0.Add(time.Hour), GroupID: "T1", DeviceID: "b", PProdKWh: 2},
		{IntervalStart: t0.Add(time.Hour), IntervalEnd: t0.Add(2 * time.Hour), GroupID: "T1", DeviceID: "a", PLoadKWh: 3},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
		wantCode   ErrorCode
	}{
		{"whole group", "/api/v1/groups/T1/silver", http.StatusOK, 3, ""},
		{"one device", "/api/v1/groups/T1/silver?device=a", http.StatusOK, 2, ""},
		{"unknown device", "/api/v1/groups/T1/silver?device=z", http.StatusNotFound, 0, CodeDeviceNotInGroup},
		{"no silver", "/api/v1/groups/T9/silver", http.StatusNotFound, 0, CodeSilverNotFound},
		{"invalid group", "/api/v1/groups/..%2Fetc/silver", http.StatusBadRequest, 0, CodeInvalidGroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantCode != "" {
				var body ErrorResponse
				resp := getJSON(t, ts.URL+tt.path, &body)
				if resp.StatusCode != tt.wantStatus || body.Code != tt.wantCode {
					t.Fatalf("response = %d %+v, want %d %s", resp.StatusCode, body, tt.wantStatus, tt.wantCode)
				}
				return
			}
			var body silverResponse
			resp := getJSON(t, ts.URL+tt.path, &body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body.Count != tt.wantCount || len(body.Records) != tt.wantCount {
				t.Errorf("count = %d (%d records), want %d", body.Count, len(body.Records), tt.wantCount)
			}
		})
	}
}

func TestErrorCode_Status(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeInvalidGroup, http.StatusBadRequest},
		{CodeSilverNotFound, http.StatusNotFound},
		{CodeRegistryUnavailable, http.StatusServiceUnavailable},
		{CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{ErrorCode("unlisted"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.Status(); got != tt.want {
			t.Errorf("%s.Status() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestNotFoundAndMethod(t *testing.T) {
	ts, _ := testServer(t, &fakeRegistry{}, nil)

	var body ErrorResponse
	resp := getJSON(t, ts.URL+"/api/v1/nope", &body)
	if resp.StatusCode != http.StatusNotFound || body.Code != CodeNoRoute {
		t.Errorf("unknown path response = %d %+v", resp.StatusCode, body)
	}

	post, err := http.Post(ts.URL+"/api/v1/registry", "application/json", nil) //nolint:noctx // test
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", post.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
	s := &Server{logger: log}
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Code != CodeInternal {
		t.Errorf("body = %+v, %v, want code %s", body, err, CodeInternal)
	}
}
