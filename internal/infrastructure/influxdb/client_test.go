package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meterflow-core/internal/infrastructure/config"
	"github.com/nerrad567/meterflow-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterflow-core/internal/measurement"
)

// fakeInflux answers /ping and records every /api/v2/write body.
type fakeInflux struct {
	*httptest.Server

	mu       sync.Mutex
	writes   []string
	failFrom int // reject writes from this call on; 0 never
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			n := len(f.writes)
			f.mu.Unlock()
			if f.failFrom > 0 && n >= f.failFrom {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"code":"invalid","message":"bad point"}`)) //nolint:errcheck,gosec // test server
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:   true,
		URL:       url,
		Token:     "meterflow-dev-token",
		Org:       "meterflow",
		Bucket:    "silver",
		BatchSize: 2,
	}
}

func records(n int) []measurement.SilverRecord {
	start := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	out := make([]measurement.SilverRecord, n)
	for i := range out {
		s := start.Add(time.Duration(i) * time.Hour)
		out[i] = measurement.SilverRecord{
			IntervalStart: s,
			IntervalEnd:   s.Add(time.Hour),
			GroupID:       "T1",
			DeviceID:      "m1",
			PLoadKWh:      1.5,
			PProdKWh:      0.25,
		}
	}
	return out
}

func TestSilverPoint(t *testing.T) {
	line := write.PointToLineProtocol(influxdb.SilverPoint(records(1)[0]), time.Second)

	if !strings.HasPrefix(line, "ami_silver,device_id=m1,group_id=T1 ") {
		t.Errorf("line = %q, want measurement and sorted tags", line)
	}
	for _, field := range []string{"p_load_kwh=1.5", "p_prod_kwh=0.25", "p_net_kwh=1.25"} {
		if !strings.Contains(line, field) {
			t.Errorf("line = %q, missing %s", line, field)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(line), " 1772341200") {
		t.Errorf("line = %q, want interval start timestamp 1772341200", line)
	}
}

func TestConnect_Config(t *testing.T) {
	srv := newFakeInflux(t)
	tests := []struct {
		name    string
		mutate  func(*config.InfluxDBConfig)
		wantErr error
	}{
		{"disabled", func(c *config.InfluxDBConfig) { c.Enabled = false }, influxdb.ErrDisabled},
		{"no url", func(c *config.InfluxDBConfig) { c.URL = "" }, influxdb.ErrInvalidConfig},
		{"no bucket", func(c *config.InfluxDBConfig) { c.Bucket = "" }, influxdb.ErrInvalidConfig},
		{"unreachable", func(c *config.InfluxDBConfig) { c.URL = "http://127.0.0.1:1" }, influxdb.ErrConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(srv.URL)
			tt.mutate(&cfg)
			_, err := influxdb.Connect(context.Background(), cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Connect() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if got := client.Target(); got != "meterflow/silver" {
		t.Errorf("Target() = %q", got)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWriteSilver_Chunks(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	n, err := client.WriteSilver(context.Background(), records(5))
	if err != nil {
		t.Fatalf("WriteSilver() error = %v", err)
	}
	if n != 5 {
		t.Errorf("WriteSilver() = %d, want 5", n)
	}

	bodies := srv.bodies()
	if len(bodies) != 3 {
		t.Fatalf("got %d write requests, want 3 chunks of at most 2", len(bodies))
	}
	var lines int
	for _, b := range bodies {
		lines += strings.Count(strings.TrimSpace(b), "\n") + 1
	}
	if lines != 5 {
		t.Errorf("server received %d lines, want 5", lines)
	}
}

func TestWriteSilver_Rejected(t *testing.T) {
	srv := newFakeInflux(t)
	srv.failFrom = 2
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	n, err := client.WriteSilver(context.Background(), records(5))
	if !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Errorf("WriteSilver() error = %v, want ErrWriteFailed", err)
	}
	if n != 2 {
		t.Errorf("WriteSilver() = %d, want the first chunk only", n)
	}
}

func TestWriteSilver_AfterClose(t *testing.T) {
	srv := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	if _, err := client.WriteSilver(context.Background(), records(1)); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("WriteSilver() after Close error = %v, want ErrNotConnected", err)
	}
}
