package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/meterflow-core/internal/infrastructure/config"
)

const (
	defaultPingTimeout = 5 * time.Second
	defaultBatchSize   = 5000
)

// Client exports silver series to one InfluxDB bucket.
//
// Writes are blocking and chunked, so an export knows exactly which
// records reached the server. Safe for concurrent use.
type Client struct {
	client    influxdb2.Client
	writer    api.WriteAPIBlocking
	batchSize int
	target    string

	mu        sync.RWMutex
	connected bool
}

// Connect creates a client and verifies the server answers a ping.
// It returns ErrDisabled when the influxdb section is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	switch {
	case cfg.URL == "":
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	case cfg.Org == "" || cfg.Bucket == "":
		return nil, fmt.Errorf("%w: org and bucket are required", ErrInvalidConfig)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetPrecision(time.Second))

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return &Client{
		client:    client,
		writer:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		batchSize: batchSize,
		target:    cfg.Org + "/" + cfg.Bucket,
		connected: true,
	}, nil
}

// Close releases the underlying client. Safe on a nil Client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.connected = false
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Target returns "org/bucket" for logging.
func (c *Client) Target() string {
	return c.target
}
