package bulkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/meterflow-core/internal/infrastructure/config"
	"github.com/nerrad567/meterflow-core/internal/measurement"
)

const (
	bulkPath = "/timeseries/bulkgetvalues"

	// maxResponseSize caps one bulk response body.
	maxResponseSize = 512 << 20

	// maxErrorBody is how much of an error body is kept for diagnostics.
	maxErrorBody = 512
)

// Logger defines the logging interface for the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Client fetches interval measurements from the bulk API.
//
// One Client should be created per ingestion run so all batches share a
// pooled connection. Fetch is not meant to be called concurrently.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	policy  RetryPolicy
	breaker *gobreaker.CircuitBreaker
	logger  Logger

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client from the bulk_api configuration section.
func New(cfg config.BulkAPIConfig) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.HostURL); err != nil {
		return nil, fmt.Errorf("bulkapi: invalid host url: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}

	c := &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: strings.TrimRight(cfg.HostURL, "/"),
		apiKey:  cfg.APIKey,
		policy: RetryPolicy{
			MaxAttempts:    max(cfg.Retry.MaxAttempts, 1),
			InitialBackoff: time.Duration(cfg.Retry.InitialBackoff) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Retry.MaxBackoff) * time.Millisecond,
			Multiplier:     cfg.Retry.Multiplier,
			StatusCodes:    cfg.Retry.StatusCodes,
		},
		logger: noopLogger{},
		sleep:  sleepContext,
	}

	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, c)
	}
	return c, nil
}

func newBreaker(cfg config.BreakerConfig, c *Client) *gobreaker.CircuitBreaker {
	threshold := uint32(max(cfg.ConsecutiveFailures, 1)) //nolint:gosec // small positive config value
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bulkapi",
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.OpenTimeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Cancellation is the caller stopping, not the API failing.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Fetch retrieves and parses one batch. Transient failures are retried per
// the client's RetryPolicy; a response with no usable rows returns
// ErrEmptyBatch alongside the partial Result describing the rejections.
func (c *Client) Fetch(ctx context.Context, q measurement.Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	body, err := c.fetchBody(ctx, q)
	if err != nil {
		return nil, err
	}
	return Parse(body, q)
}

func (c *Client) fetchBody(ctx context.Context, q measurement.Query) ([]byte, error) {
	if c.breaker == nil {
		return c.fetchWithRetry(ctx, q)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, q)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil //nolint:forcetypeassert // fetchWithRetry returns []byte
}

func (c *Client) fetchWithRetry(ctx context.Context, q measurement.Query) ([]byte, error) {
	payload, err := json.Marshal(struct {
		MeteringPointIDs []string `json:"meteringPointIds"`
	}{q.DeviceIDs})
	if err != nil {
		return nil, fmt.Errorf("bulkapi: encoding request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		body, err := c.do(ctx, q, payload)
		if err == nil {
			return body, nil
		}
		if !c.policy.Retryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == c.policy.MaxAttempts {
			break
		}

		wait := c.policy.Backoff(attempt)
		c.logger.Warn("bulk request failed, retrying",
			"batch", q.Signature(),
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.policy.MaxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, q measurement.Query, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(q), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("bulkapi: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("XApiKey", c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &transportError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // diagnostics only
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("reading response: %w", err)}
	}
	c.logger.Debug("bulk request completed",
		"batch", q.Signature(),
		"devices", len(q.DeviceIDs),
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return body, nil
}

func (c *Client) requestURL(q measurement.Query) string {
	from, to := q.From, q.To
	if q.IsUTC {
		from, to = from.UTC(), to.UTC()
	}
	v := url.Values{}
	v.Set("FromDate", from.Format(timeLayout))
	v.Set("ToDate", to.Format(timeLayout))
	v.Set("Type", strconv.Itoa(q.Type.Code()))
	v.Set("Resolution", strconv.Itoa(q.Resolution))
	v.Set("isUtc", strconv.FormatBool(q.IsUTC))
	return c.baseURL + bulkPath + "?" + v.Encode()
}
