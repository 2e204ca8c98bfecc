package process

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Status represents the current state of a supervised unit of work.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusCooldown Status = "cooldown"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// ErrMaxAttempts is returned when the policy's attempt limit is reached.
var ErrMaxAttempts = errors.New("process: max attempts reached")

// Policy controls how often and how long the supervisor waits between
// failed attempts.
type Policy struct {
	// Cooldown is the wait after the first failure.
	Cooldown time.Duration

	// Multiplier grows the cooldown after each consecutive failure.
	// Values below 1 are treated as 1.
	Multiplier float64

	// MaxCooldown caps the cooldown. 0 means uncapped.
	MaxCooldown time.Duration

	// MaxAttempts limits attempts. 0 means unlimited.
	MaxAttempts int
}

// DefaultPolicy returns a fixed half-hour cooldown with unlimited attempts.
func DefaultPolicy() Policy {
	return Policy{
		Cooldown:   30 * time.Minute,
		Multiplier: 1,
	}
}

// delay returns the cooldown after the n-th consecutive failure (n >= 1).
func (p Policy) delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Cooldown)
	for i := 1; i < n; i++ {
		d *= mult
		if p.MaxCooldown > 0 && d >= float64(p.MaxCooldown) {
			return p.MaxCooldown
		}
	}
	if p.MaxCooldown > 0 && time.Duration(d) > p.MaxCooldown {
		return p.MaxCooldown
	}
	return time.Duration(d)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs a function until it succeeds.
type Supervisor struct {
	name   string
	policy Policy
	logger Logger
	sleep  func(ctx context.Context, d time.Duration) error

	// OnFailure is called after each failed attempt, before the cooldown.
	OnFailure func(attempt int, err error)

	mu        sync.RWMutex
	status    Status
	attempts  int
	lastError error
	startTime time.Time
}

// NewSupervisor creates a supervisor with the given policy.
func NewSupervisor(name string, policy Policy) *Supervisor {
	return &Supervisor{
		name:   name,
		policy: policy,
		logger: noopLogger{},
		sleep:  sleepContext,
		status: StatusIdle,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Run calls fn until it returns nil, the context is cancelled, fn returns
// a Permanent error, or the attempt limit is reached. The last failure is
// wrapped in the returned error.
func (s *Supervisor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusCooldown {
		s.mu.Unlock()
		return fmt.Errorf("supervisor %s is already running", s.name)
	}
	s.attempts = 0
	s.lastError = nil
	s.startTime = time.Now()
	s.mu.Unlock()

	failures := 0
	for {
		s.setStatus(StatusRunning)
		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.logger.Info("starting run", "name", s.name, "attempt", attempt)
		err := s.call(ctx, fn)
		if err == nil {
			s.setStatus(StatusDone)
			s.logger.Info("run completed", "name", s.name, "attempts", attempt)
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			s.fail(ctxErr)
			return ctxErr
		}

		failures++
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()

		if s.OnFailure != nil {
			s.OnFailure(attempt, err)
		}

		if IsPermanent(err) {
			s.logger.Error("run failed permanently", "name", s.name, "attempt", attempt, "error", err)
			s.fail(err)
			return err
		}

		if s.policy.MaxAttempts > 0 && attempt >= s.policy.MaxAttempts {
			s.logger.Error("max attempts reached", "name", s.name, "attempts", attempt, "error", err)
			s.fail(err)
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttempts, attempt, err)
		}

		delay := s.policy.delay(failures)
		s.logger.Warn("run failed, cooling down",
			"name", s.name,
			"attempt", attempt,
			"error", err,
			"cooldown", delay,
		)

		s.setStatus(StatusCooldown)
		if err := s.sleep(ctx, delay); err != nil {
			s.logger.Info("context cancelled during cooldown", "name", s.name)
			s.fail(err)
			return err
		}
	}
}

// call runs fn, converting a panic into an error.
func (s *Supervisor) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run panicked", "name", s.name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastError = err
	s.mu.Unlock()
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Attempts returns the number of attempts made by the current or last Run.
func (s *Supervisor) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// LastError returns the error of the most recent failed attempt.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Stats returns statistics about the supervised work.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:     s.name,
		Status:   s.status,
		Attempts: s.attempts,
	}
	if !s.startTime.IsZero() {
		stats.Elapsed = time.Since(s.startTime)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
