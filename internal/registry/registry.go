// Package registry tracks which topology groups have been fully ingested.
//
// The registry is the resumption point of ingestion. It is created once from
// the topology association table and persisted in SQLite; a group flips to
// processed only after every planned batch of every measurement type has
// been written under its raw directory. On start, Prepare deletes any group
// directory that is not processed, so partial output never survives a crash.
//
// A single process owns the registry at a time.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const dirPermissions = 0750

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry combines the persisted group ledger with the raw directory tree.
type Registry struct {
	repo   Repository
	root   string
	logger Logger
	now    func() time.Time

	mu sync.Mutex
}

// New creates a Registry over repo with group directories under root.
// Call Init before use.
func New(repo Repository, root string) *Registry {
	return &Registry{
		repo:   repo,
		root:   root,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Root returns the raw root directory.
func (r *Registry) Root() string {
	return r.root
}

// Init creates the ledger from src if it is empty. An existing ledger is
// never rebuilt, so progress survives restarts and association changes.
func (r *Registry) Init(ctx context.Context, src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Debug("registry loaded", "groups", n)
		return nil
	}

	assocs, err := src.Associations(ctx)
	if err != nil {
		return fmt.Errorf("loading associations: %w", err)
	}
	entries, err := BuildEntries(assocs, r.now())
	if err != nil {
		return err
	}
	if err := r.repo.Insert(ctx, entries); err != nil {
		return err
	}
	r.logger.Info("registry created", "groups", len(entries), "associations", len(assocs))
	return nil
}

// Prepare removes every group directory whose group is not processed.
// Directories that belong to no registered group are left in place.
func (r *Registry) Prepare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.GroupID] = e.Processed
	}

	dirs, err := os.ReadDir(r.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning raw root: %w", err)
	}

	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		processed, ok := known[d.Name()]
		switch {
		case !ok:
			r.logger.Warn("unregistered directory under raw root", "dir", d.Name())
		case !processed:
			if err := os.RemoveAll(filepath.Join(r.root, d.Name())); err != nil {
				return fmt.Errorf("removing partial group %s: %w", d.Name(), err)
			}
			r.logger.Info("removed partial group output", "group", d.Name())
		}
	}
	return nil
}

// Dir returns the raw directory of a group without touching the disk.
func (r *Registry) Dir(groupID string) string {
	return filepath.Join(r.root, groupID)
}

// Open returns a fresh, empty raw directory for an unprocessed group,
// removing anything left there before.
func (r *Registry) Open(ctx context.Context, groupID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.repo.Get(ctx, groupID)
	if err != nil {
		return "", err
	}
	if e.Processed {
		return "", fmt.Errorf("%w: %s", ErrAlreadyProcessed, groupID)
	}

	dir := r.Dir(groupID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing group directory: %w", err)
	}
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("creating group directory: %w", err)
	}
	return dir, nil
}

// MarkProcessed records that all batches of the group are on disk.
func (r *Registry) MarkProcessed(ctx context.Context, groupID string) (Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repo.MarkProcessed(ctx, groupID, r.now())
}

// State reports the state of a group from the ledger and the disk.
func (r *Registry) State(ctx context.Context, groupID string) (State, error) {
	e, err := r.repo.Get(ctx, groupID)
	if err != nil {
		return "", err
	}
	if e.Processed {
		return StateProcessed, nil
	}
	if _, err := os.Stat(r.Dir(groupID)); err == nil {
		return StateUnprocessed, nil
	}
	return StateUnseen, nil
}

// Entry returns one group.
func (r *Registry) Entry(ctx context.Context, groupID string) (*Entry, error) {
	return r.repo.Get(ctx, groupID)
}

// Entries returns all groups in processing order.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	return r.repo.List(ctx)
}

// Pending returns the unprocessed groups in processing order.
func (r *Registry) Pending(ctx context.Context) ([]Entry, error) {
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, e := range all {
		if !e.Processed {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// Processed returns the processed groups in processing order.
func (r *Registry) Processed(ctx context.Context) ([]Entry, error) {
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	done := all[:0]
	for _, e := range all {
		if e.Processed {
			done = append(done, e)
		}
	}
	return done, nil
}

// Progress counts groups by completion.
func (r *Registry) Progress(ctx context.Context) (Progress, error) {
	return r.repo.Progress(ctx)
}
