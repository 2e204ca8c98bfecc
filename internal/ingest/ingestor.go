package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/meterflow-core/internal/infrastructure/config"
	"github.com/nerrad567/meterflow-core/internal/ingest/batch"
	"github.com/nerrad567/meterflow-core/internal/ingest/bulkapi"
	"github.com/nerrad567/meterflow-core/internal/measurement"
	"github.com/nerrad567/meterflow-core/internal/process"
	"github.com/nerrad567/meterflow-core/internal/registry"
	"github.com/nerrad567/meterflow-core/internal/stage"
)

// Fetcher retrieves one batch. *bulkapi.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, q measurement.Query) (*bulkapi.Result, error)
}

// Ledger tracks group completion. *registry.Registry satisfies it.
type Ledger interface {
	Prepare(ctx context.Context) error
	Pending(ctx context.Context) ([]registry.Entry, error)
	Open(ctx context.Context, groupID string) (string, error)
	MarkProcessed(ctx context.Context, groupID string) (registry.Progress, error)
	Progress(ctx context.Context) (registry.Progress, error)
}

// Logger defines the logging interface for the ingestor.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Settings are the query parameters shared by every group.
type Settings struct {
	From                 time.Time
	To                   time.Time
	Resolution           int
	Types                []measurement.Type
	SamplesPerBatchLimit int
	IsUTC                bool
}

// SettingsFromConfig builds Settings from the pipeline configuration.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	types, err := measurement.ParseTypes(cfg.Pipeline.Types)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	from, to := cfg.GetRange()
	s := Settings{
		From:                 from,
		To:                   to,
		Resolution:           cfg.Pipeline.Resolution,
		Types:                types,
		SamplesPerBatchLimit: cfg.Pipeline.SamplesPerBatchLimit,
		IsUTC:                cfg.Pipeline.IsUTC,
	}
	return s, s.Validate()
}

// Validate checks the settings.
func (s Settings) Validate() error {
	switch {
	case !s.From.Before(s.To):
		return fmt.Errorf("%w: from %s is not before to %s", ErrInvalidConfig, s.From, s.To)
	case s.Resolution < 1:
		return fmt.Errorf("%w: resolution %d", ErrInvalidConfig, s.Resolution)
	case len(s.Types) == 0:
		return fmt.Errorf("%w: no measurement types", ErrInvalidConfig)
	case s.SamplesPerBatchLimit < 1:
		return fmt.Errorf("%w: samples per batch limit %d", ErrInvalidConfig, s.SamplesPerBatchLimit)
	}
	return nil
}

// GroupResult summarises the fetch of one group.
type GroupResult struct {
	GroupID  string
	Batches  int
	Failed   int
	Samples  int
	Rejected int
}

// Complete reports whether every planned batch was written.
func (r GroupResult) Complete() bool {
	return r.Failed == 0
}

// Ingestor fetches unprocessed groups into the raw stage.
type Ingestor struct {
	settings  Settings
	fetcher   Fetcher
	ledger    Ledger
	publisher Publisher
	logger    Logger
	now       func() time.Time

	runID string
}

// New creates an Ingestor.
func New(settings Settings, fetcher Fetcher, ledger Ledger) (*Ingestor, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Ingestor{
		settings: settings,
		fetcher:  fetcher,
		ledger:   ledger,
		logger:   noopLogger{},
		now:      time.Now,
	}, nil
}

// SetLogger sets the logger for the ingestor.
func (i *Ingestor) SetLogger(logger Logger) {
	i.logger = logger
}

// SetPublisher enables ingestion events.
func (i *Ingestor) SetPublisher(p Publisher) {
	i.publisher = p
}

// RunOnce reconciles the registry with the disk and fetches every pending
// group. It returns nil when all groups are processed and ErrIncomplete when
// some still have failed batches. Groups that cannot be planned are skipped;
// if nothing else is left to retry the pass ends with a permanent ErrPlanning.
func (i *Ingestor) RunOnce(ctx context.Context) error {
	i.runID = uuid.NewString()

	if err := i.ledger.Prepare(ctx); err != nil {
		return fmt.Errorf("preparing registry: %w", err)
	}

	pending, err := i.ledger.Pending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending groups: %w", err)
	}
	progress, err := i.ledger.Progress(ctx)
	if err != nil {
		return fmt.Errorf("reading progress: %w", err)
	}
	i.logger.Info("ingestion pass started",
		"run_id", i.runID,
		"pending", len(pending),
		"progress", progress.String(),
	)
	i.publishProgress(progress)

	incomplete, unplannable := 0, 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := i.IngestGroup(ctx, e)
		if errors.Is(err, ErrPlanning) {
			unplannable++
			i.logger.Error("group skipped",
				"run_id", i.runID,
				"group", e.GroupID,
				"devices", e.DeviceCount,
				"error", err,
			)
			i.publishGroup(GroupEvent{
				GroupID: e.GroupID,
				Status:  GroupUnplannable,
				Error:   err.Error(),
			})
			continue
		}
		if err != nil {
			return err
		}

		if !res.Complete() {
			incomplete++
			i.logger.Warn("group incomplete",
				"run_id", i.runID,
				"group", e.GroupID,
				"failed_batches", res.Failed,
				"batches", res.Batches,
			)
			i.publishGroup(GroupEvent{
				GroupID: e.GroupID,
				Status:  GroupIncomplete,
				Batches: res.Batches,
				Failed:  res.Failed,
				Samples: res.Samples,
			})
			continue
		}

		progress, err = i.ledger.MarkProcessed(ctx, e.GroupID)
		if err != nil {
			return fmt.Errorf("marking %s processed: %w", e.GroupID, err)
		}
		i.logger.Info("group processed",
			"run_id", i.runID,
			"group", e.GroupID,
			"devices", e.DeviceCount,
			"batches", res.Batches,
			"samples", res.Samples,
			"rejected_rows", res.Rejected,
			"progress", progress.String(),
		)
		i.publishGroup(GroupEvent{
			GroupID:  e.GroupID,
			Status:   GroupCompleted,
			Batches:  res.Batches,
			Samples:  res.Samples,
			Progress: &progress,
		})
		i.publishProgress(progress)
	}

	if incomplete > 0 {
		return fmt.Errorf("%w: %d of %d pending groups", ErrIncomplete, incomplete, len(pending))
	}
	if unplannable > 0 {
		return process.Permanent(fmt.Errorf("%w: %d of %d pending groups", ErrPlanning, unplannable, len(pending)))
	}
	i.logger.Info("ingestion pass completed", "run_id", i.runID, "progress", progress.String())
	return nil
}

// IngestGroup fetches every batch of every type for one group into a fresh
// raw directory. Failed batches are logged and counted. Disk errors and
// cancellation abort the group. A group that cannot be planned fails with
// ErrPlanning before its directory is touched.
func (i *Ingestor) IngestGroup(ctx context.Context, e registry.Entry) (GroupResult, error) {
	res := GroupResult{GroupID: e.GroupID}

	plans := make([][]measurement.Query, len(i.settings.Types))
	for n, typ := range i.settings.Types {
		q := measurement.Query{
			GroupID:    e.GroupID,
			DeviceIDs:  e.DeviceIDs,
			From:       i.settings.From,
			To:         i.settings.To,
			Resolution: i.settings.Resolution,
			Type:       typ,
			IsUTC:      i.settings.IsUTC,
		}
		batches, err := batch.Plan(q, i.settings.SamplesPerBatchLimit)
		if err != nil {
			return res, fmt.Errorf("%w: %s/%s: %w", ErrPlanning, e.GroupID, typ, err)
		}
		plans[n] = batches
	}

	dir, err := i.ledger.Open(ctx, e.GroupID)
	if err != nil {
		return res, fmt.Errorf("opening group %s: %w", e.GroupID, err)
	}

	for _, batches := range plans {
		for n, b := range batches {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Batches++

			samples, rejected, err := i.fetchBatch(ctx, dir, b)
			res.Rejected += rejected
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				var writeErr *writeError
				if errors.As(err, &writeErr) {
					return res, writeErr.err
				}
				res.Failed++
				i.logger.Warn("batch failed",
					"run_id", i.runID,
					"group", e.GroupID,
					"batch", b.Signature(),
					"error", err,
				)
				i.publishGroup(GroupEvent{
					GroupID: e.GroupID,
					Status:  GroupBatchFailed,
					Batch:   b.Signature(),
					Error:   err.Error(),
				})
				continue
			}
			res.Samples += samples
			i.logger.Info("batch written",
				"run_id", i.runID,
				"group", e.GroupID,
				"type", b.Type.String(),
				"batch", fmt.Sprintf("%d/%d", n+1, len(batches)),
				"samples", samples,
			)
		}
	}
	return res, nil
}

// writeError marks a local persistence failure, which is not a batch
// failure: retrying the fetch cannot fix it.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

func (i *Ingestor) fetchBatch(ctx context.Context, dir string, q measurement.Query) (samples, rejected int, err error) {
	result, err := i.fetcher.Fetch(ctx, q)
	if result != nil {
		rejected = len(result.Rejected)
	}
	if err != nil {
		return 0, rejected, err
	}
	if _, err := stage.WriteRaw(dir, q, result.Measurements); err != nil {
		if errors.Is(err, stage.ErrNoRows) {
			return 0, rejected, err
		}
		return 0, rejected, &writeError{err: err}
	}
	return len(result.Measurements), rejected, nil
}
