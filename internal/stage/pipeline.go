package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/nerrad567/meterflow-core/internal/measurement"
	"github.com/nerrad567/meterflow-core/internal/reconstruct"
)

// signatureLayout matches measurement.Query.Signature timestamps.
const signatureLayout = "20060102T150405Z"

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Dirs are the layer roots.
type Dirs struct {
	Raw    string
	Bronze string
	Silver string
}

// Options control cache reuse and persistence of a stage step.
type Options struct {
	// Force recomputes output even when a file already exists.
	Force bool
	// Save writes the computed silver output. Ignored for bronze, which is
	// always written.
	Save bool
}

// Summary reports what a bronze promotion did.
type Summary struct {
	Written []string // bronze files written
	Reused  []string // bronze files kept from an earlier run
	Skipped []string // groups with no rows
}

// Pipeline moves group data between layers.
type Pipeline struct {
	dirs   Dirs
	logger Logger
}

// NewPipeline creates a Pipeline over the given layer roots.
func NewPipeline(dirs Dirs) *Pipeline {
	return &Pipeline{dirs: dirs, logger: noopLogger{}}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// Dirs returns the layer roots.
func (p *Pipeline) Dirs() Dirs {
	return p.dirs
}

// =============================================================================
// Raw
// =============================================================================

// WriteRaw stores one fetched batch under the group directory dir, named by
// the batch signature. It refuses to write an empty batch.
func WriteRaw(dir string, q measurement.Query, ms []measurement.Measurement) (string, error) {
	if len(ms) == 0 {
		return "", fmt.Errorf("%w: batch %s", ErrNoRows, q.Signature())
	}
	batch := q.Signature()
	rows := make([]RawRow, len(ms))
	for i, m := range ms {
		rows[i] = rawFromMeasurement(m, batch)
	}

	path := filepath.Join(dir, batch+fileExt)
	if err := WriteFile(path, rows); err != nil {
		return "", fmt.Errorf("writing raw batch %s: %w", batch, err)
	}
	return path, nil
}

// ReadRaw reads every batch file of a group directory in name order.
func ReadRaw(dir string) ([]RawRow, error) {
	files, err := parquetFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("listing raw batches: %w", err)
	}
	var rows []RawRow
	for _, f := range files {
		batch, err := readRows[RawRow](f)
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	return rows, nil
}

// =============================================================================
// Bronze
// =============================================================================

// RawToBronze promotes each listed group. Callers pass processed groups only.
func (p *Pipeline) RawToBronze(ctx context.Context, groups []string, opts Options) (Summary, error) {
	var sum Summary
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		path, reused, err := p.Bronze(g, opts)
		switch {
		case errors.Is(err, ErrNoRows):
			p.logger.Warn("group has no rows, skipping bronze", "group", g)
			sum.Skipped = append(sum.Skipped, g)
		case err != nil:
			return sum, err
		case reused:
			sum.Reused = append(sum.Reused, path)
		default:
			p.logger.Info("bronze written", "group", g, "file", filepath.Base(path))
			sum.Written = append(sum.Written, path)
		}
	}
	return sum, nil
}

// Bronze merges the raw batches of one group into its bronze file. An
// existing bronze file is reused unless opts.Force is set. Rows are
// deduplicated on (device, start, end, type) keeping the first in batch
// order, then sorted, so the output depends only on the raw content.
func (p *Pipeline) Bronze(group string, opts Options) (path string, reused bool, err error) {
	existing, err := p.bronzeFiles(group)
	if err != nil {
		return "", false, err
	}
	if len(existing) > 0 && !opts.Force {
		return existing[len(existing)-1], true, nil
	}

	raw, err := ReadRaw(filepath.Join(p.dirs.Raw, group))
	if err != nil {
		return "", false, err
	}

	seen := make(map[measurement.Key]struct{}, len(raw))
	rows := make([]BronzeRow, 0, len(raw))
	for _, r := range raw {
		b := r.bronze()
		k := b.measurement().Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, b)
	}
	if len(rows) == 0 {
		return "", false, fmt.Errorf("%w: group %s", ErrNoRows, group)
	}
	sortBronze(rows)

	minStart, maxStart := rows[0].FromTime, rows[0].FromTime
	for _, r := range rows {
		if r.FromTime.Before(minStart) {
			minStart = r.FromTime
		}
		if r.FromTime.After(maxStart) {
			maxStart = r.FromTime
		}
	}

	path = filepath.Join(p.dirs.Bronze, fmt.Sprintf("%s_%s_%s%s",
		group, minStart.UTC().Format(signatureLayout), maxStart.UTC().Format(signatureLayout), fileExt))
	if err := WriteFile(path, rows); err != nil {
		return "", false, fmt.Errorf("writing bronze %s: %w", group, err)
	}

	// Older bronze files of the group cover a superseded range.
	for _, old := range existing {
		if old != path {
			if err := os.Remove(old); err != nil {
				return "", false, fmt.Errorf("removing superseded bronze: %w", err)
			}
		}
	}
	return path, false, nil
}

// ReadBronze returns the bronze rows of a group as measurements.
func (p *Pipeline) ReadBronze(group string) ([]measurement.Measurement, error) {
	files, err := p.bronzeFiles(group)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBronze, group)
	}
	rows, err := readRows[BronzeRow](files[len(files)-1])
	if err != nil {
		return nil, err
	}
	ms := make([]measurement.Measurement, len(rows))
	for i, r := range rows {
		ms[i] = r.measurement()
	}
	return ms, nil
}

func (p *Pipeline) bronzeFiles(group string) ([]string, error) {
	files, err := parquetFiles(p.dirs.Bronze)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing bronze: %w", err)
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(group) + `_\d{8}T\d{6}Z_\d{8}T\d{6}Z\.parquet$`)
	var out []string
	for _, f := range files {
		if re.MatchString(filepath.Base(f)) {
			out = append(out, f)
		}
	}
	return out, nil
}

func sortBronze(rows []BronzeRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.MeteringPointID != b.MeteringPointID {
			return a.MeteringPointID < b.MeteringPointID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if !a.FromTime.Equal(b.FromTime) {
			return a.FromTime.Before(b.FromTime)
		}
		return a.ToTime.Before(b.ToTime)
	})
}

// =============================================================================
// Silver
// =============================================================================

// BronzeToSilver reconstructs every device of a group over w. A cached
// silver file is returned as is unless opts.Force is set; computed output
// is written when opts.Save is set.
func (p *Pipeline) BronzeToSilver(ctx context.Context, group string, w measurement.Window, opts Options) ([]measurement.SilverRecord, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !opts.Force {
		records, err := p.ReadSilver(group)
		if err == nil {
			return records, nil
		}
		if !errors.Is(err, ErrNoSilver) {
			return nil, err
		}
	}

	ms, err := p.ReadBronze(group)
	if err != nil {
		return nil, err
	}

	inWindow := ms[:0]
	for _, m := range ms {
		if w.Contains(m.IntervalStart) {
			inWindow = append(inWindow, m)
		}
	}
	inWindow = measurement.Dedupe(inWindow)

	byDevice := make(map[string][]measurement.Measurement)
	for _, m := range inWindow {
		byDevice[m.DeviceID] = append(byDevice[m.DeviceID], m)
	}
	devices := make([]string, 0, len(byDevice))
	for d := range byDevice {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	var records []measurement.SilverRecord
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := reconstruct.Device(group, d, byDevice[d], w)
		if err != nil {
			return nil, fmt.Errorf("reconstructing %s/%s: %w", group, d, err)
		}
		records = append(records, recs...)
	}

	if opts.Save {
		if err := p.WriteSilver(group, records); err != nil {
			return nil, err
		}
	}
	p.logger.Info("silver computed", "group", group, "devices", len(devices), "records", len(records))
	return records, nil
}

// WriteSilver stores reconstructed records of a group.
func (p *Pipeline) WriteSilver(group string, records []measurement.SilverRecord) error {
	rows := make([]SilverRow, len(records))
	for i, r := range records {
		rows[i] = silverFromRecord(r)
	}
	if err := WriteFile(p.silverPath(group), rows); err != nil {
		return fmt.Errorf("writing silver %s: %w", group, err)
	}
	return nil
}

// ReadSilver returns the stored silver records of a group.
func (p *Pipeline) ReadSilver(group string) ([]measurement.SilverRecord, error) {
	path := p.silverPath(group)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoSilver, group)
	}
	rows, err := readRows[SilverRow](path)
	if err != nil {
		return nil, err
	}
	records := make([]measurement.SilverRecord, len(rows))
	for i, r := range rows {
		records[i] = r.record()
	}
	return records, nil
}

// SilverWindow returns the interval span of stored silver records, for
// reporting. ok is false when the group has no silver output.
func (p *Pipeline) SilverWindow(group string) (w measurement.Window, ok bool, err error) {
	records, err := p.ReadSilver(group)
	if errors.Is(err, ErrNoSilver) {
		return measurement.Window{}, false, nil
	}
	if err != nil || len(records) == 0 {
		return measurement.Window{}, false, err
	}
	w = measurement.Window{From: records[0].IntervalStart, To: records[0].IntervalEnd}
	for _, r := range records {
		if r.IntervalStart.Before(w.From) {
			w.From = r.IntervalStart
		}
		if r.IntervalEnd.After(w.To) {
			w.To = r.IntervalEnd
		}
	}
	return w, true, nil
}

func (p *Pipeline) silverPath(group string) string {
	return filepath.Join(p.dirs.Silver, group+fileExt)
}
