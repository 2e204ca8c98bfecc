// Package usagepoint builds the topology to device association table from
// per-topology usage point exports.
//
// Each export is a JSON array named <topology>.json whose objects carry the
// device identifier under "IdentifiedObject.name". The result is the parquet
// table read by registry.ParquetSource.
package usagepoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nerrad567/meterflow-core/internal/registry"
	"github.com/nerrad567/meterflow-core/internal/stage"
)

const (
	nameField = "IdentifiedObject.name"
	jsonExt   = ".json"
)

// ErrNoExports is returned when the source directory holds no exports.
var ErrNoExports = errors.New("usagepoint: no usage point exports found")

// Logger defines the logging interface used by Build.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Summary reports what Build parsed.
type Summary struct {
	Topologies int
	Devices    int
	// Dropped counts entries with a null or empty identifier.
	Dropped int
	// Empty lists topologies that contributed no devices.
	Empty []string
}

// Builder converts usage point exports into associations.
type Builder struct {
	logger Logger
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{logger: noopLogger{}}
}

// SetLogger sets the logger for the builder.
func (b *Builder) SetLogger(logger Logger) {
	b.logger = logger
}

// Parse reads every export in srcDir in name order.
func (b *Builder) Parse(srcDir string) ([]registry.Association, Summary, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("listing usage points: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), jsonExt) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, Summary{}, fmt.Errorf("%w in %s", ErrNoExports, srcDir)
	}

	var sum Summary
	var assocs []registry.Association
	for i, name := range files {
		topology := strings.TrimSuffix(name, filepath.Ext(name))
		if err := registry.ValidateGroupID(topology); err != nil {
			return nil, sum, err
		}

		ids, dropped, err := readExport(filepath.Join(srcDir, name))
		if err != nil {
			return nil, sum, err
		}
		sum.Topologies++
		sum.Dropped += dropped
		if len(ids) == 0 {
			sum.Empty = append(sum.Empty, topology)
			b.logger.Warn("topology has no usage points", "topology", topology)
			continue
		}
		for _, id := range ids {
			assocs = append(assocs, registry.Association{Topology: topology, AMIID: id})
		}
		sum.Devices += len(ids)
		b.logger.Info("parsed usage points",
			"index", i,
			"topology", topology,
			"devices", len(ids),
		)
	}
	return assocs, sum, nil
}

// Build parses srcDir and writes the association table to dst.
func (b *Builder) Build(srcDir, dst string) (Summary, error) {
	assocs, sum, err := b.Parse(srcDir)
	if err != nil {
		return sum, err
	}
	if len(assocs) == 0 {
		return sum, fmt.Errorf("%w: every export in %s is empty", ErrNoExports, srcDir)
	}
	if err := writeAssociations(dst, assocs); err != nil {
		return sum, err
	}
	if sum.Dropped > 0 {
		b.logger.Warn("dropped usage points without identifier", "count", sum.Dropped)
	}
	b.logger.Info("association table written",
		"path", dst,
		"topologies", sum.Topologies,
		"devices", sum.Devices,
	)
	return sum, nil
}

func readExport(path string) (ids []string, dropped int, err error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied export directory
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", path, err)
	}

	var objects []map[string]json.RawMessage
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}

	for _, obj := range objects {
		raw, ok := obj[nameField]
		if !ok {
			dropped++
			continue
		}
		var id *string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, 0, fmt.Errorf("decoding %s in %s: %w", nameField, filepath.Base(path), err)
		}
		if id == nil || strings.TrimSpace(*id) == "" {
			dropped++
			continue
		}
		ids = append(ids, strings.TrimSpace(*id))
	}
	return ids, dropped, nil
}

// writeAssociations replaces dst atomically; readers never see a partial
// table.
func writeAssociations(dst string, assocs []registry.Association) error {
	if err := stage.WriteFile(dst, assocs); err != nil {
		return fmt.Errorf("writing associations: %w", err)
	}
	return nil
}
