package registry

import (
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// Source supplies topology-to-device associations.
type Source interface {
	Associations(ctx context.Context) ([]Association, error)
}

// ParquetSource reads associations from a parquet file with topology and
// ami_id columns.
type ParquetSource struct {
	Path string
}

// Associations reads all rows of the file.
func (s ParquetSource) Associations(_ context.Context) ([]Association, error) {
	rows, err := parquet.ReadFile[Association](s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading associations %s: %w", s.Path, err)
	}
	return rows, nil
}

// StaticSource serves a fixed association list.
type StaticSource []Association

// Associations returns the list.
func (s StaticSource) Associations(context.Context) ([]Association, error) {
	return s, nil
}
