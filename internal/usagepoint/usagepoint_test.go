package usagepoint_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/meterflow-core/internal/registry"
	"github.com/nerrad567/meterflow-core/internal/usagepoint"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestBuild(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "T2.json", `[{"IdentifiedObject.name": "m3"}]`)
	writeFile(t, src, "T1.json", `[
		{"IdentifiedObject.name": "m1", "IdentifiedObject.mRID": "x"},
		{"IdentifiedObject.name": null},
		{"IdentifiedObject.name": " m2 "},
		{"other": 1}
	]`)
	writeFile(t, src, "T3.json", `[]`)
	writeFile(t, src, "README.txt", "ignored")

	dst := filepath.Join(t.TempDir(), "bronze", "associations.parquet")
	sum, err := usagepoint.NewBuilder().Build(src, dst)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if sum.Topologies != 3 || sum.Devices != 3 || sum.Dropped != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.Empty) != 1 || sum.Empty[0] != "T3" {
		t.Errorf("Empty = %v, want [T3]", sum.Empty)
	}

	// The written table feeds the registry directly.
	got, err := registry.ParquetSource{Path: dst}.Associations(context.Background())
	if err != nil {
		t.Fatalf("reading associations: %v", err)
	}
	want := []registry.Association{
		{Topology: "T1", AMIID: "m1"},
		{Topology: "T1", AMIID: "m2"},
		{Topology: "T2", AMIID: "m3"},
	}
	if len(got) != len(want) {
		t.Fatalf("associations = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("associations[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("destination holds %d entries, want only the table", len(entries))
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr error
	}{
		{"no exports", map[string]string{"notes.txt": "x"}, usagepoint.ErrNoExports},
		{"all empty", map[string]string{"T1.json": `[]`}, usagepoint.ErrNoExports},
		{"malformed json", map[string]string{"T1.json": `{"not": "an array"}`}, nil},
		{"non-string id", map[string]string{"T1.json": `[{"IdentifiedObject.name": 42}]`}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := t.TempDir()
			for name, content := range tt.files {
				writeFile(t, src, name, content)
			}
			_, err := usagepoint.NewBuilder().Build(src, filepath.Join(t.TempDir(), "a.parquet"))
			if err == nil {
				t.Fatal("Build() succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_MissingDir(t *testing.T) {
	if _, _, err := usagepoint.NewBuilder().Parse(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Parse() on missing dir succeeded")
	}
}

func TestBuild_ReplacesTableAtomically(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, dst string)
		wantErr bool
	}{
		{name: "fresh destination", prepare: func(*testing.T, string) {}},
		{
			name:    "existing table",
			prepare: func(t *testing.T, dst string) { writeFile(t, filepath.Dir(dst), filepath.Base(dst), "stale") },
		},
		{
			name: "destination is a directory",
			prepare: func(t *testing.T, dst string) {
				if err := os.MkdirAll(filepath.Join(dst, "child"), 0750); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := t.TempDir()
			writeFile(t, src, "T1.json", `[{"IdentifiedObject.name": "m1"}]`)
			dir := t.TempDir()
			dst := filepath.Join(dir, "associations.parquet")
			tt.prepare(t, dst)

			_, err := usagepoint.NewBuilder().Build(src, dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 1 || entries[0].Name() != "associations.parquet" {
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					names = append(names, e.Name())
				}
				t.Errorf("destination dir = %v, want only the table", names)
			}
			if tt.wantErr {
				return
			}

			info, err := os.Stat(dst)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0640 {
				t.Errorf("table mode = %v, want 0640", info.Mode().Perm())
			}
			got, err := registry.ParquetSource{Path: dst}.Associations(context.Background())
			if err != nil || len(got) != 1 || got[0].AMIID != "m1" {
				t.Errorf("associations = %+v, %v", got, err)
			}
		})
	}
}
