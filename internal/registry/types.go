package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// State is the processing state of a group.
type State string

const (
	// StateUnseen means the group is registered but nothing is on disk.
	StateUnseen State = "unseen"
	// StateUnprocessed means a group directory exists but is incomplete.
	StateUnprocessed State = "unprocessed"
	// StateProcessed means every planned batch was written.
	StateProcessed State = "processed"
)

// Entry is one topology group and its devices.
type Entry struct {
	GroupID     string    `json:"group_id"`
	DeviceIDs   []string  `json:"device_ids"`
	DeviceCount int       `json:"device_count"`
	Processed   bool      `json:"processed"`
	Position    int       `json:"position"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Progress counts groups by completion.
type Progress struct {
	Processed   int `json:"processed"`
	Unprocessed int `json:"unprocessed"`
	Total       int `json:"total"`
}

func (p Progress) String() string {
	return fmt.Sprintf("[%d/%d]", p.Processed, p.Total)
}

// Done reports whether every group is processed.
func (p Progress) Done() bool {
	return p.Processed == p.Total
}

// Association links one device to its topology group.
type Association struct {
	Topology string `parquet:"topology"`
	AMIID    string `parquet:"ami_id"`
}

// BuildEntries groups associations by topology. Device order is first
// appearance; duplicate devices within a group are dropped. Entries are
// sorted by device count descending, then group ID, and numbered in that
// order.
func BuildEntries(assocs []Association, now time.Time) ([]Entry, error) {
	if len(assocs) == 0 {
		return nil, ErrNoAssociations
	}

	byGroup := make(map[string]*Entry)
	seen := make(map[string]map[string]bool)
	var order []string
	for _, a := range assocs {
		group := strings.TrimSpace(a.Topology)
		dev := strings.TrimSpace(a.AMIID)
		if dev == "" {
			continue
		}
		if err := ValidateGroupID(group); err != nil {
			return nil, err
		}
		e := byGroup[group]
		if e == nil {
			e = &Entry{GroupID: group, UpdatedAt: now}
			byGroup[group] = e
			seen[group] = make(map[string]bool)
			order = append(order, group)
		}
		if seen[group][dev] {
			continue
		}
		seen[group][dev] = true
		e.DeviceIDs = append(e.DeviceIDs, dev)
	}
	if len(order) == 0 {
		return nil, ErrNoAssociations
	}

	entries := make([]Entry, 0, len(order))
	for _, g := range order {
		e := byGroup[g]
		e.DeviceCount = len(e.DeviceIDs)
		entries = append(entries, *e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].DeviceCount != entries[j].DeviceCount {
			return entries[i].DeviceCount > entries[j].DeviceCount
		}
		return entries[i].GroupID < entries[j].GroupID
	})
	for i := range entries {
		entries[i].Position = i
	}
	return entries, nil
}

// ValidateGroupID rejects IDs that are empty or would escape the raw root.
func ValidateGroupID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidGroupID, id)
	}
	return nil
}
