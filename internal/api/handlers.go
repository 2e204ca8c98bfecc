package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meterflow-core/internal/measurement"
	"github.com/nerrad567/meterflow-core/internal/registry"
	"github.com/nerrad567/meterflow-core/internal/stage"
)

const healthCheckTimeout = 2 * time.Second

// handleHealth reports the server and each registered dependency. Any
// failing dependency turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  checks,
	})
}

type registryResponse struct {
	Progress registry.Progress `json:"progress"`
	Groups   []registry.Entry  `json:"groups"`
}

// handleRegistry returns progress and every group in processing order.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	progress, err := s.registry.Progress(r.Context())
	if err != nil {
		s.logger.Error("reading registry progress", "error", err)
		writeError(w, r, CodeRegistryUnavailable, "failed to read registry")
		return
	}
	entries, err := s.registry.Entries(r.Context())
	if err != nil {
		s.logger.Error("listing registry entries", "error", err)
		writeError(w, r, CodeRegistryUnavailable, "failed to read registry")
		return
	}
	if entries == nil {
		entries = []registry.Entry{}
	}
	writeJSON(w, http.StatusOK, registryResponse{Progress: progress, Groups: entries})
}

type silverResponse struct {
	GroupID string                     `json:"group_id"`
	Device  string                     `json:"device,omitempty"`
	Count   int                        `json:"count"`
	Records []measurement.SilverRecord `json:"records"`
}

// handleSilver returns the stored silver records of a group, optionally
// restricted to one device.
func (s *Server) handleSilver(w http.ResponseWriter, r *http.Request) {
	group, err := url.PathUnescape(chi.URLParam(r, "group"))
	if err != nil {
		writeError(w, r, CodeInvalidGroup, "malformed group id")
		return
	}
	if err := registry.ValidateGroupID(group); err != nil {
		writeError(w, r, CodeInvalidGroup, err.Error())
		return
	}

	records, err := s.silver.ReadSilver(group)
	if errors.Is(err, stage.ErrNoSilver) {
		writeError(w, r, CodeSilverNotFound, "no silver output for group "+group)
		return
	}
	if err != nil {
		s.logger.Error("reading silver", "group", group, "error", err)
		writeError(w, r, CodeSilverUnreadable, "failed to read silver output")
		return
	}

	device := r.URL.Query().Get("device")
	if device != "" {
		filtered := make([]measurement.SilverRecord, 0)
		for _, rec := range records {
			if rec.DeviceID == device {
				filtered = append(filtered, rec)
			}
		}
		if len(filtered) == 0 {
			writeError(w, r, CodeDeviceNotInGroup, "device "+device+" not in group "+group)
			return
		}
		records = filtered
	}
	if records == nil {
		records = []measurement.SilverRecord{}
	}

	writeJSON(w, http.StatusOK, silverResponse{
		GroupID: group,
		Device:  device,
		Count:   len(records),
		Records: records,
	})
}
