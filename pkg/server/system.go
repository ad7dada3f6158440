package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rvlink-network/rvlink/pkg/audit"
	"github.com/rvlink-network/rvlink/pkg/diag"
	"github.com/rvlink-network/rvlink/pkg/feature"
	"github.com/rvlink-network/rvlink/pkg/mapping"
	"github.com/rvlink-network/rvlink/pkg/version"
)

// observedResponse wraps an observed-but-unhandled table snapshot.
type observedResponse struct {
	Entries    []mapping.ObservedEntry `json:"entries"`
	Suppressed uint64                  `json:"suppressed"`
}

func (s *Server) handleUnmapped(w http.ResponseWriter, r *http.Request) {
	entries, suppressed := s.dispatcher.Unmapped.Snapshot()
	writeJSON(w, http.StatusOK, observedResponse{Entries: entries, Suppressed: suppressed})
}

func (s *Server) handleUnknownPGNs(w http.ResponseWriter, r *http.Request) {
	entries, suppressed := s.dispatcher.Unknown.Snapshot()
	writeJSON(w, http.StatusOK, observedResponse{Entries: entries, Suppressed: suppressed})
}

func (s *Server) handleCANInterfaces(w http.ResponseWriter, r *http.Request) {
	if s.can == nil {
		writeBadRequest(w, "CAN transport is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.can.Inventory())
}

func (s *Server) handleCANStatistics(w http.ResponseWriter, r *http.Request) {
	if s.can == nil {
		writeBadRequest(w, "CAN transport is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.can.Statistics())
}

func (s *Server) handleCANRecent(w http.ResponseWriter, r *http.Request) {
	if s.can == nil {
		writeBadRequest(w, "CAN transport is disabled")
		return
	}
	frames, err := s.can.Recent(r.URL.Query().Get("interface"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) handleDTCs(w http.ResponseWriter, r *http.Request) {
	if s.diag == nil {
		writeJSON(w, http.StatusOK, []diag.Record{})
		return
	}

	q := r.URL.Query()
	f := diag.Filter{Protocol: q.Get("protocol")}
	if sa := q.Get("source_address"); sa != "" {
		n, err := strconv.ParseUint(sa, 0, 8)
		if err != nil {
			writeBadRequest(w, "source_address must be a byte value")
			return
		}
		addr := uint8(n)
		f.SourceAddress = &addr
	}
	if active := q.Get("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			writeBadRequest(w, "active must be a boolean")
			return
		}
		f.ActiveOnly = b
	}
	writeJSON(w, http.StatusOK, s.diag.Snapshot(f))
}

func (s *Server) handleCorrelated(w http.ResponseWriter, r *http.Request) {
	if s.diag == nil {
		writeJSON(w, http.StatusOK, []diag.Group{})
		return
	}
	groups := s.diag.Correlated()
	if groups == nil {
		groups = []diag.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// healthResponse aggregates feature health into one overall status.
type healthResponse struct {
	Status   string                    `json:"status"` // healthy, degraded, failed
	Version  string                    `json:"version"`
	Features map[string]feature.Health `json:"features"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   feature.HealthHealthy,
		Version:  version.Version,
		Features: map[string]feature.Health{},
	}
	if s.features != nil {
		resp.Features = s.features.SampleHealth()
	}
	for _, h := range resp.Features {
		switch h.State {
		case feature.HealthFailed:
			resp.Status = feature.HealthFailed
		case feature.HealthDegraded:
			if resp.Status != feature.HealthFailed {
				resp.Status = feature.HealthDegraded
			}
		}
	}

	status := http.StatusOK
	if resp.Status == feature.HealthFailed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		EntityID: q.Get("entity_id"),
		Command:  q.Get("command"),
		BulkID:   q.Get("bulk_id"),
		Limit:    queryInt(q.Get("limit"), 0),
		Offset:   queryInt(q.Get("offset"), 0),
	}
	if f.Limit < 0 || f.Offset < 0 {
		writeBadRequest(w, "limit and offset must be non-negative integers")
		return
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		f.StartTime = t
	}
	switch q.Get("result") {
	case "":
	case "success":
		f.SuccessOnly = true
	case "failure":
		f.FailureOnly = true
	default:
		writeBadRequest(w, "result must be 'success' or 'failure'")
		return
	}

	events, err := audit.Query(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if s.features == nil {
		writeJSON(w, http.StatusOK, []feature.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.features.Statuses())
}
