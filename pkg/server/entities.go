package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rvlink-network/rvlink/pkg/audit"
	"github.com/rvlink-network/rvlink/pkg/encode"
	"github.com/rvlink-network/rvlink/pkg/store"
	"github.com/rvlink-network/rvlink/pkg/util"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// entityListResponse is the paginated entity listing.
type entityListResponse struct {
	Entities       []store.Snapshot  `json:"entities"`
	TotalCount     int               `json:"total_count"`
	Page           int               `json:"page"`
	PageSize       int               `json:"page_size"`
	HasNext        bool              `json:"has_next"`
	FiltersApplied map[string]string `json:"filters_applied"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceType := q.Get("device_type")
	area := q.Get("area")
	protocol := q.Get("protocol")

	page := queryInt(q.Get("page"), 1)
	pageSize := queryInt(q.Get("page_size"), defaultPageSize)
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		writeBadRequest(w, "page must be >= 1 and page_size within 1..500")
		return
	}

	snaps, err := s.store.List(r.Context(), deviceType, area)
	if err != nil {
		writeError(w, err)
		return
	}
	if protocol != "" {
		filtered := snaps[:0]
		for _, snap := range snaps {
			if snap.Protocol == protocol {
				filtered = append(filtered, snap)
			}
		}
		snaps = filtered
	}

	total := len(snaps)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	filters := map[string]string{}
	for k, v := range map[string]string{"device_type": deviceType, "area": area, "protocol": protocol} {
		if v != "" {
			filters[k] = v
		}
	}

	writeJSON(w, http.StatusOK, entityListResponse{
		Entities:       snaps[start:end],
		TotalCount:     total,
		Page:           page,
		PageSize:       pageSize,
		HasNext:        end < total,
		FiltersApplied: filters,
	})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Get(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// historyEntry is the wire form of one history sample.
type historyEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	State     map[string]interface{} `json:"state"`
	Source    string                 `json:"source"`
}

func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	snap, err := s.store.Get(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.store.History(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		kept := entries[:0]
		for _, e := range entries {
			if !e.Timestamp.Before(t) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if limit := queryInt(q.Get("limit"), 0); limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{Timestamp: e.Timestamp, State: e.State, Source: snap.Protocol})
	}
	writeJSON(w, http.StatusOK, out)
}

// controlRequest is the body of single and bulk control calls.
type controlRequest struct {
	Command    string   `json:"command"`
	State      *bool    `json:"state,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
}

func (r controlRequest) toCommand() encode.Command {
	return encode.Command{Kind: r.Command, State: r.State, Brightness: r.Brightness}
}

// operationResult is the wire form of one command outcome.
type operationResult struct {
	EntityID        string `json:"entity_id"`
	Status          string `json:"status"` // success, failed, timeout, skipped
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

func wireResult(res store.OperationResult) operationResult {
	out := operationResult{
		EntityID:        res.EntityID,
		Status:          "success",
		ExecutionTimeMS: res.Duration.Milliseconds(),
	}
	switch res.Status {
	case store.StatusSuccess:
	case store.StatusSkipped:
		out.Status = "skipped"
	default:
		out.Status = "failed"
		if res.Error == "TX_TIMEOUT" {
			out.Status = "timeout"
		}
		out.ErrorCode = res.Error
		out.ErrorMessage = res.Message
	}
	return out
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	entityID := chi.URLParam(r, "entityID")
	res, err := s.store.Control(r.Context(), entityID, req.toCommand())
	auditResult(r, res, req.Command, commandParams(req.State, req.Brightness), "")
	if err != nil {
		writeJSON(w, httpStatus(util.ErrorCode(err)), wireResult(res))
		return
	}
	writeJSON(w, http.StatusOK, wireResult(res))
}

// auditResult records one command outcome in the audit log.
func auditResult(r *http.Request, res store.OperationResult, command, params, bulkID string) {
	ev := audit.NewEvent(res.EntityID, command).
		WithParameters(params).
		WithDuration(res.Duration).
		WithClient(r.RemoteAddr, middleware.GetReqID(r.Context()))
	if bulkID != "" {
		ev = ev.WithBulk(bulkID)
	}
	if res.Status == store.StatusSuccess {
		ev = ev.WithSuccess()
	} else {
		ev = ev.WithError(res.Error)
	}
	if err := audit.Log(ev); err != nil {
		util.Warnf("audit: %v", err)
	}
}

// commandParams renders command parameters as compact JSON for the audit log.
func commandParams(state *bool, brightness *float64) string {
	if state == nil && brightness == nil {
		return ""
	}
	params := map[string]interface{}{}
	if state != nil {
		params["state"] = *state
	}
	if brightness != nil {
		params["brightness"] = *brightness
	}
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(data)
}

// bulkControlRequest is the bulk-control body.
type bulkControlRequest struct {
	EntityIDs      []string `json:"entity_ids"`
	Command        string   `json:"command"`
	State          *bool    `json:"state,omitempty"`
	Brightness     *float64 `json:"brightness,omitempty"`
	IgnoreErrors   bool     `json:"ignore_errors,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// bulkOperationResult is the bulk-control response.
type bulkOperationResult struct {
	OperationID          string            `json:"operation_id"`
	TotalCount           int               `json:"total_count"`
	SuccessCount         int               `json:"success_count"`
	FailedCount          int               `json:"failed_count"`
	Results              []operationResult `json:"results"`
	TotalExecutionTimeMS int64             `json:"total_execution_time_ms"`
}

func (s *Server) handleBulkControl(w http.ResponseWriter, r *http.Request) {
	var req bulkControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.EntityIDs) == 0 {
		writeBadRequest(w, "entity_ids must not be empty")
		return
	}
	if req.TimeoutSeconds < 0 {
		writeBadRequest(w, "timeout_seconds must not be negative")
		return
	}
	cmd := encode.Command{Kind: req.Command, State: req.State, Brightness: req.Brightness}
	if err := cmd.Validate(); err != nil {
		if errors.Is(err, util.ErrInvalidParameter) {
			writeBadRequest(w, err.Error())
			return
		}
		writeError(w, err)
		return
	}

	bulk := s.store.ApplyBulk(r.Context(), req.EntityIDs, cmd, store.BulkOptions{
		IgnoreErrors: req.IgnoreErrors,
		Timeout:      time.Duration(req.TimeoutSeconds) * time.Second,
	})

	operationID := fmt.Sprintf("bulk-%d", time.Now().UnixNano())
	params := commandParams(req.State, req.Brightness)

	results := make([]operationResult, 0, len(bulk.Results))
	failed := 0
	for _, res := range bulk.Results {
		auditResult(r, res, req.Command, params, operationID)
		wire := wireResult(res)
		if wire.Status != "success" {
			failed++
		}
		results = append(results, wire)
	}

	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, bulkOperationResult{
		OperationID:          operationID,
		TotalCount:           len(results),
		SuccessCount:         len(results) - failed,
		FailedCount:          failed,
		Results:              results,
		TotalExecutionTimeMS: bulk.TotalExecutionTime.Milliseconds(),
	})
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
