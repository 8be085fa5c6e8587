package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// pagination parses limit and offset, writing the error response itself when
// a value is out of range.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				"limit must be between 1 and 1000")
			return 0, 0, false
		}
		limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				"offset must be >= 0")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid alert ID")
		return 0, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type alertJSON struct {
	ID           int64   `json:"id"`
	Severity     string  `json:"severity"`
	Category     string  `json:"category"`
	Path         *string `json:"path"`
	Summary      string  `json:"summary"`
	Details      *string `json:"details"`
	Source       string  `json:"source"`
	Acknowledged bool    `json:"acknowledged"`
	CreatedAt    string  `json:"created_at"`
}

func toAlertJSON(a storage.Alert) alertJSON {
	return alertJSON{
		ID:           a.ID,
		Severity:     a.Severity,
		Category:     a.Category,
		Path:         a.Path,
		Summary:      a.Summary,
		Details:      a.Details,
		Source:       a.Source,
		Acknowledged: a.Acknowledged,
		CreatedAt:    a.CreatedAt,
	}
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	var filter storage.AlertFilter
	q := r.URL.Query()

	if raw := q.Get("severity"); raw != "" {
		switch raw {
		case "info", "warning", "critical":
			filter.Severity = &raw
		default:
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				"severity must be 'info', 'warning', or 'critical'")
			return
		}
	}
	if raw := q.Get("acknowledged"); raw != "" {
		switch raw {
		case "true", "false":
			v := raw == "true"
			filter.Acknowledged = &v
		default:
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				"acknowledged must be 'true' or 'false'")
			return
		}
	}
	if raw := q.Get("category"); raw != "" {
		filter.Category = &raw
	}
	if raw := q.Get("since_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER",
				"Invalid since_id value")
			return
		}
		filter.SinceID = &id
	}

	alerts, err := s.alerts.Filtered(filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}

	out := make([]alertJSON, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": out,
		"total":  len(out),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	alert, err := s.alerts.FindByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}
	if alert == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Alert not found")
		return
	}
	writeJSON(w, http.StatusOK, toAlertJSON(*alert))
}

func (s *Server) setAcknowledged(w http.ResponseWriter, r *http.Request, ack bool) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		found bool
		err   error
	)
	if ack {
		found, err = s.alerts.Acknowledge(id)
	} else {
		found, err = s.alerts.Unacknowledge(id)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Alert not found")
		return
	}

	alert, err := s.alerts.FindByID(id)
	if err != nil || alert == nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR",
			"Alert vanished during acknowledgment")
		return
	}
	writeJSON(w, http.StatusOK, toAlertJSON(*alert))
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.setAcknowledged(w, r, true)
}

func (s *Server) handleUnacknowledge(w http.ResponseWriter, r *http.Request) {
	s.setAcknowledged(w, r, false)
}

type baselineJSON struct {
	ID         int64   `json:"id"`
	Path       string  `json:"path"`
	HashAlg    string  `json:"hash_alg"`
	HashValue  string  `json:"hash_value"`
	Size       int64   `json:"size"`
	Mode       uint32  `json:"mode"`
	UID        uint32  `json:"uid"`
	GID        uint32  `json:"gid"`
	MtimeNS    int64   `json:"mtime_ns"`
	Source     string  `json:"source"`
	Deployment *string `json:"deployment"`
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	var source *string
	if raw := r.URL.Query().Get("source"); raw != "" {
		source = &raw
	}

	baselines, err := s.baselines.List(source, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}

	out := make([]baselineJSON, 0, len(baselines))
	for _, b := range baselines {
		out = append(out, baselineJSON{
			ID:         b.ID,
			Path:       b.Path,
			HashAlg:    b.HashAlg,
			HashValue:  b.HashValue,
			Size:       b.Size,
			Mode:       b.Mode,
			UID:        b.UID,
			GID:        b.GID,
			MtimeNS:    b.MtimeNS,
			Source:     b.Source,
			Deployment: b.Deployment,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baselines": out,
		"total":     len(out),
		"limit":     limit,
		"offset":    offset,
	})
}

type journalEventJSON struct {
	ID        int64  `json:"id"`
	RuleName  string `json:"rule_name"`
	Message   string `json:"message"`
	Priority  uint8  `json:"priority"`
	UnitName  string `json:"unit_name"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleListJournalEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	events, err := s.journalEvents.Recent(limit + offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}
	total := len(events)
	events = page(events, limit, offset)

	out := make([]journalEventJSON, 0, len(events))
	for _, e := range events {
		j := journalEventJSON{
			ID:        e.ID,
			RuleName:  e.RuleName,
			Message:   e.Message,
			Priority:  e.Priority,
			CreatedAt: e.CreatedAt,
		}
		if e.UnitName != nil {
			j.UnitName = *e.UnitName
		}
		out = append(out, j)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"journal_events": out,
		"total":          total,
		"limit":          limit,
		"offset":         offset,
	})
}

type auditEventJSON struct {
	ID          int64  `json:"id"`
	RuleName    string `json:"rule_name"`
	EventType   string `json:"event_type"`
	PID         int32  `json:"pid"`
	UID         uint32 `json:"uid"`
	Username    string `json:"username"`
	ExePath     string `json:"exe_path"`
	CommandLine string `json:"command_line"`
	Details     string `json:"details"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	events, err := s.auditEvents.Recent(limit + offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}
	total := len(events)
	events = page(events, limit, offset)

	out := make([]auditEventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventJSON{
			ID:          e.ID,
			RuleName:    e.RuleName,
			EventType:   e.EventType,
			PID:         e.PID,
			UID:         e.UID,
			Username:    e.Username,
			ExePath:     e.ExePath,
			CommandLine: e.CommandLine,
			Details:     e.Details,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audit_events": out,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// page applies offset and limit to an already-fetched slice.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
