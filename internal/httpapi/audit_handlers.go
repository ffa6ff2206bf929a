package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"accessgrid.org/internal/audit"
)

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, PermReadAudit) {
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := parseQueryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := parseQueryInt(r, "page_size", 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.auditLog.Query(r.Context(), filter, page, pageSize)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, PermReadAudit) {
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=audit-log-%s.csv", time.Now().UTC().Format("2006-01-02")))
	if err := audit.Export(r.Context(), a.auditLog, w, filter); err != nil {
		if errors.Is(err, audit.ErrTooManyRows) {
			// Export lists before writing, so no CSV bytes are out yet.
			w.Header().Del("Content-Disposition")
			writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		handleAccessError(w, r, err)
	}
}

func (a *API) handleAuditStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, PermReadAudit) {
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := audit.Statistics(r.Context(), a.auditLog, filter)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		OrganizationID: strings.TrimSpace(q.Get("organization_id")),
		ResourceType:   strings.TrimSpace(q.Get("resource_type")),
		Action:         strings.TrimSpace(q.Get("action")),
		ActorID:        strings.TrimSpace(q.Get("actor_id")),
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("from must be RFC 3339: %v", err)
		}
		f.From = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("to must be RFC 3339: %v", err)
		}
		f.To = t
	}
	return f, nil
}

func parseQueryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return val, nil
}
