// Package httpapi is the HTTP surface of the permission service:
// entity management, effective-permission resolution and the audit
// trail, behind bearer-token authentication.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/audit"
	"accessgrid.org/internal/obs"
)

// Resolver answers effective-permission questions. Satisfied by the
// engine directly and by its caching wrapper.
type Resolver interface {
	Resolve(ctx context.Context, req access.ResolveRequest) (access.Level, error)
}

// ReadyProbe checks backing-store readiness.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Service  *access.Service
	Resolver Resolver
	AuditLog audit.Log
	Auth     *Authenticator
	Ready    ReadyProbe
	Version  string

	RateLimit float64
	RateBurst int
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	svc      *access.Service
	resolver Resolver
	auditLog audit.Log
	auth     *Authenticator
	probe    ReadyProbe
	version  string

	rateLimit float64
	rateBurst int
}

// New builds the router. Service and Resolver are required.
func New(opts Options) (*API, error) {
	if opts.Service == nil {
		return nil, errors.New("service is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	auditLog := opts.AuditLog
	if auditLog == nil {
		auditLog = opts.Service.AuditLog()
	}

	a := &API{
		mux:       http.NewServeMux(),
		svc:       opts.Service,
		resolver:  opts.Resolver,
		auditLog:  auditLog,
		auth:      opts.Auth,
		probe:     opts.Ready,
		version:   opts.Version,
		rateLimit: opts.RateLimit,
		rateBurst: opts.RateBurst,
	}
	if a.rateLimit <= 0 {
		a.rateLimit = 50
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 100
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.HandleFunc("/v1/info", a.info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/units/", a.handleUnitResource)
	a.mux.HandleFunc("/v1/groups/", a.handleGroupResource)
	a.mux.HandleFunc("/v1/inheritance-rules/", a.handleRuleResource)

	a.mux.HandleFunc("/v1/resolve", a.handleResolve)

	a.mux.HandleFunc("/v1/audit-logs", a.handleAuditLogs)
	a.mux.HandleFunc("/v1/audit-logs/export", a.handleAuditExport)
	a.mux.HandleFunc("/v1/audit-logs/statistics", a.handleAuditStatistics)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateLimit, a.rateBurst)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "accessgrid-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "accessgrid-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrStorageUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
