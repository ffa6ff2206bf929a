// Package audit defines the append-only audit log contract: entries are
// immutable once written, insertion order is authoritative, and every
// permission-affecting mutation commits exactly one entry.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// SystemActor is recorded when no authenticated actor is attached to a
// mutation; ActorEmail is never empty.
const SystemActor = "system@accessgrid.org"

// ExportMaxRows bounds unpaginated exports so a broad filter cannot
// trigger an unbounded scan.
const ExportMaxRows = 10000

var (
	ErrInvalidInput = errors.New("audit: invalid input")
	ErrTooManyRows  = fmt.Errorf("%w: export exceeds %d rows", ErrInvalidInput, ExportMaxRows)
)

// Change is one field of a before/after diff.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Entry is a single audit record. Seq is assigned by the log at append
// time and breaks timestamp ties; Timestamp is informational.
type Entry struct {
	ID             string            `json:"id"`
	Seq            uint64            `json:"seq"`
	Timestamp      time.Time         `json:"timestamp"`
	Action         string            `json:"action"`
	ResourceType   string            `json:"resource_type"`
	ResourceID     string            `json:"resource_id"`
	OrganizationID string            `json:"organization_id"`
	ActorID        string            `json:"actor_id,omitempty"`
	ActorEmail     string            `json:"actor_email"`
	IPAddress      string            `json:"ip_address,omitempty"`
	Changes        map[string]Change `json:"changes,omitempty"`
}

// Validate checks the fields every entry must carry before it is
// accepted for append.
func (e Entry) Validate() error {
	switch {
	case strings.TrimSpace(e.Action) == "":
		return fmt.Errorf("%w: action is required", ErrInvalidInput)
	case strings.TrimSpace(e.ResourceType) == "":
		return fmt.Errorf("%w: resource_type is required", ErrInvalidInput)
	case strings.TrimSpace(e.ResourceID) == "":
		return fmt.Errorf("%w: resource_id is required", ErrInvalidInput)
	case strings.TrimSpace(e.ActorEmail) == "":
		return fmt.Errorf("%w: actor_email is required", ErrInvalidInput)
	}
	return nil
}

// Filter narrows queries and exports. Zero values match everything.
type Filter struct {
	OrganizationID string
	ResourceType   string
	Action         string
	ActorID        string
	From           time.Time
	To             time.Time
}

// Matches reports whether the entry passes the filter.
func (f Filter) Matches(e Entry) bool {
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Page is one page of query results, newest first.
type Page struct {
	Entries    []Entry `json:"entries"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalPages int     `json:"total_pages"`
}

// Stats aggregates matching entries by action and resource type.
type Stats struct {
	Total          int            `json:"total"`
	ByAction       map[string]int `json:"by_action"`
	ByResourceType map[string]int `json:"by_resource_type"`
}

// Log is the read side of an audit store. Appends happen only inside
// store mutations, atomically with the change they record; no mutation
// or deletion API exists.
type Log interface {
	// Query returns entries newest first, Seq breaking ties.
	Query(ctx context.Context, f Filter, page, pageSize int) (Page, error)
	// List returns up to limit matching entries newest first. limit <= 0
	// means no explicit bound beyond the store's scan limit.
	List(ctx context.Context, f Filter, limit int) ([]Entry, error)
}

// csvHeader is the fixed export column order; external consumers depend
// on it.
var csvHeader = []string{"timestamp", "action", "resource_type", "resource_id", "actor_email", "ip_address", "changes"}

// Export streams matching entries as CSV, newest first, bounded by
// ExportMaxRows.
func Export(ctx context.Context, log Log, w io.Writer, f Filter) error {
	entries, err := log.List(ctx, f, ExportMaxRows+1)
	if err != nil {
		return err
	}
	if len(entries) > ExportMaxRows {
		return ErrTooManyRows
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		changes := ""
		if len(e.Changes) > 0 {
			raw, err := json.Marshal(e.Changes)
			if err != nil {
				return fmt.Errorf("encode changes for %s: %w", e.ID, err)
			}
			changes = string(raw)
		}
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Action,
			e.ResourceType,
			e.ResourceID,
			e.ActorEmail,
			e.IPAddress,
			changes,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Statistics aggregates matching entries. It scans at most
// ExportMaxRows entries, same bound as Export.
func Statistics(ctx context.Context, log Log, f Filter) (Stats, error) {
	entries, err := log.List(ctx, f, ExportMaxRows)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		ByAction:       make(map[string]int),
		ByResourceType: make(map[string]int),
	}
	for _, e := range entries {
		stats.Total++
		stats.ByAction[e.Action]++
		stats.ByResourceType[e.ResourceType]++
	}
	return stats, nil
}

// NormalizePage clamps pagination parameters to sane bounds.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}
