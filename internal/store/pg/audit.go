package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/audit"
)

// appendEntry writes one audit row inside the mutation transaction.
// The seq column is a bigserial, so insertion order is assigned by the
// database and never reused.
func appendEntry(ctx context.Context, tx *sql.Tx, entry audit.Entry) error {
	var changes []byte
	if len(entry.Changes) > 0 {
		raw, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("encode changes: %w", err)
		}
		changes = raw
	}
	_, err := tx.ExecContext(ctx, `
		insert into audit_log (id, ts, action, resource_type, resource_id, organization_id, actor_id, actor_email, ip_address, changes)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.Timestamp, entry.Action, entry.ResourceType, entry.ResourceID, entry.OrganizationID,
		entry.ActorID, entry.ActorEmail, entry.IPAddress, changes)
	if err != nil {
		return fmt.Errorf("%w: audit append failed: %v", access.ErrStorageUnavailable, err)
	}
	return nil
}

// AuditLog exposes the read side of the audit table. The table has no
// update or delete path in this codebase; immutability is also enforced
// by a database trigger (see migrations).
func (s *Store) AuditLog() audit.Log { return &auditLog{db: s.db} }

type auditLog struct {
	db *sql.DB
}

const auditColumns = `id, seq, ts, action, resource_type, resource_id, organization_id, coalesce(actor_id,''), actor_email, coalesce(ip_address,''), changes`

func (l *auditLog) Query(ctx context.Context, f audit.Filter, page, pageSize int) (audit.Page, error) {
	page, pageSize = audit.NormalizePage(page, pageSize)
	where, args := buildAuditFilter(f)

	var total int
	if err := l.db.QueryRowContext(ctx, `select count(*) from audit_log`+where, args...).Scan(&total); err != nil {
		return audit.Page{}, mapError(err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`select %s from audit_log%s order by ts desc, seq desc limit $%d offset $%d`,
		auditColumns, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, offset)

	entries, err := l.collect(ctx, query, args)
	if err != nil {
		return audit.Page{}, err
	}
	return audit.Page{
		Entries:    entries,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

func (l *auditLog) List(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	where, args := buildAuditFilter(f)
	query := fmt.Sprintf(`select %s from audit_log%s order by ts desc, seq desc`, auditColumns, where)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	return l.collect(ctx, query, args)
}

func (l *auditLog) collect(ctx context.Context, query string, args []any) ([]audit.Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e          audit.Entry
			rawChanges []byte
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.Timestamp, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.OrganizationID, &e.ActorID, &e.ActorEmail, &e.IPAddress, &rawChanges); err != nil {
			return nil, mapError(err)
		}
		if len(rawChanges) > 0 {
			if err := json.Unmarshal(rawChanges, &e.Changes); err != nil {
				return nil, fmt.Errorf("decode changes for %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func buildAuditFilter(f audit.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.OrganizationID != "" {
		add("organization_id=$%d", f.OrganizationID)
	}
	if f.ResourceType != "" {
		add("resource_type=$%d", f.ResourceType)
	}
	if f.Action != "" {
		add("action=$%d", f.Action)
	}
	if f.ActorID != "" {
		add("actor_id=$%d", f.ActorID)
	}
	if !f.From.IsZero() {
		add("ts>=$%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts<=$%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " where " + clauses[0]
	for _, c := range clauses[1:] {
		where += " and " + c
	}
	return where, args
}
