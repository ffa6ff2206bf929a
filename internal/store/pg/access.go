package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/audit"
)

// --- Organizations ---

const organizationColumns = `id, name, slug, domains, status, settings, default_inheritance_level, created_at, updated_at`

func (s *Store) CreateOrganization(ctx context.Context, org access.Organization, entry audit.Entry) error {
	domains, settings, err := encodeOrganization(org)
	if err != nil {
		return err
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into organizations (id, name, slug, domains, status, settings, default_inheritance_level, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, org.ID, org.Name, org.Slug, domains, string(org.Status), settings, string(org.DefaultInheritanceLevel), org.CreatedAt, org.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) UpdateOrganization(ctx context.Context, org access.Organization, entry audit.Entry) error {
	domains, settings, err := encodeOrganization(org)
	if err != nil {
		return err
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update organizations
			set name=$2, slug=$3, domains=$4, status=$5, settings=$6, default_inheritance_level=$7, updated_at=$8
			where id=$1
		`, org.ID, org.Name, org.Slug, domains, string(org.Status), settings, string(org.DefaultInheritanceLevel), org.UpdatedAt)
		if err != nil {
			return mapError(err)
		}
		return requireRow(res)
	})
}

func (s *Store) GetOrganization(ctx context.Context, id string) (access.Organization, error) {
	row := s.db.QueryRowContext(ctx, `select `+organizationColumns+` from organizations where id=$1`, id)
	return scanOrganization(row)
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (access.Organization, error) {
	row := s.db.QueryRowContext(ctx, `select `+organizationColumns+` from organizations where slug=$1`, slug)
	return scanOrganization(row)
}

func (s *Store) ListOrganizations(ctx context.Context) ([]access.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `select `+organizationColumns+` from organizations order by name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []access.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (access.Organization, error) {
	var (
		org         access.Organization
		rawDomains  []byte
		rawSettings []byte
		status      string
		inheritance string
	)
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &rawDomains, &status, &rawSettings, &inheritance, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return access.Organization{}, mapError(err)
	}
	org.Status = access.OrganizationStatus(status)
	org.DefaultInheritanceLevel = access.InheritLevel(inheritance)
	if len(rawDomains) > 0 {
		if err := json.Unmarshal(rawDomains, &org.Domains); err != nil {
			return access.Organization{}, fmt.Errorf("decode domains: %w", err)
		}
	}
	if len(rawSettings) > 0 {
		if err := json.Unmarshal(rawSettings, &org.Settings); err != nil {
			return access.Organization{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	return org, nil
}

func encodeOrganization(org access.Organization) (domains, settings []byte, err error) {
	domains, err = json.Marshal(orEmpty(org.Domains))
	if err != nil {
		return nil, nil, fmt.Errorf("encode domains: %w", err)
	}
	settings, err = json.Marshal(org.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("encode settings: %w", err)
	}
	return domains, settings, nil
}

// --- Operating units ---

const unitColumns = `id, organization_id, name, domains, description, created_at, updated_at`

func (s *Store) CreateOperatingUnit(ctx context.Context, unit access.OperatingUnit, entry audit.Entry) error {
	domains, err := json.Marshal(orEmpty(unit.Domains))
	if err != nil {
		return fmt.Errorf("encode domains: %w", err)
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into operating_units (id, organization_id, name, domains, description, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, unit.ID, unit.OrganizationID, unit.Name, domains, unit.Description, unit.CreatedAt, unit.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) UpdateOperatingUnit(ctx context.Context, unit access.OperatingUnit, entry audit.Entry) error {
	domains, err := json.Marshal(orEmpty(unit.Domains))
	if err != nil {
		return fmt.Errorf("encode domains: %w", err)
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update operating_units set name=$2, domains=$3, description=$4, updated_at=$5 where id=$1
		`, unit.ID, unit.Name, domains, unit.Description, unit.UpdatedAt)
		if err != nil {
			return mapError(err)
		}
		return requireRow(res)
	})
}

func (s *Store) DeleteOperatingUnit(ctx context.Context, id string, entry audit.Entry) error {
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from operating_units where id=$1`, id)
		if err != nil {
			return mapError(err)
		}
		return requireRow(res)
	})
}

func (s *Store) GetOperatingUnit(ctx context.Context, id string) (access.OperatingUnit, error) {
	row := s.db.QueryRowContext(ctx, `select `+unitColumns+` from operating_units where id=$1`, id)
	return scanUnit(row)
}

func (s *Store) ListOperatingUnits(ctx context.Context, organizationID string) ([]access.OperatingUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+unitColumns+` from operating_units where organization_id=$1 order by name
	`, organizationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []access.OperatingUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanUnit(row rowScanner) (access.OperatingUnit, error) {
	var (
		unit       access.OperatingUnit
		rawDomains []byte
	)
	err := row.Scan(&unit.ID, &unit.OrganizationID, &unit.Name, &rawDomains, &unit.Description, &unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		return access.OperatingUnit{}, mapError(err)
	}
	if len(rawDomains) > 0 {
		if err := json.Unmarshal(rawDomains, &unit.Domains); err != nil {
			return access.OperatingUnit{}, fmt.Errorf("decode domains: %w", err)
		}
	}
	return unit, nil
}

// --- Groups ---

const groupColumns = `id, organization_id, coalesce(operating_unit_id, ''), name, scope, permissions, description, created_at, updated_at`

func (s *Store) CreateGroup(ctx context.Context, group access.Group, entry audit.Entry) error {
	perms, err := json.Marshal(group.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into groups (id, organization_id, operating_unit_id, name, scope, permissions, description, created_at, updated_at)
			values ($1,$2,nullif($3,''),$4,$5,$6,$7,$8,$9)
		`, group.ID, group.OrganizationID, group.OperatingUnitID, group.Name, string(group.Scope), perms, group.Description, group.CreatedAt, group.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) UpdateGroup(ctx context.Context, group access.Group, entry audit.Entry) error {
	perms, err := json.Marshal(group.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update groups set name=$2, permissions=$3, description=$4, updated_at=$5 where id=$1
		`, group.ID, group.Name, perms, group.Description, group.UpdatedAt)
		if err != nil {
			return mapError(err)
		}
		return requireRow(res)
	})
}

func (s *Store) DeleteGroup(ctx context.Context, id string, entry audit.Entry) error {
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from groups where id=$1`, id)
		if err != nil {
			return mapError(err)
		}
		return requireRow(res)
	})
}

func (s *Store) GetGroup(ctx context.Context, id string) (access.Group, error) {
	row := s.db.QueryRowContext(ctx, `select `+groupColumns+` from groups where id=$1`, id)
	return scanGroup(row)
}

func (s *Store) ListGroups(ctx context.Context, f access.GroupFilter) ([]access.Group, error) {
	query := `select ` + groupColumns + ` from groups where organization_id=$1`
	args := []any{f.OrganizationID}
	if f.OperatingUnitID != "" {
		args = append(args, f.OperatingUnitID)
		query += fmt.Sprintf(" and operating_unit_id=$%d", len(args))
	}
	if f.Scope != "" {
		args = append(args, string(f.Scope))
		query += fmt.Sprintf(" and scope=$%d", len(args))
	}
	query += " order by name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []access.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, group)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanGroup(row rowScanner) (access.Group, error) {
	var (
		group    access.Group
		scope    string
		rawPerms []byte
	)
	err := row.Scan(&group.ID, &group.OrganizationID, &group.OperatingUnitID, &group.Name, &scope, &rawPerms, &group.Description, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return access.Group{}, mapError(err)
	}
	group.Scope = access.GroupScope(scope)
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &group.Permissions); err != nil {
			return access.Group{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return group, nil
}

// --- Inheritance rules ---

const ruleColumns = `id, organization_id, module_key, inherit_level, restrictions, created_at, updated_at`

func (s *Store) CreateInheritanceRule(ctx context.Context, rule access.InheritanceRule, entry audit.Entry) error {
	restrictions, err := encodeRestrictions(rule.Restrictions)
	if err != nil {
		return err
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into inheritance_rules (id, organization_id, module_key, inherit_level, restrictions, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, rule.ID, rule.OrganizationID, rule.ModuleKey, string(rule.InheritLevel), restrictions, rule.CreatedAt, rule.UpdatedAt)
		return mapError(err)
	})
}

func (s *Store) UpdateInheritanceRule(ctx context.Context, rule access.InheritanceRule, entry audit.Entry) error {
	restrictions, err := encodeRestrictions(rule.Restrictions)
	if err != nil {
		return err
	}
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update inheritance_rules set inherit_level=$2, restrictions=$3, updated_at=$4 where id=$1
		`, rule.ID, string(rule.InheritLevel), restrictions, rule.UpdatedAt)
		if err != nil {
			return mapError(err)
		}
		return requireRow(res)
	})
}

func (s *Store) DeleteInheritanceRule(ctx context.Context, id string, entry audit.Entry) error {
	return s.mutate(ctx, entry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `delete from inheritance_rules where id=$1`, id)
		if err != nil {
			return mapError(err)
		}
		return requireRow(res)
	})
}

func (s *Store) GetInheritanceRule(ctx context.Context, id string) (access.InheritanceRule, error) {
	row := s.db.QueryRowContext(ctx, `select `+ruleColumns+` from inheritance_rules where id=$1`, id)
	return scanRule(row)
}

func (s *Store) FindInheritanceRule(ctx context.Context, organizationID, moduleKey string) (access.InheritanceRule, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+ruleColumns+` from inheritance_rules where organization_id=$1 and module_key=$2
	`, organizationID, moduleKey)
	return scanRule(row)
}

func (s *Store) ListInheritanceRules(ctx context.Context, organizationID string) ([]access.InheritanceRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+ruleColumns+` from inheritance_rules where organization_id=$1 order by module_key
	`, organizationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []access.InheritanceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanRule(row rowScanner) (access.InheritanceRule, error) {
	var (
		rule            access.InheritanceRule
		level           string
		rawRestrictions []byte
	)
	err := row.Scan(&rule.ID, &rule.OrganizationID, &rule.ModuleKey, &level, &rawRestrictions, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return access.InheritanceRule{}, mapError(err)
	}
	rule.InheritLevel = access.InheritLevel(level)
	if len(rawRestrictions) > 0 {
		var restrictions access.RuleRestrictions
		if err := json.Unmarshal(rawRestrictions, &restrictions); err != nil {
			return access.InheritanceRule{}, fmt.Errorf("decode restrictions: %w", err)
		}
		rule.Restrictions = &restrictions
	}
	return rule, nil
}

func encodeRestrictions(r *access.RuleRestrictions) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode restrictions: %w", err)
	}
	return raw, nil
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
