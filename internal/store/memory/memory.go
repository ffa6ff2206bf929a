// Package memory implements the access store with in-process maps. It
// is the default backend for development and the reference
// implementation for tests; durable deployments use store/pg.
package memory

import (
	"context"
	"sort"
	"sync"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/audit"
)

// Store keeps all state behind one RWMutex. Reads copy out so callers
// never alias stored state; every mutation appends its audit entry
// under the same critical section, which makes the mutation and the
// entry a single atomic commit.
type Store struct {
	mu sync.RWMutex

	orgs  map[string]access.Organization
	slugs map[string]string // slug -> organization id

	units  map[string]access.OperatingUnit
	groups map[string]access.Group

	rules     map[string]access.InheritanceRule
	ruleIndex map[ruleKey]string // (org, module) -> rule id

	auditSeq     uint64
	auditEntries []audit.Entry
}

type ruleKey struct {
	organizationID string
	moduleKey      string
}

var _ access.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		orgs:      make(map[string]access.Organization),
		slugs:     make(map[string]string),
		units:     make(map[string]access.OperatingUnit),
		groups:    make(map[string]access.Group),
		rules:     make(map[string]access.InheritanceRule),
		ruleIndex: make(map[ruleKey]string),
	}
}

// append records the audit entry; it must be called with mu held.
func (s *Store) append(entry audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.auditSeq++
	entry.Seq = s.auditSeq
	s.auditEntries = append(s.auditEntries, entry)
	return nil
}

// --- Organizations ---

func (s *Store) CreateOrganization(ctx context.Context, org access.Organization, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orgs[org.ID]; exists {
		return access.ErrConflict
	}
	if _, exists := s.slugs[org.Slug]; exists {
		return access.ErrConflict
	}
	if err := s.append(entry); err != nil {
		return err
	}
	s.orgs[org.ID] = cloneOrganization(org)
	s.slugs[org.Slug] = org.ID
	return nil
}

func (s *Store) UpdateOrganization(ctx context.Context, org access.Organization, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.orgs[org.ID]
	if !exists {
		return access.ErrNotFound
	}
	if org.Slug != prev.Slug {
		if owner, taken := s.slugs[org.Slug]; taken && owner != org.ID {
			return access.ErrConflict
		}
	}
	if err := s.append(entry); err != nil {
		return err
	}
	if org.Slug != prev.Slug {
		delete(s.slugs, prev.Slug)
		s.slugs[org.Slug] = org.ID
	}
	s.orgs[org.ID] = cloneOrganization(org)
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (access.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return access.Organization{}, access.ErrNotFound
	}
	return cloneOrganization(org), nil
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (access.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.slugs[slug]
	if !ok {
		return access.Organization{}, access.ErrNotFound
	}
	return cloneOrganization(s.orgs[id]), nil
}

func (s *Store) ListOrganizations(ctx context.Context) ([]access.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]access.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, cloneOrganization(org))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Operating units ---

func (s *Store) CreateOperatingUnit(ctx context.Context, unit access.OperatingUnit, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[unit.ID]; exists {
		return access.ErrConflict
	}
	if _, exists := s.orgs[unit.OrganizationID]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	s.units[unit.ID] = cloneUnit(unit)
	return nil
}

func (s *Store) UpdateOperatingUnit(ctx context.Context, unit access.OperatingUnit, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[unit.ID]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	s.units[unit.ID] = cloneUnit(unit)
	return nil
}

func (s *Store) DeleteOperatingUnit(ctx context.Context, id string, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[id]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	delete(s.units, id)
	return nil
}

func (s *Store) GetOperatingUnit(ctx context.Context, id string) (access.OperatingUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.units[id]
	if !ok {
		return access.OperatingUnit{}, access.ErrNotFound
	}
	return cloneUnit(unit), nil
}

func (s *Store) ListOperatingUnits(ctx context.Context, organizationID string) ([]access.OperatingUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []access.OperatingUnit
	for _, unit := range s.units {
		if unit.OrganizationID == organizationID {
			out = append(out, cloneUnit(unit))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Groups ---

func (s *Store) CreateGroup(ctx context.Context, group access.Group, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[group.ID]; exists {
		return access.ErrConflict
	}
	if _, exists := s.orgs[group.OrganizationID]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	s.groups[group.ID] = cloneGroup(group)
	return nil
}

func (s *Store) UpdateGroup(ctx context.Context, group access.Group, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[group.ID]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	s.groups[group.ID] = cloneGroup(group)
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[id]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (access.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[id]
	if !ok {
		return access.Group{}, access.ErrNotFound
	}
	return cloneGroup(group), nil
}

func (s *Store) ListGroups(ctx context.Context, f access.GroupFilter) ([]access.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []access.Group
	for _, group := range s.groups {
		if f.OrganizationID != "" && group.OrganizationID != f.OrganizationID {
			continue
		}
		if f.OperatingUnitID != "" && group.OperatingUnitID != f.OperatingUnitID {
			continue
		}
		if f.Scope != "" && group.Scope != f.Scope {
			continue
		}
		out = append(out, cloneGroup(group))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Inheritance rules ---

func (s *Store) CreateInheritanceRule(ctx context.Context, rule access.InheritanceRule, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return access.ErrConflict
	}
	key := ruleKey{rule.OrganizationID, rule.ModuleKey}
	if _, exists := s.ruleIndex[key]; exists {
		return access.ErrConflict
	}
	if _, exists := s.orgs[rule.OrganizationID]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	s.rules[rule.ID] = cloneRule(rule)
	s.ruleIndex[key] = rule.ID
	return nil
}

func (s *Store) UpdateInheritanceRule(ctx context.Context, rule access.InheritanceRule, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *Store) DeleteInheritanceRule(ctx context.Context, id string, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, exists := s.rules[id]
	if !exists {
		return access.ErrNotFound
	}
	if err := s.append(entry); err != nil {
		return err
	}
	delete(s.rules, id)
	delete(s.ruleIndex, ruleKey{rule.OrganizationID, rule.ModuleKey})
	return nil
}

func (s *Store) GetInheritanceRule(ctx context.Context, id string) (access.InheritanceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return access.InheritanceRule{}, access.ErrNotFound
	}
	return cloneRule(rule), nil
}

func (s *Store) FindInheritanceRule(ctx context.Context, organizationID, moduleKey string) (access.InheritanceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ruleIndex[ruleKey{organizationID, moduleKey}]
	if !ok {
		return access.InheritanceRule{}, access.ErrNotFound
	}
	return cloneRule(s.rules[id]), nil
}

func (s *Store) ListInheritanceRules(ctx context.Context, organizationID string) ([]access.InheritanceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []access.InheritanceRule
	for _, rule := range s.rules {
		if rule.OrganizationID == organizationID {
			out = append(out, cloneRule(rule))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleKey < out[j].ModuleKey })
	return out, nil
}

// --- Audit log ---

// AuditLog exposes the read side; entries are served newest first with
// Seq breaking timestamp ties, and are never mutated or removed.
func (s *Store) AuditLog() audit.Log { return (*auditLog)(s) }

type auditLog Store

func (l *auditLog) matching(f audit.Filter) []audit.Entry {
	s := (*Store)(l)
	var out []audit.Entry
	for _, e := range s.auditEntries {
		if f.Matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	// Newest first; Seq is authoritative for ties.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (l *auditLog) Query(ctx context.Context, f audit.Filter, page, pageSize int) (audit.Page, error) {
	s := (*Store)(l)
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, pageSize = audit.NormalizePage(page, pageSize)
	entries := l.matching(f)
	total := len(entries)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return audit.Page{
		Entries:    entries[start:end],
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

func (l *auditLog) List(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	s := (*Store)(l)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := l.matching(f)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- clone helpers ---

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneOrganization(org access.Organization) access.Organization {
	out := org
	out.Domains = cloneStrings(org.Domains)
	out.Settings.EnabledFeatures = cloneStrings(org.Settings.EnabledFeatures)
	return out
}

func cloneUnit(unit access.OperatingUnit) access.OperatingUnit {
	out := unit
	out.Domains = cloneStrings(unit.Domains)
	return out
}

func cloneGroup(group access.Group) access.Group {
	out := group
	if group.Permissions != nil {
		out.Permissions = make([]access.ModulePermission, len(group.Permissions))
		for i, p := range group.Permissions {
			out.Permissions[i] = p
			if p.Features != nil {
				out.Permissions[i].Features = make([]access.FeaturePermission, len(p.Features))
				copy(out.Permissions[i].Features, p.Features)
			}
		}
	}
	return out
}

func cloneRule(rule access.InheritanceRule) access.InheritanceRule {
	out := rule
	if rule.Restrictions != nil {
		r := *rule.Restrictions
		r.FeatureKeys = cloneStrings(rule.Restrictions.FeatureKeys)
		out.Restrictions = &r
	}
	return out
}

func cloneEntry(e audit.Entry) audit.Entry {
	out := e
	if e.Changes != nil {
		out.Changes = make(map[string]audit.Change, len(e.Changes))
		for k, v := range e.Changes {
			out.Changes[k] = v
		}
	}
	return out
}
