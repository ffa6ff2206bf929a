package access

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"accessgrid.org/internal/audit"
	"accessgrid.org/internal/ids"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Invalidator drops cached resolution decisions for an organization
// after one of its grants changed.
type Invalidator interface {
	InvalidateOrganization(ctx context.Context, organizationID string) error
}

// Service enforces the engine's invariants in front of a Store.
//
// Mutations for the same organization serialize on a per-organization
// lock so invariant checks observe a consistent view; mutations for
// different organizations never block each other. Every mutation is
// committed together with exactly one audit entry.
type Service struct {
	store       Store
	catalog     *Catalog
	invalidator Invalidator

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService constructs a Service. A nil catalog falls back to the
// builtin module registry.
func NewService(store Store, catalog *Catalog) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if catalog == nil {
		catalog = BuiltinCatalog()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// SetInvalidator wires an optional resolve-decision cache.
func (s *Service) SetInvalidator(inv Invalidator) { s.invalidator = inv }

// Store exposes the underlying store, mainly for wiring a Resolver
// over the same snapshot.
func (s *Service) Store() Store { return s.store }

// AuditLog exposes the read side of the audit log.
func (s *Service) AuditLog() audit.Log { return s.store.AuditLog() }

func (s *Service) orgLock(organizationID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[organizationID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[organizationID] = mu
	}
	return mu
}

func (s *Service) invalidate(ctx context.Context, organizationID string) {
	if s.invalidator == nil {
		return
	}
	// Best effort: a cold cache is correct, a stale one is not, but
	// invalidation failure must not fail a committed mutation.
	_ = s.invalidator.InvalidateOrganization(ctx, organizationID)
}

func (s *Service) entry(ctx context.Context, action, resourceType, resourceID, organizationID string, changes map[string]audit.Change) audit.Entry {
	actor, ok := ActorFromContext(ctx)
	email := actor.Email
	if !ok || strings.TrimSpace(email) == "" {
		email = audit.SystemActor
	}
	return audit.Entry{
		ID:             ids.New(),
		Timestamp:      time.Now().UTC(),
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		OrganizationID: organizationID,
		ActorID:        actor.ID,
		ActorEmail:     email,
		IPAddress:      actor.IP,
		Changes:        changes,
	}
}

// --- Organizations ---

// CreateOrganizationParams carries the caller-supplied organization
// fields.
type CreateOrganizationParams struct {
	Name                    string
	Slug                    string
	Domains                 []string
	Status                  OrganizationStatus
	Settings                *OrganizationSettings
	DefaultInheritanceLevel InheritLevel
}

func (s *Service) CreateOrganization(ctx context.Context, p CreateOrganizationParams) (Organization, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	p.Slug = strings.ToLower(strings.TrimSpace(p.Slug))
	if !slugPattern.MatchString(p.Slug) {
		return Organization{}, fmt.Errorf("%w: slug must be URL-safe (lowercase letters, digits, hyphens)", ErrInvalidInput)
	}
	if p.Status == "" {
		p.Status = OrgStatusActive
	} else if _, err := ParseOrganizationStatus(string(p.Status)); err != nil {
		return Organization{}, err
	}
	if p.DefaultInheritanceLevel == "" {
		p.DefaultInheritanceLevel = InheritPartial
	} else if _, err := ParseInheritLevel(string(p.DefaultInheritanceLevel)); err != nil {
		return Organization{}, err
	}
	settings := OrganizationSettings{AllowCustomGroups: true}
	if p.Settings != nil {
		settings = *p.Settings
		settings.EnabledFeatures = cloneStrings(p.Settings.EnabledFeatures)
	}

	now := time.Now().UTC()
	org := Organization{
		ID:                      ids.New(),
		Name:                    p.Name,
		Slug:                    p.Slug,
		Domains:                 normalizeDomains(p.Domains),
		Status:                  p.Status,
		Settings:                settings,
		DefaultInheritanceLevel: p.DefaultInheritanceLevel,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if _, err := s.store.GetOrganizationBySlug(ctx, org.Slug); err == nil {
		return Organization{}, fmt.Errorf("%w: slug %q is taken", ErrConflict, org.Slug)
	} else if !errors.Is(err, ErrNotFound) {
		return Organization{}, err
	}

	entry := s.entry(ctx, "organization.created", "organization", org.ID, org.ID, nil)
	if err := s.store.CreateOrganization(ctx, org, entry); err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.GetOrganization(ctx, id)
}

func (s *Service) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return s.store.ListOrganizations(ctx)
}

func (s *Service) UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}

	mu := s.orgLock(id)
	mu.Lock()
	defer mu.Unlock()

	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return Organization{}, err
	}

	changes := map[string]audit.Change{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
		}
		if name != org.Name {
			changes["name"] = audit.Change{From: org.Name, To: name}
			org.Name = name
		}
	}
	if upd.Slug != nil {
		slug := strings.ToLower(strings.TrimSpace(*upd.Slug))
		if !slugPattern.MatchString(slug) {
			return Organization{}, fmt.Errorf("%w: slug must be URL-safe (lowercase letters, digits, hyphens)", ErrInvalidInput)
		}
		if slug != org.Slug {
			if _, err := s.store.GetOrganizationBySlug(ctx, slug); err == nil {
				return Organization{}, fmt.Errorf("%w: slug %q is taken", ErrConflict, slug)
			} else if !errors.Is(err, ErrNotFound) {
				return Organization{}, err
			}
			changes["slug"] = audit.Change{From: org.Slug, To: slug}
			org.Slug = slug
		}
	}
	if upd.Domains != nil {
		domains := normalizeDomains(upd.Domains)
		changes["domains"] = audit.Change{From: org.Domains, To: domains}
		org.Domains = domains
	}
	if upd.Status != nil {
		status, err := ParseOrganizationStatus(string(*upd.Status))
		if err != nil {
			return Organization{}, err
		}
		if status != org.Status {
			changes["status"] = audit.Change{From: string(org.Status), To: string(status)}
			org.Status = status
		}
	}
	if upd.Settings != nil {
		settings := *upd.Settings
		settings.EnabledFeatures = cloneStrings(upd.Settings.EnabledFeatures)
		changes["settings"] = audit.Change{From: org.Settings, To: settings}
		org.Settings = settings
	}
	if upd.DefaultInheritanceLevel != nil {
		level, err := ParseInheritLevel(string(*upd.DefaultInheritanceLevel))
		if err != nil {
			return Organization{}, err
		}
		if level != org.DefaultInheritanceLevel {
			changes["default_inheritance_level"] = audit.Change{From: string(org.DefaultInheritanceLevel), To: string(level)}
			org.DefaultInheritanceLevel = level
		}
	}
	if len(changes) == 0 {
		return org, nil
	}
	org.UpdatedAt = time.Now().UTC()

	entry := s.entry(ctx, "organization.updated", "organization", org.ID, org.ID, changes)
	if err := s.store.UpdateOrganization(ctx, org, entry); err != nil {
		return Organization{}, err
	}
	s.invalidate(ctx, org.ID)
	return org, nil
}

// DeleteOrganization soft-deletes: the organization flips to inactive
// and is never removed, preserving audit referential integrity. It
// refuses while operating units remain; those must be migrated or
// deleted explicitly first.
func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}

	mu := s.orgLock(id)
	mu.Lock()
	defer mu.Unlock()

	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return err
	}
	units, err := s.store.ListOperatingUnits(ctx, id)
	if err != nil {
		return err
	}
	if len(units) > 0 {
		return fmt.Errorf("%w: organization has %d operating units; delete or migrate them first", ErrInvalidInput, len(units))
	}
	if org.Status == OrgStatusInactive {
		return nil
	}

	changes := map[string]audit.Change{
		"status": {From: string(org.Status), To: string(OrgStatusInactive)},
	}
	org.Status = OrgStatusInactive
	org.UpdatedAt = time.Now().UTC()

	entry := s.entry(ctx, "organization.deleted", "organization", org.ID, org.ID, changes)
	if err := s.store.UpdateOrganization(ctx, org, entry); err != nil {
		return err
	}
	s.invalidate(ctx, org.ID)
	return nil
}

// --- Operating units ---

// CreateOperatingUnitParams carries the caller-supplied unit fields.
type CreateOperatingUnitParams struct {
	OrganizationID string
	Name           string
	Domains        []string
	Description    string
}

func (s *Service) CreateOperatingUnit(ctx context.Context, p CreateOperatingUnitParams) (OperatingUnit, error) {
	p.OrganizationID = strings.TrimSpace(p.OrganizationID)
	if p.OrganizationID == "" {
		return OperatingUnit{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return OperatingUnit{}, fmt.Errorf("%w: operating unit name is required", ErrInvalidInput)
	}

	mu := s.orgLock(p.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	org, err := s.store.GetOrganization(ctx, p.OrganizationID)
	if err != nil {
		return OperatingUnit{}, err
	}
	if org.Settings.MaxOperatingUnits > 0 {
		units, err := s.store.ListOperatingUnits(ctx, org.ID)
		if err != nil {
			return OperatingUnit{}, err
		}
		if len(units) >= org.Settings.MaxOperatingUnits {
			return OperatingUnit{}, fmt.Errorf("%w: operating unit limit (%d) reached", ErrInvalidInput, org.Settings.MaxOperatingUnits)
		}
	}

	now := time.Now().UTC()
	unit := OperatingUnit{
		ID:             ids.New(),
		OrganizationID: org.ID,
		Name:           p.Name,
		Domains:        normalizeDomains(p.Domains),
		Description:    strings.TrimSpace(p.Description),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	entry := s.entry(ctx, "operating_unit.created", "operating_unit", unit.ID, org.ID, nil)
	if err := s.store.CreateOperatingUnit(ctx, unit, entry); err != nil {
		return OperatingUnit{}, err
	}
	return unit, nil
}

func (s *Service) GetOperatingUnit(ctx context.Context, id string) (OperatingUnit, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return OperatingUnit{}, fmt.Errorf("%w: operating_unit_id is required", ErrInvalidInput)
	}
	return s.store.GetOperatingUnit(ctx, id)
}

func (s *Service) ListOperatingUnits(ctx context.Context, organizationID string) ([]OperatingUnit, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListOperatingUnits(ctx, organizationID)
}

func (s *Service) UpdateOperatingUnit(ctx context.Context, id string, upd OperatingUnitUpdate) (OperatingUnit, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return OperatingUnit{}, fmt.Errorf("%w: operating_unit_id is required", ErrInvalidInput)
	}

	unit, err := s.store.GetOperatingUnit(ctx, id)
	if err != nil {
		return OperatingUnit{}, err
	}

	mu := s.orgLock(unit.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock so concurrent writers observe a stable row.
	unit, err = s.store.GetOperatingUnit(ctx, id)
	if err != nil {
		return OperatingUnit{}, err
	}

	changes := map[string]audit.Change{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return OperatingUnit{}, fmt.Errorf("%w: operating unit name is required", ErrInvalidInput)
		}
		if name != unit.Name {
			changes["name"] = audit.Change{From: unit.Name, To: name}
			unit.Name = name
		}
	}
	if upd.Domains != nil {
		domains := normalizeDomains(upd.Domains)
		changes["domains"] = audit.Change{From: unit.Domains, To: domains}
		unit.Domains = domains
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		if desc != unit.Description {
			changes["description"] = audit.Change{From: unit.Description, To: desc}
			unit.Description = desc
		}
	}
	if len(changes) == 0 {
		return unit, nil
	}
	unit.UpdatedAt = time.Now().UTC()

	entry := s.entry(ctx, "operating_unit.updated", "operating_unit", unit.ID, unit.OrganizationID, changes)
	if err := s.store.UpdateOperatingUnit(ctx, unit, entry); err != nil {
		return OperatingUnit{}, err
	}
	return unit, nil
}

func (s *Service) DeleteOperatingUnit(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: operating_unit_id is required", ErrInvalidInput)
	}

	unit, err := s.store.GetOperatingUnit(ctx, id)
	if err != nil {
		return err
	}

	mu := s.orgLock(unit.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	groups, err := s.store.ListGroups(ctx, GroupFilter{
		OrganizationID:  unit.OrganizationID,
		OperatingUnitID: unit.ID,
	})
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		return fmt.Errorf("%w: %d groups reference this operating unit; delete them first", ErrInvalidInput, len(groups))
	}

	entry := s.entry(ctx, "operating_unit.deleted", "operating_unit", unit.ID, unit.OrganizationID, nil)
	if err := s.store.DeleteOperatingUnit(ctx, unit.ID, entry); err != nil {
		return err
	}
	s.invalidate(ctx, unit.OrganizationID)
	return nil
}

// --- Groups ---

// CreateGroupParams carries the caller-supplied group fields.
type CreateGroupParams struct {
	OrganizationID  string
	OperatingUnitID string
	Name            string
	Scope           GroupScope
	Permissions     []ModulePermission
	Description     string
}

func (s *Service) CreateGroup(ctx context.Context, p CreateGroupParams) (Group, error) {
	p.OrganizationID = strings.TrimSpace(p.OrganizationID)
	if p.OrganizationID == "" {
		return Group{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Group{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	scope, err := ParseGroupScope(string(p.Scope))
	if err != nil {
		return Group{}, err
	}
	p.OperatingUnitID = strings.TrimSpace(p.OperatingUnitID)
	if scope == ScopeOperatingUnit && p.OperatingUnitID == "" {
		return Group{}, fmt.Errorf("%w: operating_unit_id is required for unit-scope groups", ErrInvalidInput)
	}
	if scope == ScopeOrganization && p.OperatingUnitID != "" {
		return Group{}, fmt.Errorf("%w: organization-scope groups must not reference an operating unit", ErrInvalidInput)
	}
	if err := s.validatePermissions(p.Permissions); err != nil {
		return Group{}, err
	}

	mu := s.orgLock(p.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.store.GetOrganization(ctx, p.OrganizationID); err != nil {
		return Group{}, err
	}
	if scope == ScopeOperatingUnit {
		unit, err := s.store.GetOperatingUnit(ctx, p.OperatingUnitID)
		if err != nil {
			return Group{}, err
		}
		if unit.OrganizationID != p.OrganizationID {
			return Group{}, fmt.Errorf("%w: operating unit %s belongs to a different organization", ErrInvalidInput, unit.ID)
		}
	}

	now := time.Now().UTC()
	group := Group{
		ID:              ids.New(),
		OrganizationID:  p.OrganizationID,
		OperatingUnitID: p.OperatingUnitID,
		Name:            p.Name,
		Scope:           scope,
		Permissions:     clonePermissions(p.Permissions),
		Description:     strings.TrimSpace(p.Description),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	entry := s.entry(ctx, "group.created", "group", group.ID, group.OrganizationID, nil)
	if err := s.store.CreateGroup(ctx, group, entry); err != nil {
		return Group{}, err
	}
	s.invalidate(ctx, group.OrganizationID)
	return group, nil
}

func (s *Service) GetGroup(ctx context.Context, id string) (Group, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Group{}, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	return s.store.GetGroup(ctx, id)
}

func (s *Service) ListGroups(ctx context.Context, f GroupFilter) ([]Group, error) {
	if strings.TrimSpace(f.OrganizationID) == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListGroups(ctx, f)
}

func (s *Service) UpdateGroup(ctx context.Context, id string, upd GroupUpdate) (Group, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Group{}, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	if upd.Permissions != nil {
		if err := s.validatePermissions(upd.Permissions); err != nil {
			return Group{}, err
		}
	}

	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return Group{}, err
	}

	mu := s.orgLock(group.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	group, err = s.store.GetGroup(ctx, id)
	if err != nil {
		return Group{}, err
	}

	action := "group.updated"
	changes := map[string]audit.Change{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Group{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
		}
		if name != group.Name {
			changes["name"] = audit.Change{From: group.Name, To: name}
			group.Name = name
		}
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		if desc != group.Description {
			changes["description"] = audit.Change{From: group.Description, To: desc}
			group.Description = desc
		}
	}
	if upd.Permissions != nil {
		action = "group.permission_changed"
		changes["permissions"] = audit.Change{From: group.Permissions, To: upd.Permissions}
		group.Permissions = clonePermissions(upd.Permissions)
	}
	if len(changes) == 0 {
		return group, nil
	}
	group.UpdatedAt = time.Now().UTC()

	entry := s.entry(ctx, action, "group", group.ID, group.OrganizationID, changes)
	if err := s.store.UpdateGroup(ctx, group, entry); err != nil {
		return Group{}, err
	}
	s.invalidate(ctx, group.OrganizationID)
	return group, nil
}

func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}

	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return err
	}

	mu := s.orgLock(group.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	entry := s.entry(ctx, "group.deleted", "group", group.ID, group.OrganizationID, nil)
	if err := s.store.DeleteGroup(ctx, group.ID, entry); err != nil {
		return err
	}
	s.invalidate(ctx, group.OrganizationID)
	return nil
}

// validatePermissions enforces the write-time grant invariants: module
// and feature keys must exist in the catalog, module keys must be
// unique within the group, and a feature grant never exceeds its
// module grant.
func (s *Service) validatePermissions(perms []ModulePermission) error {
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if strings.TrimSpace(p.ModuleKey) == "" {
			return fmt.Errorf("%w: module_key is required", ErrInvalidInput)
		}
		if !s.catalog.HasModule(p.ModuleKey) {
			return fmt.Errorf("%w: unknown module %q", ErrInvalidInput, p.ModuleKey)
		}
		if _, dup := seen[p.ModuleKey]; dup {
			return fmt.Errorf("%w: duplicate permission for module %q", ErrInvalidInput, p.ModuleKey)
		}
		seen[p.ModuleKey] = struct{}{}
		if p.Level > LevelAdmin {
			return fmt.Errorf("%w: invalid access level for module %q", ErrInvalidInput, p.ModuleKey)
		}
		seenFeatures := make(map[string]struct{}, len(p.Features))
		for _, f := range p.Features {
			if !s.catalog.HasFeature(p.ModuleKey, f.FeatureKey) {
				return fmt.Errorf("%w: unknown feature %q for module %q", ErrInvalidInput, f.FeatureKey, p.ModuleKey)
			}
			if _, dup := seenFeatures[f.FeatureKey]; dup {
				return fmt.Errorf("%w: duplicate feature %q for module %q", ErrInvalidInput, f.FeatureKey, p.ModuleKey)
			}
			seenFeatures[f.FeatureKey] = struct{}{}
			if f.Level > p.Level {
				return fmt.Errorf("%w: feature %q level %s exceeds module %q level %s",
					ErrInvalidInput, f.FeatureKey, f.Level, p.ModuleKey, p.Level)
			}
		}
	}
	return nil
}

// --- Inheritance rules ---

// CreateInheritanceRuleParams carries the caller-supplied rule fields.
type CreateInheritanceRuleParams struct {
	OrganizationID string
	ModuleKey      string
	InheritLevel   InheritLevel
	Restrictions   *RuleRestrictions
}

func (s *Service) CreateInheritanceRule(ctx context.Context, p CreateInheritanceRuleParams) (InheritanceRule, error) {
	p.OrganizationID = strings.TrimSpace(p.OrganizationID)
	if p.OrganizationID == "" {
		return InheritanceRule{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	p.ModuleKey = strings.TrimSpace(p.ModuleKey)
	if !s.catalog.HasModule(p.ModuleKey) {
		return InheritanceRule{}, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, p.ModuleKey)
	}
	level, err := ParseInheritLevel(string(p.InheritLevel))
	if err != nil {
		return InheritanceRule{}, err
	}
	if err := s.validateRestrictions(p.ModuleKey, level, p.Restrictions); err != nil {
		return InheritanceRule{}, err
	}

	mu := s.orgLock(p.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.store.GetOrganization(ctx, p.OrganizationID); err != nil {
		return InheritanceRule{}, err
	}
	if _, err := s.store.FindInheritanceRule(ctx, p.OrganizationID, p.ModuleKey); err == nil {
		return InheritanceRule{}, fmt.Errorf("%w: inheritance rule for module %q already exists", ErrConflict, p.ModuleKey)
	} else if !errors.Is(err, ErrNotFound) {
		return InheritanceRule{}, err
	}

	now := time.Now().UTC()
	rule := InheritanceRule{
		ID:             ids.New(),
		OrganizationID: p.OrganizationID,
		ModuleKey:      p.ModuleKey,
		InheritLevel:   level,
		Restrictions:   cloneRestrictions(p.Restrictions),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	entry := s.entry(ctx, "inheritance_rule.created", "inheritance_rule", rule.ID, rule.OrganizationID, nil)
	if err := s.store.CreateInheritanceRule(ctx, rule, entry); err != nil {
		return InheritanceRule{}, err
	}
	s.invalidate(ctx, rule.OrganizationID)
	return rule, nil
}

func (s *Service) GetInheritanceRule(ctx context.Context, id string) (InheritanceRule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return InheritanceRule{}, fmt.Errorf("%w: rule_id is required", ErrInvalidInput)
	}
	return s.store.GetInheritanceRule(ctx, id)
}

func (s *Service) ListInheritanceRules(ctx context.Context, organizationID string) ([]InheritanceRule, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListInheritanceRules(ctx, organizationID)
}

// UpdateInheritanceRule changes how future evaluations project grants;
// previously recorded audit diffs stay as written.
func (s *Service) UpdateInheritanceRule(ctx context.Context, id string, upd InheritanceRuleUpdate) (InheritanceRule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return InheritanceRule{}, fmt.Errorf("%w: rule_id is required", ErrInvalidInput)
	}

	rule, err := s.store.GetInheritanceRule(ctx, id)
	if err != nil {
		return InheritanceRule{}, err
	}

	mu := s.orgLock(rule.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	rule, err = s.store.GetInheritanceRule(ctx, id)
	if err != nil {
		return InheritanceRule{}, err
	}

	changes := map[string]audit.Change{}
	if upd.InheritLevel != nil {
		level, err := ParseInheritLevel(string(*upd.InheritLevel))
		if err != nil {
			return InheritanceRule{}, err
		}
		if level != rule.InheritLevel {
			changes["inherit_level"] = audit.Change{From: string(rule.InheritLevel), To: string(level)}
			rule.InheritLevel = level
		}
	}
	if upd.Restrictions != nil {
		changes["restrictions"] = audit.Change{From: rule.Restrictions, To: upd.Restrictions}
		rule.Restrictions = cloneRestrictions(upd.Restrictions)
	} else if upd.ClearRestrictions && rule.Restrictions != nil {
		changes["restrictions"] = audit.Change{From: rule.Restrictions, To: nil}
		rule.Restrictions = nil
	}
	if err := s.validateRestrictions(rule.ModuleKey, rule.InheritLevel, rule.Restrictions); err != nil {
		return InheritanceRule{}, err
	}
	if len(changes) == 0 {
		return rule, nil
	}
	rule.UpdatedAt = time.Now().UTC()

	entry := s.entry(ctx, "inheritance_rule.updated", "inheritance_rule", rule.ID, rule.OrganizationID, changes)
	if err := s.store.UpdateInheritanceRule(ctx, rule, entry); err != nil {
		return InheritanceRule{}, err
	}
	s.invalidate(ctx, rule.OrganizationID)
	return rule, nil
}

func (s *Service) DeleteInheritanceRule(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: rule_id is required", ErrInvalidInput)
	}

	rule, err := s.store.GetInheritanceRule(ctx, id)
	if err != nil {
		return err
	}

	mu := s.orgLock(rule.OrganizationID)
	mu.Lock()
	defer mu.Unlock()

	entry := s.entry(ctx, "inheritance_rule.deleted", "inheritance_rule", rule.ID, rule.OrganizationID, nil)
	if err := s.store.DeleteInheritanceRule(ctx, rule.ID, entry); err != nil {
		return err
	}
	s.invalidate(ctx, rule.OrganizationID)
	return nil
}

func (s *Service) validateRestrictions(moduleKey string, level InheritLevel, r *RuleRestrictions) error {
	if r == nil {
		return nil
	}
	if level != InheritPartial {
		return fmt.Errorf("%w: restrictions are only valid on partial rules", ErrInvalidInput)
	}
	if r.Level > LevelAdmin {
		return fmt.Errorf("%w: invalid restriction access level", ErrInvalidInput)
	}
	for _, f := range r.FeatureKeys {
		if !s.catalog.HasFeature(moduleKey, f) {
			return fmt.Errorf("%w: unknown feature %q for module %q", ErrInvalidInput, f, moduleKey)
		}
	}
	return nil
}

func normalizeDomains(domains []string) []string {
	if domains == nil {
		return nil
	}
	out := make([]string, 0, len(domains))
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
