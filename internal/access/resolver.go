package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ResolveRequest is one effective-permission question: what can a user
// holding these groups do on a module (optionally a feature) at a scope.
type ResolveRequest struct {
	GroupIDs   []string `json:"group_ids"`
	ModuleKey  string   `json:"module_key"`
	FeatureKey string   `json:"feature_key,omitempty"`
	Scope      Scope    `json:"scope"`
}

// ResolveStore is the read-only view the resolver evaluates against.
// Evaluations are pure over this snapshot and may run concurrently.
type ResolveStore interface {
	GetGroup(ctx context.Context, id string) (Group, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)
	FindInheritanceRule(ctx context.Context, organizationID, moduleKey string) (InheritanceRule, error)
}

// Resolver computes effective permissions. Unknown group ids and
// unknown module or feature keys degrade to LevelNone; only storage
// failures surface as errors, so authorization checks stay total.
type Resolver struct {
	store ResolveStore
}

// NewResolver constructs a resolver over the given snapshot view.
func NewResolver(store ResolveStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("resolve store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve implements the effective-permission algorithm.
//
// Grants from the user's groups fold through Widen (most permissive
// wins), organization-scope grants project onto operating units through
// the inheritance rule for the module (explicit rule first, then the
// organization's default level), and unit-scope direct grants always
// apply in addition to the projection, never instead of it.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Level, error) {
	if strings.TrimSpace(req.Scope.OrganizationID) == "" {
		return LevelNone, fmt.Errorf("%w: scope organization_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.ModuleKey) == "" {
		return LevelNone, fmt.Errorf("%w: module_key is required", ErrInvalidInput)
	}

	orgGroups, unitGroups, err := r.partition(ctx, req.GroupIDs, req.Scope)
	if err != nil {
		return LevelNone, err
	}

	moduleLevel, err := r.resolveModule(ctx, orgGroups, unitGroups, req.ModuleKey, req.Scope)
	if err != nil {
		return LevelNone, err
	}
	if req.FeatureKey == "" {
		return moduleLevel, nil
	}

	featureLevel, err := r.resolveFeature(ctx, orgGroups, unitGroups, req.ModuleKey, req.FeatureKey, req.Scope)
	if err != nil {
		return LevelNone, err
	}
	// A feature never exceeds its module's effective level.
	return Cap(featureLevel, moduleLevel), nil
}

// partition splits the user's groups into organization-scope groups of
// the target organization and unit-scope groups of the target unit.
// Unknown ids are skipped: a stale membership must not error an
// authorization check.
func (r *Resolver) partition(ctx context.Context, groupIDs []string, scope Scope) (orgGroups, unitGroups []Group, err error) {
	seen := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		group, err := r.store.GetGroup(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if group.OrganizationID != scope.OrganizationID {
			continue
		}
		switch group.Scope {
		case ScopeOrganization:
			orgGroups = append(orgGroups, group)
		case ScopeOperatingUnit:
			if scope.OperatingUnitID != "" && group.OperatingUnitID == scope.OperatingUnitID {
				unitGroups = append(unitGroups, group)
			}
		}
	}
	return orgGroups, unitGroups, nil
}

func (r *Resolver) resolveModule(ctx context.Context, orgGroups, unitGroups []Group, moduleKey string, scope Scope) (Level, error) {
	orgLevel := LevelNone
	for _, g := range orgGroups {
		if perm, ok := g.Permission(moduleKey); ok {
			orgLevel = Widen(orgLevel, perm.Level)
		}
	}

	// Organization-scope targets never consult inheritance rules.
	if scope.OperatingUnitID == "" {
		return orgLevel, nil
	}

	directLevel := LevelNone
	for _, g := range unitGroups {
		if perm, ok := g.Permission(moduleKey); ok {
			directLevel = Widen(directLevel, perm.Level)
		}
	}

	projected, err := r.projectModule(ctx, orgLevel, scope.OrganizationID, moduleKey)
	if err != nil {
		return LevelNone, err
	}
	return Widen(directLevel, projected), nil
}

func (r *Resolver) resolveFeature(ctx context.Context, orgGroups, unitGroups []Group, moduleKey, featureKey string, scope Scope) (Level, error) {
	orgLevel := LevelNone
	for _, g := range orgGroups {
		if perm, ok := g.Permission(moduleKey); ok {
			if feat, ok := perm.Feature(featureKey); ok {
				orgLevel = Widen(orgLevel, feat.Level)
			}
		}
	}

	if scope.OperatingUnitID == "" {
		return orgLevel, nil
	}

	directLevel := LevelNone
	for _, g := range unitGroups {
		if perm, ok := g.Permission(moduleKey); ok {
			if feat, ok := perm.Feature(featureKey); ok {
				directLevel = Widen(directLevel, feat.Level)
			}
		}
	}

	projected, err := r.projectFeature(ctx, orgLevel, scope.OrganizationID, moduleKey, featureKey)
	if err != nil {
		return LevelNone, err
	}
	return Widen(directLevel, projected), nil
}

// projectModule applies the inheritance rule for (organization, module)
// to an organization-level grant being evaluated at an operating unit.
func (r *Resolver) projectModule(ctx context.Context, orgLevel Level, organizationID, moduleKey string) (Level, error) {
	if orgLevel == LevelNone {
		return LevelNone, nil
	}
	rule, err := r.lookupRule(ctx, organizationID, moduleKey)
	if err != nil {
		return LevelNone, err
	}
	switch rule.InheritLevel {
	case InheritNone:
		return LevelNone, nil
	case InheritPartial:
		if rule.Restrictions != nil {
			return Cap(orgLevel, rule.Restrictions.Level), nil
		}
		return orgLevel, nil
	default: // InheritFull
		return orgLevel, nil
	}
}

// projectFeature is projectModule for feature grants, additionally
// honoring a partial rule's feature allow-list.
func (r *Resolver) projectFeature(ctx context.Context, orgLevel Level, organizationID, moduleKey, featureKey string) (Level, error) {
	if orgLevel == LevelNone {
		return LevelNone, nil
	}
	rule, err := r.lookupRule(ctx, organizationID, moduleKey)
	if err != nil {
		return LevelNone, err
	}
	switch rule.InheritLevel {
	case InheritNone:
		return LevelNone, nil
	case InheritPartial:
		if rule.Restrictions == nil {
			return orgLevel, nil
		}
		if len(rule.Restrictions.FeatureKeys) > 0 && !containsString(rule.Restrictions.FeatureKeys, featureKey) {
			return LevelNone, nil
		}
		return Cap(orgLevel, rule.Restrictions.Level), nil
	default:
		return orgLevel, nil
	}
}

// lookupRule returns the explicit rule for the module, or a synthetic
// rule carrying the organization's default inheritance level. The
// explicit rule always wins; the default is only a fallback. A missing
// organization fails closed to no projection.
func (r *Resolver) lookupRule(ctx context.Context, organizationID, moduleKey string) (InheritanceRule, error) {
	rule, err := r.store.FindInheritanceRule(ctx, organizationID, moduleKey)
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return InheritanceRule{}, err
	}

	org, err := r.store.GetOrganization(ctx, organizationID)
	if errors.Is(err, ErrNotFound) {
		return InheritanceRule{InheritLevel: InheritNone}, nil
	}
	if err != nil {
		return InheritanceRule{}, err
	}
	level := org.DefaultInheritanceLevel
	if level == "" {
		level = InheritPartial
	}
	return InheritanceRule{
		OrganizationID: organizationID,
		ModuleKey:      moduleKey,
		InheritLevel:   level,
	}, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
