package access

import (
	"fmt"
	"strings"
	"time"
)

// OrganizationStatus is the lifecycle state of an organization.
// Organizations are never hard-deleted; deletion sets the status to
// inactive so audit-log references stay resolvable.
type OrganizationStatus string

const (
	OrgStatusActive   OrganizationStatus = "active"
	OrgStatusInactive OrganizationStatus = "inactive"
	OrgStatusTrial    OrganizationStatus = "trial"
)

// ParseOrganizationStatus validates the wire form of a status.
func ParseOrganizationStatus(s string) (OrganizationStatus, error) {
	switch OrganizationStatus(strings.ToLower(strings.TrimSpace(s))) {
	case OrgStatusActive:
		return OrgStatusActive, nil
	case OrgStatusInactive:
		return OrgStatusInactive, nil
	case OrgStatusTrial:
		return OrgStatusTrial, nil
	}
	return "", fmt.Errorf("%w: unknown organization status %q", ErrInvalidInput, s)
}

// GroupScope says whether a group's grants apply organization-wide or
// to a single operating unit.
type GroupScope string

const (
	ScopeOrganization  GroupScope = "organization"
	ScopeOperatingUnit GroupScope = "operating_unit"
)

// ParseGroupScope validates the wire form of a scope.
func ParseGroupScope(s string) (GroupScope, error) {
	switch GroupScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeOrganization:
		return ScopeOrganization, nil
	case ScopeOperatingUnit:
		return ScopeOperatingUnit, nil
	}
	return "", fmt.Errorf("%w: unknown group scope %q", ErrInvalidInput, s)
}

// InheritLevel controls how an organization-scope grant projects onto
// operating units.
type InheritLevel string

const (
	InheritFull    InheritLevel = "full"
	InheritPartial InheritLevel = "partial"
	InheritNone    InheritLevel = "none"
)

// ParseInheritLevel validates the wire form of an inherit level.
func ParseInheritLevel(s string) (InheritLevel, error) {
	switch InheritLevel(strings.ToLower(strings.TrimSpace(s))) {
	case InheritFull:
		return InheritFull, nil
	case InheritPartial:
		return InheritPartial, nil
	case InheritNone:
		return InheritNone, nil
	}
	return "", fmt.Errorf("%w: unknown inherit level %q", ErrInvalidInput, s)
}

// OrganizationSettings holds per-organization limits and toggles.
type OrganizationSettings struct {
	MaxUsers          int      `json:"max_users"`
	MaxOperatingUnits int      `json:"max_operating_units"`
	AllowCustomGroups bool     `json:"allow_custom_groups"`
	EnabledFeatures   []string `json:"enabled_features,omitempty"`
}

// Organization is the top of the containment hierarchy.
type Organization struct {
	ID                      string               `json:"id"`
	Name                    string               `json:"name"`
	Slug                    string               `json:"slug"`
	Domains                 []string             `json:"domains,omitempty"`
	Status                  OrganizationStatus   `json:"status"`
	Settings                OrganizationSettings `json:"settings"`
	DefaultInheritanceLevel InheritLevel         `json:"default_inheritance_level"`
	CreatedAt               time.Time            `json:"created_at"`
	UpdatedAt               time.Time            `json:"updated_at"`
}

// OperatingUnit belongs to exactly one organization for its lifetime.
type OperatingUnit struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Domains        []string  `json:"domains,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FeaturePermission grants a level on a single feature of a module.
type FeaturePermission struct {
	FeatureKey string `json:"feature_key"`
	Level      Level  `json:"access_level"`
}

// ModulePermission grants a level on a module plus optional narrower
// feature grants. A feature level never exceeds the module level.
type ModulePermission struct {
	ModuleKey string              `json:"module_key"`
	Level     Level               `json:"access_level"`
	Features  []FeaturePermission `json:"features,omitempty"`
}

// Feature returns the grant for featureKey, if declared.
func (m ModulePermission) Feature(featureKey string) (FeaturePermission, bool) {
	for _, f := range m.Features {
		if f.FeatureKey == featureKey {
			return f, true
		}
	}
	return FeaturePermission{}, false
}

// Group grants module/feature permissions at organization or operating
// unit scope.
type Group struct {
	ID              string             `json:"id"`
	OrganizationID  string             `json:"organization_id"`
	OperatingUnitID string             `json:"operating_unit_id,omitempty"`
	Name            string             `json:"name"`
	Scope           GroupScope         `json:"scope"`
	Permissions     []ModulePermission `json:"permissions"`
	Description     string             `json:"description,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Permission returns the group's declared grant for moduleKey, if any.
func (g Group) Permission(moduleKey string) (ModulePermission, bool) {
	for _, p := range g.Permissions {
		if p.ModuleKey == moduleKey {
			return p, true
		}
	}
	return ModulePermission{}, false
}

// RuleRestrictions narrows what a partial inheritance rule projects.
// Level caps the projected module level. FeatureKeys, when non-empty,
// is an allow-list of feature grants that may project.
type RuleRestrictions struct {
	Level       Level    `json:"access_level"`
	FeatureKeys []string `json:"feature_keys,omitempty"`
}

// InheritanceRule controls projection of organization-scope grants for
// one module onto operating units. At most one rule exists per
// (organization, module); the only supported direction is
// organization -> operating unit.
type InheritanceRule struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	ModuleKey      string            `json:"module_key"`
	InheritLevel   InheritLevel      `json:"inherit_level"`
	Restrictions   *RuleRestrictions `json:"restrictions,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// OrganizationUpdate carries the mutable organization fields.
type OrganizationUpdate struct {
	Name                    *string
	Slug                    *string
	Domains                 []string
	Status                  *OrganizationStatus
	Settings                *OrganizationSettings
	DefaultInheritanceLevel *InheritLevel
}

// OperatingUnitUpdate carries the mutable operating unit fields.
// OrganizationID is deliberately absent: containment is fixed for life.
type OperatingUnitUpdate struct {
	Name        *string
	Domains     []string
	Description *string
}

// GroupUpdate carries the mutable group fields. Scope and placement are
// fixed at creation.
type GroupUpdate struct {
	Name        *string
	Description *string
	Permissions []ModulePermission
}

// InheritanceRuleUpdate carries the mutable rule fields.
type InheritanceRuleUpdate struct {
	InheritLevel *InheritLevel
	Restrictions *RuleRestrictions
	// ClearRestrictions removes restrictions when no replacement is given.
	ClearRestrictions bool
}

// GroupFilter narrows group listings.
type GroupFilter struct {
	OrganizationID  string
	OperatingUnitID string
	Scope           GroupScope
}

// Scope identifies the target of a resolution request.
type Scope struct {
	OrganizationID  string `json:"organization_id"`
	OperatingUnitID string `json:"operating_unit_id,omitempty"`
}

// cloneStrings copies a slice so stored state never aliases caller state.
func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func clonePermissions(in []ModulePermission) []ModulePermission {
	if in == nil {
		return nil
	}
	out := make([]ModulePermission, len(in))
	for i, p := range in {
		out[i] = p
		if p.Features != nil {
			out[i].Features = make([]FeaturePermission, len(p.Features))
			copy(out[i].Features, p.Features)
		}
	}
	return out
}

func cloneRestrictions(r *RuleRestrictions) *RuleRestrictions {
	if r == nil {
		return nil
	}
	out := *r
	out.FeatureKeys = cloneStrings(r.FeatureKeys)
	return &out
}
