package access

import (
	"context"

	"accessgrid.org/internal/audit"
)

// Store describes persistence for the permission engine. Every mutating
// method takes the audit entry recording the change; implementations
// must commit the mutation and the entry atomically, so a failed append
// aborts the mutation it was protecting.
//
// Invariant checks and per-organization write serialization live in
// Service, not here: stores only guarantee atomicity and the uniqueness
// constraints they can express natively (slug, one rule per module).
type Store interface {
	CreateOrganization(ctx context.Context, org Organization, entry audit.Entry) error
	UpdateOrganization(ctx context.Context, org Organization, entry audit.Entry) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)

	CreateOperatingUnit(ctx context.Context, unit OperatingUnit, entry audit.Entry) error
	UpdateOperatingUnit(ctx context.Context, unit OperatingUnit, entry audit.Entry) error
	DeleteOperatingUnit(ctx context.Context, id string, entry audit.Entry) error
	GetOperatingUnit(ctx context.Context, id string) (OperatingUnit, error)
	ListOperatingUnits(ctx context.Context, organizationID string) ([]OperatingUnit, error)

	CreateGroup(ctx context.Context, group Group, entry audit.Entry) error
	UpdateGroup(ctx context.Context, group Group, entry audit.Entry) error
	DeleteGroup(ctx context.Context, id string, entry audit.Entry) error
	GetGroup(ctx context.Context, id string) (Group, error)
	ListGroups(ctx context.Context, f GroupFilter) ([]Group, error)

	CreateInheritanceRule(ctx context.Context, rule InheritanceRule, entry audit.Entry) error
	UpdateInheritanceRule(ctx context.Context, rule InheritanceRule, entry audit.Entry) error
	DeleteInheritanceRule(ctx context.Context, id string, entry audit.Entry) error
	GetInheritanceRule(ctx context.Context, id string) (InheritanceRule, error)
	// FindInheritanceRule returns the rule for (organization, module) or
	// ErrNotFound.
	FindInheritanceRule(ctx context.Context, organizationID, moduleKey string) (InheritanceRule, error)
	ListInheritanceRules(ctx context.Context, organizationID string) ([]InheritanceRule, error)

	// AuditLog exposes the read side of the paired audit log.
	AuditLog() audit.Log
}
