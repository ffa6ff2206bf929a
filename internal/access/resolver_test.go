package access

import (
	"context"
	"errors"
	"testing"
)

type stubResolveStore struct {
	groups map[string]Group
	orgs   map[string]Organization
	rules  map[string]InheritanceRule
}

func (s *stubResolveStore) GetGroup(ctx context.Context, id string) (Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return Group{}, ErrNotFound
	}
	return g, nil
}

func (s *stubResolveStore) GetOrganization(ctx context.Context, id string) (Organization, error) {
	o, ok := s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return o, nil
}

func (s *stubResolveStore) FindInheritanceRule(ctx context.Context, organizationID, moduleKey string) (InheritanceRule, error) {
	r, ok := s.rules[organizationID+"/"+moduleKey]
	if !ok {
		return InheritanceRule{}, ErrNotFound
	}
	return r, nil
}

func orgGroup(id, orgID string, perms ...ModulePermission) Group {
	return Group{ID: id, OrganizationID: orgID, Scope: ScopeOrganization, Permissions: perms}
}

func unitGroup(id, orgID, unitID string, perms ...ModulePermission) Group {
	return Group{ID: id, OrganizationID: orgID, OperatingUnitID: unitID, Scope: ScopeOperatingUnit, Permissions: perms}
}

func modulePerm(key string, level Level, features ...FeaturePermission) ModulePermission {
	return ModulePermission{ModuleKey: key, Level: level, Features: features}
}

func newTestResolver(t *testing.T, store *stubResolveStore) *Resolver {
	t.Helper()
	if store.orgs == nil {
		store.orgs = map[string]Organization{}
	}
	if store.rules == nil {
		store.rules = map[string]InheritanceRule{}
	}
	r, err := NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func resolve(t *testing.T, r *Resolver, req ResolveRequest) Level {
	t.Helper()
	level, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return level
}

func TestResolveOrgScopeTarget(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("scans", LevelRead)),
			"g2": orgGroup("g2", "org1", modulePerm("scans", LevelWrite)),
		},
		// An inheritance rule exists but must not apply at org scope.
		rules: map[string]InheritanceRule{
			"org1/scans": {OrganizationID: "org1", ModuleKey: "scans", InheritLevel: InheritNone},
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1", "g2"},
		ModuleKey: "scans",
		Scope:     Scope{OrganizationID: "org1"},
	})
	if got != LevelWrite {
		t.Fatalf("level = %v, want write", got)
	}
}

func TestResolvePartialRuleCapsProjection(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("scans", LevelAdmin)),
		},
		rules: map[string]InheritanceRule{
			"org1/scans": {
				OrganizationID: "org1",
				ModuleKey:      "scans",
				InheritLevel:   InheritPartial,
				Restrictions:   &RuleRestrictions{Level: LevelWrite},
			},
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1"},
		ModuleKey: "scans",
		Scope:     Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelWrite {
		t.Fatalf("level = %v, want write", got)
	}
}

func TestResolveInheritNoneKeepsDirectGrants(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("reports", LevelAdmin)),
			"g2": unitGroup("g2", "org1", "ou1", modulePerm("reports", LevelRead)),
		},
		rules: map[string]InheritanceRule{
			"org1/reports": {OrganizationID: "org1", ModuleKey: "reports", InheritLevel: InheritNone},
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1", "g2"},
		ModuleKey: "reports",
		Scope:     Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelRead {
		t.Fatalf("level = %v, want read from the direct unit grant only", got)
	}
}

func TestResolveDirectGrantWidensProjection(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("scans", LevelRead)),
			"g2": unitGroup("g2", "org1", "ou1", modulePerm("scans", LevelAdmin)),
		},
		rules: map[string]InheritanceRule{
			"org1/scans": {OrganizationID: "org1", ModuleKey: "scans", InheritLevel: InheritFull},
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1", "g2"},
		ModuleKey: "scans",
		Scope:     Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelAdmin {
		t.Fatalf("level = %v, want admin", got)
	}
}

func TestResolveDefaultInheritanceFallback(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("scans", LevelWrite)),
		},
		orgs: map[string]Organization{
			"org1": {ID: "org1", DefaultInheritanceLevel: InheritNone},
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1"},
		ModuleKey: "scans",
		Scope:     Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelNone {
		t.Fatalf("level = %v, want none under a default of no inheritance", got)
	}

	store.orgs["org1"] = Organization{ID: "org1", DefaultInheritanceLevel: InheritFull}
	got = resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1"},
		ModuleKey: "scans",
		Scope:     Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelWrite {
		t.Fatalf("level = %v, want write under full default inheritance", got)
	}
}

func TestResolveExplicitRuleBeatsDefault(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("scans", LevelWrite)),
		},
		orgs: map[string]Organization{
			"org1": {ID: "org1", DefaultInheritanceLevel: InheritFull},
		},
		rules: map[string]InheritanceRule{
			"org1/scans": {OrganizationID: "org1", ModuleKey: "scans", InheritLevel: InheritNone},
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1"},
		ModuleKey: "scans",
		Scope:     Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelNone {
		t.Fatalf("level = %v, explicit rule must override the default", got)
	}
}

func TestResolveFailsClosed(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("scans", LevelAdmin)),
			"g2": orgGroup("g2", "org2", modulePerm("scans", LevelAdmin)),
		},
	}
	r := newTestResolver(t, store)

	// Unknown group ids are skipped, foreign-org groups are ignored,
	// and an unknown module key grants nothing.
	got := resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"missing", "g2"},
		ModuleKey: "scans",
		Scope:     Scope{OrganizationID: "org1"},
	})
	if got != LevelNone {
		t.Fatalf("level = %v, want none", got)
	}

	got = resolve(t, r, ResolveRequest{
		GroupIDs:  []string{"g1"},
		ModuleKey: "no_such_module",
		Scope:     Scope{OrganizationID: "org1"},
	})
	if got != LevelNone {
		t.Fatalf("level = %v, want none for an unknown module", got)
	}
}

func TestResolveRequiresOrganizationAndModule(t *testing.T) {
	r := newTestResolver(t, &stubResolveStore{})

	_, err := r.Resolve(context.Background(), ResolveRequest{ModuleKey: "scans"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	_, err = r.Resolve(context.Background(), ResolveRequest{Scope: Scope{OrganizationID: "org1"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestResolveFeatureCappedByModule(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1",
				modulePerm("scans", LevelRead, FeaturePermission{FeatureKey: "run_scan", Level: LevelAdmin})),
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:   []string{"g1"},
		ModuleKey:  "scans",
		FeatureKey: "run_scan",
		Scope:      Scope{OrganizationID: "org1"},
	})
	if got != LevelRead {
		t.Fatalf("level = %v, feature must not exceed its module level", got)
	}
}

func TestResolveFeatureAllowList(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1",
				modulePerm("scans", LevelAdmin,
					FeaturePermission{FeatureKey: "run_scan", Level: LevelWrite},
					FeaturePermission{FeatureKey: "delete_results", Level: LevelWrite},
				)),
		},
		rules: map[string]InheritanceRule{
			"org1/scans": {
				OrganizationID: "org1",
				ModuleKey:      "scans",
				InheritLevel:   InheritPartial,
				Restrictions:   &RuleRestrictions{Level: LevelWrite, FeatureKeys: []string{"run_scan"}},
			},
		},
	}
	r := newTestResolver(t, store)

	got := resolve(t, r, ResolveRequest{
		GroupIDs:   []string{"g1"},
		ModuleKey:  "scans",
		FeatureKey: "run_scan",
		Scope:      Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelWrite {
		t.Fatalf("run_scan level = %v, want write", got)
	}

	got = resolve(t, r, ResolveRequest{
		GroupIDs:   []string{"g1"},
		ModuleKey:  "scans",
		FeatureKey: "delete_results",
		Scope:      Scope{OrganizationID: "org1", OperatingUnitID: "ou1"},
	})
	if got != LevelNone {
		t.Fatalf("delete_results level = %v, want none outside the allow-list", got)
	}
}

func TestResolveGroupOrderIndependent(t *testing.T) {
	store := &stubResolveStore{
		groups: map[string]Group{
			"g1": orgGroup("g1", "org1", modulePerm("scans", LevelRead)),
			"g2": orgGroup("g2", "org1", modulePerm("scans", LevelAdmin)),
			"g3": orgGroup("g3", "org1", modulePerm("scans", LevelWrite)),
		},
	}
	r := newTestResolver(t, store)

	orders := [][]string{
		{"g1", "g2", "g3"},
		{"g3", "g1", "g2"},
		{"g2", "g3", "g1", "g2"},
	}
	for _, ids := range orders {
		got := resolve(t, r, ResolveRequest{
			GroupIDs:  ids,
			ModuleKey: "scans",
			Scope:     Scope{OrganizationID: "org1"},
		})
		if got != LevelAdmin {
			t.Fatalf("order %v: level = %v, want admin", ids, got)
		}
	}
}
