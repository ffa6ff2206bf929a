package access

// Catalog is the registry of module and feature keys that grants may
// reference. Write paths validate against it; resolution does not (an
// unknown key simply resolves to LevelNone).
type Catalog struct {
	modules map[string]map[string]struct{}
}

// CatalogModule declares one module and its features.
type CatalogModule struct {
	ModuleKey string
	Features  []string
}

// NewCatalog builds a catalog from module declarations.
func NewCatalog(modules []CatalogModule) *Catalog {
	c := &Catalog{modules: make(map[string]map[string]struct{}, len(modules))}
	for _, m := range modules {
		feats := make(map[string]struct{}, len(m.Features))
		for _, f := range m.Features {
			feats[f] = struct{}{}
		}
		c.modules[m.ModuleKey] = feats
	}
	return c
}

// HasModule reports whether moduleKey is registered.
func (c *Catalog) HasModule(moduleKey string) bool {
	_, ok := c.modules[moduleKey]
	return ok
}

// HasFeature reports whether featureKey is registered under moduleKey.
func (c *Catalog) HasFeature(moduleKey, featureKey string) bool {
	feats, ok := c.modules[moduleKey]
	if !ok {
		return false
	}
	_, ok = feats[featureKey]
	return ok
}

// BuiltinCatalog covers the modules of the surrounding compliance
// dashboard.
func BuiltinCatalog() *Catalog {
	return NewCatalog([]CatalogModule{
		{ModuleKey: "scans", Features: []string{"run_scan", "schedule_scan", "view_results", "delete_results"}},
		{ModuleKey: "reports", Features: []string{"create_report", "edit_report", "export_report", "share_report"}},
		{ModuleKey: "users_roles", Features: []string{"manage_users", "manage_groups", "manage_invitations"}},
		{ModuleKey: "settings", Features: []string{"manage_domains", "manage_branding", "manage_integrations"}},
		{ModuleKey: "audit", Features: []string{"view_logs", "export_logs"}},
	})
}
