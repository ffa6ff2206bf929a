package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"accessgrid.org/internal/access"
)

type createOrganizationRequest struct {
	Name                    string                       `json:"name"`
	Slug                    string                       `json:"slug"`
	Domains                 []string                     `json:"domains"`
	Status                  string                       `json:"status"`
	Settings                *access.OrganizationSettings `json:"settings"`
	DefaultInheritanceLevel string                       `json:"default_inheritance_level"`
}

type updateOrganizationRequest struct {
	Name                    *string                      `json:"name"`
	Slug                    *string                      `json:"slug"`
	Domains                 []string                     `json:"domains"`
	Status                  *string                      `json:"status"`
	Settings                *access.OrganizationSettings `json:"settings"`
	DefaultInheritanceLevel *string                      `json:"default_inheritance_level"`
}

type createOperatingUnitRequest struct {
	Name        string   `json:"name"`
	Domains     []string `json:"domains"`
	Description string   `json:"description"`
}

type createGroupRequest struct {
	Name            string                    `json:"name"`
	Scope           string                    `json:"scope"`
	OperatingUnitID string                    `json:"operating_unit_id"`
	Permissions     []access.ModulePermission `json:"permissions"`
	Description     string                    `json:"description"`
}

type createInheritanceRuleRequest struct {
	ModuleKey    string                   `json:"module_key"`
	InheritLevel string                   `json:"inherit_level"`
	Restrictions *access.RuleRestrictions `json:"restrictions"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		orgs, err := a.svc.ListOrganizations(r.Context())
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": orgs})
	case http.MethodPost:
		a.createOrganization(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, PermManageOrganizations) {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p := access.CreateOrganizationParams{
		Name:     req.Name,
		Slug:     req.Slug,
		Domains:  req.Domains,
		Settings: req.Settings,
	}
	if req.Status != "" {
		status, err := access.ParseOrganizationStatus(req.Status)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		p.Status = status
	}
	if req.DefaultInheritanceLevel != "" {
		level, err := access.ParseInheritLevel(req.DefaultInheritanceLevel)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		p.DefaultInheritanceLevel = level
	}

	org, err := a.svc.CreateOrganization(r.Context(), p)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]

	if len(parts) == 1 {
		a.handleOrganizationResource(w, r, orgID)
		return
	}
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch parts[1] {
	case "units":
		a.handleOrganizationUnits(w, r, orgID)
	case "groups":
		a.handleOrganizationGroups(w, r, orgID)
	case "inheritance-rules":
		a.handleOrganizationRules(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOrganizationResource(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		org, err := a.svc.GetOrganization(r.Context(), orgID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case http.MethodPatch:
		a.updateOrganization(w, r, orgID)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		if err := a.svc.DeleteOrganization(r.Context(), orgID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) updateOrganization(w http.ResponseWriter, r *http.Request, orgID string) {
	if !a.ensurePermission(w, r, PermManageOrganizations) {
		return
	}
	var req updateOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	upd := access.OrganizationUpdate{
		Name:     req.Name,
		Slug:     req.Slug,
		Domains:  req.Domains,
		Settings: req.Settings,
	}
	if req.Status != nil {
		status, err := access.ParseOrganizationStatus(*req.Status)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		upd.Status = &status
	}
	if req.DefaultInheritanceLevel != nil {
		level, err := access.ParseInheritLevel(*req.DefaultInheritanceLevel)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		upd.DefaultInheritanceLevel = &level
	}

	org, err := a.svc.UpdateOrganization(r.Context(), orgID, upd)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleOrganizationUnits(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		units, err := a.svc.ListOperatingUnits(r.Context(), orgID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": units})
	case http.MethodPost:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		var req createOperatingUnitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		unit, err := a.svc.CreateOperatingUnit(r.Context(), access.CreateOperatingUnitParams{
			OrganizationID: orgID,
			Name:           req.Name,
			Domains:        req.Domains,
			Description:    req.Description,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/units/%s", unit.ID))
		writeJSON(w, http.StatusCreated, unit)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrganizationGroups(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageGroups) {
			return
		}
		filter := access.GroupFilter{
			OrganizationID:  orgID,
			OperatingUnitID: strings.TrimSpace(r.URL.Query().Get("operating_unit_id")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("scope")); raw != "" {
			scope, err := access.ParseGroupScope(raw)
			if err != nil {
				handleAccessError(w, r, err)
				return
			}
			filter.Scope = scope
		}
		groups, err := a.svc.ListGroups(r.Context(), filter)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": groups})
	case http.MethodPost:
		if !a.ensurePermission(w, r, PermManageGroups) {
			return
		}
		var req createGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		scope, err := access.ParseGroupScope(req.Scope)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		group, err := a.svc.CreateGroup(r.Context(), access.CreateGroupParams{
			OrganizationID:  orgID,
			OperatingUnitID: req.OperatingUnitID,
			Name:            req.Name,
			Scope:           scope,
			Permissions:     req.Permissions,
			Description:     req.Description,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/groups/%s", group.ID))
		writeJSON(w, http.StatusCreated, group)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrganizationRules(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageRules) {
			return
		}
		rules, err := a.svc.ListInheritanceRules(r.Context(), orgID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rules})
	case http.MethodPost:
		if !a.ensurePermission(w, r, PermManageRules) {
			return
		}
		var req createInheritanceRuleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		level, err := access.ParseInheritLevel(req.InheritLevel)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		rule, err := a.svc.CreateInheritanceRule(r.Context(), access.CreateInheritanceRuleParams{
			OrganizationID: orgID,
			ModuleKey:      req.ModuleKey,
			InheritLevel:   level,
			Restrictions:   req.Restrictions,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/inheritance-rules/%s", rule.ID))
		writeJSON(w, http.StatusCreated, rule)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}
