package httpapi

import (
	"net/http"
	"strings"

	"accessgrid.org/internal/access"
)

type updateOperatingUnitRequest struct {
	Name        *string  `json:"name"`
	Domains     []string `json:"domains"`
	Description *string  `json:"description"`
}

type updateGroupRequest struct {
	Name        *string                   `json:"name"`
	Description *string                   `json:"description"`
	Permissions []access.ModulePermission `json:"permissions"`
}

type updateInheritanceRuleRequest struct {
	InheritLevel      *string                  `json:"inherit_level"`
	Restrictions      *access.RuleRestrictions `json:"restrictions"`
	ClearRestrictions bool                     `json:"clear_restrictions"`
}

// resourceID strips the collection prefix and rejects nested paths.
func resourceID(path, prefix string) (string, bool) {
	id := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (a *API) handleUnitResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/v1/units/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		unit, err := a.svc.GetOperatingUnit(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, unit)
	case http.MethodPatch:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		var req updateOperatingUnitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		unit, err := a.svc.UpdateOperatingUnit(r.Context(), id, access.OperatingUnitUpdate{
			Name:        req.Name,
			Domains:     req.Domains,
			Description: req.Description,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, unit)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, PermManageOrganizations) {
			return
		}
		if err := a.svc.DeleteOperatingUnit(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/v1/groups/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageGroups) {
			return
		}
		group, err := a.svc.GetGroup(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	case http.MethodPatch:
		if !a.ensurePermission(w, r, PermManageGroups) {
			return
		}
		var req updateGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.svc.UpdateGroup(r.Context(), id, access.GroupUpdate{
			Name:        req.Name,
			Description: req.Description,
			Permissions: req.Permissions,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, PermManageGroups) {
			return
		}
		if err := a.svc.DeleteGroup(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRuleResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/v1/inheritance-rules/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, PermManageRules) {
			return
		}
		rule, err := a.svc.GetInheritanceRule(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodPatch:
		if !a.ensurePermission(w, r, PermManageRules) {
			return
		}
		var req updateInheritanceRuleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd := access.InheritanceRuleUpdate{
			Restrictions:      req.Restrictions,
			ClearRestrictions: req.ClearRestrictions,
		}
		if req.InheritLevel != nil {
			level, err := access.ParseInheritLevel(*req.InheritLevel)
			if err != nil {
				handleAccessError(w, r, err)
				return
			}
			upd.InheritLevel = &level
		}
		rule, err := a.svc.UpdateInheritanceRule(r.Context(), id, upd)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, PermManageRules) {
			return
		}
		if err := a.svc.DeleteInheritanceRule(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}
