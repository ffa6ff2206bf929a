package httpapi

import (
	"net/http"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/obs"
)

type resolveRequest struct {
	GroupIDs        []string `json:"group_ids"`
	ModuleKey       string   `json:"module_key"`
	FeatureKey      string   `json:"feature_key"`
	OrganizationID  string   `json:"organization_id"`
	OperatingUnitID string   `json:"operating_unit_id"`
}

type resolveResponse struct {
	Level access.Level `json:"access_level"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, PermResolve) {
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	level, err := a.resolver.Resolve(r.Context(), access.ResolveRequest{
		GroupIDs:   req.GroupIDs,
		ModuleKey:  req.ModuleKey,
		FeatureKey: req.FeatureKey,
		Scope: access.Scope{
			OrganizationID:  req.OrganizationID,
			OperatingUnitID: req.OperatingUnitID,
		},
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	obs.ObserveResolve(level.String())
	writeJSON(w, http.StatusOK, resolveResponse{Level: level})
}
