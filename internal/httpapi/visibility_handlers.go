package httpapi

import (
	"net/http"

	"authgrid.org/internal/visibility"
)

type visibilityValidateRequest struct {
	EntityName string `json:"entity_name"`
}

type visibilityValidateResponse struct {
	Users []visibility.Member `json:"users"`
}

// visibilityValidate resolves which users' records the caller may see for the
// requested entity type, based on the visibility group in the token claims.
func (a *API) visibilityValidate(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req visibilityValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.EntityName == "" {
		writeError(w, http.StatusBadRequest, "entity_name is required")
		return
	}

	users, err := a.resolver.Validate(r.Context(), claims.UserID, claims.Email,
		claims.VisibilityGroup, req.EntityName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visibilityValidateResponse{Users: users})
}
