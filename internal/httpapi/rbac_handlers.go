package httpapi

import (
	"net/http"
)

type rbacValidateRequest struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
}

// rbacValidate answers the authorizer contract: given the caller's verified
// roles and a target (method, endpoint), decide access.
func (a *API) rbacValidate(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req rbacValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := a.engine.Validate(r.Context(), claims.Roles, req.Method, req.Endpoint)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// rbacSnapshot dumps the cached rule view for debugging and admin tooling.
func (a *API) rbacSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := claimsOrUnauthorized(w, r); !ok {
		return
	}
	view, err := a.engine.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: view})
}
