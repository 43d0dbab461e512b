package httpapi

import (
	"errors"
	"net/http"
	"time"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/auth"
	"authgrid.org/internal/identity"
)

const (
	deviceCookieName = "authgrid_device"
	stateCookieName  = "authgrid_oauth_state"
)

type basicLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func deviceCookie(r *http.Request) string {
	c, err := r.Cookie(deviceCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func setDeviceCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) loginBasic(w http.ResponseWriter, r *http.Request) {
	var req basicLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tok, meta, err := a.svc.LoginBasic(r.Context(), req.Email, req.Password, deviceCookie(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login.basic", map[string]any{"user_id": meta.ID})
	setDeviceCookie(w, tok.Cookie, 30*24*time.Hour)
	writeJSON(w, http.StatusOK, envelope{Data: tok, Meta: meta, Message: "login successful"})
}

func (a *API) externalLogin(w http.ResponseWriter, r *http.Request) {
	if a.provider == nil {
		writeError(w, http.StatusNotImplemented, "no external identity provider configured")
		return
	}

	state, err := auth.NewDeviceCookie()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     basePath + "/auth/external",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.provider.AuthCodeURL(state), http.StatusFound)
}

func (a *API) externalCallback(w http.ResponseWriter, r *http.Request) {
	if a.provider == nil {
		writeError(w, http.StatusNotImplemented, "no external identity provider configured")
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusUnauthorized, "state mismatch")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	ident, err := a.provider.Exchange(r.Context(), code)
	if err != nil {
		if errors.Is(err, identity.ErrExchange) {
			writeDomainError(w, auth.Unauthorized("external identity could not be verified"))
			return
		}
		writeDomainError(w, err)
		return
	}

	tok, meta, err := a.svc.LoginExternal(r.Context(), ident, deviceCookie(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login.external", map[string]any{
		"user_id":  meta.ID,
		"provider": ident.Provider,
	})
	setDeviceCookie(w, tok.Cookie, 30*24*time.Hour)
	writeJSON(w, http.StatusOK, envelope{Data: tok, Meta: meta, Message: "login successful"})
}

func (a *API) refreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tok, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Browsers that lost the device cookie re-adopt the one recorded with
	// the session.
	if deviceCookie(r) == "" && tok.Cookie != "" {
		setDeviceCookie(w, tok.Cookie, 30*24*time.Hour)
	}
	writeJSON(w, http.StatusOK, envelope{Data: tok, Message: "token refreshed"})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	accessToken, _ := auth.TokenFromContext(r.Context())

	removed, err := a.svc.Logout(r.Context(), claims.UserID, deviceCookie(r), accessToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"sessions_removed": removed})
	setDeviceCookie(w, "", -time.Second)
	writeJSON(w, http.StatusOK, envelope{
		Data:    map[string]int{"sessions_removed": removed},
		Message: "logout successful",
	})
}
