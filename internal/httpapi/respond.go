package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/obs"
)

// envelope is the standard response shape: payload in data, secondary
// payload in meta, human message last.
type envelope struct {
	Data    any    `json:"data,omitempty"`
	Meta    any    `json:"meta,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// writeDomainError maps the error taxonomy onto HTTP status codes. Unknown
// errors are logged and hidden behind a generic 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *auth.Error
	if !errors.As(err, &domainErr) {
		obs.L().WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, statusForKind(domainErr.Kind), domainErr.Detail)
}

func statusForKind(kind auth.Kind) int {
	switch kind {
	case auth.KindBadRequest:
		return http.StatusBadRequest
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
