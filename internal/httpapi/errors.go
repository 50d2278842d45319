package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kadirpekel/orchestra/internal/orcherr"
)

var (
	errUnauthorizedMissingBearer = errors.New("httpapi: missing or malformed Authorization header")
	errForbidden = errors.New("httpapi: insufficient role")
	errBadRequest = errors.New("httpapi: malformed request body")
)

// writeError maps an internal error to the consistent {error,message,details}
// body shape and the matching HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSON(w, status, orcherr.Response{Error: kind, Message: err.Error()})
}

func classify(err error) (int, string) {
	var cardErr *orcherr.CardInvalidError
	switch {
	case errors.Is(err, errUnauthorizedMissingBearer), errors.Is(err, orcherr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, orcherr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orcherr.ErrDuplicateName):
		return http.StatusConflict, "duplicate_name"
	case errors.Is(err, orcherr.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.As(err, &cardErr):
		return http.StatusUnprocessableEntity, "card_invalid"
	case errors.Is(err, orcherr.ErrPersistFailed), errors.Is(err, orcherr.ErrStoreCorrupt):
		return http.StatusInternalServerError, "persist_failed"
	case errors.Is(err, orcherr.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, orcherr.ErrUpstreamError):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errBadRequest)
		return false
	}
	return true
}
