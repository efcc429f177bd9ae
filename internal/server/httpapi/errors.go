package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"access-core/internal/apperr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeAppError maps access-core errors to HTTP. Token and credential failures share one
// message per kind; backend failures never leak driver details.
func (a *API) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *apperr.RateLimitError
	switch {
	case errors.Is(err, apperr.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, apperr.ErrInvalidCredentials.Error())
	case errors.Is(err, apperr.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, apperr.ErrInvalidToken.Error())
	case errors.Is(err, apperr.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, apperr.ErrPermissionDenied.Error())
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.FormatInt(apperr.RetryAfterSeconds(rle.RetryAfter), 10))
		writeError(w, r, http.StatusTooManyRequests, apperr.ErrRateLimitExceeded.Error())
	case errors.Is(err, apperr.ErrBackendUnavailable):
		a.log.WithError(err).WithField("path", r.URL.Path).Error("backend unavailable")
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		a.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
