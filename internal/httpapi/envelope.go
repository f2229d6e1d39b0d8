package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"crmgate.org/internal/auth"
	"crmgate.org/internal/obs"
	"crmgate.org/internal/tenant"
)

// envelope is the uniform response shape for every JSON endpoint. Data is an
// object or list on success and {} on error; Errors carries field-level or
// diagnostic strings and is [] on success.
type envelope struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Data    any      `json:"data"`
	Errors  []string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, message string, data any) {
	if data == nil {
		data = struct{}{}
	}
	writeJSON(w, code, envelope{
		Status:  "success",
		Message: message,
		Data:    data,
		Errors:  []string{},
	})
}

func writeError(w http.ResponseWriter, code int, message string, errs ...string) {
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, code, envelope{
		Status:  "error",
		Message: message,
		Data:    struct{}{},
		Errors:  errs,
	})
}

// domainError is the single boundary translator: it maps sentinel error
// kinds to HTTP statuses. Configuration faults and unknown errors surface as
// a generic 500; the underlying detail is logged, and echoed to the client
// only outside production.
func (a *API) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid User")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, tenant.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, auth.ErrConflict), errors.Is(err, tenant.ErrExists):
		writeError(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
	default:
		obs.LogJSON(map[string]any{
			"level":      "error",
			"msg":        "request failed",
			"error":      err.Error(),
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		})
		if a.production {
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
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
