package httpapi

import (
	"net/http"
	"strings"

	"crmgate.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", "email and password are required")
		return
	}

	pair, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Uniform body regardless of cause.
		writeError(w, http.StatusUnauthorized, "Invalid User")
		return
	}
	writeSuccess(w, http.StatusOK, "authenticated", pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", "refresh_token is required")
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid User")
		return
	}
	writeSuccess(w, http.StatusOK, "refreshed", pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid User")
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", "refresh_token is required")
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		a.domainError(w, r, err)
		return
	}
	a.record(r, id, "auth.logout", "session", "", nil)
	writeSuccess(w, http.StatusOK, "logged out", nil)
}
