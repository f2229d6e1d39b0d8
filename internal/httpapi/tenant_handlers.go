package httpapi

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"crmgate.org/internal/auth"
	"crmgate.org/internal/tenant"
)

type tenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// tenantIDPattern admits exactly the ids tenant.SchemaName can turn into a
// schema identifier, so schema-mode provisioning never fails on an id that
// passed validation here.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{1,62}$`)

func (a *API) handleTenantCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid User")
		return
	}

	var req tenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	req.ID = strings.ToLower(strings.TrimSpace(req.ID))
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", "name is required")
		return
	}
	if !tenantIDPattern.MatchString(req.ID) {
		writeError(w, http.StatusBadRequest, "Validation failed", "id must be lowercase letters, digits or underscores")
		return
	}

	t := tenant.Tenant{
		ID:        req.ID,
		Name:      req.Name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	// Provision storage before registering: a registered tenant whose schema
	// is missing would fail every scoped request.
	if a.scopes.Mode() == tenant.ModeSchema && a.provisioner != nil {
		schema, err := a.provisioner.EnsureTenantSchema(r.Context(), t.ID)
		if err != nil {
			a.domainError(w, r, err)
			return
		}
		t.SchemaName = schema
	}
	if err := a.tenants.Create(r.Context(), &t); err != nil {
		a.domainError(w, r, err)
		return
	}

	a.record(r, id, "tenant.created", "tenant", t.ID, map[string]string{"name": t.Name})
	writeSuccess(w, http.StatusCreated, "created", t)
}

type tenantStatusRequest struct {
	Active *bool `json:"active"`
}

func (a *API) handleTenantSetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid User")
		return
	}

	var req tenantStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "active is required")
		return
	}

	tenantID := r.PathValue("id")
	if err := a.tenants.SetActive(r.Context(), tenantID, *req.Active); err != nil {
		a.domainError(w, r, err)
		return
	}

	action := "tenant.deactivated"
	if *req.Active {
		action = "tenant.activated"
	}
	a.record(r, id, action, "tenant", tenantID, nil)
	writeSuccess(w, http.StatusOK, "updated", map[string]any{"id": tenantID, "active": *req.Active})
}

func (a *API) handleTenantList(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.tenants.List(r.Context())
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	if tenants == nil {
		tenants = []tenant.Tenant{}
	}
	writeSuccess(w, http.StatusOK, "ok", tenants)
}
