// Package httpapi is the HTTP boundary: the middleware pipeline, route
// table, role requirements and the error translator.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crmgate.org/internal/audit"
	"crmgate.org/internal/auth"
	"crmgate.org/internal/obs"
	"crmgate.org/internal/tenant"
)

// Provisioner creates per-tenant storage when a tenant is registered. Only
// schema isolation needs one; nil otherwise.
type Provisioner interface {
	EnsureTenantSchema(ctx context.Context, tenantID string) (string, error)
}

// ReadyProbe reports whether dependencies are reachable.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// Deps carries everything the HTTP layer needs; all fields except
// Provisioner are required.
type Deps struct {
	Auth        *auth.Service
	Scopes      *tenant.Resolver
	Tenants     tenant.Registry
	Provisioner Provisioner
	Recorder    *audit.Recorder
	AuditLog    audit.Store
	Ready       ReadyProbe
	Version     string
	Production  bool
	Burst       int
	PerSecond   int
	MaxBody     int64
}

type API struct {
	mux         *http.ServeMux
	auth        *auth.Service
	scopes      *tenant.Resolver
	tenants     tenant.Registry
	provisioner Provisioner
	recorder    *audit.Recorder
	auditLog    audit.Store
	ready       ReadyProbe
	version     string
	production  bool
	burst       int
	perSecond   int
	maxBody     int64
}

func New(d Deps) *API {
	a := &API{
		mux:         http.NewServeMux(),
		auth:        d.Auth,
		scopes:      d.Scopes,
		tenants:     d.Tenants,
		provisioner: d.Provisioner,
		recorder:    d.Recorder,
		auditLog:    d.AuditLog,
		ready:       d.Ready,
		version:     d.Version,
		production:  d.Production,
		burst:       d.Burst,
		perSecond:   d.PerSecond,
		maxBody:     d.MaxBody,
	}
	if a.burst <= 0 {
		a.burst = 20
	}
	if a.perSecond <= 0 {
		a.perSecond = 10
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReady)
	a.mux.HandleFunc("GET /v1/info", a.handleInfo)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("GET /v1/audit", a.requireRole(auth.RoleAdmin, a.handleAuditList))

	a.mux.HandleFunc("GET /v1/contacts", a.handleContactList)
	a.mux.HandleFunc("POST /v1/contacts", a.handleContactCreate)
	a.mux.HandleFunc("GET /v1/contacts/{id}", a.handleContactGet)
	a.mux.HandleFunc("PUT /v1/contacts/{id}", a.handleContactUpdate)
	a.mux.HandleFunc("DELETE /v1/contacts/{id}", a.requireRole(auth.RoleManager, a.handleContactDelete))

	a.mux.HandleFunc("GET /v1/leads", a.handleLeadList)
	a.mux.HandleFunc("POST /v1/leads", a.handleLeadCreate)
	a.mux.HandleFunc("GET /v1/leads/{id}", a.handleLeadGet)
	a.mux.HandleFunc("PUT /v1/leads/{id}", a.handleLeadUpdate)
	a.mux.HandleFunc("DELETE /v1/leads/{id}", a.requireRole(auth.RoleManager, a.handleLeadDelete))

	a.mux.HandleFunc("GET /v1/tenants", a.requireRole(auth.RoleSuperAdmin, a.handleTenantList))
	a.mux.HandleFunc("POST /v1/tenants", a.requireRole(auth.RoleSuperAdmin, a.handleTenantCreate))
	a.mux.HandleFunc("PATCH /v1/tenants/{id}", a.requireRole(auth.RoleSuperAdmin, a.handleTenantSetActive))

	return a
}

// Handler assembles the pipeline. Order is fixed: request id, metrics,
// logging, rate limiting, body cap, authentication; role gates sit per-route
// inside the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.burst, a.perSecond)
	h = LoggingJSON(h)
	h = obs.Instrument(h)
	return RequestID(h)
}

// tenantAdmitted rejects identities whose tenant has been deactivated.
// Tenants absent from the registry pass through: mode none runs without
// registration, and in schema mode an unprovisioned schema fails on its
// own.
func (a *API) tenantAdmitted(ctx context.Context, tenantID string) error {
	if a.tenants == nil || tenantID == "" {
		return nil
	}
	t, err := a.tenants.Find(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !t.Active {
		return auth.ErrForbidden
	}
	return nil
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", map[string]any{
		"service": "crmgate-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not ready", err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, "ready", nil)
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", map[string]any{
		"name":           "crmgate-api",
		"version":        a.version,
		"isolation_mode": string(a.scopes.Mode()),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}
