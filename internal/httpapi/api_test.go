package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"crmgate.org/internal/audit"
	"crmgate.org/internal/auth"
	"crmgate.org/internal/tenant"
)

// fakeAuthStore is an in-memory auth.Store for pipeline tests.
type fakeAuthStore struct {
	mu     sync.Mutex
	users  map[string]*auth.User
	tokens map[string]*auth.RefreshToken
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		users:  make(map[string]*auth.User),
		tokens: make(map[string]*auth.RefreshToken),
	}
}

func (f *fakeAuthStore) Users(context.Context) auth.UserStore                 { return (*fakeUsers)(f) }
func (f *fakeAuthStore) RefreshTokens(context.Context) auth.RefreshTokenStore { return (*fakeTokens)(f) }

type fakeUsers fakeAuthStore

func (f *fakeUsers) Create(_ context.Context, u *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeUsers) Find(_ context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeUsers) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Active = active
	return nil
}

type fakeTokens fakeAuthStore

func (f *fakeTokens) Create(_ context.Context, tok *auth.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *tok
	f.tokens[tok.ID] = &copied
	return nil
}

func (f *fakeTokens) Find(_ context.Context, id string) (*auth.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *tok
	return &copied, nil
}

func (f *fakeTokens) Rotate(_ context.Context, revokeID string, next *auth.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.tokens[revokeID]
	if !ok || old.Revoked {
		return auth.ErrInvalidToken
	}
	old.Revoked = true
	copied := *next
	f.tokens[next.ID] = &copied
	return nil
}

func (f *fakeTokens) MarkRevoked(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok, ok := f.tokens[id]; ok {
		tok.Revoked = true
	}
	return nil
}

func (f *fakeTokens) MarkRevokedByUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

func (f *fakeTokens) DeleteExpired(context.Context) (int64, error) { return 0, nil }

// fakeRegistry is an in-memory tenant.Registry.
type fakeRegistry struct {
	mu      sync.Mutex
	tenants map[string]tenant.Tenant
}

func (f *fakeRegistry) Create(_ context.Context, t *tenant.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tenants == nil {
		f.tenants = make(map[string]tenant.Tenant)
	}
	if _, ok := f.tenants[t.ID]; ok {
		return tenant.ErrExists
	}
	f.tenants[t.ID] = *t
	return nil
}

func (f *fakeRegistry) Find(_ context.Context, id string) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return &t, nil
}

func (f *fakeRegistry) List(context.Context) ([]tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []tenant.Tenant
	for _, t := range f.tenants {
		res = append(res, t)
	}
	return res, nil
}

func (f *fakeRegistry) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return tenant.ErrNotFound
	}
	t.Active = active
	f.tenants[id] = t
	return nil
}

// captureAudit records appends; fail makes every append error.
type captureAudit struct {
	mu      sync.Mutex
	fail    bool
	records []audit.Record
}

func (c *captureAudit) Append(_ context.Context, rec *audit.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("audit storage down")
	}
	c.records = append(c.records, *rec)
	return nil
}

func (c *captureAudit) List(_ context.Context, f audit.Filter) ([]audit.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []audit.Record
	for _, rec := range c.records {
		if f.TenantID != "" && rec.TenantID != f.TenantID {
			continue
		}
		res = append(res, rec)
	}
	return res, nil
}

type testEnv struct {
	handler   http.Handler
	store     *fakeAuthStore
	mock      sqlmock.Sqlmock
	auditLog  *captureAudit
	recorder  *audit.Recorder
	svc       *auth.Service
	provision *stubProvisioner
	tenants   *fakeRegistry
}

type stubProvisioner struct {
	mu    sync.Mutex
	calls []string
}

func (p *stubProvisioner) EnsureTenantSchema(_ context.Context, tenantID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, tenantID)
	return "tenant_" + tenantID, nil
}

func newTestEnv(t *testing.T, mode tenant.Mode) *testEnv {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := newFakeAuthStore()
	svc, err := auth.NewService(store, "pipeline-test-secret")
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	auditLog := &captureAudit{}
	recorder := audit.NewRecorder(auditLog, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = recorder.Close(ctx)
	})

	prov := &stubProvisioner{}
	reg := &fakeRegistry{}
	api := New(Deps{
		Auth:        svc,
		Scopes:      tenant.NewResolver(db, mode),
		Tenants:     reg,
		Provisioner: prov,
		Recorder:    recorder,
		AuditLog:    auditLog,
		Version:     "test",
		Burst:       1000,
		PerSecond:   1000,
	})
	return &testEnv{
		handler:   api.Handler(),
		store:     store,
		mock:      mock,
		auditLog:  auditLog,
		recorder:  recorder,
		svc:       svc,
		provision: prov,
		tenants:   reg,
	}
}

func (e *testEnv) addUser(t *testing.T, id, tenantID, email, password string, role auth.Role) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	err = e.store.Users(context.Background()).Create(context.Background(), &auth.User{
		ID: id, TenantID: tenantID, Email: email,
		PasswordHash: hash, Role: role, Active: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func (e *testEnv) login(t *testing.T, email, password string) auth.TokenPair {
	t.Helper()
	pair, err := e.svc.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return pair
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rr.Body.String())
	}
	return env
}

func TestLoginFailureBodyIsUniform(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "ada@acme.test", "s3cret", auth.RoleAgent)

	for _, body := range []map[string]string{
		{"email": "ada@acme.test", "password": "wrong"},
		{"email": "nobody@acme.test", "password": "s3cret"},
	} {
		rr := env.do(t, http.MethodPost, "/v1/auth/login", "", body)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rr.Code)
		}
		e := decodeEnvelope(t, rr)
		if e.Status != "error" || e.Message != "Invalid User" {
			t.Fatalf("unexpected envelope %+v", e)
		}
	}
}

func TestInactiveAccountIsUnauthenticatedNotForbidden(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "ada@acme.test", "s3cret", auth.RoleAgent)
	pair := env.login(t, "ada@acme.test", "s3cret")

	if err := env.store.Users(context.Background()).SetActive(context.Background(), "u1", false); err != nil {
		t.Fatal(err)
	}

	env.mock.ExpectQuery(`select id, first_name, last_name, email, phone, company, owner_id, created_at, updated_at from contacts order by created_at desc limit $1`)
	rr := env.do(t, http.MethodGet, "/v1/contacts", pair.AccessToken, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Message != "Invalid User" {
		t.Fatalf("message = %q, want Invalid User", e.Message)
	}
}

func TestRoleGateForbidsPeersAndAdmitsSuperadmin(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "agent@acme.test", "s3cret", auth.RoleAgent)
	env.addUser(t, "u2", "acme", "root@acme.test", "s3cret", auth.RoleSuperAdmin)

	agent := env.login(t, "agent@acme.test", "s3cret")
	rr := env.do(t, http.MethodDelete, "/v1/contacts/c1", agent.AccessToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("agent delete status = %d, want 403", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Message != "Access denied" {
		t.Fatalf("message = %q, want Access denied", e.Message)
	}

	env.mock.ExpectExec(`delete from contacts where id = $1 and tenant_id = $2`).
		WithArgs("c1", "acme").
		WillReturnResult(sqlmock.NewResult(0, 1))

	root := env.login(t, "root@acme.test", "s3cret")
	rr = env.do(t, http.MethodDelete, "/v1/contacts/c1", root.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("superadmin delete status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
}

func TestAuditWriteFailureDoesNotChangeResponse(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "ada@acme.test", "s3cret", auth.RoleAgent)
	env.auditLog.fail = true

	env.mock.ExpectExec(`insert into contacts(id, first_name, last_name, email, phone, company, owner_id, created_at, updated_at, tenant_id) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`).
		WithArgs(sqlmock.AnyArg(), "Ada", "Lovelace", "ada@acme.test", "", "", "",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "acme").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pair := env.login(t, "ada@acme.test", "s3cret")
	rr := env.do(t, http.MethodPost, "/v1/contacts", pair.AccessToken, map[string]string{
		"first_name": "Ada", "last_name": "Lovelace", "email": "ada@acme.test",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	if e := decodeEnvelope(t, rr); e.Status != "success" {
		t.Fatalf("envelope status = %q, want success", e.Status)
	}
}

func TestCrossTenantReadIsNotFound(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "ada@acme.test", "s3cret", auth.RoleAgent)

	// The row exists under another tenant; the scoped query finds nothing.
	env.mock.ExpectQuery(`select id, first_name, last_name, email, phone, company, owner_id, created_at, updated_at from contacts where id = $1 and tenant_id = $2`).
		WithArgs("foreign-row", "acme").
		WillReturnRows(sqlmock.NewRows(nil))

	pair := env.login(t, "ada@acme.test", "s3cret")
	rr := env.do(t, http.MethodGet, "/v1/contacts/foreign-row", pair.AccessToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Message != "Not found" {
		t.Fatalf("message = %q, want Not found", e.Message)
	}
}

func TestSuccessEnvelopeShape(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)

	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	e := decodeEnvelope(t, rr)
	if e.Status != "success" || e.Errors == nil || len(e.Errors) != 0 {
		t.Fatalf("unexpected envelope %+v", e)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)

	rr := env.do(t, http.MethodGet, "/v1/contacts", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Message != "Invalid User" {
		t.Fatalf("message = %q, want Invalid User", e.Message)
	}
}

func TestAuditListIsAdminGatedAndTenantConfined(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "agent@acme.test", "s3cret", auth.RoleAgent)
	env.addUser(t, "u2", "acme", "admin@acme.test", "s3cret", auth.RoleAdmin)

	agent := env.login(t, "agent@acme.test", "s3cret")
	if rr := env.do(t, http.MethodGet, "/v1/audit", agent.AccessToken, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("agent audit status = %d, want 403", rr.Code)
	}

	env.auditLog.records = []audit.Record{
		{TenantID: "acme", Action: "contact.created"},
		{TenantID: "globex", Action: "contact.created"},
	}
	admin := env.login(t, "admin@acme.test", "s3cret")
	rr := env.do(t, http.MethodGet, "/v1/audit", admin.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin audit status = %d, want 200", rr.Code)
	}
	var data []audit.Record
	e := decodeEnvelope(t, rr)
	raw, _ := json.Marshal(e.Data)
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data) != 1 || data[0].TenantID != "acme" {
		t.Fatalf("expected only caller-tenant records, got %+v", data)
	}
}

func TestTenantCreateProvisionsSchemaInSchemaMode(t *testing.T) {
	env := newTestEnv(t, tenant.ModeSchema)
	env.addUser(t, "u1", "acme", "root@acme.test", "s3cret", auth.RoleSuperAdmin)

	pair := env.login(t, "root@acme.test", "s3cret")
	rr := env.do(t, http.MethodPost, "/v1/tenants", pair.AccessToken, map[string]string{
		"id": "globex", "name": "Globex Corp",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	env.provision.mu.Lock()
	calls := append([]string(nil), env.provision.calls...)
	env.provision.mu.Unlock()
	if len(calls) != 1 || calls[0] != "globex" {
		t.Fatalf("provisioner calls = %v, want [globex]", calls)
	}
}

func TestTenantCreateRejectsHyphenatedID(t *testing.T) {
	env := newTestEnv(t, tenant.ModeSchema)
	env.addUser(t, "u1", "hq", "root@hq.test", "s3cret", auth.RoleSuperAdmin)

	// A hyphen passes no schema identifier; it must be refused up front
	// instead of surfacing as a provisioning failure.
	pair := env.login(t, "root@hq.test", "s3cret")
	rr := env.do(t, http.MethodPost, "/v1/tenants", pair.AccessToken, map[string]string{
		"id": "acme-eu", "name": "Acme EU",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rr.Code, rr.Body.String())
	}
	env.provision.mu.Lock()
	calls := len(env.provision.calls)
	env.provision.mu.Unlock()
	if calls != 0 {
		t.Fatalf("provisioner called %d times for an invalid id", calls)
	}
}

func TestDeactivatedTenantIsDeniedDataAccess(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "admin@acme.test", "s3cret", auth.RoleAdmin)
	env.addUser(t, "u2", "hq", "root@hq.test", "s3cret", auth.RoleSuperAdmin)
	if err := env.tenants.Create(context.Background(), &tenant.Tenant{ID: "acme", Name: "Acme", Active: true}); err != nil {
		t.Fatalf("register tenant: %v", err)
	}

	root := env.login(t, "root@hq.test", "s3cret")
	rr := env.do(t, http.MethodPatch, "/v1/tenants/acme", root.AccessToken, map[string]bool{"active": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}

	// The admin's token is still valid; access is refused at scoping.
	agent := env.login(t, "admin@acme.test", "s3cret")
	rr = env.do(t, http.MethodGet, "/v1/contacts", agent.AccessToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body %s)", rr.Code, rr.Body.String())
	}
	if e := decodeEnvelope(t, rr); e.Message != "Access denied" {
		t.Fatalf("message = %q, want Access denied", e.Message)
	}
	if rr := env.do(t, http.MethodGet, "/v1/audit", agent.AccessToken, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("audit status = %d, want 403", rr.Code)
	}
}

func TestTenantSetActiveUnknownIDIsNotFound(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "hq", "root@hq.test", "s3cret", auth.RoleSuperAdmin)

	root := env.login(t, "root@hq.test", "s3cret")
	rr := env.do(t, http.MethodPatch, "/v1/tenants/ghost", root.AccessToken, map[string]bool{"active": false})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (body %s)", rr.Code, rr.Body.String())
	}
}

func TestTenantCreateRequiresSuperadmin(t *testing.T) {
	env := newTestEnv(t, tenant.ModeField)
	env.addUser(t, "u1", "acme", "admin@acme.test", "s3cret", auth.RoleAdmin)

	pair := env.login(t, "admin@acme.test", "s3cret")
	rr := env.do(t, http.MethodPost, "/v1/tenants", pair.AccessToken, map[string]string{
		"id": "globex", "name": "Globex Corp",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}
