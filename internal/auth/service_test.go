package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store used to exercise the service without a
// database.
type memStore struct {
	mu     sync.Mutex
	users  map[string]*User
	tokens map[string]*RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]*User),
		tokens: make(map[string]*RefreshToken),
	}
}

func (m *memStore) Users(context.Context) UserStore                 { return (*memUsers)(m) }
func (m *memStore) RefreshTokens(context.Context) RefreshTokenStore { return (*memTokens)(m) }

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

type memTokens memStore

func (m *memTokens) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *tok
	m.tokens[tok.ID] = &copied
	return nil
}

func (m *memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *tok
	return &copied, nil
}

func (m *memTokens) Rotate(_ context.Context, revokeID string, next *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[revokeID]
	if !ok || old.Revoked {
		return ErrInvalidToken
	}
	old.Revoked = true
	copied := *next
	m.tokens[next.ID] = &copied
	return nil
}

func (m *memTokens) MarkRevoked(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.tokens[id]; ok {
		tok.Revoked = true
	}
	return nil
}

func (m *memTokens) MarkRevokedByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

func (m *memTokens) DeleteExpired(context.Context) (int64, error) { return 0, nil }

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	svc, err := NewService(store, "test-secret", WithIssuer("crmgate-test"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedUser(t *testing.T, store *memStore, id, tenantID string, role Role, active bool) *User {
	t.Helper()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &User{
		ID:           id,
		TenantID:     tenantID,
		Email:        id + "@example.com",
		PasswordHash: hash,
		Role:         role,
		Active:       active,
	}
	if err := store.Users(context.Background()).Create(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestLoginAndAuthenticate(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	seedUser(t, store, "user-1", "tenant-1", RoleManager, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if !pair.AccessExpiresAt.After(time.Now()) {
		t.Fatalf("access token already expired: %v", pair.AccessExpiresAt)
	}

	id, err := svc.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.SubjectID != "user-1" || id.TenantID != "tenant-1" || id.Role != RoleManager {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	seedUser(t, store, "user-1", "tenant-1", RoleAgent, true)
	seedUser(t, store, "user-2", "tenant-1", RoleAgent, false)

	cases := []struct {
		name            string
		email, password string
	}{
		{"unknown account", "nobody@example.com", "s3cret"},
		{"wrong password", "user-1@example.com", "wrong"},
		{"disabled account", "user-2@example.com", "s3cret"},
		{"empty password", "user-1@example.com", ""},
	}
	for _, tc := range cases {
		if _, err := svc.Login(context.Background(), tc.email, tc.password); err != ErrInvalidToken {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", tc.name, err)
		}
	}
}

func TestAuthenticateInactiveAccountFailsAsUnauthenticated(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	seedUser(t, store, "user-1", "tenant-1", RoleAdmin, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Deactivate after the token was issued: the token is still
	// cryptographically valid but authentication must now fail.
	if err := store.Users(context.Background()).SetActive(context.Background(), "user-1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), pair.AccessToken); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for inactive account, got %v", err)
	}
}

func TestAuthenticateRejectsTamperedToken(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	seedUser(t, store, "user-1", "tenant-1", RoleAgent, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := svc.Authenticate(context.Background(), tampered); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), ""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	store := newMemStore()
	current := time.Now().UTC()
	svc, err := NewService(store, "test-secret",
		WithAccessTTL(time.Minute),
		WithClock(func() time.Time { return current }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	seedUser(t, store, "user-1", "tenant-1", RoleAgent, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := svc.Authenticate(context.Background(), pair.AccessToken); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	seedUser(t, store, "user-1", "tenant-1", RoleAgent, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if !next.RefreshExpiresAt.After(time.Now()) {
		t.Fatalf("rotated token not valid into the future: %v", next.RefreshExpiresAt)
	}

	// The old token is single-use: presenting it again must fail.
	if _, err := svc.Refresh(context.Background(), pair.RefreshToken); err != ErrInvalidToken {
		t.Fatalf("expected old token to be rejected, got %v", err)
	}
	// The new one keeps working.
	if _, err := svc.Refresh(context.Background(), next.RefreshToken); err != nil {
		t.Fatalf("new token should refresh: %v", err)
	}
}

func TestRefreshRejectsExpiredRecord(t *testing.T) {
	store := newMemStore()
	current := time.Now().UTC()
	svc, err := NewService(store, "test-secret",
		WithRefreshTTL(time.Hour),
		WithClock(func() time.Time { return current }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	seedUser(t, store, "user-1", "tenant-1", RoleAgent, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// The row still exists but is past expires_at.
	current = current.Add(2 * time.Hour)
	if _, err := svc.Refresh(context.Background(), pair.RefreshToken); err != ErrInvalidToken {
		t.Fatalf("expected expired refresh token to be rejected, got %v", err)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	seedUser(t, store, "user-1", "tenant-1", RoleAgent, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), pair.RefreshToken); err != ErrInvalidToken {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
}

func TestRefreshWrongSecretRevokesSession(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	seedUser(t, store, "user-1", "tenant-1", RoleAgent, true)

	pair, err := svc.Login(context.Background(), "user-1@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id := strings.SplitN(pair.RefreshToken, ".", 2)[0]
	forged := id + ".bm90LXRoZS1zZWNyZXQ"
	if _, err := svc.Refresh(context.Background(), forged); err != ErrInvalidToken {
		t.Fatalf("expected forged token to be rejected, got %v", err)
	}
	// The legitimate secret no longer works either: the session was revoked.
	if _, err := svc.Refresh(context.Background(), pair.RefreshToken); err != ErrInvalidToken {
		t.Fatalf("expected revoked session, got %v", err)
	}
}
