package auth

import "time"

// User is an account bound to exactly one tenant.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the request-scoped result of authentication. TenantID and Role
// come from the verified token claims, not from the freshly loaded user row:
// server-side role or tenant changes do not affect already-issued tokens
// until they expire or are revoked.
type Identity struct {
	SubjectID string
	TenantID  string
	Role      Role
}

// RefreshToken is the persisted half of a refresh credential. The client
// holds "<id>.<secret>"; only the secret's hash is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
