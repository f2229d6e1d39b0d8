package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
// Users and refresh tokens live in shared (tenant-agnostic) tables: the
// identity loader must be able to resolve a subject before any tenant scope
// exists for the request.
type Store interface {
	Users(ctx context.Context) UserStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// UserStore manages accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// RefreshTokenStore manages the refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Rotate revokes the old token and inserts its replacement in a single
	// transaction, so a crash cannot leave a revoked session without a
	// successor or two live tokens for one refresh.
	Rotate(ctx context.Context, revokeID string, next *RefreshToken) error
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
