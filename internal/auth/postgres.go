package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crmgate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Accounts and refresh tokens
// live in shared tables keyed by tenant_id; they are deliberately outside
// the tenant scoping layer because authentication runs before a scope exists.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, tenant_id, email, password_hash, role, active)
		 values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.TenantID, u.Email, u.PasswordHash, string(u.Role), u.Active,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email %s", ErrConflict, u.Email)
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, tenant_id, email, password_hash, role, active, created_at, updated_at
		 from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, tenant_id, email, password_hash, role, active, created_at, updated_at
		 from users where email=$1`, email))
}

func (s *userStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set active=$2, updated_at=now() where id=$1`, id, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) scanOne(row *sql.Row) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &role, &u.Active,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// Refresh token store ------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at)
		 values($1,$2,$3,$4)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	var tok RefreshToken
	err := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, revoked
		 from refresh_tokens where id=$1`, id,
	).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Rotate performs revoke-old plus insert-new atomically.
func (s *refreshTokenStore) Rotate(ctx context.Context, revokeID string, next *RefreshToken) error {
	if next.ID == "" {
		next.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1 and not revoked`, revokeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already revoked by a concurrent refresh; treat as replay.
		return ErrInvalidToken
	}
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at)
		 values($1,$2,$3,$4)`,
		next.ID, next.UserID, next.TokenHash, next.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *refreshTokenStore) MarkRevoked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	return err
}

func (s *refreshTokenStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1`, userID)
	return err
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// isUniqueViolation matches PostgreSQL error code 23505 without importing
// driver internals everywhere.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
