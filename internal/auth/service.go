package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"crmgate.org/internal/ids"
)

const (
	defaultIssuer     = "crmgate"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Claims are the JWT claims carried by access tokens. TenantID and Role are
// read back verbatim during authentication.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies credentials and resolves identities.
type Service struct {
	store      Store
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service. The HMAC secret is mandatory.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Login verifies email+password credentials and issues a token pair. Every
// failure mode collapses to ErrInvalidToken; the caller learns nothing about
// whether the account exists, is disabled, or the password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	if !user.Active {
		return TokenPair{}, ErrInvalidToken
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	return s.mintTokens(ctx, user)
}

// Authenticate validates an access token and resolves the identity. The user
// row is loaded fresh on every call; a deleted or deactivated account fails
// exactly like a forged token. Tenant and role come from the claims.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := s.verifyAccessToken(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil || user == nil || !user.Active {
		return Identity{}, ErrInvalidToken
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		SubjectID: claims.Subject,
		TenantID:  claims.TenantID,
		Role:      role,
	}, nil
}

// Refresh rotates a refresh token and issues a new pair. The old token is
// revoked and the replacement inserted in one transaction.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	record, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.store.Users(ctx).Find(ctx, record.UserID)
	if err != nil || user == nil || !user.Active {
		return TokenPair{}, ErrInvalidToken
	}

	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, refreshRec, err := s.generateRefreshToken(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Rotate(ctx, record.ID, refreshRec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshRec.ExpiresAt,
	}, nil
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	record, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	return s.store.RefreshTokens(ctx).MarkRevoked(ctx, record.ID)
}

// CleanupExpired removes refresh tokens past their expiry.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens(ctx).DeleteExpired(ctx)
}

// lookupRefresh resolves a presented refresh token to its stored record.
// Expired rows are rejected here even if cleanup has not removed them yet.
func (s *Service) lookupRefresh(ctx context.Context, raw string) (*RefreshToken, error) {
	tokenID, secret, err := splitRefreshToken(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	store := s.store.RefreshTokens(ctx)
	record, err := store.Find(ctx, tokenID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		// A wrong secret for a live token id smells like a stolen id;
		// revoke the session outright.
		_ = store.MarkRevoked(ctx, record.ID)
		return nil, ErrInvalidToken
	}
	return record, nil
}

func (s *Service) mintTokens(ctx context.Context, user *User) (TokenPair, error) {
	now := s.now().UTC()
	accessToken, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, refreshRec, err := s.generateRefreshToken(user.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, refreshRec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshRec.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(user *User, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		TenantID: user.TenantID,
		Role:     string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) verifyAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return tokenID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
