package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRotateRunsInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	next := &RefreshToken{
		ID:        "tok-new",
		UserID:    "user-1",
		TokenHash: "hash",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set revoked=true").
		WithArgs("tok-old").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("tok-new", "user-1", "hash", next.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	if err := store.RefreshTokens(context.Background()).Rotate(context.Background(), "tok-old", next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateRejectsReplay(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	// Zero rows updated: the old token was already revoked.
	mock.ExpectExec("update refresh_tokens set revoked=true").
		WithArgs("tok-old").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewPGStore(db)
	err = store.RefreshTokens(context.Background()).Rotate(context.Background(), "tok-old", &RefreshToken{
		ID:        "tok-new",
		UserID:    "user-1",
		TokenHash: "hash",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select id, tenant_id, email, password_hash, role, active").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPGStore(db)
	if _, err := store.Users(context.Background()).Find(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
