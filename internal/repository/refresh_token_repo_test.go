package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/hitoshi/loopin/internal/database"
	"github.com/hitoshi/loopin/internal/model"
)

func newToken(accountID, hash string, now time.Time, ttl time.Duration) *model.RefreshToken {
	return &model.RefreshToken{
		ID:            uuid.New().String(),
		AuthAccountID: accountID,
		TokenHash:     hash,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
}

func setupRefreshTokenRepo(t *testing.T) (*SQLRefreshTokenRepo, *model.AuthAccount) {
	t.Helper()
	db, dialect := newSQLiteDB(t)

	account, err := NewSQLAuthAccountRepo(db, dialect).UpsertByProviderAndSubject(context.Background(), model.ProviderKakao, "u123", nil)
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	return NewSQLRefreshTokenRepo(db, dialect), account
}

func TestSQLRefreshTokenRepo_Rotate_Success(t *testing.T) {
	repo, account := setupRefreshTokenRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, newToken(account.ID, "hash-1", now, time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	next := newToken("", "hash-2", now, time.Hour)
	got, err := repo.Rotate(ctx, "hash-1", next, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if got.ID != account.ID {
		t.Errorf("account ID = %q, want %q", got.ID, account.ID)
	}
	if next.AuthAccountID != account.ID {
		t.Errorf("next.AuthAccountID = %q, want %q", next.AuthAccountID, account.ID)
	}

	var replacedBy string
	err = repo.db.QueryRow(repo.dialect.Rebind(`SELECT replaced_by_token_id FROM refresh_tokens WHERE token_hash = $1`), "hash-1").Scan(&replacedBy)
	if err != nil {
		t.Fatalf("select replaced_by_token_id failed: %v", err)
	}
	if replacedBy != next.ID {
		t.Errorf("replaced_by_token_id = %q, want %q", replacedBy, next.ID)
	}

	// 後継トークンは続けてローテーションできる
	if _, err := repo.Rotate(ctx, "hash-2", newToken("", "hash-3", now, time.Hour), now.Add(2*time.Minute)); err != nil {
		t.Errorf("Rotate of successor returned error: %v", err)
	}
}

func TestSQLRefreshTokenRepo_Rotate_SingleUse(t *testing.T) {
	repo, account := setupRefreshTokenRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, newToken(account.ID, "hash-1", now, time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := repo.Rotate(ctx, "hash-1", newToken("", "hash-2", now, time.Hour), now); err != nil {
		t.Fatalf("first Rotate returned error: %v", err)
	}

	_, err := repo.Rotate(ctx, "hash-1", newToken("", "hash-3", now, time.Hour), now)
	if !errors.Is(err, model.ErrInvalidRefreshToken) {
		t.Fatalf("second Rotate error = %v, want ErrInvalidRefreshToken", err)
	}

	var reused *ReusedTokenError
	if !errors.As(err, &reused) {
		t.Fatalf("second Rotate error = %T, want *ReusedTokenError", err)
	}
	if reused.AuthAccountID != account.ID {
		t.Errorf("AuthAccountID = %q, want %q", reused.AuthAccountID, account.ID)
	}
}

func TestSQLRefreshTokenRepo_Rotate_Rejects(t *testing.T) {
	repo, account := setupRefreshTokenRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, newToken(account.ID, "expiring", now.Add(-time.Hour), time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	tests := []struct {
		name string
		hash string
	}{
		{"存在しないトークン", "unknown"},
		{"期限切れトークン", "expiring"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Rotate(ctx, tt.hash, newToken("", uuid.NewString(), now, time.Hour), now)
			if !errors.Is(err, model.ErrInvalidRefreshToken) {
				t.Errorf("Rotate error = %v, want ErrInvalidRefreshToken", err)
			}
		})
	}
}

// TestSQLRefreshTokenRepo_Rotate_Concurrent は同一トークンの同時ローテーションで
// 勝者が1件のみであることを検証する。
func TestSQLRefreshTokenRepo_Rotate_Concurrent(t *testing.T) {
	repo, account := setupRefreshTokenRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, newToken(account.ID, "contended", now, time.Hour)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.Rotate(ctx, "contended", newToken("", uuid.NewString(), now, time.Hour), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrInvalidRefreshToken):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if failures != workers-1 {
		t.Errorf("failures = %d, want %d", failures, workers-1)
	}
}

func TestSQLRefreshTokenRepo_RevokeActiveByAuthAccount(t *testing.T) {
	repo, account := setupRefreshTokenRepo(t)
	ctx := context.Background()
	now := time.Now()

	for _, hash := range []string{"a", "b"} {
		if err := repo.Create(ctx, newToken(account.ID, hash, now, time.Hour)); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	n, err := repo.RevokeActiveByAuthAccount(ctx, account.ID, now)
	if err != nil {
		t.Fatalf("RevokeActiveByAuthAccount returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}

	_, err = repo.Rotate(ctx, "a", newToken("", "c", now, time.Hour), now)
	if !errors.Is(err, model.ErrInvalidRefreshToken) {
		t.Errorf("Rotate after revoke error = %v, want ErrInvalidRefreshToken", err)
	}
}

// PostgreSQL方言のSQL形状をsqlmockで検証する

func TestSQLRefreshTokenRepo_Rotate_Postgres_LostCompareAndSwap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	repo := NewSQLRefreshTokenRepo(db, database.DialectPostgres)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, auth_account_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = \$1 FOR UPDATE`).
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "auth_account_id", "expires_at", "revoked_at"}).
			AddRow("t1", "a1", now.Add(time.Hour), nil))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = \$1 WHERE id = \$2 AND revoked_at IS NULL`).
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = repo.Rotate(context.Background(), "hash-1", newToken("", "hash-2", now, time.Hour), now)
	if !errors.Is(err, model.ErrInvalidRefreshToken) {
		t.Errorf("Rotate error = %v, want ErrInvalidRefreshToken", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLRefreshTokenRepo_Rotate_Postgres_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	repo := NewSQLRefreshTokenRepo(db, database.DialectPostgres)
	now := time.Now()
	next := newToken("", "hash-2", now, time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, auth_account_id, expires_at, revoked_at FROM refresh_tokens`).
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "auth_account_id", "expires_at", "revoked_at"}).
			AddRow("t1", "a1", now.Add(time.Hour), nil))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(next.ID, "a1", "hash-2", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE refresh_tokens SET replaced_by_token_id = \$1 WHERE id = \$2`).
		WithArgs(next.ID, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, provider, provider_user_id, email, user_id, created_at, updated_at FROM auth_accounts WHERE id = \$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_user_id", "email", "user_id", "created_at", "updated_at"}).
			AddRow("a1", "kakao", "u123", nil, "user-1", now, now))
	mock.ExpectCommit()

	account, err := repo.Rotate(context.Background(), "hash-1", next, now)
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if account.UserID == nil || *account.UserID != "user-1" {
		t.Errorf("UserID = %v, want user-1", account.UserID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLRefreshTokenRepo_Rotate_Postgres_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	repo := NewSQLRefreshTokenRepo(db, database.DialectPostgres)
	now := time.Now()
	dbErr := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, auth_account_id`).WillReturnError(dbErr)
	mock.ExpectRollback()

	_, err = repo.Rotate(context.Background(), "hash-1", newToken("", "hash-2", now, time.Hour), now)
	if !errors.Is(err, dbErr) {
		t.Errorf("Rotate error = %v, want wrapped %v", err, dbErr)
	}
	if errors.Is(err, model.ErrInvalidRefreshToken) {
		t.Error("infrastructure error must not be reported as invalid refresh token")
	}
}
