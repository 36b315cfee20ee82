package repository

import (
	"context"
	"testing"

	"github.com/hitoshi/loopin/internal/model"
)

func TestSQLAuthAccountRepo_Upsert_CreatesOnce(t *testing.T) {
	db, dialect := newSQLiteDB(t)
	repo := NewSQLAuthAccountRepo(db, dialect)
	ctx := context.Background()

	first, err := repo.UpsertByProviderAndSubject(ctx, model.ProviderKakao, "u123", nil)
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if first.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if first.UserID != nil {
		t.Errorf("UserID = %v, want nil", *first.UserID)
	}
	if first.Email != nil {
		t.Errorf("Email = %v, want nil", *first.Email)
	}

	second, err := repo.UpsertByProviderAndSubject(ctx, model.ProviderKakao, "u123", nil)
	if err != nil {
		t.Fatalf("second Upsert returned error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second ID = %q, want %q", second.ID, first.ID)
	}
}

func TestSQLAuthAccountRepo_Upsert_EmailRefresh(t *testing.T) {
	db, dialect := newSQLiteDB(t)
	repo := NewSQLAuthAccountRepo(db, dialect)
	ctx := context.Background()

	if _, err := repo.UpsertByProviderAndSubject(ctx, model.ProviderGoogle, "g1", strPtr("old@example.com")); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	t.Run("新しいemailで上書きされる", func(t *testing.T) {
		account, err := repo.UpsertByProviderAndSubject(ctx, model.ProviderGoogle, "g1", strPtr("new@example.com"))
		if err != nil {
			t.Fatalf("Upsert returned error: %v", err)
		}
		if account.Email == nil || *account.Email != "new@example.com" {
			t.Errorf("Email = %v, want new@example.com", account.Email)
		}
	})

	t.Run("emailなしでは既存値を保持する", func(t *testing.T) {
		account, err := repo.UpsertByProviderAndSubject(ctx, model.ProviderGoogle, "g1", nil)
		if err != nil {
			t.Fatalf("Upsert returned error: %v", err)
		}
		if account.Email == nil || *account.Email != "new@example.com" {
			t.Errorf("Email = %v, want new@example.com", account.Email)
		}
	})
}

func TestSQLAuthAccountRepo_FindByProviderAndSubject(t *testing.T) {
	db, dialect := newSQLiteDB(t)
	repo := NewSQLAuthAccountRepo(db, dialect)
	ctx := context.Background()

	got, err := repo.FindByProviderAndSubject(ctx, model.ProviderApple, "missing")
	if err != nil {
		t.Fatalf("FindByProviderAndSubject returned error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing account, got %+v", got)
	}

	created, err := repo.UpsertByProviderAndSubject(ctx, model.ProviderApple, "s1", nil)
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	got, err = repo.FindByProviderAndSubject(ctx, model.ProviderApple, "s1")
	if err != nil {
		t.Fatalf("FindByProviderAndSubject returned error: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("FindByProviderAndSubject = %+v, want ID %q", got, created.ID)
	}
	if got.Provider != model.ProviderApple {
		t.Errorf("Provider = %q, want %q", got.Provider, model.ProviderApple)
	}

	// 同じ subject でもプロバイダが異なれば別アカウント
	other, err := repo.FindByProviderAndSubject(ctx, model.ProviderGoogle, "s1")
	if err != nil {
		t.Fatalf("FindByProviderAndSubject returned error: %v", err)
	}
	if other != nil {
		t.Errorf("expected nil for other provider, got %+v", other)
	}
}
