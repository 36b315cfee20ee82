package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/loopin/internal/database"
	"github.com/hitoshi/loopin/internal/model"
)

// SQLAuthAccountRepo はSQLデータベースを使用した外部アカウントリポジトリ。
type SQLAuthAccountRepo struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewSQLAuthAccountRepo はSQLAuthAccountRepoを生成する。
func NewSQLAuthAccountRepo(db *sql.DB, dialect database.Dialect) *SQLAuthAccountRepo {
	return &SQLAuthAccountRepo{db: db, dialect: dialect, now: time.Now}
}

// FindByProviderAndSubject は (provider, subject) でアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *SQLAuthAccountRepo) FindByProviderAndSubject(ctx context.Context, provider model.Provider, subject string) (*model.AuthAccount, error) {
	account, err := scanAuthAccount(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+authAccountColumns+`
		 FROM auth_accounts
		 WHERE provider = $1 AND provider_user_id = $2`),
		string(provider), subject,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find auth account: %w", err)
	}

	return account, nil
}

// UpsertByProviderAndSubject はアカウントを作成または取得する。
// 既存アカウントの email は新しい値が非nilの場合のみ上書きする。
func (r *SQLAuthAccountRepo) UpsertByProviderAndSubject(ctx context.Context, provider model.Provider, subject string, email *string) (*model.AuthAccount, error) {
	account, err := upsertAuthAccount(ctx, r.db, r.dialect, provider, subject, email, utc(r.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert auth account: %w", err)
	}
	return account, nil
}

// queryRower は *sql.DB と *sql.Tx の共通インターフェース。
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// upsertAuthAccount は INSERT ... ON CONFLICT で1文のうちにアカウントを作成または更新する。
func upsertAuthAccount(ctx context.Context, q queryRower, dialect database.Dialect, provider model.Provider, subject string, email *string, now time.Time) (*model.AuthAccount, error) {
	return scanAuthAccount(q.QueryRowContext(ctx,
		dialect.Rebind(`INSERT INTO auth_accounts (id, provider, provider_user_id, email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, provider_user_id) DO UPDATE
		 SET email = COALESCE(excluded.email, auth_accounts.email),
		     updated_at = excluded.updated_at
		 RETURNING `+authAccountColumns),
		uuid.New().String(), string(provider), subject, stringPtrValue(email), now, now,
	))
}

// compile-time interface check
var _ AuthAccountRepository = (*SQLAuthAccountRepo)(nil)
