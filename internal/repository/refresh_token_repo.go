package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/loopin/internal/database"
	"github.com/hitoshi/loopin/internal/model"
)

// SQLRefreshTokenRepo はSQLデータベースを使用したリフレッシュトークンリポジトリ。
type SQLRefreshTokenRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLRefreshTokenRepo はSQLRefreshTokenRepoを生成する。
func NewSQLRefreshTokenRepo(db *sql.DB, dialect database.Dialect) *SQLRefreshTokenRepo {
	return &SQLRefreshTokenRepo{db: db, dialect: dialect}
}

// Create はリフレッシュトークンを保存する。
func (r *SQLRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO refresh_tokens (id, auth_account_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`),
		token.ID, token.AuthAccountID, token.TokenHash, utc(token.ExpiresAt), utc(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// Rotate は tokenHash のトークンを失効させ next を後継として保存する。
// 行ロックと `revoked_at IS NULL` 条件付き更新で、同時実行時の勝者を1件に限定する。
func (r *SQLRefreshTokenRepo) Rotate(ctx context.Context, tokenHash string, next *model.RefreshToken, now time.Time) (*model.AuthAccount, error) {
	now = utc(now)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		tokenID       string
		authAccountID string
		expiresAt     time.Time
		revokedAt     sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT id, auth_account_id, expires_at, revoked_at
		 FROM refresh_tokens
		 WHERE token_hash = $1`+r.dialect.ForUpdate()),
		tokenHash,
	).Scan(&tokenID, &authAccountID, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if revokedAt.Valid {
		return nil, &ReusedTokenError{AuthAccountID: authAccountID, RevokedAt: revokedAt.Time}
	}
	if !now.Before(expiresAt) {
		return nil, model.ErrInvalidRefreshToken
	}

	result, err := tx.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE refresh_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`),
		now, tokenID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		// 別トランザクションが先に失効させた
		return nil, model.ErrInvalidRefreshToken
	}

	next.AuthAccountID = authAccountID
	_, err = tx.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO refresh_tokens (id, auth_account_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`),
		next.ID, next.AuthAccountID, next.TokenHash, utc(next.ExpiresAt), utc(next.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert successor refresh token: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE refresh_tokens SET replaced_by_token_id = $1 WHERE id = $2`),
		next.ID, tokenID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to link successor refresh token: %w", err)
	}

	account, err := scanAuthAccount(tx.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+authAccountColumns+` FROM auth_accounts WHERE id = $1`),
		authAccountID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to load auth account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return account, nil
}

// RevokeActiveByAuthAccount はアカウントの有効なトークンをすべて失効させる。
func (r *SQLRefreshTokenRepo) RevokeActiveByAuthAccount(ctx context.Context, authAccountID string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE refresh_tokens SET revoked_at = $1 WHERE auth_account_id = $2 AND revoked_at IS NULL`),
		utc(now), authAccountID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// compile-time interface check
var _ RefreshTokenRepository = (*SQLRefreshTokenRepo)(nil)
