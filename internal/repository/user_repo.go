package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/loopin/internal/database"
	"github.com/hitoshi/loopin/internal/model"
)

// SQLUserRepo はSQLデータベースを使用したユーザーリポジトリ。
type SQLUserRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sql.DB, dialect database.Dialect) *SQLUserRepo {
	return &SQLUserRepo{db: db, dialect: dialect}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+userColumns+` FROM users WHERE id = $1`),
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// ExistsByNickname はニックネームが使用済みかどうかを返す。
func (r *SQLUserRepo) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT count(*) FROM users WHERE nickname = $1`),
		nickname,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count users by nickname: %w", err)
	}
	return count > 0, nil
}

// CreateForAuthAccount はユーザーを作成し外部アカウントに紐付ける。
// 紐付けは `user_id IS NULL` 条件付き更新で行い、二重紐付けを拒否する。
func (r *SQLUserRepo) CreateForAuthAccount(ctx context.Context, user *model.User, provider model.Provider, subject string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := upsertAuthAccount(ctx, tx, r.dialect, provider, subject, nil, utc(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert auth account: %w", err)
	}
	if account.IsLinked() {
		return model.ErrAuthAccountAlreadyLinked
	}

	_, err = tx.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO users (id, nickname, profile_image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`),
		user.ID, user.Nickname, stringPtrValue(user.ProfileImageURL), utc(user.CreatedAt), utc(user.UpdatedAt),
	)
	if r.dialect.IsUniqueViolation(err) {
		return model.ErrNicknameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE auth_accounts SET user_id = $1, updated_at = $2 WHERE id = $3 AND user_id IS NULL`),
		user.ID, utc(user.UpdatedAt), account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to link auth account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return model.ErrAuthAccountAlreadyLinked
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連する auth_accounts、refresh_tokens はCASCADE削除される。
func (r *SQLUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`DELETE FROM users WHERE id = $1`),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
