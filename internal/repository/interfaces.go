// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/loopin/internal/model"
)

// AuthAccountRepository は外部アカウント (Provider, Subject) の永続化インターフェース。
type AuthAccountRepository interface {
	// FindByProviderAndSubject は (provider, subject) でアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndSubject(ctx context.Context, provider model.Provider, subject string) (*model.AuthAccount, error)

	// UpsertByProviderAndSubject はアカウントを作成または取得する。
	// email が非nilの場合のみ保存済みの email を更新する。UserID は変更しない。
	UpsertByProviderAndSubject(ctx context.Context, provider model.Provider, subject string, email *string) (*model.AuthAccount, error)
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンを保存する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// Rotate は tokenHash に一致する有効なトークンを失効させ、next を後継として保存する。
	// 単一トランザクションで実行され、同一トークンの同時ローテーションは1件のみ成功する。
	// 不一致・失効済み・期限切れ・競合負けはいずれも model.ErrInvalidRefreshToken を返す。
	// 既にローテーション済みのトークンが再提示された場合は *ReusedTokenError を返す。
	Rotate(ctx context.Context, tokenHash string, next *model.RefreshToken, now time.Time) (*model.AuthAccount, error)

	// RevokeActiveByAuthAccount はアカウントの有効なトークンをすべて失効させ、件数を返す。
	RevokeActiveByAuthAccount(ctx context.Context, authAccountID string, now time.Time) (int64, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// ExistsByNickname はニックネームが使用済みかどうかを返す。
	ExistsByNickname(ctx context.Context, nickname string) (bool, error)

	// CreateForAuthAccount はユーザーを作成し (provider, subject) のアカウントに紐付ける。
	// 同一トランザクションで実行し、紐付け済みの場合は model.ErrAuthAccountAlreadyLinked、
	// ニックネーム重複の場合は model.ErrNicknameTaken を返す。
	CreateForAuthAccount(ctx context.Context, user *model.User, provider model.Provider, subject string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連する auth_accounts、refresh_tokens はCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ReusedTokenError はローテーション済みリフレッシュトークンの再提示を表す。
// errors.Is(err, model.ErrInvalidRefreshToken) を満たす。
type ReusedTokenError struct {
	AuthAccountID string
	RevokedAt     time.Time
}

// Error はerrorインターフェースを実装する。
func (e *ReusedTokenError) Error() string {
	return fmt.Sprintf("refresh token reused for auth account %s", e.AuthAccountID)
}

// Unwrap は model.ErrInvalidRefreshToken を返す。
func (e *ReusedTokenError) Unwrap() error {
	return model.ErrInvalidRefreshToken
}
