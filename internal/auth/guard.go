package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/loopin/internal/model"
)

// AccessTokenVerifier はアクセストークンを検証する。
type AccessTokenVerifier interface {
	Verify(token string) (*AccessTokenClaims, error)
}

// AccountFinder は (provider, subject) で外部アカウントを取得する。
type AccountFinder interface {
	FindByProviderAndSubject(ctx context.Context, provider model.Provider, subject string) (*model.AuthAccount, error)
}

// GuardPolicy は保護対象の操作が未登録の呼び出し元を許容するかどうかを表す。
type GuardPolicy int

const (
	// RequireOnboarding はユーザー登録済みの呼び出し元のみ許可する。
	RequireOnboarding GuardPolicy = iota
	// AllowOnboarding は uid=null の呼び出し元も許可する（オンボーディング用の操作）。
	AllowOnboarding
)

// Caller は認可済みの呼び出し元。UserID はオンボーディング未完了の場合 nil。
type Caller struct {
	UserID   *string
	Provider model.Provider
	Subject  string
}

// Onboarded はユーザー登録済みかどうかを返す。
func (c *Caller) Onboarded() bool {
	return c.UserID != nil
}

// Guard は Bearer アクセストークンを検証し、紐付け状態を実データで再確認する。
type Guard struct {
	tokens   AccessTokenVerifier
	accounts AccountFinder
	users    UserFinder
}

// NewGuard はGuardを生成する。
func NewGuard(tokens AccessTokenVerifier, accounts AccountFinder, users UserFinder) *Guard {
	return &Guard{tokens: tokens, accounts: accounts, users: users}
}

// Authorize は Authorization ヘッダを検証し呼び出し元を返す。
// ヘッダ欠落は model.ErrMissingCredential、検証失敗・紐付け不一致は model.ErrInvalidCredential、
// uid=null で policy が RequireOnboarding の場合は model.ErrOnboardingRequired を返す。
func (g *Guard) Authorize(ctx context.Context, authorization string, policy GuardPolicy) (*Caller, error) {
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, model.ErrMissingCredential
	}

	claims, err := g.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, model.ErrInvalidCredential
	}

	caller := &Caller{UserID: claims.UserID, Provider: claims.Provider, Subject: claims.Subject}

	if claims.UserID == nil {
		if policy == AllowOnboarding {
			return caller, nil
		}
		return nil, model.ErrOnboardingRequired
	}

	account, err := g.accounts.FindByProviderAndSubject(ctx, claims.Provider, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find auth account: %w", err)
	}
	if account == nil || account.UserID == nil || *account.UserID != *claims.UserID {
		return nil, model.ErrInvalidCredential
	}

	user, err := g.users.FindByID(ctx, *claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrInvalidCredential
	}

	return caller, nil
}
