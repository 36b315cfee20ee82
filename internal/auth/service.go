// Package auth は外部IdPによるサインイン、アクセストークン・リフレッシュトークンの
// ライフサイクル、保護リソースへの認可を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/loopin/internal/model"
	"github.com/hitoshi/loopin/internal/repository"
)

// ProviderLookup はプロバイダ識別子から IdentityProvider を引く。
type ProviderLookup interface {
	Get(provider model.Provider) (IdentityProvider, error)
}

// AccessTokenIssuer はアクセストークンを発行する。
type AccessTokenIssuer interface {
	Issue(userID *string, provider model.Provider, subject string) (string, error)
}

// RefreshTokenIssuer はリフレッシュトークンを発行・ローテーションする。
type RefreshTokenIssuer interface {
	Issue(ctx context.Context, authAccountID string) (*IssuedRefreshToken, error)
	Rotate(ctx context.Context, plaintext string) (*RotatedRefreshToken, error)
}

// UserFinder はユーザーをIDで取得する。見つからない場合はnilを返す。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SignInResult はサインインおよびトークン更新の結果。
type SignInResult struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	OnboardingRequired    bool
	User                  *model.User
}

// Service はサインインとトークン更新のビジネスロジックを提供する。
type Service struct {
	providers     ProviderLookup
	accessTokens  AccessTokenIssuer
	refreshTokens RefreshTokenIssuer
	accounts      repository.AuthAccountRepository
	users         UserFinder
	metrics       Metrics
}

// NewService はServiceを生成する。
func NewService(
	providers ProviderLookup,
	accessTokens AccessTokenIssuer,
	refreshTokens RefreshTokenIssuer,
	accounts repository.AuthAccountRepository,
	users UserFinder,
	metrics Metrics,
) *Service {
	return &Service{
		providers:     providers,
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		accounts:      accounts,
		users:         users,
		metrics:       metricsOrNop(metrics),
	}
}

// SignInWithIDToken はクライアントが取得したIDトークンでサインインする。
func (s *Service) SignInWithIDToken(ctx context.Context, provider model.Provider, idToken string, nonce *string) (*SignInResult, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	identity, err := p.VerifyIDToken(ctx, idToken, nonce)
	if err != nil {
		s.metrics.RecordSignIn(provider.String(), resultFailure)
		return nil, err
	}

	return s.SignIn(ctx, identity)
}

// SignInWithCode は Authorization Code + PKCE を交換して得たIDトークンでサインインする。
func (s *Service) SignInWithCode(ctx context.Context, provider model.Provider, exchange CodeExchange, nonce *string) (*SignInResult, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	idToken, err := p.ExchangeCode(ctx, exchange)
	if err != nil {
		s.metrics.RecordSignIn(provider.String(), resultFailure)
		return nil, err
	}

	identity, err := p.VerifyIDToken(ctx, idToken, nonce)
	if err != nil {
		s.metrics.RecordSignIn(provider.String(), resultFailure)
		return nil, err
	}

	return s.SignIn(ctx, identity)
}

// SignIn は検証済みアイデンティティのアカウントを作成または取得し、トークンを発行する。
// ユーザー未登録の場合は uid=null のアクセストークンと onboardingRequired=true を返す。
func (s *Service) SignIn(ctx context.Context, identity *model.Identity) (*SignInResult, error) {
	account, err := s.accounts.UpsertByProviderAndSubject(ctx, identity.Provider, identity.Subject, identity.Email)
	if err != nil {
		s.metrics.RecordSignIn(identity.Provider.String(), resultError)
		return nil, fmt.Errorf("failed to upsert auth account: %w", err)
	}

	refresh, err := s.refreshTokens.Issue(ctx, account.ID)
	if err != nil {
		s.metrics.RecordSignIn(identity.Provider.String(), resultError)
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	result, err := s.issue(ctx, account, refresh)
	if err != nil {
		s.metrics.RecordSignIn(identity.Provider.String(), resultError)
		return nil, err
	}

	s.metrics.RecordSignIn(identity.Provider.String(), resultSuccess)
	slog.Info("signed in",
		slog.String("provider", identity.Provider.String()),
		slog.String("auth_account_id", account.ID),
		slog.Bool("onboarding_required", result.OnboardingRequired),
	)
	return result, nil
}

// Refresh はリフレッシュトークンをローテーションし、現在の紐付け状態でアクセストークンを再発行する。
// ローテーションは先に確定する。その後のユーザー取得やアクセストークン発行に失敗した場合、
// 提示されたトークンは消費済みとなり、クライアントは再サインインが必要になる。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*SignInResult, error) {
	rotated, err := s.refreshTokens.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, model.ErrInvalidRefreshToken) {
			return nil, model.ErrInvalidRefreshToken
		}
		return nil, err
	}

	return s.issue(ctx, rotated.Account, &rotated.IssuedRefreshToken)
}

// issue はアカウントの現在の紐付け状態からアクセストークンを発行し結果を組み立てる。
// 紐付け先ユーザーが削除済みの場合は未登録として扱う。
func (s *Service) issue(ctx context.Context, account *model.AuthAccount, refresh *IssuedRefreshToken) (*SignInResult, error) {
	var user *model.User
	if account.UserID != nil {
		found, err := s.users.FindByID(ctx, *account.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find linked user: %w", err)
		}
		user = found
	}

	var userID *string
	if user != nil {
		userID = &user.ID
	}

	accessToken, err := s.accessTokens.Issue(userID, account.Provider, account.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &SignInResult{
		AccessToken:           accessToken,
		RefreshToken:          refresh.Token,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
		OnboardingRequired:    user == nil,
		User:                  user,
	}, nil
}
