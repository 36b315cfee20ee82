package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/loopin/internal/model"
)

// idTokenAlgorithms はIDトークンとして受け付ける署名アルゴリズム。
var idTokenAlgorithms = []string{"RS256", "ES256"}

// nonceMatcher は nonce クレームと期待値の一致を判定する。
type nonceMatcher func(claim, expected string) bool

func exactNonce(claim, expected string) bool {
	return claim == expected
}

// idTokenVerifier は OIDC IDトークンの共通検証ロジック。
type idTokenVerifier struct {
	provider     model.Provider
	issuers      []string
	audiences    []string
	jwksURL      string
	keys         KeySource
	nonceMatches nonceMatcher
	now          func() time.Time
}

// verify は署名・exp・iss・aud・sub・nonce を検証する。
// 失敗理由はログにのみ残し、呼び出し元には model.ErrIdentityVerification を返す。
func (v *idTokenVerifier) verify(ctx context.Context, raw string, expectedNonce *string) (*model.Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(idTokenAlgorithms),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(ctx, v.jwksURL)); err != nil {
		if errors.Is(err, model.ErrKeyResolution) {
			slog.Error("id token key resolution failed",
				slog.String("provider", v.provider.String()),
				slog.String("error", err.Error()),
			)
			return nil, model.ErrKeyResolution
		}
		return nil, v.reject("signature or lifetime", err)
	}

	iss, err := claims.GetIssuer()
	if err != nil || !slices.Contains(v.issuers, iss) {
		return nil, v.reject("issuer", err)
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(aud, func(a string) bool { return slices.Contains(v.audiences, a) }) {
		return nil, v.reject("audience", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, v.reject("subject", err)
	}

	if expectedNonce != nil {
		nonce, ok := claims["nonce"].(string)
		if !ok || !v.nonceMatches(nonce, *expectedNonce) {
			return nil, v.reject("nonce", nil)
		}
	}

	identity := &model.Identity{Provider: v.provider, Subject: sub}
	if email, ok := claims["email"].(string); ok && email != "" {
		identity.Email = &email
	}
	return identity, nil
}

func (v *idTokenVerifier) reject(check string, cause error) error {
	attrs := []any{
		slog.String("provider", v.provider.String()),
		slog.String("check", check),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	slog.Warn("id token rejected", attrs...)
	return model.ErrIdentityVerification
}
