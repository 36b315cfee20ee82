package auth

import (
	"context"

	"github.com/hitoshi/loopin/internal/model"
)

// Google OIDC のデフォルトエンドポイント
const (
	DefaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
	DefaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// googleIssuers は Google が発行するIDトークンの iss。スキームなしの形式も使われる。
var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleConfig はGoogle OIDCの設定。
// JWKSURL、TokenURL はテスト時に差し替え可能。
type GoogleConfig struct {
	ClientIDs    []string
	ClientSecret string
	JWKSURL      string
	TokenURL     string
}

// GoogleProvider はGoogleのIDトークン検証と認可コード交換を行う。
type GoogleProvider struct {
	clientID     string
	clientSecret string
	verifier     *idTokenVerifier
	endpoint     *tokenEndpoint
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(cfg GoogleConfig, deps ProviderDeps) (*GoogleProvider, error) {
	if err := requireClientIDs("GOOGLE_CLIENT_ID", cfg.ClientIDs); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = DefaultGoogleJWKSURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultGoogleTokenURL
	}

	return &GoogleProvider{
		clientID:     cfg.ClientIDs[0],
		clientSecret: cfg.ClientSecret,
		verifier: &idTokenVerifier{
			provider:     model.ProviderGoogle,
			issuers:      googleIssuers,
			audiences:    cfg.ClientIDs,
			jwksURL:      jwksURL,
			keys:         deps.Keys,
			nonceMatches: exactNonce,
			now:          deps.Now,
		},
		endpoint: &tokenEndpoint{
			provider: model.ProviderGoogle,
			url:      tokenURL,
			client:   deps.HTTPClient,
			timeout:  deps.Timeout,
			metrics:  deps.Metrics,
		},
	}, nil
}

// Provider はプロバイダ識別子を返す。
func (p *GoogleProvider) Provider() model.Provider {
	return model.ProviderGoogle
}

// VerifyIDToken はGoogleのIDトークンを検証する。
func (p *GoogleProvider) VerifyIDToken(ctx context.Context, idToken string, expectedNonce *string) (*model.Identity, error) {
	return p.verifier.verify(ctx, idToken, expectedNonce)
}

// ExchangeCode は認可コードをIDトークンに交換する。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, exchange CodeExchange) (string, error) {
	return p.endpoint.exchange(ctx, authorizationCodeForm(p.clientID, p.clientSecret, exchange))
}

// compile-time interface check
var _ IdentityProvider = (*GoogleProvider)(nil)
