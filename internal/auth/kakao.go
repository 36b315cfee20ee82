package auth

import (
	"context"
	"strings"

	"github.com/hitoshi/loopin/internal/model"
)

// DefaultKakaoIssuer は Kakao の OIDC 発行者。
const DefaultKakaoIssuer = "https://kauth.kakao.com"

// KakaoConfig はKakao OIDCの設定。
// JWKSURL、TokenURL が空の場合は Issuer から導出する。
type KakaoConfig struct {
	ClientIDs    []string
	ClientSecret string
	Issuer       string
	JWKSURL      string
	TokenURL     string
}

// KakaoProvider はKakaoのIDトークン検証と認可コード交換を行う。
type KakaoProvider struct {
	clientID     string
	clientSecret string
	verifier     *idTokenVerifier
	endpoint     *tokenEndpoint
}

// NewKakaoProvider はKakaoProviderを生成する。
func NewKakaoProvider(cfg KakaoConfig, deps ProviderDeps) (*KakaoProvider, error) {
	if err := requireClientIDs("KAKAO_CLIENT_ID", cfg.ClientIDs); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	issuer := strings.TrimRight(cfg.Issuer, "/")
	if issuer == "" {
		issuer = DefaultKakaoIssuer
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = issuer + "/oauth/token"
	}

	return &KakaoProvider{
		clientID:     cfg.ClientIDs[0],
		clientSecret: cfg.ClientSecret,
		verifier: &idTokenVerifier{
			provider:     model.ProviderKakao,
			issuers:      []string{issuer},
			audiences:    cfg.ClientIDs,
			jwksURL:      jwksURL,
			keys:         deps.Keys,
			nonceMatches: exactNonce,
			now:          deps.Now,
		},
		endpoint: &tokenEndpoint{
			provider: model.ProviderKakao,
			url:      tokenURL,
			client:   deps.HTTPClient,
			timeout:  deps.Timeout,
			metrics:  deps.Metrics,
		},
	}, nil
}

// Provider はプロバイダ識別子を返す。
func (p *KakaoProvider) Provider() model.Provider {
	return model.ProviderKakao
}

// VerifyIDToken はKakaoのIDトークンを検証する。
func (p *KakaoProvider) VerifyIDToken(ctx context.Context, idToken string, expectedNonce *string) (*model.Identity, error) {
	return p.verifier.verify(ctx, idToken, expectedNonce)
}

// ExchangeCode は認可コードをIDトークンに交換する。
func (p *KakaoProvider) ExchangeCode(ctx context.Context, exchange CodeExchange) (string, error) {
	return p.endpoint.exchange(ctx, authorizationCodeForm(p.clientID, p.clientSecret, exchange))
}

// compile-time interface check
var _ IdentityProvider = (*KakaoProvider)(nil)
