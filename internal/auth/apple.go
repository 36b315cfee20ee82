package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/loopin/internal/model"
)

// Apple のエンドポイントとクライアントシークレットの定数
const (
	AppleIssuer          = "https://appleid.apple.com"
	DefaultAppleJWKSURL  = "https://appleid.apple.com/auth/keys"
	DefaultAppleTokenURL = "https://appleid.apple.com/auth/token"

	appleClientSecretTTL = 5 * time.Minute
)

// AppleConfig はSign in with Appleの設定。
// PrivateKey は ES256 (P-256) の PEM。リテラルの `\n` を改行として扱う。
type AppleConfig struct {
	ClientIDs  []string
	TeamID     string
	KeyID      string
	PrivateKey string
	JWKSURL    string
	TokenURL   string
}

// AppleProvider はAppleのIDトークン検証と認可コード交換を行う。
// クライアントシークレットは交換のたびに ES256 で署名した短命JWTを生成する。
type AppleProvider struct {
	clientID   string
	teamID     string
	keyID      string
	privateKey *ecdsa.PrivateKey
	now        func() time.Time
	verifier   *idTokenVerifier
	endpoint   *tokenEndpoint
}

// NewAppleProvider はAppleProviderを生成する。
func NewAppleProvider(cfg AppleConfig, deps ProviderDeps) (*AppleProvider, error) {
	if err := requireClientIDs("APPLE_CLIENT_ID", cfg.ClientIDs); err != nil {
		return nil, err
	}
	if cfg.TeamID == "" {
		return nil, &model.ConfigurationError{Key: "APPLE_TEAM_ID", Reason: "is required"}
	}
	if cfg.KeyID == "" {
		return nil, &model.ConfigurationError{Key: "APPLE_KEY_ID", Reason: "is required"}
	}
	privateKey, err := parseApplePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = DefaultAppleJWKSURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultAppleTokenURL
	}

	return &AppleProvider{
		clientID:   cfg.ClientIDs[0],
		teamID:     cfg.TeamID,
		keyID:      cfg.KeyID,
		privateKey: privateKey,
		now:        deps.Now,
		verifier: &idTokenVerifier{
			provider:     model.ProviderApple,
			issuers:      []string{AppleIssuer},
			audiences:    cfg.ClientIDs,
			jwksURL:      jwksURL,
			keys:         deps.Keys,
			nonceMatches: appleNonceMatches,
			now:          deps.Now,
		},
		endpoint: &tokenEndpoint{
			provider: model.ProviderApple,
			url:      tokenURL,
			client:   deps.HTTPClient,
			timeout:  deps.Timeout,
			metrics:  deps.Metrics,
		},
	}, nil
}

func parseApplePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &model.ConfigurationError{Key: "APPLE_PRIVATE_KEY", Reason: "is required"}
	}
	pemText := strings.ReplaceAll(raw, `\n`, "\n")

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, &model.ConfigurationError{Key: "APPLE_PRIVATE_KEY", Reason: "must be a PEM encoded EC private key: " + err.Error()}
	}
	if key.Curve != elliptic.P256() {
		return nil, &model.ConfigurationError{Key: "APPLE_PRIVATE_KEY", Reason: "must be a P-256 key for ES256"}
	}
	return key, nil
}

// Provider はプロバイダ識別子を返す。
func (p *AppleProvider) Provider() model.Provider {
	return model.ProviderApple
}

// VerifyIDToken はAppleのIDトークンを検証する。
// nonce は平文と base64url(sha256(nonce)) のどちらの形式でも受け付ける。
func (p *AppleProvider) VerifyIDToken(ctx context.Context, idToken string, expectedNonce *string) (*model.Identity, error) {
	return p.verifier.verify(ctx, idToken, expectedNonce)
}

// ExchangeCode は認可コードをIDトークンに交換する。
func (p *AppleProvider) ExchangeCode(ctx context.Context, exchange CodeExchange) (string, error) {
	secret, err := p.clientSecret()
	if err != nil {
		return "", &model.TokenExchangeError{Provider: model.ProviderApple, Message: "failed to sign client secret", Err: err}
	}
	return p.endpoint.exchange(ctx, authorizationCodeForm(p.clientID, secret, exchange))
}

// clientSecret はAppleトークンエンドポイント用のクライアントアサーションを生成する。
func (p *AppleProvider) clientSecret() (string, error) {
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": p.teamID,
		"sub": p.clientID,
		"aud": AppleIssuer,
		"iat": now.Unix(),
		"exp": now.Add(appleClientSecretTTL).Unix(),
	})
	token.Header["kid"] = p.keyID

	return token.SignedString(p.privateKey)
}

func appleNonceMatches(claim, expected string) bool {
	if claim == expected {
		return true
	}
	sum := sha256.Sum256([]byte(expected))
	return claim == base64.RawURLEncoding.EncodeToString(sum[:])
}

// compile-time interface check
var _ IdentityProvider = (*AppleProvider)(nil)
