package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/loopin/internal/model"
)

// アクセストークンのデフォルト値
const (
	DefaultAccessTokenIssuer   = "loopin"
	DefaultAccessTokenAudience = "loopin-api"
	DefaultAccessTokenTTL      = time.Hour
)

// AccessTokenConfig はアクセストークンの署名設定。
type AccessTokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// AccessTokenClaims は検証済みアクセストークンの内容。
// UserID はオンボーディング未完了の場合 nil。
type AccessTokenClaims struct {
	UserID   *string
	Provider model.Provider
	Subject  string
}

// issuedClaims は発行時のクレーム。uid は未登録時に null として出力する。
type issuedClaims struct {
	UID      *string `json:"uid"`
	Provider string  `json:"provider"`
	jwt.RegisteredClaims
}

// AccessTokenCodec は HS256 のアクセストークンを発行・検証する。
type AccessTokenCodec struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewAccessTokenCodec はAccessTokenCodecを生成する。
// Issuer、Audience が空の場合はデフォルト値を使う。
func NewAccessTokenCodec(cfg AccessTokenConfig) (*AccessTokenCodec, error) {
	if cfg.Secret == "" {
		return nil, &model.ConfigurationError{Key: "APP_JWT_SECRET", Reason: "is required"}
	}
	if cfg.TTL <= 0 {
		return nil, &model.ConfigurationError{Key: "APP_JWT_ACCESS_TOKEN_TTL_SECONDS", Reason: "must be a positive number"}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultAccessTokenIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAccessTokenAudience
	}

	return &AccessTokenCodec{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

// Issue はアクセストークンを発行する。
// sub は "{provider}:{subject}" 形式。provider クレームは冗長だが互換のため併記する。
func (c *AccessTokenCodec) Issue(userID *string, provider model.Provider, subject string) (string, error) {
	now := c.now()
	claims := issuedClaims{
		UID:      userID,
		Provider: string(provider),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   string(provider) + ":" + subject,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify はアクセストークンを検証する。
// 署名・iss・aud・exp に加え、sub が "{provider}:{subject}" 形式であること、uid が null または文字列であることを確認する。
// provider クレームは存在する場合のみ sub のプロバイダと一致するか確認する。
// 失敗はすべて model.ErrInvalidToken を返す。
func (c *AccessTokenCodec) Verify(token string) (*AccessTokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: sub must be a string", model.ErrInvalidToken)
	}
	provider, subject, err := splitSubject(sub)
	if err != nil {
		return nil, err
	}

	if rawProvider, present := claims["provider"]; present {
		p, ok := rawProvider.(string)
		if !ok || p != string(provider) {
			return nil, fmt.Errorf("%w: provider claim does not match sub", model.ErrInvalidToken)
		}
	}

	rawUID, present := claims["uid"]
	if !present {
		return nil, fmt.Errorf("%w: uid claim is missing", model.ErrInvalidToken)
	}
	var userID *string
	switch uid := rawUID.(type) {
	case nil:
	case string:
		userID = &uid
	default:
		return nil, fmt.Errorf("%w: uid must be null or a string", model.ErrInvalidToken)
	}

	return &AccessTokenClaims{UserID: userID, Provider: provider, Subject: subject}, nil
}

// splitSubject は sub を最初の ":" で分割する。subject 側に ":" を含んでもよい。
func splitSubject(sub string) (model.Provider, string, error) {
	prefix, subject, ok := strings.Cut(sub, ":")
	if !ok || subject == "" {
		return "", "", fmt.Errorf("%w: sub must be {provider}:{subject}", model.ErrInvalidToken)
	}
	provider, err := model.ParseProvider(prefix)
	if err != nil {
		return "", "", fmt.Errorf("%w: unknown provider %q in sub", model.ErrInvalidToken, prefix)
	}
	return provider, subject, nil
}

// compile-time interface check
var (
	_ AccessTokenIssuer   = (*AccessTokenCodec)(nil)
	_ AccessTokenVerifier = (*AccessTokenCodec)(nil)
)
