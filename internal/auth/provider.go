package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/loopin/internal/model"
)

// DefaultProviderTimeout はトークンエンドポイント呼び出しのデフォルトタイムアウト。
const DefaultProviderTimeout = 10 * time.Second

// CodeExchange は Authorization Code + PKCE の交換パラメータ。
type CodeExchange struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// IdentityProvider は外部IdPのIDトークン検証と認可コード交換を行う。
type IdentityProvider interface {
	// Provider はプロバイダ識別子を返す。
	Provider() model.Provider

	// VerifyIDToken はIDトークンを検証し外部アイデンティティを返す。
	// 検証失敗は理由を区別せず model.ErrIdentityVerification を返す。
	// 公開鍵を取得できない場合は model.ErrKeyResolution を返す。
	VerifyIDToken(ctx context.Context, idToken string, expectedNonce *string) (*model.Identity, error)

	// ExchangeCode は認可コードをIDトークンに交換する。
	// 失敗は *model.TokenExchangeError を返す。
	ExchangeCode(ctx context.Context, exchange CodeExchange) (string, error)
}

// ProviderDeps は各プロバイダ実装が共有する依存。
type ProviderDeps struct {
	Keys       KeySource
	HTTPClient *http.Client
	Timeout    time.Duration
	Metrics    Metrics
	Now        func() time.Time
}

func (d ProviderDeps) withDefaults() ProviderDeps {
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultProviderTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Metrics = metricsOrNop(d.Metrics)
	return d
}

// ProviderRegistry はプロバイダ識別子から IdentityProvider を引く。
type ProviderRegistry struct {
	providers map[model.Provider]IdentityProvider
}

// NewProviderRegistry はProviderRegistryを生成する。
func NewProviderRegistry(providers ...IdentityProvider) *ProviderRegistry {
	m := make(map[model.Provider]IdentityProvider, len(providers))
	for _, p := range providers {
		m[p.Provider()] = p
	}
	return &ProviderRegistry{providers: m}
}

// Get は指定プロバイダの実装を返す。未登録の場合は model.ErrUnsupportedProvider を返す。
func (r *ProviderRegistry) Get(provider model.Provider) (IdentityProvider, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedProvider, provider)
	}
	return p, nil
}

// SplitClientIDs はカンマまたは空白区切りのクライアントID一覧を分割する。
func SplitClientIDs(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

func requireClientIDs(key string, ids []string) error {
	if len(ids) == 0 {
		return &model.ConfigurationError{Key: key, Reason: "at least one client id is required"}
	}
	return nil
}

// displayName はエラーメッセージ用のプロバイダ表示名。
func displayName(p model.Provider) string {
	switch p {
	case model.ProviderKakao:
		return "Kakao"
	case model.ProviderGoogle:
		return "Google"
	case model.ProviderApple:
		return "Apple"
	default:
		return string(p)
	}
}

// compile-time interface check
var _ ProviderLookup = (*ProviderRegistry)(nil)
