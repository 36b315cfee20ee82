package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hitoshi/loopin/internal/model"
)

const (
	// DefaultJWKSTTL は鍵セットを再取得するまでの期間。
	DefaultJWKSTTL = 24 * time.Hour
	// DefaultJWKSMinRefreshInterval は未知の kid による再取得の最小間隔。
	DefaultJWKSMinRefreshInterval = 5 * time.Minute

	maxJWKSBytes = 1 << 20
)

var (
	errMissingKeyID = errors.New("token header has no kid")
	errUnknownKeyID = errors.New("no signing key for kid")
)

// KeySource はIDトークン検証用の jwt.Keyfunc を提供する。
type KeySource interface {
	Keyfunc(ctx context.Context, jwksURL string) jwt.Keyfunc
}

// JWKSConfig はJWKSCacheの設定。
type JWKSConfig struct {
	HTTPClient         *http.Client
	TTL                time.Duration
	MinRefreshInterval time.Duration
	Metrics            Metrics
}

// JWKSCache は JWKS URL ごとに公開鍵をメモ化する。
// 同一URLへの同時取得は singleflight で1回にまとめる。
type JWKSCache struct {
	client             *http.Client
	ttl                time.Duration
	minRefreshInterval time.Duration
	metrics            Metrics
	now                func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	sets  map[string]*keySet
}

// keySet は取得済みの鍵セット。取得後は不変。
type keySet struct {
	keys      map[string]any
	fetchedAt time.Time
	refetch   *rate.Limiter
}

// NewJWKSCache はJWKSCacheを生成する。
func NewJWKSCache(cfg JWKSConfig) *JWKSCache {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultJWKSTTL
	}
	interval := cfg.MinRefreshInterval
	if interval <= 0 {
		interval = DefaultJWKSMinRefreshInterval
	}

	return &JWKSCache{
		client:             client,
		ttl:                ttl,
		minRefreshInterval: interval,
		metrics:            metricsOrNop(cfg.Metrics),
		now:                time.Now,
		sets:               make(map[string]*keySet),
	}
}

// Keyfunc はトークンヘッダの kid に対応する公開鍵を返す jwt.Keyfunc を生成する。
func (c *JWKSCache) Keyfunc(ctx context.Context, jwksURL string) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKeyID
		}
		return c.Lookup(ctx, jwksURL, kid)
	}
}

// Lookup は jwksURL の鍵セットから kid の公開鍵を返す。
// 取得失敗は model.ErrKeyResolution をラップして返す。
// 未知の kid の場合は最小間隔を空けて1度だけ再取得する。
func (c *JWKSCache) Lookup(ctx context.Context, jwksURL, kid string) (any, error) {
	set, err := c.current(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	if key, ok := set.keys[kid]; ok {
		return key, nil
	}

	if !set.refetch.Allow() {
		return nil, errUnknownKeyID
	}

	slog.Info("refetching JWKS for unknown kid",
		slog.String("jwks_url", jwksURL),
		slog.String("kid", kid),
	)
	set, err = c.fetch(ctx, jwksURL)
	if err != nil {
		return nil, err
	}
	if key, ok := set.keys[kid]; ok {
		return key, nil
	}
	return nil, errUnknownKeyID
}

// current はキャッシュ済みの鍵セットを返す。未取得または期限切れの場合は取得する。
// 再取得に失敗した場合、古い鍵セットがあればそれを返す。
func (c *JWKSCache) current(ctx context.Context, jwksURL string) (*keySet, error) {
	c.mu.RLock()
	cached := c.sets[jwksURL]
	c.mu.RUnlock()

	if cached != nil && c.now().Sub(cached.fetchedAt) < c.ttl {
		return cached, nil
	}

	fresh, err := c.fetch(ctx, jwksURL)
	if err != nil {
		if cached != nil {
			slog.Warn("JWKS refresh failed, serving stale keys",
				slog.String("jwks_url", jwksURL),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
		return nil, err
	}
	return fresh, nil
}

// fetch は鍵セットを取得してキャッシュを差し替える。
// 同一URLの同時呼び出しは1回の取得を共有する。
func (c *JWKSCache) fetch(ctx context.Context, jwksURL string) (*keySet, error) {
	v, err, _ := c.group.Do(jwksURL, func() (any, error) {
		// 先頭の呼び出し元のキャンセルを他の待機者に波及させない
		keys, err := c.download(context.WithoutCancel(ctx), jwksURL)
		if err != nil {
			c.metrics.RecordJWKSFetch(resultError)
			return nil, err
		}
		c.metrics.RecordJWKSFetch(resultSuccess)

		c.mu.Lock()
		defer c.mu.Unlock()

		limiter := rate.NewLimiter(rate.Every(c.minRefreshInterval), 1)
		if prev := c.sets[jwksURL]; prev != nil {
			limiter = prev.refetch
		}
		set := &keySet{keys: keys, fetchedAt: c.now(), refetch: limiter}
		c.sets[jwksURL] = set
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySet), nil
}

// download は JWKS を取得し kid ごとの公開鍵に変換する。
func (c *JWKSCache) download(ctx context.Context, jwksURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", model.ErrKeyResolution, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch JWKS: %w", model.ErrKeyResolution, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: JWKS endpoint returned status %d", model.ErrKeyResolution, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read JWKS: %w", model.ErrKeyResolution, err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse JWKS: %w", model.ErrKeyResolution, err)
	}

	keys := make(map[string]any, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || key.KeyID() == "" {
			continue
		}
		if use := key.KeyUsage(); use != "" && use != "sig" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			slog.Warn("skipping unusable JWK",
				slog.String("jwks_url", jwksURL),
				slog.String("kid", key.KeyID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		keys[key.KeyID()] = raw
	}

	return keys, nil
}

// compile-time interface check
var _ KeySource = (*JWKSCache)(nil)
