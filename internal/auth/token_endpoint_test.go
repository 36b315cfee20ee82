package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/loopin/internal/model"
)

// tokenServer はリクエストフォームを記録して固定応答を返すテスト用トークンエンドポイント。
func tokenServer(t *testing.T, status int, body any, captured *url.Values) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		if captured != nil {
			*captured = r.PostForm
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		switch b := body.(type) {
		case string:
			w.Write([]byte(b))
		default:
			json.NewEncoder(w).Encode(b)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

var testExchange = CodeExchange{
	Code:         "auth-code",
	RedirectURI:  "loopin://callback",
	CodeVerifier: "verifier-xyz",
}

func TestKakaoProvider_ExchangeCode_Success(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, map[string]any{"id_token": "kakao-id-token", "access_token": "at"}, &form)

	provider, err := NewKakaoProvider(KakaoConfig{
		ClientIDs:    []string{"kakao-app", "kakao-ios"},
		ClientSecret: "kakao-secret",
		TokenURL:     server.URL,
	}, ProviderDeps{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewKakaoProvider returned error: %v", err)
	}

	idToken, err := provider.ExchangeCode(context.Background(), testExchange)
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if idToken != "kakao-id-token" {
		t.Errorf("idToken = %q, want kakao-id-token", idToken)
	}

	want := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "kakao-app",
		"client_secret": "kakao-secret",
		"code":          "auth-code",
		"redirect_uri":  "loopin://callback",
		"code_verifier": "verifier-xyz",
	}
	for key, value := range want {
		if got := form.Get(key); got != value {
			t.Errorf("form[%s] = %q, want %q", key, got, value)
		}
	}
}

func TestGoogleProvider_ExchangeCode_OmitsEmptySecret(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, map[string]any{"id_token": "google-id-token"}, &form)

	provider, err := NewGoogleProvider(GoogleConfig{ClientIDs: []string{"google-app"}, TokenURL: server.URL}, ProviderDeps{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewGoogleProvider returned error: %v", err)
	}

	if _, err := provider.ExchangeCode(context.Background(), testExchange); err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if form.Has("client_secret") {
		t.Errorf("client_secret should be omitted, got %q", form.Get("client_secret"))
	}
}

func TestExchangeCode_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        any
		wantMessage string
		wantStatus  int
	}{
		{"error_descriptionを優先", http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "authorization code not found"}, "authorization code not found", 400},
		{"errorのみ", http.StatusBadRequest, map[string]any{"error": "invalid_client"}, "invalid_client", 400},
		{"JSONでないエラー応答", http.StatusInternalServerError, "<html>oops</html>", "Token exchange failed (500)", 500},
		{"id_tokenなし", http.StatusOK, map[string]any{"access_token": "at"}, "Kakao did not return id_token", 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := tokenServer(t, tt.status, tt.body, nil)
			provider, err := NewKakaoProvider(KakaoConfig{ClientIDs: []string{"kakao-app"}, TokenURL: server.URL}, ProviderDeps{HTTPClient: server.Client()})
			if err != nil {
				t.Fatalf("NewKakaoProvider returned error: %v", err)
			}

			_, err = provider.ExchangeCode(context.Background(), testExchange)
			var exErr *model.TokenExchangeError
			if !errors.As(err, &exErr) {
				t.Fatalf("error = %v, want *TokenExchangeError", err)
			}
			if exErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", exErr.Message, tt.wantMessage)
			}
			if exErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", exErr.StatusCode, tt.wantStatus)
			}
			if exErr.Provider != model.ProviderKakao {
				t.Errorf("Provider = %q, want kakao", exErr.Provider)
			}
		})
	}
}

// TestExchangeCode_Timeout はタイムアウトが TokenExchangeError として返ることを検証する。
func TestExchangeCode_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	provider, err := NewGoogleProvider(GoogleConfig{ClientIDs: []string{"google-app"}, TokenURL: server.URL}, ProviderDeps{
		HTTPClient: server.Client(),
		Timeout:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewGoogleProvider returned error: %v", err)
	}

	_, err = provider.ExchangeCode(context.Background(), testExchange)
	var exErr *model.TokenExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("error = %v, want *TokenExchangeError", err)
	}
	if exErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", exErr.StatusCode)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should wrap context.DeadlineExceeded, got %v", err)
	}
}

// TestAppleProvider_ExchangeCode_ClientSecret は交換ごとに生成される ES256 クライアントシークレットを検証する。
func TestAppleProvider_ExchangeCode_ClientSecret(t *testing.T) {
	var form url.Values
	server := tokenServer(t, http.StatusOK, map[string]any{"id_token": "apple-id-token"}, &form)
	jwks := newJWKSServer(t)
	provider, key := newTestApple(t, jwks, server.URL)
	provider.endpoint.client = server.Client()

	now := time.Now()
	provider.now = func() time.Time { return now }

	idToken, err := provider.ExchangeCode(context.Background(), testExchange)
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if idToken != "apple-id-token" {
		t.Errorf("idToken = %q, want apple-id-token", idToken)
	}
	if got := form.Get("client_id"); got != "com.loopin.app" {
		t.Errorf("client_id = %q, want com.loopin.app", got)
	}

	secret := form.Get("client_secret")
	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(jwt.WithValidMethods([]string{"ES256"})).ParseWithClaims(secret, claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	if err != nil {
		t.Fatalf("client_secret verification failed: %v", err)
	}

	if kid := token.Header["kid"]; kid != "KEY456" {
		t.Errorf("kid = %v, want KEY456", kid)
	}
	if iss, _ := claims.GetIssuer(); iss != "TEAM123" {
		t.Errorf("iss = %q, want TEAM123", iss)
	}
	if sub, _ := claims.GetSubject(); sub != "com.loopin.app" {
		t.Errorf("sub = %q, want com.loopin.app", sub)
	}
	if aud, _ := claims.GetAudience(); len(aud) != 1 || aud[0] != AppleIssuer {
		t.Errorf("aud = %v, want [%s]", aud, AppleIssuer)
	}
	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()
	if exp == nil || iat == nil {
		t.Fatal("exp and iat must be present")
	}
	if ttl := exp.Sub(iat.Time); ttl <= 0 || ttl > 5*time.Minute {
		t.Errorf("client secret lifetime = %v, want (0, 5m]", ttl)
	}
}
