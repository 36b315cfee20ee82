package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/loopin/internal/model"
)

const maxTokenResponseBytes = 1 << 20

// tokenResponse はトークンエンドポイントの応答のうち利用するフィールド。
type tokenResponse struct {
	IDToken          string `json:"id_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// tokenEndpoint はプロバイダのトークンエンドポイントへのフォームPOSTを行う。
type tokenEndpoint struct {
	provider model.Provider
	url      string
	client   *http.Client
	timeout  time.Duration
	metrics  Metrics
}

// exchange はフォームを送信しIDトークンを返す。
func (e *tokenEndpoint) exchange(ctx context.Context, form url.Values) (string, error) {
	start := time.Now()
	idToken, err := e.post(ctx, form)

	result := resultSuccess
	if err != nil {
		result = resultError
		slog.Warn("token exchange failed",
			slog.String("provider", e.provider.String()),
			slog.String("error", err.Error()),
		)
	}
	e.metrics.ObserveTokenExchange(e.provider.String(), time.Since(start), result)

	return idToken, err
}

func (e *tokenEndpoint) post(ctx context.Context, form url.Values) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &model.TokenExchangeError{Provider: e.provider, Message: "failed to create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", &model.TokenExchangeError{Provider: e.provider, Message: "token endpoint unreachable", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return "", &model.TokenExchangeError{Provider: e.provider, Message: "failed to read token response", Err: err}
	}

	var payload tokenResponse
	// エラー応答がJSONでない場合もあるため、デコード失敗は空の応答として扱う
	_ = json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &model.TokenExchangeError{
			Provider:   e.provider,
			StatusCode: resp.StatusCode,
			Message:    exchangeErrorMessage(payload, resp.StatusCode),
		}
	}

	if payload.IDToken == "" {
		return "", &model.TokenExchangeError{
			Provider:   e.provider,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s did not return id_token", displayName(e.provider)),
		}
	}

	return payload.IDToken, nil
}

// exchangeErrorMessage は error_description、error、ステータスの順でメッセージを選ぶ。
func exchangeErrorMessage(payload tokenResponse, status int) string {
	switch {
	case payload.ErrorDescription != "":
		return payload.ErrorDescription
	case payload.Error != "":
		return payload.Error
	default:
		return fmt.Sprintf("Token exchange failed (%d)", status)
	}
}

// authorizationCodeForm は PKCE 付き authorization_code グラントのフォームを組み立てる。
func authorizationCodeForm(clientID, clientSecret string, exchange CodeExchange) url.Values {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", clientID)
	form.Set("redirect_uri", exchange.RedirectURI)
	form.Set("code", exchange.Code)
	form.Set("code_verifier", exchange.CodeVerifier)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	return form
}
