// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/loopin/internal/auth"
	"github.com/hitoshi/loopin/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignInWithIDToken(ctx context.Context, provider model.Provider, idToken string, nonce *string) (*auth.SignInResult, error)
	SignInWithCode(ctx context.Context, provider model.Provider, exchange auth.CodeExchange, nonce *string) (*auth.SignInResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.SignInResult, error)
}

// AuthHandler はサインインとトークン更新のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

type idTokenRequest struct {
	IDToken string  `json:"idToken"`
	Nonce   *string `json:"nonce"`
}

type exchangeRequest struct {
	Code         string  `json:"code"`
	RedirectURI  string  `json:"redirectUri"`
	CodeVerifier string  `json:"codeVerifier"`
	Nonce        *string `json:"nonce"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// signInResponse はサインイン・トークン更新の共通レスポンス。
// user は未登録の場合 null になる。
type signInResponse struct {
	AccessToken        string        `json:"accessToken"`
	RefreshToken       string        `json:"refreshToken"`
	OnboardingRequired bool          `json:"onboardingRequired"`
	User               *userResponse `json:"user"`
}

// SignInWithIDToken はIDトークンでサインインする。
// POST /auth/{provider}/id-token
func (h *AuthHandler) SignInWithIDToken(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerFromPath(w, r)
	if !ok {
		return
	}

	var req idTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("idToken は必須です"))
		return
	}

	result, err := h.service.SignInWithIDToken(r.Context(), provider, req.IDToken, emptyToNil(req.Nonce))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSignInResponse(result))
}

// ExchangeCode は認可コード（PKCE）を交換してサインインする。
// POST /auth/{provider}/exchange
func (h *AuthHandler) ExchangeCode(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerFromPath(w, r)
	if !ok {
		return
	}

	var req exchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var missing []string
	if req.Code == "" {
		missing = append(missing, "code")
	}
	if req.RedirectURI == "" {
		missing = append(missing, "redirectUri")
	}
	if req.CodeVerifier == "" {
		missing = append(missing, "codeVerifier")
	}
	if len(missing) > 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError(strings.Join(missing, ", ")+" は必須です"))
		return
	}

	result, err := h.service.SignInWithCode(r.Context(), provider, auth.CodeExchange{
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
		CodeVerifier: req.CodeVerifier,
	}, emptyToNil(req.Nonce))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSignInResponse(result))
}

// Refresh はリフレッシュトークンをローテーションしてトークンを再発行する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("refreshToken は必須です"))
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSignInResponse(result))
}

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface) http.Handler {
	r := chi.NewRouter()
	h := NewAuthHandler(service)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/refresh", h.Refresh)
		r.Post("/{provider}/id-token", h.SignInWithIDToken)
		r.Post("/{provider}/exchange", h.ExchangeCode)
	})

	return r
}

// providerFromPath はパスの {provider} を検証する。未対応の値は400を書き込む。
func providerFromPath(w http.ResponseWriter, r *http.Request) (model.Provider, bool) {
	raw := chi.URLParam(r, "provider")
	provider, err := model.ParseProvider(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError(raw))
		return "", false
	}
	return provider, true
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func toSignInResponse(result *auth.SignInResult) signInResponse {
	resp := signInResponse{
		AccessToken:        result.AccessToken,
		RefreshToken:       result.RefreshToken,
		OnboardingRequired: result.OnboardingRequired,
	}
	if result.User != nil {
		u := toUserResponse(result.User)
		resp.User = &u
	}
	return resp
}
