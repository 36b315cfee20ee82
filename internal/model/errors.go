// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ドメインエラー。呼び出し側は errors.Is で判定する。
var (
	ErrUnsupportedProvider      = errors.New("unsupported auth provider")
	ErrIdentityVerification     = errors.New("identity token verification failed")
	ErrKeyResolution            = errors.New("signing key resolution failed")
	ErrInvalidToken             = errors.New("invalid access token")
	ErrInvalidRefreshToken      = errors.New("invalid refresh token")
	ErrMissingCredential        = errors.New("missing bearer credential")
	ErrInvalidCredential        = errors.New("invalid bearer credential")
	ErrOnboardingRequired       = errors.New("onboarding required")
	ErrAuthAccountAlreadyLinked = errors.New("auth account already linked")
	ErrNicknameTaken            = errors.New("nickname already taken")
	ErrUserNotFound             = errors.New("user not found")
)

// ConfigurationError は起動時の設定不備を表す。起動は中断される。
type ConfigurationError struct {
	Key    string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// TokenExchangeError はプロバイダのトークンエンドポイントでの交換失敗を表す。
// StatusCode は上流の HTTP ステータス（到達不能・タイムアウト時は 0）。
type TokenExchangeError struct {
	Provider   Provider
	StatusCode int
	Message    string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s token exchange failed: %s", e.Provider, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// UpstreamRejected は上流が 4xx で拒否したかどうかを返す。
func (e *TokenExchangeError) UpstreamRejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrCodeInvalidIDToken      = "INVALID_ID_TOKEN"
	ErrCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeOnboardingRequired  = "ONBOARDING_REQUIRED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUserAlreadyExists   = "USER_ALREADY_EXISTS"
	ErrCodeNicknameTaken       = "NICKNAME_TAKEN"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnsupportedProviderError は未対応プロバイダエラーを生成する。
// provider が空の場合はメッセージに含めない。
func NewUnsupportedProviderError(provider string) *APIError {
	message := "未対応のプロバイダです。"
	if provider != "" {
		message = fmt.Sprintf("未対応のプロバイダです: %s", provider)
	}
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  message,
		Category: "validation",
		Action:   "kakao、google、apple のいずれかを指定してください。",
	}
}

// NewInvalidIDTokenError はIDトークン検証失敗エラーを生成する。
// 失敗理由は含めない。
func NewInvalidIDTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIDToken,
		Message:  "IDトークンを検証できませんでした。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewTokenExchangeFailedError は認可コード交換失敗エラーを生成する。
func NewTokenExchangeFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeTokenExchangeFailed,
		Message:  message,
		Category: "upstream",
		Action:   "もう一度ログインしてください。",
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークン不正エラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "リフレッシュトークンが無効です。",
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewUnauthorizedError は認証情報の欠落・不正エラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewOnboardingRequiredError はオンボーディング未完了エラーを生成する。
func NewOnboardingRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOnboardingRequired,
		Message:  "ユーザー登録が完了していません。",
		Category: "auth",
		Action:   "ユーザー登録を完了してください。",
	}
}

// NewUpstreamUnavailableError は外部プロバイダ到達不能エラーを生成する。
func NewUpstreamUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  "認証プロバイダに接続できません。",
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserAlreadyExistsError は登録済みアカウントでの再登録エラーを生成する。
func NewUserAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  "ユーザーは既に登録されています。",
		Category: "auth",
		Action:   "トークンを更新してください。",
	}
}

// NewNicknameTakenError はニックネーム重複エラーを生成する。
func NewNicknameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeNicknameTaken,
		Message:  "このニックネームは既に使われています。",
		Category: "validation",
		Action:   "別のニックネームを指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
