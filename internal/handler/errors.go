package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/loopin/internal/middleware"
	"github.com/hitoshi/loopin/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込み false を返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge,
				model.NewInvalidRequestError("リクエストボディが大きすぎます"))
			return false
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 内部エラーの詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, err error) {
	var exchangeErr *model.TokenExchangeError
	var apiErr *model.APIError

	switch {
	case errors.Is(err, model.ErrUnsupportedProvider):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError(""))
	case errors.Is(err, model.ErrIdentityVerification):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidIDTokenError())
	case errors.Is(err, model.ErrKeyResolution):
		slog.Warn("signing key resolution failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewUpstreamUnavailableError())
	case errors.As(err, &exchangeErr):
		status := http.StatusBadGateway
		if exchangeErr.UpstreamRejected() {
			status = http.StatusBadRequest
		}
		slog.Warn("token exchange failed",
			slog.String("provider", exchangeErr.Provider.String()),
			slog.Int("upstream_status", exchangeErr.StatusCode),
		)
		writeAPIErrorResponse(w, status, model.NewTokenExchangeFailedError(exchangeErr.Message))
	case errors.Is(err, model.ErrInvalidRefreshToken):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidRefreshTokenError())
	case errors.Is(err, model.ErrMissingCredential), errors.Is(err, model.ErrInvalidCredential):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("認証情報が無効です。"))
	case errors.Is(err, model.ErrOnboardingRequired):
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewOnboardingRequiredError())
	case errors.Is(err, model.ErrAuthAccountAlreadyLinked):
		writeAPIErrorResponse(w, http.StatusConflict, model.NewUserAlreadyExistsError())
	case errors.Is(err, model.ErrNicknameTaken):
		writeAPIErrorResponse(w, http.StatusConflict, model.NewNicknameTakenError())
	case errors.Is(err, model.ErrUserNotFound):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
	case errors.As(err, &apiErr):
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeUnsupportedProvider, model.ErrCodeUserAlreadyExists:
		return http.StatusBadRequest
	case model.ErrCodeInvalidIDToken, model.ErrCodeInvalidRefreshToken, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeOnboardingRequired:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeNicknameTaken:
		return http.StatusConflict
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeTokenExchangeFailed:
		return http.StatusBadGateway
	case model.ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
