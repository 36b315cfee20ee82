package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/loopin/internal/auth"
	"github.com/hitoshi/loopin/internal/middleware"
	"github.com/hitoshi/loopin/internal/model"
	"github.com/hitoshi/loopin/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Register は未登録の呼び出し元に対してユーザーを作成し外部アカウントに紐付ける。
	Register(ctx context.Context, caller *auth.Caller, input user.RegisterInput) (*model.User, error)

	// CheckNickname はニックネームが利用可能かどうかを返す。
	CheckNickname(ctx context.Context, nickname string) (bool, error)

	// GetMe は呼び出し元のユーザーを返す。
	GetMe(ctx context.Context, userID string) (*model.User, error)

	// Withdraw はユーザーの退会処理を実行する。
	// auth_accounts、refresh_tokens は CASCADE で削除される。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type registerRequest struct {
	Nickname        string  `json:"nickname"`
	ProfileImageURL *string `json:"profileImageUrl"`
}

type userResponse struct {
	ID              string  `json:"id"`
	Nickname        string  `json:"nickname"`
	ProfileImageURL *string `json:"profileImageUrl"`
}

type nicknameAvailabilityResponse struct {
	Available bool `json:"available"`
}

// Register はオンボーディングとしてユーザーを作成する。
// POST /users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Register(r.Context(), caller, user.RegisterInput{
		Nickname:        req.Nickname,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(created))
}

// CheckNickname はニックネームの利用可否を返す。
// GET /users/check-nickname?nickname=xxx
func (h *UserHandler) CheckNickname(w http.ResponseWriter, r *http.Request) {
	available, err := h.service.CheckNickname(r.Context(), r.URL.Query().Get("nickname"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, nicknameAvailabilityResponse{Available: available})
}

// GetMe は呼び出し元のユーザー情報を返す。
// GET /users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := onboardedUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	me, err := h.service.GetMe(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(me))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := onboardedUserID(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func onboardedUserID(r *http.Request) (string, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok || !caller.Onboarded() {
		return "", false
	}
	return *caller.UserID, true
}

func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("認証が必要です。"))
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Nickname:        u.Nickname,
		ProfileImageURL: u.ProfileImageURL,
	}
}
