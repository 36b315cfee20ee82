// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/loopin/internal/auth"
	"github.com/hitoshi/loopin/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// コンテキストキー
var (
	callerContextKey       = contextKey("caller")
	callerHolderContextKey = contextKey("caller_holder")
)

// callerHolder は外側のミドルウェア（アクセスログ）に呼び出し元を書き戻すための入れ物。
type callerHolder struct {
	caller *auth.Caller
}

// Authorizer は Authorization ヘッダから呼び出し元を認可する。
// auth.Guard の部分集合として定義する。
type Authorizer interface {
	Authorize(ctx context.Context, authorization string, policy auth.GuardPolicy) (*auth.Caller, error)
}

// NewAuthMiddleware は Bearer アクセストークンを検証し、呼び出し元をコンテキストに注入するミドルウェアを返す。
// 認証情報の欠落・不正は401、policy が RequireOnboarding で未登録の場合は403を返す。
func NewAuthMiddleware(authorizer Authorizer, policy auth.GuardPolicy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authorizer.Authorize(r.Context(), r.Header.Get("Authorization"), policy)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			recordCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrMissingCredential):
		w.Header().Set("WWW-Authenticate", `Bearer realm="loopin"`)
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("認証情報がありません。"))
	case errors.Is(err, model.ErrInvalidCredential):
		w.Header().Set("WWW-Authenticate", `Bearer realm="loopin", error="invalid_token"`)
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("認証情報が無効です。"))
	case errors.Is(err, model.ErrOnboardingRequired):
		WriteErrorResponse(w, http.StatusForbidden, model.NewOnboardingRequiredError())
	default:
		slog.Error("failed to authorize request", slog.String("error", err.Error()))
		WriteInternalServerError(w)
	}
}

// CallerFromContext はリクエストコンテキストから認可済みの呼び出し元を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func CallerFromContext(ctx context.Context) (*auth.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(*auth.Caller)
	return caller, ok && caller != nil
}

// ContextWithCaller はコンテキストに呼び出し元を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCaller(ctx context.Context, caller *auth.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

func contextWithCallerHolder(ctx context.Context, holder *callerHolder) context.Context {
	return context.WithValue(ctx, callerHolderContextKey, holder)
}

func recordCaller(ctx context.Context, caller *auth.Caller) {
	if holder, ok := ctx.Value(callerHolderContextKey).(*callerHolder); ok {
		holder.caller = caller
	}
}
