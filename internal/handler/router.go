package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/loopin/internal/auth"
	"github.com/hitoshi/loopin/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	Authorizer         middleware.Authorizer
	RateLimiter        *middleware.RateLimiter
	CORSAllowedOrigins []string
	MaxBodyBytes       int64

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	StatusRecorder middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS → BodyLimit
//
// /auth/* はIP単位のレート制限、/users/* は認証ミドルウェアの後に呼び出し元単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.DefaultMaxBodyBytes
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewBodyLimitMiddleware(maxBody))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// サインイン・トークン更新
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/refresh", authHandler.Refresh)
		r.Post("/{provider}/id-token", authHandler.SignInWithIDToken)
		r.Post("/{provider}/exchange", authHandler.ExchangeCode)
	})

	// --- 認証が必要なルート ---
	r.Route("/users", func(r chi.Router) {
		// オンボーディング用（uid=null の呼び出し元も許可）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authorizer, auth.AllowOnboarding))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/", userHandler.Register)
			r.Get("/check-nickname", userHandler.CheckNickname)
		})

		// 登録済みユーザーのみ
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.Authorizer, auth.RequireOnboarding))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/me", userHandler.GetMe)
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}

// SetupUserRoutes はユーザー管理関連のルーティングを設定したchi.Routerを返す。
// 呼び出し元は事前にコンテキストへ注入されている前提で、認証ミドルウェアは含まない。
func SetupUserRoutes(service UserServiceInterface) http.Handler {
	r := chi.NewRouter()
	h := NewUserHandler(service)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Get("/check-nickname", h.CheckNickname)
		r.Get("/me", h.GetMe)
		r.Delete("/me", h.Withdraw)
	})

	return r
}
