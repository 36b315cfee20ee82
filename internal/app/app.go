package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/loopin/internal/auth"
	"github.com/hitoshi/loopin/internal/config"
	"github.com/hitoshi/loopin/internal/database"
	"github.com/hitoshi/loopin/internal/handler"
	"github.com/hitoshi/loopin/internal/logger"
	"github.com/hitoshi/loopin/internal/metrics"
	"github.com/hitoshi/loopin/internal/middleware"
	"github.com/hitoshi/loopin/internal/repository"
	"github.com/hitoshi/loopin/internal/security"
	"github.com/hitoshi/loopin/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	switch cmd {
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandMigrate:
		// マイグレーションにプロバイダ設定は不要
		logger.SetupDefault(w, slog.LevelInfo)
		databaseURL, err := config.LoadDatabaseURL()
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runMigrate(databaseURL)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. マイグレーション（AUTO_MIGRATE=true の場合のみ）
	if cfg.AutoMigrate {
		if err := runMigrate(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	// 2. DB接続
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 3. 依存関係のワイヤリング
	router, cleanup, err := buildHandler(cfg, db, dialect, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer cleanup()

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildHandler はリポジトリ、プロバイダ、トークン、サービスを組み立ててルーターを返す。
// 返却するcleanupはバックグラウンド処理を停止する。
func buildHandler(cfg *config.Config, db *sql.DB, dialect database.Dialect, reg *prometheus.Registry) (http.Handler, func(), error) {
	// 1. メトリクス
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. リポジトリの初期化
	accountRepo := repository.NewSQLAuthAccountRepo(db, dialect)
	refreshRepo := repository.NewSQLRefreshTokenRepo(db, dialect)
	userRepo := repository.NewSQLUserRepo(db, dialect)

	// 3. 外部プロバイダ通信（SSRF対策済みクライアント）
	providerClient := security.NewProviderClient(cfg.ProviderHTTPTimeout)
	jwks := auth.NewJWKSCache(auth.JWKSConfig{
		HTTPClient:         providerClient,
		TTL:                cfg.JWKSCacheTTL,
		MinRefreshInterval: cfg.JWKSMinRefreshInterval,
		Metrics:            collector,
	})
	deps := auth.ProviderDeps{
		Keys:       jwks,
		HTTPClient: providerClient,
		Timeout:    cfg.ProviderHTTPTimeout,
		Metrics:    collector,
	}

	kakao, err := auth.NewKakaoProvider(auth.KakaoConfig{
		ClientIDs:    auth.SplitClientIDs(cfg.KakaoClientID),
		ClientSecret: cfg.KakaoClientSecret,
		Issuer:       cfg.KakaoIssuer,
	}, deps)
	if err != nil {
		return nil, nil, err
	}
	google, err := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientIDs:    auth.SplitClientIDs(cfg.GoogleClientID),
		ClientSecret: cfg.GoogleClientSecret,
	}, deps)
	if err != nil {
		return nil, nil, err
	}
	apple, err := auth.NewAppleProvider(auth.AppleConfig{
		ClientIDs:  auth.SplitClientIDs(cfg.AppleClientID),
		TeamID:     cfg.AppleTeamID,
		KeyID:      cfg.AppleKeyID,
		PrivateKey: cfg.ApplePrivateKey,
	}, deps)
	if err != nil {
		return nil, nil, err
	}
	registry := auth.NewProviderRegistry(kakao, google, apple)

	// 4. トークン
	codec, err := auth.NewAccessTokenCodec(auth.AccessTokenConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.AccessTokenTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	refreshStore, err := auth.NewRefreshTokenStore(refreshRepo, auth.RefreshTokenConfig{
		TTL:                cfg.RefreshTokenTTL,
		RevokeChainOnReuse: cfg.RefreshReuseRevokesChain,
		Metrics:            collector,
	})
	if err != nil {
		return nil, nil, err
	}

	// 5. ドメインサービスの初期化
	authService := auth.NewService(registry, codec, refreshStore, accountRepo, userRepo, collector)
	guard := auth.NewGuard(codec, accountRepo, userRepo)
	userService := user.NewService(userRepo)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitAuth, cfg.RateLimitGeneral),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		Authorizer:         guard,
		RateLimiter:        rateLimiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HealthChecker:      db,
		MetricsHandler:     metrics.Handler(reg),
		StatusRecorder:     collector,
		AuthService:        authService,
		UserService:        userService,
	})

	return router, rateLimiter.Stop, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(databaseURL string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(databaseURL)),
	)

	if err := database.RunMigrations(databaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}
