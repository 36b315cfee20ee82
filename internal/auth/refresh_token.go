package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/loopin/internal/model"
	"github.com/hitoshi/loopin/internal/repository"
)

const (
	// DefaultRefreshTokenTTL はリフレッシュトークンのデフォルト有効期間（30日）。
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	refreshTokenBytes = 32
	// refreshTokenLength は32バイトをパディングなし base64url で表した長さ。
	refreshTokenLength = 43

	// reuseGracePeriod 内の再提示は同時ローテーションの競合負けとみなし、連鎖失効しない。
	reuseGracePeriod = 10 * time.Second
)

// RefreshTokenConfig はリフレッシュトークンの設定。
type RefreshTokenConfig struct {
	TTL time.Duration
	// RevokeChainOnReuse が true の場合、ローテーション済みトークンの再提示で
	// 同一アカウントの有効なトークンをすべて失効させる。
	RevokeChainOnReuse bool
	Metrics            Metrics
}

// IssuedRefreshToken は発行したリフレッシュトークンの平文と期限。
type IssuedRefreshToken struct {
	Token     string
	ExpiresAt time.Time
}

// RotatedRefreshToken はローテーション結果。Account は旧トークンの所有アカウント。
type RotatedRefreshToken struct {
	Account *model.AuthAccount
	IssuedRefreshToken
}

// RefreshTokenStore は不透明なリフレッシュトークンを発行・ローテーションする。
// 平文は返却時のみ存在し、永続化するのは SHA-256 ハッシュのみ。
type RefreshTokenStore struct {
	repo               repository.RefreshTokenRepository
	ttl                time.Duration
	revokeChainOnReuse bool
	metrics            Metrics
	now                func() time.Time
	random             io.Reader
}

// NewRefreshTokenStore はRefreshTokenStoreを生成する。
func NewRefreshTokenStore(repo repository.RefreshTokenRepository, cfg RefreshTokenConfig) (*RefreshTokenStore, error) {
	if cfg.TTL <= 0 {
		return nil, &model.ConfigurationError{Key: "APP_JWT_REFRESH_TOKEN_TTL_SECONDS", Reason: "must be a positive number"}
	}
	return &RefreshTokenStore{
		repo:               repo,
		ttl:                cfg.TTL,
		revokeChainOnReuse: cfg.RevokeChainOnReuse,
		metrics:            metricsOrNop(cfg.Metrics),
		now:                time.Now,
		random:             rand.Reader,
	}, nil
}

// Issue はアカウントに紐づく新しいリフレッシュトークンを発行する。
func (s *RefreshTokenStore) Issue(ctx context.Context, authAccountID string) (*IssuedRefreshToken, error) {
	record, plaintext, err := s.newRecord(authAccountID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return &IssuedRefreshToken{Token: plaintext, ExpiresAt: record.ExpiresAt}, nil
}

// Rotate は提示されたトークンを失効させ、同じアカウントの後継トークンを発行する。
// 不一致・失効済み・期限切れはすべて model.ErrInvalidRefreshToken を返す。
func (s *RefreshTokenStore) Rotate(ctx context.Context, plaintext string) (*RotatedRefreshToken, error) {
	if !wellFormedRefreshToken(plaintext) {
		s.metrics.RecordRefreshRotation(resultFailure)
		return nil, model.ErrInvalidRefreshToken
	}

	next, nextPlaintext, err := s.newRecord("")
	if err != nil {
		return nil, err
	}

	now := s.now()
	account, err := s.repo.Rotate(ctx, hashRefreshToken(plaintext), next, now)
	if err != nil {
		var reused *repository.ReusedTokenError
		switch {
		case errors.As(err, &reused):
			s.metrics.RecordRefreshRotation(resultReused)
			s.handleReuse(ctx, reused, now)
			return nil, model.ErrInvalidRefreshToken
		case errors.Is(err, model.ErrInvalidRefreshToken):
			s.metrics.RecordRefreshRotation(resultFailure)
			return nil, model.ErrInvalidRefreshToken
		default:
			s.metrics.RecordRefreshRotation(resultError)
			return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}
	}

	s.metrics.RecordRefreshRotation(resultSuccess)
	return &RotatedRefreshToken{
		Account:            account,
		IssuedRefreshToken: IssuedRefreshToken{Token: nextPlaintext, ExpiresAt: next.ExpiresAt},
	}, nil
}

// handleReuse はローテーション済みトークンの再提示を記録し、設定に応じて連鎖失効させる。
func (s *RefreshTokenStore) handleReuse(ctx context.Context, reused *repository.ReusedTokenError, now time.Time) {
	slog.Warn("rotated refresh token presented again",
		slog.String("auth_account_id", reused.AuthAccountID),
	)
	if !s.revokeChainOnReuse || now.Sub(reused.RevokedAt) < reuseGracePeriod {
		return
	}

	revoked, err := s.repo.RevokeActiveByAuthAccount(ctx, reused.AuthAccountID, now)
	if err != nil {
		slog.Error("failed to revoke refresh token chain",
			slog.String("auth_account_id", reused.AuthAccountID),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("refresh token chain revoked",
		slog.String("auth_account_id", reused.AuthAccountID),
		slog.Int64("revoked", revoked),
	)
}

// newRecord は平文トークンと永続化レコードを生成する。
func (s *RefreshTokenStore) newRecord(authAccountID string) (*model.RefreshToken, string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return nil, "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now()
	return &model.RefreshToken{
		ID:            uuid.New().String(),
		AuthAccountID: authAccountID,
		TokenHash:     hashRefreshToken(plaintext),
		ExpiresAt:     now.Add(s.ttl),
		CreatedAt:     now,
	}, plaintext, nil
}

// hashRefreshToken は平文の SHA-256 を16進文字列で返す。
func hashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func wellFormedRefreshToken(plaintext string) bool {
	if len(plaintext) != refreshTokenLength {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(plaintext)
	return err == nil
}

// compile-time interface check
var _ RefreshTokenIssuer = (*RefreshTokenStore)(nil)
