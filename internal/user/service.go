// Package user はユーザー登録（オンボーディング）と退会のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/loopin/internal/auth"
	"github.com/hitoshi/loopin/internal/model"
	"github.com/hitoshi/loopin/internal/repository"
)

// MaxNicknameLength はニックネームの最大文字数（rune数）。
const MaxNicknameLength = 30

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Nickname        string
	ProfileImageURL *string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		now:      time.Now,
	}
}

// Register は未登録の呼び出し元に対してユーザーを作成し、外部アカウントに紐付ける。
// 登録済みの呼び出し元は拒否する。
func (s *Service) Register(ctx context.Context, caller *auth.Caller, input RegisterInput) (*model.User, error) {
	if caller.Onboarded() {
		return nil, model.NewUserAlreadyExistsError()
	}

	nickname, err := normalizeNickname(input.Nickname)
	if err != nil {
		return nil, err
	}
	profileImageURL, err := normalizeProfileImageURL(input.ProfileImageURL)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:              uuid.New().String(),
		Nickname:        nickname,
		ProfileImageURL: profileImageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.userRepo.CreateForAuthAccount(ctx, user, caller.Provider, caller.Subject)
	switch {
	case errors.Is(err, model.ErrAuthAccountAlreadyLinked), errors.Is(err, model.ErrNicknameTaken):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("provider", caller.Provider.String()),
	)
	return user, nil
}

// CheckNickname はニックネームが利用可能かどうかを返す。
func (s *Service) CheckNickname(ctx context.Context, nickname string) (bool, error) {
	nickname, err := normalizeNickname(nickname)
	if err != nil {
		return false, err
	}
	taken, err := s.userRepo.ExistsByNickname(ctx, nickname)
	if err != nil {
		return false, fmt.Errorf("ニックネームの確認に失敗しました: %w", err)
	}
	return !taken, nil
}

// GetMe は呼び出し元のユーザーを返す。
func (s *Service) GetMe(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}
	return user, nil
}

// Withdraw はユーザーの退会処理を実行する。
// auth_accounts と refresh_tokens は CASCADE で削除されるため、
// 発行済みアクセストークンはガードの再確認で拒否されるようになる。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}

func normalizeNickname(raw string) (string, error) {
	nickname := strings.TrimSpace(raw)
	if nickname == "" {
		return "", model.NewInvalidRequestError("nickname は必須です")
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return "", model.NewInvalidRequestError(fmt.Sprintf("nickname は%d文字以内で指定してください", MaxNicknameLength))
	}
	return nickname, nil
}

// 空文字は未指定として扱う。
func normalizeProfileImageURL(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return nil, nil
	}
	u, err := url.ParseRequestURI(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, model.NewInvalidRequestError("profileImageUrl はhttp(s)のURLで指定してください")
	}
	return &v, nil
}
