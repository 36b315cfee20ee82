// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Provider は外部アイデンティティプロバイダの識別子を表す。
type Provider string

// サポートするプロバイダ
const (
	ProviderKakao  Provider = "kakao"
	ProviderApple  Provider = "apple"
	ProviderGoogle Provider = "google"
)

// ParseProvider は文字列を Provider に変換する。
// 未知の値は ErrUnsupportedProvider を返す。
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderKakao, ProviderApple, ProviderGoogle:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
	}
}

// String は Stringer を実装する。
func (p Provider) String() string {
	return string(p)
}

// Identity は検証済みIDトークンから取り出した外部アイデンティティを表す。
type Identity struct {
	Provider Provider
	Subject  string
	Email    *string
}

// AuthAccount は (Provider, Subject) ごとに1件存在する外部アカウントを表す。
// UserID はオンボーディング完了まで nil。
type AuthAccount struct {
	ID             string
	Provider       Provider
	ProviderUserID string
	Email          *string
	UserID         *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLinked はユーザーに紐付け済みかどうかを返す。
func (a *AuthAccount) IsLinked() bool {
	return a.UserID != nil
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID              string
	Nickname        string
	ProfileImageURL *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RefreshToken はリフレッシュトークンの永続化レコード。
// 平文は保存せず TokenHash (SHA-256 の16進) のみ保持する。
type RefreshToken struct {
	ID                string
	AuthAccountID     string
	TokenHash         string
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	ReplacedByTokenID *string
	CreatedAt         time.Time
}

// IsActive は now 時点で未失効かつ期限内かどうかを返す。
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
