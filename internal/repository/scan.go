package repository

import (
	"database/sql"
	"time"

	"github.com/hitoshi/loopin/internal/model"
)

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

const authAccountColumns = `id, provider, provider_user_id, email, user_id, created_at, updated_at`

func scanAuthAccount(row rowScanner) (*model.AuthAccount, error) {
	var (
		account  model.AuthAccount
		provider string
		email    sql.NullString
		userID   sql.NullString
	)
	if err := row.Scan(&account.ID, &provider, &account.ProviderUserID, &email, &userID, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return nil, err
	}
	account.Provider = model.Provider(provider)
	account.Email = nullStringPtr(email)
	account.UserID = nullStringPtr(userID)
	return &account, nil
}

const userColumns = `id, nickname, profile_image_url, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user         model.User
		profileImage sql.NullString
	)
	if err := row.Scan(&user.ID, &user.Nickname, &profileImage, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.ProfileImageURL = nullStringPtr(profileImage)
	return &user, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func stringPtrValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// utc は DB に書き込む時刻を UTC に揃え、モノトニック時計を取り除く。
func utc(t time.Time) time.Time {
	return t.UTC()
}
