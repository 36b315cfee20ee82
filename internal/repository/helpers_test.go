package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/hitoshi/loopin/internal/database"
)

// newSQLiteDB はマイグレーション済みのSQLiteデータベースを返す。
func newSQLiteDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()

	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "repo.db")
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	db, dialect, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db, dialect
}

func strPtr(s string) *string {
	return &s
}
