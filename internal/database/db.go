package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqliteScheme = "sqlite://"

// sqliteConnParams は接続ごとに適用する SQLite プラグマ。
// 外部キー制約は接続単位で有効化する必要がある。
const sqliteConnParams = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

// Open はデータベース接続を開き、URL から判定した Dialect を返す。
// databaseURL は "postgres://..." または "sqlite://path/to/file.db" を指定する。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	dialect := DialectFromURL(databaseURL)

	switch dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite", sqliteDSN(databaseURL))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite は単一ライタのため接続を1本に絞り、トランザクションを直列化する
		db.SetMaxOpenConns(1)
		return db, dialect, nil
	default:
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return db, dialect, nil
	}
}

// DialectFromURL は接続URLのスキームから Dialect を判定する。
func DialectFromURL(databaseURL string) Dialect {
	if strings.HasPrefix(databaseURL, sqliteScheme) {
		return DialectSQLite
	}
	return DialectPostgres
}

// sqliteDSN は "sqlite://path?x=y" を modernc ドライバの DSN に変換する。
func sqliteDSN(databaseURL string) string {
	dsn := strings.TrimPrefix(databaseURL, sqliteScheme)
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteConnParams
	}
	return dsn + "?" + sqliteConnParams
}
