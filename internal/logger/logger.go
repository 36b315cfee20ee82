// Package logger はJSON構造化ログをセットアップする。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redacted は秘匿属性の代わりに出力する値。
const redacted = "[REDACTED]"

// secretKeys は値を出力しない属性キー。
var secretKeys = map[string]struct{}{
	"access_token":       {},
	"refresh_token":      {},
	"id_token":           {},
	"authorization":      {},
	"client_secret":      {},
	"private_key":        {},
	"code_verifier":      {},
	"authorization_code": {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// level 未満のログは出力しない。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSecrets,
	})
	return slog.New(handler).With(slog.String("service", "loopin"))
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// w が nil の場合は os.Stdout に出力する。
func SetupDefault(w io.Writer, level slog.Leveler) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

func redactSecrets(groups []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}
