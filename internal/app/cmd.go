package app

import (
	"fmt"
	"strings"
)

// Command は loopin のサブコマンド。
type Command string

const (
	// CommandServe は API サーバーを起動する。引数なしの場合の既定。
	CommandServe Command = "serve"
	// CommandMigrate は DATABASE_URL のみでスキーマを最新化して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの /health を確認する。distroless イメージの HEALTHCHECK 用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数からサブコマンドを決める。残りの引数は無視する。
// 未知のサブコマンドはエラーとし、誤ってサーバーを起動しない。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}

	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return "", fmt.Errorf("unknown command %q (available: %s)", args[0], strings.Join(names, ", "))
}
