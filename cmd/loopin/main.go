// Command loopin はLoopinの認証APIサーバー。
//
//	loopin [serve]      APIサーバーを起動する
//	loopin migrate      データベースマイグレーションを適用する
//	loopin healthcheck  /health を確認する（コンテナのヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/loopin/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "loopin: %v\n", err)
		os.Exit(1)
	}
}
