package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は認証APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッション・トークンのクリーンアップワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はDATABASE_DRIVERに応じたスキーマを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

// commands はサブコマンドと説明の一覧。Usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the auth API server (default)"},
	{CommandWorker, "purge expired sessions and verification tokens periodically"},
	{CommandMigrate, "apply database migrations"},
	{CommandHealthcheck, "check /health of the local server"},
	{CommandHelp, "show this help"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd
		}
	}
	if args[0] == "-h" || args[0] == "--help" {
		return CommandHelp
	}
	return CommandServe
}

// Usage はサブコマンドの一覧をwに書き込む。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: twin <command>")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
