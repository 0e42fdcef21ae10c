package app

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandReconcile はカテゴリ所属リストの整合性チェックを実行することを示す。
	CommandReconcile Command = "reconcile"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "reconcile":
		return CommandReconcile
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// reconcileOptions はreconcileサブコマンドのフラグ。
type reconcileOptions struct {
	DryRun bool
}

// parseReconcileFlags はreconcileサブコマンド以降の引数を解析する。
// argsにはサブコマンド名を除いた引数を渡す。
func parseReconcileFlags(args []string, errOut io.Writer) (reconcileOptions, error) {
	var opts reconcileOptions

	fs := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.BoolVar(&opts.DryRun, "dry-run", false, "不整合の検出のみ行い、修復しない")

	if err := fs.Parse(args); err != nil {
		return reconcileOptions{}, fmt.Errorf("invalid reconcile flags: %w", err)
	}
	if fs.NArg() > 0 {
		return reconcileOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}
