package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCreateUser はBOOTSTRAP_*環境変数のアカウントを作成することを示す。
	// 最初の管理者アカウントの作成に使う。
	CommandCreateUser Command = "create-user"
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
	case "healthcheck":
		return CommandHealthcheck
	case "create-user":
		return CommandCreateUser
	default:
		return CommandServe
	}
}

// isMigrateDown は "migrate down" が指定された場合にtrueを返す。
func isMigrateDown(args []string) bool {
	return len(args) >= 2 && args[0] == "migrate" && args[1] == "down"
}
