// Command studyhub は学習管理APIサーバーを起動する。
//
// サブコマンド: serve（既定）、migrate、healthcheck、create-user
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/studyhub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "studyhub: %v\n", err)
		os.Exit(1)
	}
}
