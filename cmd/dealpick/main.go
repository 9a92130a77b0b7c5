// dealpick はSteamで未所有のセール中ゲームを1件選んで返すHTTPサービス。
//
// 使い方:
//
//	dealpick [serve|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/dealpick/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dealpick: %v\n", err)
		os.Exit(1)
	}
}
