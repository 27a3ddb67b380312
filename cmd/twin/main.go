// Command twin はデジタルツインの認証APIサーバーとクリーンアップワーカーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
