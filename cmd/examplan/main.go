// examplan 命令行入口
package main

import (
	"os"

	"github.com/paiban/examplan/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
