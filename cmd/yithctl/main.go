package main

import (
	"os"

	"github.com/srus/yith-library-server/cmd/yithctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
