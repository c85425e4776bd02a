package main

import (
	"os"

	"github.com/MEKXH/gatekeep/cmd/gatekeep/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
