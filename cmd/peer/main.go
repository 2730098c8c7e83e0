package main

import (
	"os"

	"github.com/dkeye/peerline/cmd/peer/commands"
)

func main() {
	rootCmd := commands.NewRootCmd()
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
