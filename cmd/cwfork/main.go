package main

import (
	"os"

	"github.com/spf13/cobra"

	"cwfork/cmd/cli"
)

func main() {
	rootCmd := &cobra.Command{Use: "cwfork"}
	rootCmd.AddCommand(cli.SimCmd())
	rootCmd.AddCommand(cli.QueryCmd())
	rootCmd.AddCommand(cli.CheatCmd())
	rootCmd.AddCommand(cli.CoverageCmd())
	rootCmd.AddCommand(cli.ConfigCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
