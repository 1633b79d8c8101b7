package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{Use: "meshnet"}
	rootCmd.AddCommand(inferCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(rewardCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
