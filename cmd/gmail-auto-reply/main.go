package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version will be set at build time
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gmail-auto-reply",
	Short: "Gmail push-driven auto-reply service",
	Long: `gmail-auto-reply receives Gmail push notifications, diffs the mailbox
history since the last processed point and asks a decision agent whether
to act on each new inbox message.

Run "serve" for the HTTP service, or use the other commands to manage
watches and stored credentials.`,
	SilenceUsage: true,
	Version:      version,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRenewCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newCredentialsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
