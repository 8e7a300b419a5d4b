package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRenewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew-watches",
		Short: "Renew every active watch once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Scheduler.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("watch renewal failed: %w", err)
			}
			return printJSON(summary)
		},
	}
}

func newWatchCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage a user's Gmail watch",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Register or refresh the watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.Watches.Start(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the watch and mark it inactive",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Watches.Stop(cmd.Context(), userID)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored watch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.Watches.Status(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	})
	return cmd
}
