package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gmail-auto-reply-go/internal/credentials"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored Google credentials",
	}

	var userID, timezone string
	authorize := &cobra.Command{
		Use:   "authorize",
		Short: "Run the OAuth consent flow and store the resulting token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			gc := a.Config.Gmail
			if gc.ClientID == "" || gc.ClientSecret == "" {
				return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
			}
			oauthCfg := credentials.OAuthConfig(gc.ClientID, gc.ClientSecret, gc.RedirectURL)

			tok, err := credentials.Authorize(cmd.Context(), oauthCfg, os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			if err := a.Credentials.Save(cmd.Context(), userID, timezone, tok); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Stored credentials for %s\n", userID)
			return nil
		},
	}
	authorize.Flags().StringVar(&userID, "user", "", "user id")
	authorize.Flags().StringVar(&timezone, "timezone", credentials.DefaultTimezone, "IANA timezone passed to the agent")
	_ = authorize.MarkFlagRequired("user")

	cmd.AddCommand(authorize)
	return cmd
}
