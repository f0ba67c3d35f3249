package main

import (
	"encoding/json"
	"os"

	"github.com/lildude/strava-weather/internal/subscription"
	"github.com/spf13/cobra"
)

func subscriptionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Manage the Strava webhook subscription",
	}

	manager := func() *subscription.Manager {
		return subscription.NewManager(a.strava, a.cfg.Strava.CallbackURI, a.cfg.Strava.VerifyToken, a.http, a.log)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "view",
			Short: "Show the current subscription",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				sub, err := manager().Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(sub)
			},
		},
		&cobra.Command{
			Use:   "create",
			Short: "Subscribe to activity events unless already subscribed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				sub, _, err := manager().EnsureSubscription(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(sub)
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Delete the subscription",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				sub, err := manager().Delete(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(sub)
			},
		},
	)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
