package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lildude/strava-weather/internal/database"
	"github.com/lildude/strava-weather/internal/pipeline"
	"github.com/lildude/strava-weather/internal/vault"
	"github.com/spf13/cobra"
)

func processCommand(a *app) *cobra.Command {
	var userID string
	var force bool

	cmd := &cobra.Command{
		Use:   "process <activity-id>",
		Short: "Add the weather to one activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			activityID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || activityID <= 0 {
				return fmt.Errorf("invalid activity id %q", args[0])
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			v, err := vault.New(a.cfg.EncryptionKey)
			if err != nil {
				return err
			}
			resolver, closeCache, err := a.weatherResolver(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeCache()

			p := pipeline.New(a.strava, store, resolver, v, a.log)
			res := p.ProcessActivity(cmd.Context(), activityID, userID, force)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success && !res.Skipped {
				return fmt.Errorf("processing activity %d: %s", activityID, res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "internal user id owning the activity")
	cmd.Flags().BoolVar(&force, "force", false, "add weather even when the description already has some")
	cmd.MarkFlagRequired("user") //nolint:errcheck
	return cmd
}

// store opens the database for commands that run outside the server.
func (a *app) store() (*database.Store, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, errors.New("missing env DATABASE_URL")
	}
	db, err := database.Open(a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return database.NewStore(db), nil
}
