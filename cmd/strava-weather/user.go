package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/lildude/strava-weather/internal/description"
	"github.com/lildude/strava-weather/internal/model"
	"github.com/spf13/cobra"
)

type preferenceStore interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	SetWeatherEnabled(ctx context.Context, userID string, enabled bool) error
	UpsertPreference(ctx context.Context, p *model.UserPreference) error
}

func userCommand(a *app) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Change how a user's activities are annotated",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "internal user id")
	cmd.MarkPersistentFlagRequired("user") //nolint:errcheck

	weatherCmd := &cobra.Command{
		Use:       "weather <on|off>",
		Short:     "Turn weather updates on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			return setWeather(cmd.Context(), store, userID, args[0])
		},
	}

	pref := model.UserPreference{}
	prefsCmd := &cobra.Command{
		Use:   "preferences",
		Short: "Set the weather text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			pref.UserID = userID
			if err := setPreferences(cmd.Context(), store, &pref); err != nil {
				return err
			}
			return printJSON(pref)
		},
	}
	prefsCmd.Flags().StringVar(&pref.TemperatureUnit, "unit", description.Celsius, "celsius or fahrenheit")
	prefsCmd.Flags().StringVar(&pref.WeatherFormat, "format", description.FormatCompact, "compact, detailed or custom")
	prefsCmd.Flags().BoolVar(&pref.IncludeUVIndex, "uv", false, "include the UV index")
	prefsCmd.Flags().BoolVar(&pref.IncludeVisibility, "visibility", false, "include visibility")
	prefsCmd.Flags().StringVar(&pref.CustomFormat, "custom", "", "template for the custom format, e.g. \"{condition} {temperature}{unit}\"")

	cmd.AddCommand(weatherCmd, prefsCmd)
	return cmd
}

func setWeather(ctx context.Context, s preferenceStore, userID, state string) error {
	var enabled bool
	switch strings.ToLower(state) {
	case "on", "true", "yes":
		enabled = true
	case "off", "false", "no":
	default:
		return fmt.Errorf("invalid state %q: want on or off", state)
	}
	return s.SetWeatherEnabled(ctx, userID, enabled)
}

func setPreferences(ctx context.Context, s preferenceStore, p *model.UserPreference) error {
	switch p.TemperatureUnit {
	case description.Celsius, description.Fahrenheit:
	default:
		return fmt.Errorf("invalid unit %q: want celsius or fahrenheit", p.TemperatureUnit)
	}
	switch p.WeatherFormat {
	case description.FormatCompact, description.FormatDetailed:
	case description.FormatCustom:
		if strings.TrimSpace(p.CustomFormat) == "" {
			return fmt.Errorf("the custom format needs --custom")
		}
	default:
		return fmt.Errorf("invalid format %q: want compact, detailed or custom", p.WeatherFormat)
	}

	if _, err := s.FindUserByID(ctx, p.UserID); err != nil {
		return err
	}
	return s.UpsertPreference(ctx, p)
}
