package main

import (
	"net/http"
	"os"

	// Autoloads .env file to supply environment variables
	_ "github.com/joho/godotenv/autoload"

	"github.com/lildude/strava-weather/internal/config"
	"github.com/lildude/strava-weather/internal/logger"
	"github.com/lildude/strava-weather/internal/strava"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app is what every command needs, filled in before any of them run.
type app struct {
	cfg    *config.Config
	log    logrus.FieldLogger
	http   *http.Client
	strava *strava.Service
}

// newApp builds the pieces shared by all commands. Every upstream call goes
// through one client bounded by cfg.HTTPTimeout.
func newApp(cfg *config.Config, log logrus.FieldLogger) *app {
	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	s := strava.NewService(strava.NewOAuthConfig(cfg.Strava.ClientID, cfg.Strava.ClientSecret, cfg.Strava.RedirectURI))
	s.HTTPClient = hc
	return &app{cfg: cfg, log: log, http: hc, strava: s}
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var a app

	rootCmd := &cobra.Command{
		Use:          "strava-weather",
		Short:        "Adds the weather to your Strava activities",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a = *newApp(cfg, logger.NewLogger(cfg.LogLevel))
			return nil
		},
	}

	serveCmd := serveCommand(&a)
	rootCmd.AddCommand(serveCmd, subscriptionCommand(&a), processCommand(&a), userCommand(&a))
	// Running without a subcommand starts the server.
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}
