// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the service needs to start.
type Config struct {
	Env         string
	Port        string
	LogLevel    string
	DatabaseURL string
	SessionKey  string
	RedisURL    string
	SentryDSN   string

	// HTTPTimeout bounds every call to Strava and OpenWeatherMap.
	HTTPTimeout time.Duration

	// EncryptionKey is the secret the token vault derives its keys from.
	EncryptionKey string

	Strava  StravaConfig
	Weather WeatherConfig
	Webhook WebhookConfig
}

type StravaConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CallbackURI  string
	VerifyToken  string
	StateToken   string
}

type WeatherConfig struct {
	APIKey        string
	Units         string
	CacheTTL      time.Duration
	SweepInterval time.Duration
}

type WebhookConfig struct {
	MaxAttempts int
	Budget      time.Duration
}

// Load reads the configuration from the environment. Variables from a .env
// file are expected to have been loaded already.
func Load() (*Config, error) {
	port := GetEnv("PORT", "8080").(string)
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		port = val
	}

	cfg := &Config{
		Env:           GetEnv("ENV", "production").(string),
		Port:          port,
		LogLevel:      GetEnv("LOG_LEVEL", "info").(string),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SessionKey:    os.Getenv("SESSION_KEY"),
		RedisURL:      os.Getenv("REDIS_URL"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		HTTPTimeout:   GetEnv("HTTP_TIMEOUT", 10*time.Second).(time.Duration),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		Strava: StravaConfig{
			ClientID:     os.Getenv("STRAVA_CLIENT_ID"),
			ClientSecret: os.Getenv("STRAVA_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("STRAVA_REDIRECT_URI"),
			CallbackURI:  os.Getenv("STRAVA_CALLBACK_URI"),
			VerifyToken:  os.Getenv("STRAVA_VERIFY_TOKEN"),
			StateToken:   os.Getenv("STATE_TOKEN"),
		},
		Weather: WeatherConfig{
			APIKey:        os.Getenv("OWM_API_KEY"),
			Units:         strings.ToLower(GetEnv("OWM_UNITS", "metric").(string)),
			CacheTTL:      GetEnv("WEATHER_CACHE_TTL", 30*time.Minute).(time.Duration),
			SweepInterval: GetEnv("WEATHER_CACHE_SWEEP", 10*time.Minute).(time.Duration),
		},
		Webhook: WebhookConfig{
			MaxAttempts: GetEnv("WEBHOOK_MAX_ATTEMPTS", 3).(int),
			Budget:      GetEnv("WEBHOOK_BUDGET", 8*time.Second).(time.Duration),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	required := map[string]string{
		"STRAVA_CLIENT_ID":     c.Strava.ClientID,
		"STRAVA_CLIENT_SECRET": c.Strava.ClientSecret,
		"STRAVA_VERIFY_TOKEN":  c.Strava.VerifyToken,
		"ENCRYPTION_KEY":       c.EncryptionKey,
		"OWM_API_KEY":          c.Weather.APIKey,
	}
	for _, key := range []string{"STRAVA_CLIENT_ID", "STRAVA_CLIENT_SECRET", "STRAVA_VERIFY_TOKEN", "ENCRYPTION_KEY", "OWM_API_KEY"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing env %s", strings.Join(missing, ", "))
	}

	switch c.Weather.Units {
	case "standard", "metric", "imperial":
	default:
		return fmt.Errorf("invalid OWM_UNITS %q: want standard, metric or imperial", c.Weather.Units)
	}

	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be positive")
	}
	if c.Webhook.MaxAttempts < 1 {
		return errors.New("WEBHOOK_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// RequireServer checks the settings only the HTTP server needs.
func (c *Config) RequireServer() error {
	if c.DatabaseURL == "" {
		return errors.New("missing env DATABASE_URL")
	}
	if c.SessionKey == "" {
		return errors.New("missing env SESSION_KEY")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GetEnv returns the value of key converted to the type of defaultValue, or
// defaultValue when the variable is unset or cannot be parsed.
func GetEnv(key string, defaultValue any) any {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch def := defaultValue.(type) {
	case string:
		return value
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		return def
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		return def
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
		return def
	default:
		panic(fmt.Sprintf("unsupported type %T", defaultValue))
	}
}
