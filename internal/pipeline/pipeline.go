// Package pipeline adds weather to a single Strava activity. It is shared by
// the webhook and the manual processing API.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lildude/strava-weather/internal/database"
	"github.com/lildude/strava-weather/internal/description"
	"github.com/lildude/strava-weather/internal/metrics"
	"github.com/lildude/strava-weather/internal/model"
	"github.com/lildude/strava-weather/internal/strava"
	"github.com/lildude/strava-weather/internal/weather"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Skip reasons and the user lookup failure message. Callers match on these.
const (
	ReasonDisabled   = "Weather updates disabled"
	ReasonHasWeather = "Already has weather data"
	ReasonNoGPS      = "No GPS coordinates"
	ErrorNoUser      = "User not found"
)

// refreshTimeout bounds a shared token refresh when the caller set no
// deadline.
const refreshTimeout = 30 * time.Second

type ActivityClient interface {
	GetActivity(ctx context.Context, id int64, accessToken string) (*strava.Activity, error)
	UpdateActivity(ctx context.Context, id int64, accessToken string, ua *strava.UpdatableActivity) (*strava.Activity, error)
	EnsureValidToken(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) (*strava.Token, error)
}

type UserStore interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateTokens(ctx context.Context, userID, prevRefresh, access, refresh string, expiresAt time.Time) (bool, error)
}

type WeatherResolver interface {
	GetWeatherForActivity(ctx context.Context, lat, lon float64, activityTime time.Time, activityID int64) (*weather.WeatherData, error)
}

type TokenVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Result is the outcome of processing one activity.
type Result struct {
	Success     bool                 `json:"success"`
	ActivityID  int64                `json:"activityId,omitempty"`
	WeatherData *weather.WeatherData `json:"weatherData,omitempty"`
	Error       string               `json:"error,omitempty"`
	Skipped     bool                 `json:"skipped,omitempty"`
	Reason      string               `json:"reason,omitempty"`

	// Err is the error behind Error, for errors.Is checks.
	Err error `json:"-"`
}

// Status is "success", "skipped" or "failed".
func (r *Result) Status() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Success:
		return "success"
	}
	return "failed"
}

type Pipeline struct {
	activities ActivityClient
	users      UserStore
	weather    WeatherResolver
	vault      TokenVault
	log        logrus.FieldLogger
	metrics    *metrics.Metrics

	refreshes singleflight.Group
}

type Option func(*Pipeline)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(activities ActivityClient, users UserStore, resolver WeatherResolver, vault TokenVault, log logrus.FieldLogger, opts ...Option) *Pipeline {
	p := &Pipeline{
		activities: activities,
		users:      users,
		weather:    resolver,
		vault:      vault,
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessActivity adds weather to the activity's description on behalf of
// the user. Unless force is set, activities that already mention weather
// are left alone. It never panics and never returns nil; failures are
// reported in the Result.
func (p *Pipeline) ProcessActivity(ctx context.Context, activityID int64, userID string, force bool) (res *Result) {
	log := p.log.WithFields(logrus.Fields{"activity_id": activityID, "user_id": userID})

	defer func() {
		if rec := recover(); rec != nil {
			sentry.CurrentHub().Recover(rec)
			log.WithField("stack", string(debug.Stack())).Errorf("Activity processing panicked: %v", rec)
			res = failed(activityID, fmt.Errorf("unexpected error: %v", rec))
		}
		p.metrics.EnrichmentResult(res.Status())
	}()

	res = p.process(ctx, log, activityID, userID, force)
	switch {
	case res.Skipped:
		log.WithField("reason", res.Reason).Info("Skipped activity")
	case res.Success:
		log.Info("Added weather to activity")
	default:
		log.WithField("error", res.Error).Warn("Failed to process activity")
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, log logrus.FieldLogger, activityID int64, userID string, force bool) *Result {
	user, err := p.users.FindUserByID(ctx, userID)
	if errors.Is(err, database.ErrUserNotFound) {
		return &Result{ActivityID: activityID, Error: ErrorNoUser, Err: err}
	}
	if err != nil {
		return failed(activityID, err)
	}

	if !user.WeatherEnabled {
		return &Result{ActivityID: activityID, Skipped: true, Reason: ReasonDisabled}
	}

	accessToken, err := p.accessToken(ctx, log, user)
	if err != nil {
		return failed(activityID, err)
	}

	activity, err := p.activities.GetActivity(ctx, activityID, accessToken)
	if errors.Is(err, strava.ErrNotFound) {
		return failed(activityID, fmt.Errorf("activity %d not found: %w", activityID, err))
	}
	if err != nil {
		return failed(activityID, err)
	}

	if !force && description.HasWeatherData(activity.Description) {
		return &Result{Success: true, ActivityID: activityID, Skipped: true, Reason: ReasonHasWeather}
	}

	if !activity.HasLatLng() {
		return &Result{ActivityID: activityID, Skipped: true, Reason: ReasonNoGPS}
	}

	w, err := p.weather.GetWeatherForActivity(ctx, activity.StartLatlng[0], activity.StartLatlng[1], activity.StartDate, activityID)
	if err != nil {
		return failed(activityID, err)
	}

	update := &strava.UpdatableActivity{
		Description: description.Compose(activity.Description, w, preferences(user)),
	}
	if _, err := p.activities.UpdateActivity(ctx, activityID, accessToken, update); err != nil {
		return failed(activityID, err)
	}

	return &Result{Success: true, ActivityID: activityID, WeatherData: w}
}

// accessToken returns a usable plaintext access token for user, refreshing
// and storing a new pair if the current one is about to expire. Concurrent
// refreshes for one user in this process share a single call; a refresh
// that loses the conditional write to another process adopts the stored
// tokens instead. The shared call outlives the caller that started it.
func (p *Pipeline) accessToken(ctx context.Context, log logrus.FieldLogger, user *model.User) (string, error) {
	v, err, _ := p.refreshes.Do(user.ID, func() (any, error) {
		ctx, cancel := detach(ctx)
		defer cancel()

		access, err := p.vault.Decrypt(user.AccessToken)
		if err != nil {
			return "", fmt.Errorf("decrypting access token: %w", err)
		}
		refresh, err := p.vault.Decrypt(user.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("decrypting refresh token: %w", err)
		}

		tok, err := p.activities.EnsureValidToken(ctx, access, refresh, user.TokenExpiresAt)
		if err != nil {
			return "", err
		}
		if !tok.WasRefreshed {
			return tok.AccessToken, nil
		}

		encAccess, err := p.vault.Encrypt(tok.AccessToken)
		if err != nil {
			return "", fmt.Errorf("encrypting access token: %w", err)
		}
		encRefresh, err := p.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("encrypting refresh token: %w", err)
		}

		stored, err := p.users.UpdateTokens(ctx, user.ID, user.RefreshToken, encAccess, encRefresh, tok.ExpiresAt)
		if err != nil {
			return "", err
		}
		if stored {
			log.WithField("expires_at", tok.ExpiresAt).Info("Refreshed access token")
			return tok.AccessToken, nil
		}

		log.Info("Access token was refreshed elsewhere, using stored token")
		current, err := p.users.FindUserByID(ctx, user.ID)
		if err != nil {
			return "", fmt.Errorf("reloading tokens: %w", err)
		}
		access, err = p.vault.Decrypt(current.AccessToken)
		if err != nil {
			return "", fmt.Errorf("decrypting access token: %w", err)
		}
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// detach returns a context that ignores ctx's cancellation but keeps its
// deadline, or gets refreshTimeout when there is none.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	d := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(d, deadline)
	}
	return context.WithTimeout(d, refreshTimeout)
}

func preferences(u *model.User) description.Preferences {
	prefs := description.DefaultPreferences()
	p := u.Preference
	if p == nil {
		return prefs
	}
	if p.TemperatureUnit != "" {
		prefs.TemperatureUnit = p.TemperatureUnit
	}
	if p.WeatherFormat != "" {
		prefs.Format = p.WeatherFormat
	}
	prefs.IncludeUV = p.IncludeUVIndex
	prefs.IncludeVisibility = p.IncludeVisibility
	prefs.CustomFormat = p.CustomFormat
	return prefs
}

func failed(activityID int64, err error) *Result {
	return &Result{ActivityID: activityID, Error: err.Error(), Err: err}
}
