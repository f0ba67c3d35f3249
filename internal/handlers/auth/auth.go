// Package auth implements the Strava OAuth connect and revoke handlers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lildude/strava-weather/internal/database"
	"github.com/lildude/strava-weather/internal/middleware"
	"github.com/lildude/strava-weather/internal/model"
	"github.com/lildude/strava-weather/internal/sessions"
	"github.com/lildude/strava-weather/internal/strava"
	"github.com/sirupsen/logrus"
)

type OAuth interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*strava.Token, *strava.AuthAthlete, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

type UserStore interface {
	UpsertUser(ctx context.Context, u *model.User) error
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type SessionStore interface {
	UserID(r *http.Request) (string, error)
	SetUserID(w http.ResponseWriter, r *http.Request, id string) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

// Subscriber makes sure the webhook subscription exists.
type Subscriber interface {
	Run(ctx context.Context)
}

type Handler struct {
	oauth      OAuth
	users      UserStore
	vault      Vault
	sessions   SessionStore
	stateToken string
	subscriber Subscriber
	log        logrus.FieldLogger
	now        func() time.Time
}

type Option func(*Handler)

// WithSubscriber ensures the webhook subscription after each sign in.
func WithSubscriber(s Subscriber) Option {
	return func(h *Handler) { h.subscriber = s }
}

func New(oauth OAuth, users UserStore, vault Vault, sessions SessionStore, stateToken string, log logrus.FieldLogger, opts ...Option) *Handler {
	h := &Handler{
		oauth:      oauth,
		users:      users,
		vault:      vault,
		sessions:   sessions,
		stateToken: stateToken,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect handles both legs of the OAuth flow. Without a state it redirects
// to Strava, or home when already signed in. With one it is Strava's
// redirect back: the code is exchanged and the athlete stored and signed in.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	if state == "" {
		if id, err := h.sessions.UserID(r); err == nil && id != "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		http.Redirect(w, r, h.oauth.AuthCodeURL(h.stateToken), http.StatusFound)
		return
	}

	if state != h.stateToken {
		http.Error(w, "state invalid", http.StatusBadRequest)
		return
	}
	if e := q.Get("error"); e != "" {
		h.log.WithField("error", e).Info("Strava authorization declined")
		http.Error(w, "authorization declined", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "code not found", http.StatusBadRequest)
		return
	}

	token, athlete, err := h.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		h.log.WithError(err).Error("Failed to exchange authorization code")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	log := h.log.WithField("athlete_id", athlete.ID)

	user, err := h.newUser(token, athlete)
	if err != nil {
		log.WithError(err).Error("Failed to encrypt tokens")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := h.users.UpsertUser(r.Context(), user); err != nil {
		log.WithError(err).Error("Failed to store user")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := h.sessions.SetUserID(w, r, user.ID); err != nil {
		log.WithError(err).Error("Failed to save session")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	log.WithField("user_id", user.ID).Info("Athlete connected")

	if h.subscriber != nil {
		h.subscriber.Run(r.Context())
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) newUser(token *strava.Token, athlete *strava.AuthAthlete) (*model.User, error) {
	access, err := h.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := h.vault.Encrypt(token.RefreshToken)
	if err != nil {
		return nil, err
	}
	now := h.now()
	return &model.User{
		StravaAthleteID: athlete.ID,
		AccessToken:     access,
		RefreshToken:    refresh,
		TokenExpiresAt:  token.ExpiresAt,
		FirstName:       athlete.FirstName,
		LastName:        athlete.LastName,
		ProfileImageURL: athlete.Profile,
		City:            athlete.City,
		State:           athlete.State,
		Country:         athlete.Country,
		LastLoginAt:     &now,
	}, nil
}

// Revoke deauthorizes the app at Strava and deletes the signed-in user.
// The local account is removed even when Strava rejects the token, since an
// expired token cannot be revoked anyway.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	log := h.log.WithField("user_id", userID)

	user, err := h.users.FindUserByID(r.Context(), userID)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
		h.sessions.Clear(w, r) //nolint:errcheck
		h.write(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   map[string]string{"message": "User not found", "code": "not_found"},
		})
		return
	case err != nil:
		log.WithError(err).Error("Failed to load user")
		h.write(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   map[string]string{"message": "Failed to load user", "code": "internal_error"},
		})
		return
	}

	if access, err := h.vault.Decrypt(user.AccessToken); err != nil {
		log.WithError(err).Warn("Failed to decrypt access token")
	} else if err := h.oauth.RevokeToken(r.Context(), access); err != nil {
		log.WithError(err).Warn("Failed to deauthorize at Strava")
	}

	if err := h.users.DeleteUser(r.Context(), userID); err != nil && !errors.Is(err, database.ErrUserNotFound) {
		log.WithError(err).Error("Failed to delete user")
		h.write(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   map[string]string{"message": "Failed to delete user", "code": "internal_error"},
		})
		return
	}
	if err := h.sessions.Clear(w, r); err != nil {
		log.WithError(err).Warn("Failed to clear session")
	}
	log.Info("Athlete disconnected")

	h.write(w, http.StatusOK, map[string]any{"success": true, "message": "Strava account disconnected"})
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("Failed to encode response")
	}
}

var _ SessionStore = (*sessions.Store)(nil)
