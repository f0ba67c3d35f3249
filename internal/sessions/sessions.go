// Package sessions keeps the signed-in user in a cookie.
package sessions

import (
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "strava-weather-session"
	userIDKey   = "user_id"
)

var ErrNoUser = errors.New("no user in session")

type Store struct {
	store *sessions.CookieStore
}

// NewStore returns a cookie store signed with key. Cookies are marked Secure
// unless secure is false (local development over plain HTTP).
func NewStore(key string, secure bool) *Store {
	store := sessions.NewCookieStore([]byte(key))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30, // 30 days
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Store{store: store}
}

// UserID returns the id of the signed-in user.
func (s *Store) UserID(r *http.Request) (string, error) {
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return "", err
	}
	id, ok := session.Values[userIDKey].(string)
	if !ok || id == "" {
		return "", ErrNoUser
	}
	return id, nil
}

// SetUserID signs the user in.
func (s *Store) SetUserID(w http.ResponseWriter, r *http.Request, id string) error {
	session, _ := s.store.Get(r, sessionName) //nolint:errcheck // a bad cookie is replaced
	session.Values[userIDKey] = id
	return session.Save(r, w)
}

// Clear signs the user out.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, sessionName) //nolint:errcheck // a bad cookie is replaced
	delete(session.Values, userIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
