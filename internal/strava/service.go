package strava

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lildude/strava-weather/internal/client"
	"golang.org/x/oauth2"
)

// RefreshBuffer is how close to expiry an access token may get before it is
// refreshed.
const RefreshBuffer = 5 * time.Minute

var (
	BaseURL  = "https://www.strava.com/"
	AuthURL  = "https://www.strava.com/oauth/authorize"
	TokenURL = "https://www.strava.com/oauth/token"
)

// NewOAuthConfig returns the OAuth2 configuration for the Strava app.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      []string{"read,activity:write,activity:read_all"},
	}
}

// Token is a usable access token and whether it had to be refreshed.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	WasRefreshed bool
}

// AuthAthlete is the athlete summary Strava returns with a token exchange.
type AuthAthlete struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Profile   string
	City      string
	State     string
	Country   string
}

// Service talks to Strava on behalf of athletes.
type Service struct {
	OAuth      *oauth2.Config
	BaseURL    *url.URL
	HTTPClient *http.Client

	now func() time.Time
}

// NewService returns a Service using oc for token operations.
func NewService(oc *oauth2.Config) *Service {
	u, _ := url.Parse(BaseURL)
	return &Service{OAuth: oc, BaseURL: u, now: time.Now}
}

func (s *Service) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// bearerClient returns a REST client that authenticates with accessToken.
func (s *Service) bearerClient(accessToken string) *client.Client {
	base := s.httpClient()
	tc := &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base.Transport,
		},
	}
	return client.NewClient(s.BaseURL, tc)
}

// GetActivity fetches one activity.
func (s *Service) GetActivity(ctx context.Context, id int64, accessToken string) (*Activity, error) {
	return GetActivity(ctx, s.bearerClient(accessToken), id)
}

// UpdateActivity writes ua back to the activity.
func (s *Service) UpdateActivity(ctx context.Context, id int64, accessToken string, ua *UpdatableActivity) (*Activity, error) {
	return UpdateActivity(ctx, s.bearerClient(accessToken), id, ua)
}

// EnsureValidToken returns the given token when it is valid for longer than
// RefreshBuffer and a freshly refreshed one otherwise.
func (s *Service) EnsureValidToken(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) (*Token, error) {
	if expiresAt.After(s.now().Add(RefreshBuffer)) {
		return &Token{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}, nil
	}
	return s.RefreshToken(ctx, refreshToken)
}

// RefreshToken exchanges a refresh token for a new token pair.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, errors.New("refreshing token: no refresh token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient())
	// Without an access token the source always goes to the token endpoint.
	tok, err := s.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tokenExpiry(tok),
		WasRefreshed: true,
	}, nil
}

// AuthCodeURL returns the Strava consent page URL carrying state.
func (s *Service) AuthCodeURL(state string) string {
	return s.OAuth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// ExchangeCode trades an authorization code for a token and the athlete it
// belongs to.
func (s *Service) ExchangeCode(ctx context.Context, code string) (*Token, *AuthAthlete, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient())
	tok, err := s.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchanging code: %w", err)
	}

	raw, ok := tok.Extra("athlete").(map[string]any)
	if !ok {
		return nil, nil, errors.New("exchanging code: no athlete in token response")
	}
	athlete := &AuthAthlete{
		ID:        int64(number(raw["id"])),
		Username:  str(raw["username"]),
		FirstName: str(raw["firstname"]),
		LastName:  str(raw["lastname"]),
		Profile:   str(raw["profile"]),
		City:      str(raw["city"]),
		State:     str(raw["state"]),
		Country:   str(raw["country"]),
	}
	if athlete.ID == 0 {
		return nil, nil, errors.New("exchanging code: athlete has no id")
	}

	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tokenExpiry(tok),
	}, athlete, nil
}

// RevokeToken deauthorizes the app for the athlete owning accessToken.
func (s *Service) RevokeToken(ctx context.Context, accessToken string) error {
	c := client.NewClient(s.BaseURL, s.httpClient())
	req, err := c.NewFormRequest(ctx, http.MethodPost, "/oauth/deauthorize", url.Values{"access_token": {accessToken}})
	if err != nil {
		return fmt.Errorf("creating deauthorize request: %w", err)
	}
	resp, err := c.Do(req, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("deauthorizing: %w", err)
	}
	return nil
}

// tokenExpiry prefers Strava's absolute expires_at over the expiry oauth2
// derives from expires_in.
func tokenExpiry(tok *oauth2.Token) time.Time {
	if v := number(tok.Extra("expires_at")); v > 0 {
		return time.Unix(int64(v), 0)
	}
	return tok.Expiry
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
