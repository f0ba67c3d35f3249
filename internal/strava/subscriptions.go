package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lildude/strava-weather/internal/client"
)

// Subscription is a webhook push subscription. Strava allows one per app.
type Subscription struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	CallbackURL   string    `json:"callback_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Service) appCredentials() url.Values {
	return url.Values{
		"client_id":     {s.OAuth.ClientID},
		"client_secret": {s.OAuth.ClientSecret},
	}
}

// ListSubscriptions returns the app's push subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	c := client.NewClient(s.BaseURL, s.httpClient())
	req, err := c.NewRequest(ctx, http.MethodGet, "/api/v3/push_subscriptions?"+s.appCredentials().Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating list subscriptions request: %w", err)
	}

	var subs []Subscription
	resp, err := c.Do(req, &subs)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return subs, nil
}

// CreateSubscription registers callbackURL. Strava validates it synchronously
// by calling it with verifyToken before responding.
func (s *Service) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (*Subscription, error) {
	form := s.appCredentials()
	form.Set("callback_url", callbackURL)
	form.Set("verify_token", verifyToken)

	c := client.NewClient(s.BaseURL, s.httpClient())
	req, err := c.NewFormRequest(ctx, http.MethodPost, "/api/v3/push_subscriptions", form)
	if err != nil {
		return nil, fmt.Errorf("creating subscribe request: %w", err)
	}

	var sub Subscription
	resp, err := c.Do(req, &sub)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	sub.CallbackURL = callbackURL
	return &sub, nil
}

// DeleteSubscription removes the subscription with the given id.
func (s *Service) DeleteSubscription(ctx context.Context, id int64) error {
	c := client.NewClient(s.BaseURL, s.httpClient())
	req, err := c.NewRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v3/push_subscriptions/%d?%s", id, s.appCredentials().Encode()), nil)
	if err != nil {
		return fmt.Errorf("creating delete subscription request: %w", err)
	}

	resp, err := c.Do(req, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("deleting subscription %d: %w", id, err)
	}
	return nil
}
