// Package subscription manages the app's single Strava webhook
// subscription.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/lildude/strava-weather/internal/strava"
	"github.com/sirupsen/logrus"
)

var ErrNoSubscription = errors.New("no webhook subscription")

type API interface {
	ListSubscriptions(ctx context.Context) ([]strava.Subscription, error)
	CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (*strava.Subscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
}

type Manager struct {
	api         API
	callbackURL string
	verifyToken string
	httpClient  *http.Client
	log         logrus.FieldLogger
}

// NewManager returns a Manager for a subscription delivering to callbackURL.
// If httpClient is nil a client with a 10 second timeout is used for the
// reachability check.
func NewManager(api API, callbackURL, verifyToken string, httpClient *http.Client, log logrus.FieldLogger) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Manager{
		api:         api,
		callbackURL: callbackURL,
		verifyToken: verifyToken,
		httpClient:  httpClient,
		log:         log,
	}
}

// Status returns the current subscription or ErrNoSubscription.
func (m *Manager) Status(ctx context.Context) (*strava.Subscription, error) {
	subs, err := m.api.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscription
	}
	return &subs[0], nil
}

// EnsureSubscription creates the subscription unless one exists. Strava
// allows one per app, so an existing subscription for another callback URL
// is returned as is. It reports whether a subscription was created.
func (m *Manager) EnsureSubscription(ctx context.Context) (*strava.Subscription, bool, error) {
	sub, err := m.Status(ctx)
	switch {
	case err == nil:
		if sub.CallbackURL != m.callbackURL {
			m.log.WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"callback_url":    sub.CallbackURL,
			}).Warn("Existing webhook subscription points elsewhere")
		}
		return sub, false, nil
	case !errors.Is(err, ErrNoSubscription):
		return nil, false, fmt.Errorf("checking subscription: %w", err)
	}

	if m.callbackURL == "" {
		return nil, false, errors.New("no callback URL configured")
	}
	if err := m.VerifyCallback(ctx); err != nil {
		return nil, false, err
	}

	sub, err = m.api.CreateSubscription(ctx, m.callbackURL, m.verifyToken)
	if err != nil {
		return nil, false, err
	}
	m.log.WithField("subscription_id", sub.ID).Info("Created webhook subscription")
	return sub, true, nil
}

// VerifyCallback performs the same handshake Strava will, against our own
// public callback URL, so a subscription is only requested when it can
// succeed.
func (m *Manager) VerifyCallback(ctx context.Context) error {
	u, err := url.Parse(m.callbackURL)
	if err != nil {
		return fmt.Errorf("parsing callback URL: %w", err)
	}
	challenge := uuid.NewString()
	q := u.Query()
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", m.verifyToken)
	q.Set("hub.challenge", challenge)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("creating verification request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback URL unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback verification returned %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding callback verification: %w", err)
	}
	if body["hub.challenge"] != challenge {
		return errors.New("callback verification echoed the wrong challenge")
	}
	return nil
}

// Run ensures the subscription exists, logging rather than returning any
// failure. Without a subscription activities can still be processed by hand.
func (m *Manager) Run(ctx context.Context) {
	sub, created, err := m.EnsureSubscription(ctx)
	if err != nil {
		m.log.WithError(err).Error("Failed to ensure webhook subscription")
		return
	}
	if !created {
		m.log.WithField("subscription_id", sub.ID).Info("Webhook subscription exists")
	}
}

// Delete removes the subscription.
func (m *Manager) Delete(ctx context.Context) (*strava.Subscription, error) {
	sub, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.api.DeleteSubscription(ctx, sub.ID); err != nil {
		return nil, err
	}
	m.log.WithField("subscription_id", sub.ID).Info("Deleted webhook subscription")
	return sub, nil
}
