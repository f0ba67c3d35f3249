// Package strava implements the parts of the Strava API needed to annotate
// activities with weather: activities, OAuth tokens and push subscriptions.
package strava

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lildude/strava-weather/internal/client"
)

// Errors callers can match with errors.Is against anything this package returns.
var (
	ErrNotFound     = client.ErrNotFound
	ErrUnauthorized = client.ErrUnauthorized
	ErrRateLimited  = client.ErrRateLimited
)

// Webhook object and aspect types.
// https://developers.strava.com/docs/webhooks/#event-data
const (
	ObjectTypeActivity = "activity"
	ObjectTypeAthlete  = "athlete"
	AspectTypeCreate   = "create"
	AspectTypeUpdate   = "update"
	AspectTypeDelete   = "delete"
)

// Activity struct holds only the data we want from the Strava API for an activity.
type Activity struct {
	Athlete        Athlete   `json:"athlete"`
	Description    string    `json:"description"`
	ElapsedTime    int64     `json:"elapsed_time"`
	ID             int64     `json:"id"`
	Manual         bool      `json:"manual"`
	Name           string    `json:"name"`
	SportType      string    `json:"sport_type"`
	StartDate      time.Time `json:"start_date"`
	StartDateLocal time.Time `json:"start_date_local"`
	StartLatlng    []float64 `json:"start_latlng"`
	Timezone       string    `json:"timezone"`
	Trainer        bool      `json:"trainer"`
	Type           string    `json:"type"`
}

type Athlete struct {
	ID int64 `json:"id"`
}

// UpdatableActivity holds the fields we write back. Only the description is
// ever changed.
type UpdatableActivity struct {
	Description string `json:"description,omitempty"`
}

type WebhookPayload struct {
	AspectType     string  `json:"aspect_type"`
	EventTime      int64   `json:"event_time"`
	ObjectID       int64   `json:"object_id"`
	ObjectType     string  `json:"object_type"`
	OwnerID        int64   `json:"owner_id"`
	SubscriptionID int64   `json:"subscription_id"`
	Updates        Updates `json:"updates"`
}

type Updates struct {
	Authorized string `json:"authorized,omitempty"`
	Private    string `json:"private,omitempty"`
	Title      string `json:"title,omitempty"`
	Type       string `json:"type,omitempty"`
}

// Valid reports whether the payload carries the fields every event has.
func (p *WebhookPayload) Valid() bool {
	return p.ObjectType != "" && p.AspectType != "" && p.ObjectID > 0 && p.OwnerID > 0
}

// IsActivityCreate reports whether the event announces a new activity.
func (p *WebhookPayload) IsActivityCreate() bool {
	return p.ObjectType == ObjectTypeActivity && p.AspectType == AspectTypeCreate
}

// IsDeauthorization reports whether the athlete revoked our access.
func (p *WebhookPayload) IsDeauthorization() bool {
	return p.ObjectType == ObjectTypeAthlete && p.AspectType == AspectTypeUpdate && p.Updates.Authorized == "false"
}

// HasLatLng reports whether the activity carries a usable start position.
func (a *Activity) HasLatLng() bool {
	return len(a.StartLatlng) == 2
}

func GetActivity(ctx context.Context, c *client.Client, id int64) (*Activity, error) {
	var a Activity
	req, err := c.NewRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v3/activities/%d", id), nil)
	if err != nil {
		return nil, fmt.Errorf("creating get activity request: %w", err)
	}

	resp, err := c.Do(req, &a)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("getting activity %d: %w", id, err)
	}

	return &a, nil
}

func UpdateActivity(ctx context.Context, c *client.Client, id int64, ua *UpdatableActivity) (*Activity, error) {
	var a Activity
	req, err := c.NewRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v3/activities/%d", id), ua)
	if err != nil {
		return nil, fmt.Errorf("creating update activity request: %w", err)
	}

	resp, err := c.Do(req, &a)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("updating activity %d: %w", id, err)
	}

	return &a, nil
}
