// Package webhook receives Strava webhook events and adds weather to newly
// created activities.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/lildude/strava-weather/internal/database"
	"github.com/lildude/strava-weather/internal/metrics"
	"github.com/lildude/strava-weather/internal/model"
	"github.com/lildude/strava-weather/internal/pipeline"
	"github.com/lildude/strava-weather/internal/strava"
	"github.com/sirupsen/logrus"
)

const maxBodySize = 1 << 20

type Processor interface {
	ProcessActivity(ctx context.Context, activityID int64, userID string, force bool) *pipeline.Result
}

type UserStore interface {
	FindUserByAthleteID(ctx context.Context, athleteID int64) (*model.User, error)
	DeleteUserByAthleteID(ctx context.Context, athleteID int64) error
}

// RetryPolicy bounds how hard we try to process an activity Strava has not
// finished saving yet.
type RetryPolicy struct {
	MaxAttempts int
	// Budget is the wall clock time, from the start of the request, after
	// which no further attempt is started.
	Budget time.Duration
	// Delays are the waits before the second, third, ... attempt. The last
	// delay repeats.
	Delays []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Budget:      8 * time.Second,
		Delays:      []time.Duration{1500 * time.Millisecond, 3 * time.Second},
	}
}

// delay returns the wait after the given number of attempts.
func (p RetryPolicy) delay(attempts int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempts > len(p.Delays) {
		attempts = len(p.Delays)
	}
	return p.Delays[attempts-1]
}

// Summary is the acknowledgement sent for an event that was processed.
type Summary struct {
	Message          string `json:"message"`
	ActivityID       int64  `json:"activityId"`
	Attempts         int    `json:"attempts"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	Success          bool   `json:"success"`
	Skipped          bool   `json:"skipped"`
	Reason           string `json:"reason,omitempty"`
	Error            string `json:"error,omitempty"`
}

type Handler struct {
	processor Processor
	users     UserStore
	policy    RetryPolicy
	log       logrus.FieldLogger
	metrics   *metrics.Metrics

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock replaces the clock and the sleep between attempts.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) Option {
	return func(h *Handler) {
		h.now = now
		h.sleep = sleep
	}
}

func New(processor Processor, users UserStore, policy RetryPolicy, log logrus.FieldLogger, opts ...Option) *Handler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Budget <= 0 {
		policy.Budget = DefaultRetryPolicy().Budget
	}
	h := &Handler{
		processor: processor,
		users:     users,
		policy:    policy,
		log:       log,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP always answers 200. Strava redelivers anything else, so failures
// are only logged and reported in the body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.log.WithError(err).Error("unable to read webhook payload")
		h.metrics.WebhookEvent("unknown", "unknown", "invalid")
		h.ack(w, "Event received")
		return
	}

	var event strava.WebhookPayload
	if err := json.Unmarshal(body, &event); err != nil || !event.Valid() {
		h.log.WithError(err).WithField("body", truncate(body)).Warn("Ignoring malformed webhook payload")
		h.metrics.WebhookEvent(label(event.ObjectType), label(event.AspectType), "invalid")
		h.ack(w, "Event received")
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"object_type": event.ObjectType,
		"aspect_type": event.AspectType,
		"object_id":   event.ObjectID,
		"athlete_id":  event.OwnerID,
	})
	// The work continues even if Strava hangs up, but no longer than the
	// budget, including any attempt still in flight.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.policy.Budget)
	defer cancel()

	if event.IsDeauthorization() {
		h.deauthorize(ctx, log, event.OwnerID)
		h.metrics.WebhookEvent(label(event.ObjectType), label(event.AspectType), "deauthorized")
		h.ack(w, "Athlete deauthorized")
		return
	}

	if !event.IsActivityCreate() {
		log.Info("Ignoring event")
		h.metrics.WebhookEvent(label(event.ObjectType), label(event.AspectType), "ignored")
		h.ack(w, "Event ignored")
		return
	}

	user, err := h.users.FindUserByAthleteID(ctx, event.OwnerID)
	if errors.Is(err, database.ErrUserNotFound) {
		log.Info("Ignoring event for unknown athlete")
		h.metrics.WebhookEvent(label(event.ObjectType), label(event.AspectType), "unknown_user")
		h.ack(w, "User not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to look up athlete")
		h.metrics.WebhookEvent(label(event.ObjectType), label(event.AspectType), "error")
		h.ack(w, "Event received")
		return
	}
	if !user.WeatherEnabled {
		log.Info("Ignoring event, weather updates disabled")
		h.metrics.WebhookEvent(label(event.ObjectType), label(event.AspectType), "disabled")
		h.ack(w, pipeline.ReasonDisabled)
		return
	}

	res, attempts := h.process(ctx, log, start, event.ObjectID, user.ID)
	h.metrics.WebhookAttempts(attempts)
	h.metrics.WebhookEvent(label(event.ObjectType), label(event.AspectType), res.Status())

	summary := Summary{
		ActivityID:       event.ObjectID,
		Attempts:         attempts,
		ProcessingTimeMs: h.now().Sub(start).Milliseconds(),
		Success:          res.Success,
		Skipped:          res.Skipped,
		Reason:           res.Reason,
		Error:            res.Error,
	}
	switch res.Status() {
	case "success":
		summary.Message = "Activity processed"
	case "skipped":
		summary.Message = "Activity skipped"
	default:
		summary.Message = "Activity processing failed"
	}
	log.WithFields(logrus.Fields{
		"attempts":           attempts,
		"processing_time_ms": summary.ProcessingTimeMs,
		"status":             res.Status(),
	}).Info("Webhook event handled")

	h.write(w, summary)
}

// process runs the pipeline until it succeeds, skips, fails for good, or
// the attempts or time budget run out. Only a missing activity is retried:
// Strava can send the event before the activity is readable.
func (h *Handler) process(ctx context.Context, log logrus.FieldLogger, start time.Time, activityID int64, userID string) (*pipeline.Result, int) {
	var (
		res      *pipeline.Result
		attempts int
	)
	for {
		attempts++
		res = h.processor.ProcessActivity(ctx, activityID, userID, false)
		if res.Success || res.Skipped || !retryable(res) || attempts >= h.policy.MaxAttempts {
			return res, attempts
		}

		delay := h.policy.delay(attempts)
		if ctx.Err() != nil || h.now().Sub(start)+delay > h.policy.Budget {
			log.WithField("attempts", attempts).Warn("Retry budget exhausted")
			return res, attempts
		}
		log.WithFields(logrus.Fields{"attempt": attempts, "delay": delay.String()}).Info("Activity not found yet, retrying")
		h.sleep(ctx, delay)
	}
}

var notFoundText = regexp.MustCompile(`(?i)not found|\b404\b`)

// retryable reports whether res failed because the activity wasn't found.
// Errors without structure fall back to their text.
func retryable(res *pipeline.Result) bool {
	if res.Err != nil {
		return errors.Is(res.Err, strava.ErrNotFound)
	}
	return notFoundText.MatchString(res.Error)
}

func (h *Handler) deauthorize(ctx context.Context, log logrus.FieldLogger, athleteID int64) {
	err := h.users.DeleteUserByAthleteID(ctx, athleteID)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
		log.Info("Deauthorization for unknown athlete")
	case err != nil:
		log.WithError(err).Error("Failed to delete deauthorized athlete")
	default:
		log.Info("Deleted deauthorized athlete")
	}
}

func (h *Handler) ack(w http.ResponseWriter, message string) {
	h.write(w, map[string]string{"message": message})
}

func (h *Handler) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("encoding webhook response")
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// label keeps metric labels to the values Strava documents.
func label(s string) string {
	switch s {
	case strava.ObjectTypeActivity, strava.ObjectTypeAthlete,
		strava.AspectTypeCreate, strava.AspectTypeUpdate, strava.AspectTypeDelete:
		return s
	}
	return "unknown"
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
