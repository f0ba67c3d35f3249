package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lildude/strava-weather/internal/client"
	"github.com/lildude/strava-weather/internal/database"
	"github.com/lildude/strava-weather/internal/logger"
	"github.com/lildude/strava-weather/internal/model"
	"github.com/lildude/strava-weather/internal/pipeline"
	"github.com/lildude/strava-weather/internal/strava"
)

// fakeClock advances only when slept on or when work is simulated.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeProcessor struct {
	results []*pipeline.Result
	// work is how long each attempt takes on the fake clock.
	work  time.Duration
	clock *fakeClock
	calls int
}

func (f *fakeProcessor) ProcessActivity(_ context.Context, activityID int64, _ string, _ bool) *pipeline.Result {
	f.calls++
	if f.clock != nil {
		f.clock.Advance(f.work)
	}
	i := f.calls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	res := *f.results[i]
	res.ActivityID = activityID
	return &res
}

// blockingProcessor hangs like a stalled upstream until its context ends.
type blockingProcessor struct {
	mu          sync.Mutex
	calls       int
	hadDeadline bool
}

func (b *blockingProcessor) ProcessActivity(ctx context.Context, activityID int64, _ string, _ bool) *pipeline.Result {
	b.mu.Lock()
	b.calls++
	_, b.hadDeadline = ctx.Deadline()
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return &pipeline.Result{ActivityID: activityID, Error: ctx.Err().Error(), Err: ctx.Err()}
	case <-time.After(5 * time.Second):
		return &pipeline.Result{ActivityID: activityID, Success: true}
	}
}

type fakeUsers struct {
	users   map[int64]*model.User
	deleted []int64
	err     error
}

func (f *fakeUsers) FindUserByAthleteID(_ context.Context, athleteID int64) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[athleteID]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) DeleteUserByAthleteID(_ context.Context, athleteID int64) error {
	if _, ok := f.users[athleteID]; !ok {
		return database.ErrUserNotFound
	}
	delete(f.users, athleteID)
	f.deleted = append(f.deleted, athleteID)
	return nil
}

func knownUsers() *fakeUsers {
	return &fakeUsers{users: map[int64]*model.User{
		98765: {ID: "user-1", StravaAthleteID: 98765, WeatherEnabled: true},
		11111: {ID: "user-2", StravaAthleteID: 11111, WeatherEnabled: false},
	}}
}

var notFound = &pipeline.Result{
	Error: "activity 123456 not found: 404 Not Found",
	Err:   fmt.Errorf("activity 123456 not found: %w", &client.APIError{StatusCode: 404, Status: "Not Found"}),
}

func createEvent(owner int64) string {
	return fmt.Sprintf(`{"object_type":"activity","object_id":123456,"aspect_type":"create","owner_id":%d,"subscription_id":1,"event_time":1715338800}`, owner)
}

func post(t *testing.T, h http.Handler, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("expected a JSON body, got error %v", err)
	}
	return w.Code, got
}

func TestHandlerAcknowledgesWithoutProcessing(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{"empty body", ``, "Event received"},
		{"invalid JSON", `{"foo: "bar"}`, "Event received"},
		{"missing fields", `{"aspect_type":"create"}`, "Event received"},
		{"activity update", `{"object_type":"activity","object_id":1,"aspect_type":"update","owner_id":98765}`, "Event ignored"},
		{"activity delete", `{"object_type":"activity","object_id":1,"aspect_type":"delete","owner_id":98765}`, "Event ignored"},
		{"athlete update", `{"object_type":"athlete","object_id":98765,"aspect_type":"update","owner_id":98765,"updates":{"title":"x"}}`, "Event ignored"},
		{"unknown athlete", createEvent(22222), "User not found"},
		{"weather disabled", createEvent(11111), "Weather updates disabled"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeProcessor{results: []*pipeline.Result{{Success: true}}}
			h := New(p, knownUsers(), DefaultRetryPolicy(), logger.Discard())

			code, got := post(t, h, tc.body)
			if code != http.StatusOK {
				t.Errorf("expected 200, got %d", code)
			}
			if got["message"] != tc.wantMessage {
				t.Errorf("expected message %q, got %v", tc.wantMessage, got["message"])
			}
			if _, ok := got["attempts"]; ok {
				t.Errorf("expected no processing fields, got %v", got)
			}
			if p.calls != 0 {
				t.Errorf("expected no pipeline calls, got %d", p.calls)
			}
		})
	}
}

func TestHandlerStoreErrorIsAcknowledged(t *testing.T) {
	p := &fakeProcessor{results: []*pipeline.Result{{Success: true}}}
	h := New(p, &fakeUsers{err: errors.New("connection refused")}, DefaultRetryPolicy(), logger.Discard())

	code, _ := post(t, h, createEvent(98765))
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if p.calls != 0 {
		t.Errorf("expected no pipeline calls, got %d", p.calls)
	}
}

func TestHandlerDeauthorization(t *testing.T) {
	users := knownUsers()
	p := &fakeProcessor{results: []*pipeline.Result{{Success: true}}}
	h := New(p, users, DefaultRetryPolicy(), logger.Discard())

	body := `{"object_type":"athlete","object_id":98765,"aspect_type":"update","owner_id":98765,"updates":{"authorized":"false"}}`
	code, got := post(t, h, body)
	if code != http.StatusOK || got["message"] != "Athlete deauthorized" {
		t.Errorf("expected 200 deauthorized, got %d %v", code, got)
	}
	if len(users.deleted) != 1 || users.deleted[0] != 98765 {
		t.Errorf("expected athlete 98765 to be deleted, got %v", users.deleted)
	}

	// A second delivery for the now unknown athlete is still fine.
	if code, _ := post(t, h, body); code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestHandlerProcessesActivity(t *testing.T) {
	tests := []struct {
		name         string
		result       *pipeline.Result
		wantMessage  string
		wantSuccess  bool
		wantSkipped  bool
		wantAttempts float64
	}{
		{"success", &pipeline.Result{Success: true}, "Activity processed", true, false, 1},
		{"skipped", &pipeline.Result{Success: true, Skipped: true, Reason: pipeline.ReasonHasWeather}, "Activity skipped", true, true, 1},
		{"no GPS", &pipeline.Result{Skipped: true, Reason: pipeline.ReasonNoGPS}, "Activity skipped", false, true, 1},
		{
			"unauthorized is not retried",
			&pipeline.Result{Error: "401 Unauthorized", Err: &client.APIError{StatusCode: 401, Status: "Unauthorized"}},
			"Activity processing failed", false, false, 1,
		},
		{
			"unknown user is not retried",
			&pipeline.Result{Error: pipeline.ErrorNoUser, Err: database.ErrUserNotFound},
			"Activity processing failed", false, false, 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			p := &fakeProcessor{results: []*pipeline.Result{tc.result}}
			h := New(p, knownUsers(), DefaultRetryPolicy(), logger.Discard(), WithClock(clock.Now, clock.Sleep))

			code, got := post(t, h, createEvent(98765))
			if code != http.StatusOK {
				t.Errorf("expected 200, got %d", code)
			}
			if got["message"] != tc.wantMessage {
				t.Errorf("expected message %q, got %v", tc.wantMessage, got["message"])
			}
			if got["success"] != tc.wantSuccess || got["skipped"] != tc.wantSkipped {
				t.Errorf("expected success=%v skipped=%v, got %v", tc.wantSuccess, tc.wantSkipped, got)
			}
			if got["attempts"] != tc.wantAttempts {
				t.Errorf("expected %v attempts, got %v", tc.wantAttempts, got["attempts"])
			}
			if got["activityId"] != float64(123456) {
				t.Errorf("expected activityId 123456, got %v", got["activityId"])
			}
			if _, ok := got["processingTimeMs"]; !ok {
				t.Error("expected processingTimeMs")
			}
			if len(clock.sleeps) != 0 {
				t.Errorf("expected no retries, got sleeps %v", clock.sleeps)
			}
		})
	}
}

func TestRetryBound(t *testing.T) {
	clock := newFakeClock()
	p := &fakeProcessor{results: []*pipeline.Result{notFound}}
	h := New(p, knownUsers(), DefaultRetryPolicy(), logger.Discard(), WithClock(clock.Now, clock.Sleep))

	code, got := post(t, h, createEvent(98765))
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if p.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", p.calls)
	}
	if got["attempts"] != float64(3) || got["success"] != false {
		t.Errorf("unexpected summary %v", got)
	}
	want := []time.Duration{1500 * time.Millisecond, 3 * time.Second}
	if len(clock.sleeps) != 2 || clock.sleeps[0] != want[0] || clock.sleeps[1] != want[1] {
		t.Errorf("expected backoff %v, got %v", want, clock.sleeps)
	}
	if got["processingTimeMs"] != float64(4500) {
		t.Errorf("expected 4500ms, got %v", got["processingTimeMs"])
	}
}

func TestRetryRecovers(t *testing.T) {
	clock := newFakeClock()
	p := &fakeProcessor{results: []*pipeline.Result{notFound, {Success: true}}}
	h := New(p, knownUsers(), DefaultRetryPolicy(), logger.Discard(), WithClock(clock.Now, clock.Sleep))

	_, got := post(t, h, createEvent(98765))
	if p.calls != 2 || got["success"] != true || got["attempts"] != float64(2) {
		t.Errorf("expected success on the second attempt, got %d calls and %v", p.calls, got)
	}
}

func TestRetryTextFallback(t *testing.T) {
	clock := newFakeClock()
	p := &fakeProcessor{results: []*pipeline.Result{{Error: "Record Not Found"}}}
	h := New(p, knownUsers(), DefaultRetryPolicy(), logger.Discard(), WithClock(clock.Now, clock.Sleep))

	post(t, h, createEvent(98765))
	if p.calls != 3 {
		t.Errorf("expected an unstructured not found error to be retried, got %d calls", p.calls)
	}
}

func TestRetryBudget(t *testing.T) {
	tests := []struct {
		name         string
		work         time.Duration
		budget       time.Duration
		wantAttempts int
	}{
		{"instant attempts fit the budget", 0, 8 * time.Second, 3},
		{"slow attempts exhaust the budget", 2 * time.Second, 8 * time.Second, 2},
		{"tight budget", 0, time.Second, 1},
		{"budget leaves room for one retry", 0, 4 * time.Second, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			p := &fakeProcessor{results: []*pipeline.Result{notFound}, work: tc.work, clock: clock}
			policy := DefaultRetryPolicy()
			policy.Budget = tc.budget
			h := New(p, knownUsers(), policy, logger.Discard(), WithClock(clock.Now, clock.Sleep))

			start := clock.Now()
			code, got := post(t, h, createEvent(98765))
			if code != http.StatusOK {
				t.Errorf("expected 200, got %d", code)
			}
			if p.calls != tc.wantAttempts {
				t.Errorf("expected %d attempts, got %d", tc.wantAttempts, p.calls)
			}
			if got["attempts"] != float64(tc.wantAttempts) {
				t.Errorf("expected attempts %d in summary, got %v", tc.wantAttempts, got["attempts"])
			}
			// No attempt starts after the budget is spent.
			var waited time.Duration
			for _, d := range clock.sleeps {
				waited += d
			}
			if waited+time.Duration(p.calls-1)*tc.work > tc.budget {
				t.Errorf("started an attempt after %s, budget %s", waited, tc.budget)
			}
			if clock.Now().Sub(start) > tc.budget+tc.work {
				t.Errorf("took %s, budget %s", clock.Now().Sub(start), tc.budget)
			}
		})
	}
}

func TestBudgetBoundsAttemptInFlight(t *testing.T) {
	p := &blockingProcessor{}
	policy := DefaultRetryPolicy()
	policy.Budget = 200 * time.Millisecond
	h := New(p, knownUsers(), policy, logger.Discard())

	start := time.Now()
	code, got := post(t, h, createEvent(98765))
	elapsed := time.Since(start)

	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if elapsed > 2*time.Second {
		t.Errorf("expected the answer within the budget, took %v", elapsed)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hadDeadline {
		t.Error("expected the attempt to run with a deadline")
	}
	if p.calls != 1 {
		t.Errorf("expected no retry after the budget ran out, got %d attempts", p.calls)
	}
	if got["success"] != false {
		t.Errorf("expected a failed summary, got %v", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		res  *pipeline.Result
		want bool
	}{
		{notFound, true},
		{&pipeline.Result{Error: "404"}, true},
		{&pipeline.Result{Error: "activity not found"}, true},
		{&pipeline.Result{Error: "boom"}, false},
		{&pipeline.Result{Error: pipeline.ErrorNoUser, Err: database.ErrUserNotFound}, false},
		{&pipeline.Result{Error: "429", Err: &client.APIError{StatusCode: 429}}, false},
		{&pipeline.Result{Error: "x", Err: fmt.Errorf("wrapped: %w", strava.ErrNotFound)}, true},
	}
	for _, tc := range tests {
		if got := retryable(tc.res); got != tc.want {
			t.Errorf("retryable(%q) = %v, want %v", tc.res.Error, got, tc.want)
		}
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Delays: []time.Duration{time.Second, 2 * time.Second}}
	for attempts, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 5: 2 * time.Second} {
		if got := p.delay(attempts); got != want {
			t.Errorf("delay(%d) = %s, want %s", attempts, got, want)
		}
	}
	if got := (RetryPolicy{}).delay(1); got != 0 {
		t.Errorf("expected no delay without delays, got %s", got)
	}
}
