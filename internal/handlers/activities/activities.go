// Package activities implements the API for adding weather to activities on
// demand.
package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lildude/strava-weather/internal/middleware"
	"github.com/lildude/strava-weather/internal/pipeline"
	"github.com/lildude/strava-weather/internal/strava"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxBatch is the most activities one batch request may name.
	MaxBatch = 50
	// batchConcurrency bounds parallel pipeline runs per batch request.
	batchConcurrency = 4
)

type Processor interface {
	ProcessActivity(ctx context.Context, activityID int64, userID string, force bool) *pipeline.Result
}

type Handler struct {
	processor Processor
	log       logrus.FieldLogger
}

func New(processor Processor, log logrus.FieldLogger) *Handler {
	return &Handler{processor: processor, log: log}
}

type processRequest struct {
	ForceUpdate bool `json:"forceUpdate"`
}

type batchRequest struct {
	ActivityIDs []int64 `json:"activityIds"`
	ForceUpdate bool    `json:"forceUpdate"`
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ProcessOne handles POST /activities/process/{activityId}.
func (h *Handler) ProcessOne(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "activityId"), 10, 64)
	if err != nil || id <= 0 {
		h.error(w, http.StatusBadRequest, "Invalid activity ID", "invalid_request")
		return
	}

	var req processRequest
	if err := decode(r, &req); err != nil {
		h.error(w, http.StatusBadRequest, "Invalid request body", "invalid_request")
		return
	}

	userID := middleware.UserID(r.Context())
	res := h.processor.ProcessActivity(r.Context(), id, userID, req.ForceUpdate)

	if !res.Success && !res.Skipped {
		status, code := classify(res)
		h.log.WithFields(logrus.Fields{"activity_id": id, "user_id": userID, "status": status}).
			Warn("Manual activity processing failed")
		h.error(w, status, res.Error, code)
		return
	}

	message := "Activity processed successfully"
	if res.Skipped {
		message = fmt.Sprintf("Activity skipped: %s", res.Reason)
	}
	h.write(w, http.StatusOK, response{Success: true, Message: message, Data: resultData(res)})
}

// ProcessBatch handles POST /activities/process with a list of activity ids.
// Every id gets a result; the request itself only fails when malformed.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		h.error(w, http.StatusBadRequest, "Invalid request body", "invalid_request")
		return
	}
	if len(req.ActivityIDs) == 0 {
		h.error(w, http.StatusBadRequest, "activityIds is required", "invalid_request")
		return
	}
	if len(req.ActivityIDs) > MaxBatch {
		h.error(w, http.StatusBadRequest, fmt.Sprintf("At most %d activities can be processed at once", MaxBatch), "invalid_request")
		return
	}

	userID := middleware.UserID(r.Context())
	results := make([]*pipeline.Result, len(req.ActivityIDs))

	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(batchConcurrency)
	for i, id := range req.ActivityIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = h.processor.ProcessActivity(ctx, id, userID, req.ForceUpdate)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	var summary batchSummary
	summary.Total = len(results)
	for _, res := range results {
		switch res.Status() {
		case "success":
			summary.Succeeded++
		case "skipped":
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	h.log.WithFields(logrus.Fields{
		"user_id":   userID,
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	}).Info("Processed activity batch")

	h.write(w, http.StatusOK, response{
		Success: true,
		Message: fmt.Sprintf("Processed %d activities", summary.Total),
		Data:    map[string]any{"results": results, "summary": summary},
	})
}

type batchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func resultData(res *pipeline.Result) map[string]any {
	data := map[string]any{"activityId": res.ActivityID}
	if res.WeatherData != nil {
		data["weatherData"] = res.WeatherData
	}
	if res.Skipped {
		data["skipped"] = true
		data["reason"] = res.Reason
	}
	return data
}

var (
	notFoundText     = regexp.MustCompile(`(?i)not found|\b404\b`)
	unauthorizedText = regexp.MustCompile(`(?i)unauthori[sz]ed|\b401\b|\b403\b`)
	rateLimitText    = regexp.MustCompile(`(?i)rate limit|too many requests|\b429\b`)
)

// classify maps a failed result to an HTTP status and error code.
func classify(res *pipeline.Result) (int, string) {
	switch {
	case errors.Is(res.Err, strava.ErrNotFound) || notFoundText.MatchString(res.Error):
		return http.StatusNotFound, "not_found"
	case errors.Is(res.Err, strava.ErrUnauthorized) || unauthorizedText.MatchString(res.Error):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(res.Err, strava.ErrRateLimited) || rateLimitText.MatchString(res.Error):
		return http.StatusTooManyRequests, "rate_limited"
	}
	return http.StatusBadRequest, "processing_failed"
}

// decode reads an optional JSON body into v.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) error(w http.ResponseWriter, status int, message, code string) {
	h.write(w, status, errorResponse{Error: errorBody{Message: message, Code: code}})
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("encoding response")
	}
}
