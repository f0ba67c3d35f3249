// Package server wires the HTTP handlers into a router.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/lildude/strava-weather/internal/handlers/activities"
	"github.com/lildude/strava-weather/internal/handlers/auth"
	"github.com/lildude/strava-weather/internal/metrics"
	"github.com/lildude/strava-weather/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Handlers are the endpoints the router serves. Auth and Activities need
// Sessions; Metrics may be nil.
type Handlers struct {
	Callback   http.Handler
	Webhook    http.Handler
	Auth       *auth.Handler
	Activities *activities.Handler
	Sessions   middleware.SessionStore
	Metrics    *metrics.Metrics
}

// NewRouter returns the service's routes.
func NewRouter(h Handlers, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimw.Recoverer)

	r.Get("/", indexHandler)
	r.Get("/webhook", h.Callback.ServeHTTP)
	r.Post("/webhook", h.Webhook.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	if h.Auth != nil {
		r.Get("/auth", h.Auth.Connect)
		r.With(middleware.RequireUser(h.Sessions)).Post("/auth/revoke", h.Auth.Revoke)
	}

	if h.Activities != nil {
		r.Route("/activities", func(r chi.Router) {
			r.Use(middleware.RequireUser(h.Sessions))
			r.Use(chimw.Timeout(2 * time.Minute))
			r.Post("/process", h.Activities.ProcessBatch)
			r.Post("/process/{activityId}", h.Activities.ProcessOne)
		})
	}

	return r
}

func indexHandler(w http.ResponseWriter, _ *http.Request) {
	if _, err := w.Write([]byte("Strava Weather")); err != nil {
		logrus.WithError(err).Error("Failed to write index")
	}
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id":  chimw.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("Request handled")
		})
	}
}
