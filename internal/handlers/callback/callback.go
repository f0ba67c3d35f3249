// Package callback implements the verification handshake for the Strava
// webhook subscription.
package callback

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Handler answers Strava's subscription challenge. The challenge, empty or
// not, is echoed back only when hub.mode is "subscribe" and
// hub.verify_token matches verifyToken.
func Handler(verifyToken string, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode := q.Get("hub.mode")
		token := q.Get("hub.verify_token")
		challenge := q.Get("hub.challenge")

		w.Header().Set("Content-Type", "application/json")

		if mode != "subscribe" || verifyToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
			log.WithField("mode", mode).Warn("Webhook verification failed")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "Verification failed"}) //nolint:errcheck,gosec
			return
		}

		log.Info("Webhook verified")
		if err := json.NewEncoder(w).Encode(map[string]string{"hub.challenge": challenge}); err != nil {
			log.WithError(err).Error("encoding callback response")
		}
	}
}
