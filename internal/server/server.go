// Package server implements the JSON HTTP surface of the scraping scheduler.
//
// Routes:
//
//	GET/POST   /cron                    → secret-gated dispatch operations
//	GET/POST/DELETE /scheduled-scraping → schedule config CRUD and actions
//	GET/POST   /job-scraping            → ad hoc job execution and status
//	GET/POST   /user-centric-scheduling → session analytics and refresh cadence
//	GET        /health                  → liveness probe
//
// Every response carries {"success": true|false}; failures add "error".
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/jobpulse/scraper-agent/internal/activity"
	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/dispatch"
	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/storage"
	"github.com/jobpulse/scraper-agent/pkg/logger"
)

// Server holds the request handlers' shared dependencies. It is constructed
// once at process start and passed explicitly; there is no global state.
type Server struct {
	repo       storage.Repository
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	tracker    *activity.Tracker
	collectors *collector.Manager
	cronSecret string
	log        *logger.Logger
}

// New returns a configured Server
func New(
	repo storage.Repository,
	eng *engine.Engine,
	disp *dispatch.Dispatcher,
	tracker *activity.Tracker,
	collectors *collector.Manager,
	cronSecret string,
	log *logger.Logger,
) *Server {
	return &Server{
		repo:       repo,
		engine:     eng,
		dispatcher: disp,
		tracker:    tracker,
		collectors: collectors,
		cronSecret: cronSecret,
		log:        log.WithComponent("http"),
	}
}

// Routes mounts all handlers on a fresh mux
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/cron", s.handleCron)
	mux.HandleFunc("/scheduled-scraping", s.handleScheduledScraping)
	mux.HandleFunc("/job-scraping", s.handleJobScraping)
	mux.HandleFunc("/user-centric-scheduling", s.handleUserScheduling)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ok writes a success envelope with the given fields merged in
func ok(w http.ResponseWriter, data map[string]interface{}) {
	payload := map[string]interface{}{"success": true}
	for k, v := range data {
		payload[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

// jsonError writes a failure envelope
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// checkSecret gates the cron endpoint. The compare is constant-time and a
// mismatch reveals nothing about which part of the secret was wrong.
func (s *Server) checkSecret(r *http.Request) bool {
	secret := r.URL.Query().Get("secret")
	if secret == "" {
		secret = r.Header.Get("X-Cron-Secret")
	}
	if secret == "" || s.cronSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.cronSecret)) == 1
}

// decodeBody parses a JSON request body into dst
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
