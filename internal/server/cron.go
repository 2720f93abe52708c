package server

import (
	"net/http"

	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/models"
)

// handleCron serves the secret-gated dispatch operations invoked by the
// external cron service. GET carries operational actions in the query string;
// POST carries manual-equivalent actions in the body.
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if !s.checkSecret(r) {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.cronGet(w, r)
	case http.MethodPost:
		s.cronPost(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) cronGet(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	ctx := r.Context()

	switch action {
	case "run-scheduled":
		batch, err := s.dispatcher.RunDue(ctx)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"batch": batch})

	case "check-due":
		due, err := s.dispatcher.CheckDue(ctx)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"due": due, "count": len(due)})

	case "status":
		status, err := s.dispatcher.Snapshot(ctx)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"status": status})

	default:
		jsonError(w, "unknown action: "+action, http.StatusBadRequest)
	}
}

type cronPostRequest struct {
	Action   string `json:"action"`
	ConfigID *uint  `json:"configId"`
}

func (s *Server) cronPost(w http.ResponseWriter, r *http.Request) {
	var req cronPostRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch req.Action {
	case "trigger-job":
		if req.ConfigID == nil {
			jsonError(w, "configId is required", http.StatusBadRequest)
			return
		}
		cfg, err := s.repo.GetConfigByID(ctx, *req.ConfigID)
		if err != nil {
			jsonError(w, "config not found", http.StatusNotFound)
			return
		}

		// A cron-triggered one-off borrows the config's parameters but does
		// not count as a scheduled run, so next_run stays untouched.
		jobReq := engine.JobRequest{
			Source:     cfg.Source,
			SearchTerm: cfg.SearchTerm,
			Location:   cfg.Location,
			MaxResults: cfg.MaxResults,
			ConfigID:   &cfg.ID,
			Origin:     models.TriggerAPI,
		}
		job, err := s.engine.Run(ctx, jobReq)
		if err != nil && job == nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"job": job})

	case "run-all-due":
		batch, err := s.dispatcher.RunDue(ctx)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"batch": batch})

	default:
		jsonError(w, "unknown action: "+req.Action, http.StatusBadRequest)
	}
}
