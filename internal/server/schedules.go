package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
)

// handleScheduledScraping serves schedule config management for the dashboard
func (s *Server) handleScheduledScraping(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.schedulesGet(w, r)
	case http.MethodPost:
		s.schedulesPost(w, r)
	case http.MethodDelete:
		s.schedulesDelete(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) schedulesGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if raw := r.URL.Query().Get("configId"); raw != "" {
		id, err := parseConfigID(raw)
		if err != nil {
			jsonError(w, "invalid configId", http.StatusBadRequest)
			return
		}
		cfg, err := s.repo.GetConfigByID(ctx, id)
		if err != nil {
			jsonError(w, "config not found", http.StatusNotFound)
			return
		}
		logs, err := s.repo.ListLogs(ctx, id, 20)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"config": cfg, "logs": logs})
		return
	}

	filter := storage.DefaultConfigFilter()
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled := raw == "true"
		filter.Enabled = &enabled
	}
	configs, err := s.repo.ListConfigs(ctx, filter)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ok(w, map[string]interface{}{"configs": configs, "count": len(configs)})
}

// schedulePostRequest covers every POST action; pointer fields distinguish
// "absent" from "zero" on updates.
type schedulePostRequest struct {
	Action     string  `json:"action"`
	ConfigID   *uint   `json:"configId"`
	Name       *string `json:"name"`
	Source     *string `json:"source"`
	SearchTerm *string `json:"searchTerm"`
	Location   *string `json:"location"`
	MaxResults *int    `json:"maxResults"`
	Cadence    *string `json:"cadence"`
	Enabled    *bool   `json:"enabled"`
}

func (s *Server) schedulesPost(w http.ResponseWriter, r *http.Request) {
	var req schedulePostRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "create":
		s.createSchedule(w, r, req)
	case "update":
		s.updateSchedule(w, r, req)
	case "toggle":
		s.toggleSchedule(w, r, req)
	case "run-now":
		s.runScheduleNow(w, r, req)
	case "run-all":
		batch, err := s.dispatcher.RunDue(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"batch": batch})
	case "initialize":
		created, err := s.dispatcher.SeedDefaults(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"created": created})
	default:
		jsonError(w, "unknown action: "+req.Action, http.StatusBadRequest)
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request, req schedulePostRequest) {
	ctx := r.Context()

	cfg := &models.ScheduleConfig{
		Cadence:    models.CadenceDaily,
		MaxResults: 25,
		Enabled:    true,
	}
	if req.Name != nil {
		cfg.Name = *req.Name
	}
	if req.Source != nil {
		cfg.Source = *req.Source
	}
	if req.SearchTerm != nil {
		cfg.SearchTerm = *req.SearchTerm
	}
	if req.Location != nil {
		cfg.Location = *req.Location
	}
	if req.MaxResults != nil {
		cfg.MaxResults = *req.MaxResults
	}
	if req.Cadence != nil {
		cadence, err := models.ParseCadence(*req.Cadence)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Cadence = cadence
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if err := cfg.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.collectors.Has(cfg.Source) {
		jsonError(w, "unknown source: "+cfg.Source, http.StatusBadRequest)
		return
	}

	if cfg.Enabled {
		cfg.NextRun = cfg.Cadence.NextAfter(time.Now().UTC())
	}

	if err := s.repo.CreateConfig(ctx, cfg); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.audit(ctx, &models.ScheduleLog{
		ConfigID: cfg.ID,
		Action:   models.LogActionCreated,
		Origin:   models.LogOriginUser,
		Detail:   models.JSON{"name": cfg.Name, "cadence": string(cfg.Cadence)},
	})
	ok(w, map[string]interface{}{"config": cfg})
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request, req schedulePostRequest) {
	ctx := r.Context()
	if req.ConfigID == nil {
		jsonError(w, "configId is required", http.StatusBadRequest)
		return
	}
	cfg, err := s.repo.GetConfigByID(ctx, *req.ConfigID)
	if err != nil {
		jsonError(w, "config not found", http.StatusNotFound)
		return
	}

	changed := models.JSON{}
	if req.Name != nil && *req.Name != cfg.Name {
		cfg.Name = *req.Name
		changed["name"] = *req.Name
	}
	if req.Source != nil && *req.Source != cfg.Source {
		if !s.collectors.Has(*req.Source) {
			jsonError(w, "unknown source: "+*req.Source, http.StatusBadRequest)
			return
		}
		cfg.Source = *req.Source
		changed["source"] = *req.Source
	}
	if req.SearchTerm != nil && *req.SearchTerm != cfg.SearchTerm {
		cfg.SearchTerm = *req.SearchTerm
		changed["search_term"] = *req.SearchTerm
	}
	if req.Location != nil && *req.Location != cfg.Location {
		cfg.Location = *req.Location
		changed["location"] = *req.Location
	}
	if req.MaxResults != nil && *req.MaxResults != cfg.MaxResults {
		cfg.MaxResults = *req.MaxResults
		changed["max_results"] = *req.MaxResults
	}
	if req.Cadence != nil && *req.Cadence != string(cfg.Cadence) {
		cadence, err := models.ParseCadence(*req.Cadence)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Cadence = cadence
		changed["cadence"] = *req.Cadence
		// A cadence change re-anchors the schedule to now rather than to the
		// old cadence's due time.
		cfg.NextRun = cadence.NextAfter(time.Now().UTC())
	}
	if err := cfg.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.repo.UpdateConfig(ctx, cfg); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if len(changed) > 0 {
		s.audit(ctx, &models.ScheduleLog{
			ConfigID: cfg.ID,
			Action:   models.LogActionUpdated,
			Origin:   models.LogOriginUser,
			Detail:   changed,
		})
	}
	ok(w, map[string]interface{}{"config": cfg})
}

// toggleSchedule flips enabled without touching the schedule clock, so
// re-enabling a config resumes its existing next_run.
func (s *Server) toggleSchedule(w http.ResponseWriter, r *http.Request, req schedulePostRequest) {
	ctx := r.Context()
	if req.ConfigID == nil {
		jsonError(w, "configId is required", http.StatusBadRequest)
		return
	}
	cfg, err := s.repo.GetConfigByID(ctx, *req.ConfigID)
	if err != nil {
		jsonError(w, "config not found", http.StatusNotFound)
		return
	}

	enabled := !cfg.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := s.repo.SetConfigEnabled(ctx, cfg.ID, enabled); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cfg.Enabled = enabled

	action := models.LogActionDisabled
	if enabled {
		action = models.LogActionEnabled
	}
	s.audit(ctx, &models.ScheduleLog{
		ConfigID: cfg.ID,
		Action:   action,
		Origin:   models.LogOriginUser,
	})
	ok(w, map[string]interface{}{"config": cfg})
}

// runScheduleNow submits a one-off run of the config's parameters. It is not
// a scheduled run: the config's next_run is left alone.
func (s *Server) runScheduleNow(w http.ResponseWriter, r *http.Request, req schedulePostRequest) {
	ctx := r.Context()
	if req.ConfigID == nil {
		jsonError(w, "configId is required", http.StatusBadRequest)
		return
	}
	cfg, err := s.repo.GetConfigByID(ctx, *req.ConfigID)
	if err != nil {
		jsonError(w, "config not found", http.StatusNotFound)
		return
	}

	job, err := s.engine.Submit(ctx, engine.JobRequest{
		Source:     cfg.Source,
		SearchTerm: cfg.SearchTerm,
		Location:   cfg.Location,
		MaxResults: cfg.MaxResults,
		ConfigID:   &cfg.ID,
		Origin:     models.TriggerManual,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ok(w, map[string]interface{}{"job": job})
}

func (s *Server) schedulesDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("configId")
	if raw == "" {
		jsonError(w, "configId is required", http.StatusBadRequest)
		return
	}
	id, err := parseConfigID(raw)
	if err != nil {
		jsonError(w, "invalid configId", http.StatusBadRequest)
		return
	}

	cfg, err := s.repo.GetConfigByID(ctx, id)
	if err != nil {
		jsonError(w, "config not found", http.StatusNotFound)
		return
	}

	if err := s.repo.DeleteConfig(ctx, id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info().Uint("config_id", id).Str("name", cfg.Name).Msg("Schedule config deleted")
	ok(w, map[string]interface{}{"deleted": id})
}

func (s *Server) audit(ctx context.Context, entry *models.ScheduleLog) {
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		s.log.Warn().Err(err).Uint("config_id", entry.ConfigID).Msg("Failed to append schedule log")
	}
}

func parseConfigID(raw string) (uint, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	return uint(v), err
}
