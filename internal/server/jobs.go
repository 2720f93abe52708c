package server

import (
	"errors"
	"net/http"

	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/engine"
	"github.com/jobpulse/scraper-agent/internal/models"
	"github.com/jobpulse/scraper-agent/internal/storage"
)

// handleJobScraping serves ad hoc job execution and status queries
func (s *Server) handleJobScraping(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.jobsGet(w, r)
	case http.MethodPost:
		s.jobsPost(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) jobsGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if jobID := r.URL.Query().Get("jobId"); jobID != "" {
		job, err := s.repo.GetJobByID(ctx, jobID)
		if err != nil {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		listings, err := s.repo.ListListings(ctx, jobID)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"job": job, "listings": listings})
		return
	}

	filter := storage.DefaultJobFilter()
	if raw := r.URL.Query().Get("status"); raw != "" {
		state, err := models.ParseJobState(raw)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.State = &state
	}
	if raw := r.URL.Query().Get("scheduled"); raw != "" {
		scheduled := raw == "true"
		filter.Scheduled = &scheduled
	}
	jobs, err := s.repo.ListJobs(ctx, filter)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ok(w, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

type jobPostRequest struct {
	Action     string `json:"action"` // empty = submit
	JobID      string `json:"jobId"`
	Source     string `json:"source"`
	SearchTerm string `json:"searchTerm"`
	Location   string `json:"location"`
	MaxResults int    `json:"maxResults"`
	Scheduled  bool   `json:"scheduled"`
	ConfigID   *uint  `json:"configId"`
}

func (s *Server) jobsPost(w http.ResponseWriter, r *http.Request) {
	var req jobPostRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	if req.Action == "cancel" {
		if req.JobID == "" {
			jsonError(w, "jobId is required", http.StatusBadRequest)
			return
		}
		job, err := s.engine.Cancel(ctx, req.JobID)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ok(w, map[string]interface{}{"job": job})
		return
	}

	if req.Source == "" {
		jsonError(w, "source is required", http.StatusBadRequest)
		return
	}

	// Submit returns as soon as the job record exists; callers poll by jobId
	job, err := s.engine.Submit(ctx, engine.JobRequest{
		JobID:      req.JobID,
		Source:     req.Source,
		SearchTerm: req.SearchTerm,
		Location:   req.Location,
		MaxResults: req.MaxResults,
		Scheduled:  req.Scheduled,
		ConfigID:   req.ConfigID,
		Origin:     models.TriggerAPI,
	})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, engine.ErrConfigRequired) || errors.Is(err, collector.ErrUnknownSource) {
			code = http.StatusBadRequest
		}
		jsonError(w, err.Error(), code)
		return
	}
	ok(w, map[string]interface{}{"job": job})
}
