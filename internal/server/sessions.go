package server

import (
	"encoding/json"
	"net/http"

	"github.com/jobpulse/scraper-agent/internal/models"
)

// handleUserScheduling serves session analytics and the adaptive refresh
// cadence endpoints keyed by sessionId.
func (s *Server) handleUserScheduling(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.sessionsGet(w, r)
	case http.MethodPost:
		s.sessionsPost(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) sessionsGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := r.URL.Query().Get("action")
	token := r.URL.Query().Get("sessionId")
	if token == "" {
		jsonError(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	switch action {
	case "analytics":
		analytics, err := s.tracker.Analytics(ctx, token)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"analytics": analytics})

	case "next-refresh":
		plan, err := s.tracker.NextRefresh(ctx, token)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"plan": plan})

	case "should-refresh":
		plan, err := s.tracker.NextRefresh(ctx, token)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{
			"should_refresh": plan.ShouldRefresh,
			"next_due":       plan.NextDue,
			"frequency":      plan.Frequency,
		})

	case "user-metrics":
		analytics, err := s.tracker.Analytics(ctx, token)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sess := analytics.Session
		ok(w, map[string]interface{}{
			"session_token":          sess.SessionToken,
			"total_visits":           sess.TotalVisits,
			"avg_session_minutes":    sess.AvgSessionMinutes,
			"total_manual_refreshes": sess.TotalManualRefreshes,
			"total_auto_refreshes":   sess.TotalAutoRefreshes,
			"manual_refresh_rate":    analytics.ManualRefreshRate,
			"interactions_24h":       analytics.Interactions24h,
			"activity_score":         analytics.ActivityScore,
		})

	default:
		jsonError(w, "unknown action: "+action, http.StatusBadRequest)
	}
}

type sessionPostRequest struct {
	Action          string          `json:"action"`
	SessionID       string          `json:"sessionId"`
	InteractionType string          `json:"interactionType"`
	Metadata        json.RawMessage `json:"metadata"`
	Frequency       int             `json:"frequency"`
}

func (s *Server) sessionsPost(w http.ResponseWriter, r *http.Request) {
	var req sessionPostRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		jsonError(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch req.Action {
	case "track-interaction":
		action, err := models.ParseInteractionType(req.InteractionType)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		meta, err := decodeInteractionMetadata(action, req.Metadata)
		if err != nil {
			jsonError(w, "invalid metadata", http.StatusBadRequest)
			return
		}
		sess, err := s.tracker.Track(ctx, req.SessionID, action, meta)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"session": sess})

	case "reset-schedule":
		analytics, err := s.tracker.ResetSchedule(ctx, req.SessionID)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"analytics": analytics})

	case "update-frequency":
		if req.Frequency <= 0 {
			jsonError(w, "frequency must be positive", http.StatusBadRequest)
			return
		}
		stored, err := s.tracker.UpdateFrequency(ctx, req.SessionID, req.Frequency)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"frequency": stored})

	case "login-refresh":
		meta := &models.LoginMetadata{
			UserAgent: r.UserAgent(),
			Referrer:  r.Referer(),
		}
		plan, err := s.tracker.LoginRefresh(ctx, req.SessionID, meta)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ok(w, map[string]interface{}{"plan": plan})

	default:
		jsonError(w, "unknown action: "+req.Action, http.StatusBadRequest)
	}
}

// decodeInteractionMetadata parses the raw metadata object into the typed
// variant for the interaction. Absent metadata is fine; unknown fields are
// dropped by the decoder.
func decodeInteractionMetadata(action models.InteractionType, raw json.RawMessage) (models.InteractionMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch action {
	case models.InteractionLogin:
		var m models.LoginMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case models.InteractionManualRefresh, models.InteractionAutoRefresh:
		var m models.RefreshMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case models.InteractionPageView:
		var m models.PageViewMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case models.InteractionJobSearch:
		var m models.JobSearchMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case models.InteractionScrapingTrigger:
		var m models.ScrapingTriggerMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, nil
}
