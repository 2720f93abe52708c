// Package webhook implements a Collector backed by the external
// workflow-automation platform. Each source maps to one workflow webhook that
// performs the actual scraping and returns raw listings.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/config"
	"github.com/jobpulse/scraper-agent/pkg/logger"
	"github.com/jobpulse/scraper-agent/pkg/ratelimit"
)

// Collector calls a single workflow webhook
type Collector struct {
	source      string
	url         string
	token       string
	httpClient  *http.Client
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// New creates a webhook collector for one endpoint
func New(ep config.WebhookEndpoint, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Collector {
	return &Collector{
		source: ep.Source,
		url:    ep.URL,
		token:  ep.Token,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // scraping workflows are slow end to end
		},
		rateLimiter: limiter,
		log:         log.WithCollector(ep.Source, "webhook"),
	}
}

// NewMultiple creates webhook collectors for all configured endpoints
func NewMultiple(cfg config.WebhookCollectorConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) []*Collector {
	collectors := make([]*Collector, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		collectors = append(collectors, New(ep, limiter, log))
	}
	return collectors
}

// Source returns the source identifier
func (c *Collector) Source() string {
	return c.source
}

// Name returns the collector name
func (c *Collector) Name() string {
	return "webhook:" + c.source
}

// webhookRequest is the payload sent to the workflow platform
type webhookRequest struct {
	SearchTerm string `json:"search_term"`
	Location   string `json:"location,omitempty"`
	MaxResults int    `json:"max_results"`
}

// webhookResponse is the payload the workflow returns
type webhookResponse struct {
	Items []struct {
		Title       string                 `json:"title"`
		Company     string                 `json:"company"`
		Location    string                 `json:"location"`
		URL         string                 `json:"url"`
		Description string                 `json:"description"`
		PostedAt    *time.Time             `json:"posted_at"`
		Raw         map[string]interface{} `json:"raw"`
	} `json:"items"`
	Error string `json:"error"`
}

// Collect posts the query to the workflow webhook and decodes the items
func (c *Collector) Collect(ctx context.Context, q collector.Query) ([]*collector.RawItem, error) {
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterWebhook); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	payload, err := json.Marshal(webhookRequest{
		SearchTerm: q.SearchTerm,
		Location:   q.Location,
		MaxResults: q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug().
		Str("search_term", q.SearchTerm).
		Str("location", q.Location).
		Int("limit", q.Limit).
		Msg("Calling collection workflow")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var decoded webhookResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode workflow response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("workflow reported error: %s", decoded.Error)
	}

	items := make([]*collector.RawItem, 0, len(decoded.Items))
	for _, it := range decoded.Items {
		items = append(items, &collector.RawItem{
			Title:       it.Title,
			Company:     it.Company,
			Location:    it.Location,
			URL:         it.URL,
			Description: it.Description,
			PostedAt:    it.PostedAt,
			Raw:         it.Raw,
		})
		if q.Limit > 0 && len(items) >= q.Limit {
			break
		}
	}

	c.log.Info().Int("items", len(items)).Msg("Workflow collection completed")
	return items, nil
}

// HealthCheck verifies the webhook endpoint responds
func (c *Collector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
