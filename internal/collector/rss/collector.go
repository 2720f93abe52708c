package rss

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/config"
	"github.com/jobpulse/scraper-agent/pkg/logger"
	"github.com/jobpulse/scraper-agent/pkg/ratelimit"
)

// Collector implements collector.Collector for job-board RSS feeds
type Collector struct {
	source      string
	name        string
	url         string
	parser      *gofeed.Parser
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// New creates an RSS collector for a single feed
func New(feed config.RSSFeed, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Collector {
	return &Collector{
		source:      feed.Source,
		name:        feed.Name,
		url:         feed.URL,
		parser:      gofeed.NewParser(),
		rateLimiter: limiter,
		log:         log.WithCollector(feed.Source, feed.Name),
	}
}

// NewMultiple creates RSS collectors for all configured feeds
func NewMultiple(cfg config.RSSCollectorConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) []*Collector {
	collectors := make([]*Collector, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		collectors = append(collectors, New(feed, limiter, log))
	}
	return collectors
}

// Source returns the source identifier
func (c *Collector) Source() string {
	return c.source
}

// Name returns the feed name
func (c *Collector) Name() string {
	return "rss:" + c.name
}

// Collect fetches the feed and keeps items matching the search term
func (c *Collector) Collect(ctx context.Context, q collector.Query) ([]*collector.RawItem, error) {
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterRSS); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.log.Debug().Str("url", c.url).Msg("Fetching job feed")

	feed, err := c.parser.ParseURLWithContext(c.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", c.name, err)
	}

	term := strings.ToLower(q.SearchTerm)
	loc := strings.ToLower(q.Location)

	items := make([]*collector.RawItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		haystack := strings.ToLower(item.Title + " " + item.Description)
		if term != "" && !strings.Contains(haystack, term) {
			continue
		}
		if loc != "" && !strings.Contains(haystack, loc) {
			continue
		}

		raw := &collector.RawItem{
			Title:       strings.TrimSpace(item.Title),
			Location:    q.Location,
			URL:         item.Link,
			Description: strings.TrimSpace(item.Description),
			PostedAt:    item.PublishedParsed,
			Raw: map[string]interface{}{
				"guid":       item.GUID,
				"categories": item.Categories,
				"published":  item.Published,
			},
		}
		if item.Author != nil {
			raw.Company = item.Author.Name
		}

		items = append(items, raw)
		if q.Limit > 0 && len(items) >= q.Limit {
			break
		}
	}

	c.log.Info().
		Int("feed_items", len(feed.Items)).
		Int("matched", len(items)).
		Msg("Job feed collected")

	return items, nil
}

// HealthCheck verifies the feed parses
func (c *Collector) HealthCheck(ctx context.Context) error {
	_, err := c.parser.ParseURLWithContext(c.url, ctx)
	return err
}
