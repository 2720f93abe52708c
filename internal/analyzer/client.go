package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jobpulse/scraper-agent/internal/collector"
	"github.com/jobpulse/scraper-agent/internal/config"
	"github.com/jobpulse/scraper-agent/pkg/logger"
	"github.com/jobpulse/scraper-agent/pkg/ratelimit"
)

// batchSize bounds how many listings go into one model call
const batchSize = 10

// Client wraps the Anthropic SDK client
type Client struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewClient creates a new Anthropic-backed analyzer
func NewClient(cfg config.AnthropicConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Client {
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
	)

	return &Client{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		rateLimiter: limiter,
		log:         log.WithComponent("analyzer"),
	}
}

// complete sends a message to Claude and returns the text response
func (c *Client) complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	// Wait for rate limiter
	if err := c.rateLimiter.Wait(ctx, ratelimit.LimiterAnthropic); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	c.log.Debug().
		Str("model", c.model).
		Int("max_tokens", c.maxTokens).
		Msg("Sending analysis request to Claude")

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System: []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: systemPrompt + "\n\nIMPORTANT: Respond ONLY with valid JSON. No markdown, no explanation, just the JSON object.",
			},
		},
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(userMessage),
				},
			},
		},
	})

	if err != nil {
		c.log.Error().Err(err).Msg("Claude API error")
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var response string
	for _, block := range message.Content {
		textBlock := block.AsText()
		if textBlock.Text != "" {
			response += textBlock.Text
		}
	}

	c.log.Debug().
		Int("input_tokens", int(message.Usage.InputTokens)).
		Int("output_tokens", int(message.Usage.OutputTokens)).
		Msg("Received Claude response")

	return response, nil
}

// batchAnalysisResponse is the JSON shape the model returns
type batchAnalysisResponse struct {
	Analyses []struct {
		Index          int     `json:"index"`
		Score          float64 `json:"score"`
		Recommendation string  `json:"recommendation"`
	} `json:"analyses"`
}

// AnalyzeItems scores items in batches. Entries for a failed batch stay nil
// rather than failing the whole run.
func (c *Client) AnalyzeItems(ctx context.Context, searchTerm string, items []*collector.RawItem) ([]*Analysis, error) {
	analyses := make([]*Analysis, len(items))
	if len(items) == 0 {
		return analyses, nil
	}

	var firstErr error
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		batch, err := c.analyzeBatch(ctx, searchTerm, items[start:end])
		if err != nil {
			c.log.Warn().
				Err(err).
				Int("batch_start", start).
				Msg("Failed to analyze listing batch")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		copy(analyses[start:end], batch)
	}

	return analyses, firstErr
}

// analyzeBatch scores one batch of listings
func (c *Client) analyzeBatch(ctx context.Context, searchTerm string, items []*collector.RawItem) ([]*Analysis, error) {
	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s — %s (%s)\n   %s\n",
			i, item.Title, item.Company, item.Location, truncate(item.Description, 300))
	}

	response, err := c.complete(ctx, ListingAnalysisSystemPrompt,
		fmt.Sprintf(ListingAnalysisUserPrompt, searchTerm, sb.String()))
	if err != nil {
		return nil, err
	}

	var decoded batchAnalysisResponse
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(response)), &decoded); err != nil {
		c.log.Error().
			Err(err).
			Str("response", truncate(response, 500)).
			Msg("Failed to parse analysis response")
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	out := make([]*Analysis, len(items))
	for _, a := range decoded.Analyses {
		if a.Index < 0 || a.Index >= len(items) {
			continue
		}
		out[a.Index] = &Analysis{
			Score:          a.Score,
			Recommendation: a.Recommendation,
		}
	}
	return out, nil
}

// stripMarkdownCodeBlock removes markdown code fences from model responses
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)

	startIdx := strings.Index(response, "{")
	if startIdx == -1 {
		return response
	}
	endIdx := strings.LastIndex(response, "}")
	if endIdx == -1 || endIdx < startIdx {
		return response
	}
	return response[startIdx : endIdx+1]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
