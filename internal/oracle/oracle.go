// Package oracle verifies recurring-payment candidates and generates
// spending insights through an external text-generation model (Gemini).
//
// The adapter is stateless between calls. Every call carries a bounded
// timeout; transport and parse failures are returned to the caller, which
// degrades to the algorithm-only path.
package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/finance-backend/internal/domain"
	"github.com/dvloznov/finance-backend/internal/recurring"
)

// ErrUnavailable means no API key is configured. This is not a failure:
// callers are expected to fall back deterministically.
var ErrUnavailable = fmt.Errorf("oracle: api key not configured")

// Config carries everything the adapter needs. It is constructed explicitly
// and passed in; the adapter never reads ambient global state, so tests can
// run it against a fake generator.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gemini-2.5-flash"

	// DefaultTimeout bounds each outbound call. A timeout is treated the same
	// as the adapter being unavailable.
	DefaultTimeout = 45 * time.Second

	// payloadLogLimit caps how much of a malformed response is logged.
	payloadLogLimit = 500
)

// TextGenerator abstracts the model transport so the adapter can be tested
// without network access.
type TextGenerator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// geminiGenerator is the production TextGenerator backed by the GenAI API.
type geminiGenerator struct {
	apiKey string
}

func (g *geminiGenerator) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      g.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("GenerateText: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("GenerateText: generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GenerateText: empty response from model")
	}
	return text, nil
}

// Client is the Verification Oracle Adapter. It implements
// recurring.Verifier and recurring.InsightsOracle.
type Client struct {
	cfg Config
	gen TextGenerator
	log zerolog.Logger
}

// New builds an adapter from explicit configuration. A client without an API
// key is still valid; it reports Available() == false and every call returns
// ErrUnavailable.
func New(cfg Config, log zerolog.Logger) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{cfg: cfg, log: log}
	if cfg.APIKey != "" {
		c.gen = &geminiGenerator{apiKey: cfg.APIKey}
	}
	return c
}

// NewWithGenerator builds an adapter over a caller-supplied transport.
func NewWithGenerator(cfg Config, gen TextGenerator, log zerolog.Logger) *Client {
	c := New(cfg, log)
	c.gen = gen
	return c
}

// Available implements recurring.Verifier.
func (c *Client) Available() bool {
	return c.gen != nil
}

// VerifyPatterns implements recurring.Verifier. All merchants go out in a
// single batched request; the response is matched back by merchant key, so
// omitted or reordered entries are tolerated (unmatched keys are dropped by
// the caller). A malformed response yields an empty verdict list, not an
// error: the raw payload is logged for diagnosis instead.
func (c *Client) VerifyPatterns(ctx context.Context, merchants []recurring.MerchantAnalysis) ([]recurring.Verdict, error) {
	if c.gen == nil {
		return nil, ErrUnavailable
	}
	if len(merchants) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	prompt := batchDetectionPrompt(merchants)

	text, err := c.gen.GenerateText(ctx, c.cfg.Model, prompt)
	if err != nil {
		return nil, fmt.Errorf("VerifyPatterns: %w", err)
	}

	raw, ok := extractJSONArray(text)
	if !ok {
		c.log.Error().
			Str("payload", truncate(text, payloadLogLimit)).
			Msg("No JSON array found in verification response")
		return []recurring.Verdict{}, nil
	}

	verdicts, err := parseVerdicts(raw)
	if err != nil {
		c.log.Error().
			Err(err).
			Str("payload", truncate(text, payloadLogLimit)).
			Msg("Failed to parse verification response")
		return []recurring.Verdict{}, nil
	}

	c.log.Info().
		Int("merchants", len(merchants)).
		Int("verdicts", len(verdicts)).
		Msg("Verification call completed")

	return verdicts, nil
}

// GenerateInsights implements recurring.InsightsOracle. Unlike verification,
// a malformed response is an error here: the caller has a deterministic
// fallback generator and should use it.
func (c *Client) GenerateInsights(ctx context.Context, payments []domain.RecurringPattern, monthlyExpenses, monthlyIncome float64) (*domain.InsightsSnapshot, error) {
	if c.gen == nil {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	prompt := insightsPrompt(payments, monthlyExpenses, monthlyIncome)

	text, err := c.gen.GenerateText(ctx, c.cfg.Model, prompt)
	if err != nil {
		return nil, fmt.Errorf("GenerateInsights: %w", err)
	}

	raw, ok := extractJSONObject(text)
	if !ok {
		c.log.Error().
			Str("payload", truncate(text, payloadLogLimit)).
			Msg("No JSON object found in insights response")
		return nil, fmt.Errorf("GenerateInsights: no JSON object in response")
	}

	snapshot, err := parseInsights(raw)
	if err != nil {
		c.log.Error().
			Err(err).
			Str("payload", truncate(text, payloadLogLimit)).
			Msg("Failed to parse insights response")
		return nil, fmt.Errorf("GenerateInsights: %w", err)
	}

	return snapshot, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func abs(f float64) float64 {
	return math.Abs(f)
}
