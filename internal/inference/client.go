// Package inference provides the HTTP client for the hosted text-generation
// service, with token-usage accounting for cost estimation.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lexroute/api/internal/gateway"
)

// Terminal generation errors; everything else is retryable.
var (
	ErrInvalidArgument = errors.New("inference: invalid argument")
	ErrUnauthorized    = errors.New("inference: unauthorized")
	ErrForbidden       = errors.New("inference: forbidden")
)

// IsTerminal classifies inference errors for the gateway.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden)
}

// Config holds client options.
type Config struct {
	BaseURL     string
	APIKey      string
	ModelID     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	UnitCostUSD float64
	// RequestsPerSecond caps the request rate to the generation service.
	RequestsPerSecond float64
}

func (c *Config) applyDefaults() {
	if c.ModelID == "" {
		c.ModelID = "granite-3-8b-instruct"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.UnitCostUSD == 0 {
		c.UnitCostUSD = 0.0001
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
}

type Client struct {
	config     Config
	httpClient *http.Client
	policy     gateway.Policy
	limiter    *rate.Limiter

	mu                sync.Mutex
	totalInputTokens  int
	totalOutputTokens int
	totalRequests     int
}

// New creates an inference client. A zero Terminal on the policy is
// replaced with IsTerminal.
func New(config Config, policy gateway.Policy) *Client {
	config.applyDefaults()
	if policy.Terminal == nil {
		policy.Terminal = IsTerminal
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		policy:     policy,
		limiter:    rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
	}
}

// ModelID returns the configured model identifier.
func (c *Client) ModelID() string {
	return c.config.ModelID
}

// Generate issues one prompt completion through the gateway and records
// token usage on success.
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	temperature := c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	body := generateRequest{
		ModelID: c.config.ModelID,
		Input:   req.Prompt,
		Parameters: generateParams{
			MaxNewTokens:      req.MaxTokens,
			Temperature:       temperature,
			TopP:              req.TopP,
			TopK:              req.TopK,
			RepetitionPenalty: req.RepetitionPenalty,
			StopSequences:     req.StopSequences,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal generate request: %w", err)
	}

	result, err := gateway.Do(ctx, c.policy, "inference.Generate", func(ctx context.Context) (Result, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("rate limit wait: %w", err)
		}
		return c.generateOnce(ctx, payload)
	})
	if err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	c.totalInputTokens += result.InputTokens
	c.totalOutputTokens += result.OutputTokens
	c.totalRequests++
	requests := c.totalRequests
	c.mu.Unlock()

	log.Printf("inference: generated %d tokens (input: %d, total requests: %d)",
		result.OutputTokens, result.InputTokens, requests)
	return result, nil
}

func (c *Client) generateOnce(ctx context.Context, payload []byte) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, statusError(resp)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode generate response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return Result{}, errors.New("inference: empty results in response")
	}

	first := decoded.Results[0]
	stopReason := first.StopReason
	if stopReason == "" {
		stopReason = "unknown"
	}
	return Result{
		Text:         first.GeneratedText,
		InputTokens:  first.InputTokenCount,
		OutputTokens: first.GeneratedTokenCount,
		StopReason:   stopReason,
		ModelID:      c.config.ModelID,
	}, nil
}

func statusError(resp *http.Response) error {
	detail := ""
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var decoded errorResponse
		if json.Unmarshal(body, &decoded) == nil && decoded.Error.Message != "" {
			detail = decoded.Error.Message
		} else {
			detail = string(bytes.TrimSpace(body))
		}
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, detail)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, detail)
	default:
		return fmt.Errorf("inference: generation failed with status %d: %s", resp.StatusCode, detail)
	}
}

// GenerateWithSystem combines a system instruction and a user prompt in the
// model's chat format.
func (c *Client) GenerateWithSystem(ctx context.Context, system, user string, req Request) (Result, error) {
	req.Prompt = fmt.Sprintf("<|system|>\n%s\n<|user|>\n%s\n<|assistant|>\n", system, user)
	return c.Generate(ctx, req)
}

// Usage returns a snapshot of the process-wide token counters.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.totalInputTokens + c.totalOutputTokens
	return Usage{
		TotalInputTokens:  c.totalInputTokens,
		TotalOutputTokens: c.totalOutputTokens,
		TotalTokens:       total,
		TotalRequests:     c.totalRequests,
		EstimatedCostUSD:  float64(total) / 1000 * c.config.UnitCostUSD,
	}
}

// ResetUsage zeroes the token counters.
func (c *Client) ResetUsage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalInputTokens = 0
	c.totalOutputTokens = 0
	c.totalRequests = 0
}

// HealthCheck issues a minimal generation call and reports status plus the
// usage counters.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	zero := 0.0
	result, err := c.Generate(ctx, Request{Prompt: "Test", MaxTokens: 5, Temperature: &zero})
	if err != nil {
		return HealthStatus{Status: "unhealthy", ModelID: c.config.ModelID, Error: err.Error(), Usage: c.Usage()}
	}
	sample := result.Text
	if len(sample) > 50 {
		sample = sample[:50]
	}
	return HealthStatus{Status: "healthy", ModelID: c.config.ModelID, TestGeneration: sample, Usage: c.Usage()}
}
