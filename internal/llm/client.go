package llm

import (
	"context"
	"time"
)

// Client sends one chat completion and returns the raw assistant text.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds configuration for the OpenAI client and the categorizer.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Temperature   float64
	MaxTokens     int
	RetryAttempts int
	RateLimit     int
}

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 200
	defaultTimeout   = 30 * time.Second
)
