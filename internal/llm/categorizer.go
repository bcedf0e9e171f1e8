package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
)

// Result is the outcome of classifying one expense in a batch.
type Result struct {
	Err        error
	ExpenseID  string
	Suggestion model.Suggestion
}

// Categorizer turns expenses into validated category suggestions.
type Categorizer struct {
	client      Client
	logger      *slog.Logger
	rateLimiter *rateLimiter
	retryOpts   service.RetryOptions
}

// NewCategorizer creates a categorizer backed by the OpenAI client.
func NewCategorizer(cfg Config, logger *slog.Logger) (*Categorizer, error) {
	client, err := NewOpenAIClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewCategorizerWithClient(client, cfg, logger), nil
}

// NewCategorizerWithClient creates a categorizer around an existing client.
func NewCategorizerWithClient(client Client, cfg Config, logger *slog.Logger) *Categorizer {
	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.RetryAttempts,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Multiplier:   2.0,
	}.WithDefaults()

	return &Categorizer{
		client:      client,
		logger:      logger,
		retryOpts:   retryOpts,
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}
}

// BuildSystemPrompt lists every allowed label and the output contract.
func BuildSystemPrompt(labels []string) string {
	var b strings.Builder
	b.WriteString("You are an expense categorization assistant. Assign the expense to exactly one category from this list:\n")
	for _, label := range labels {
		b.WriteString("- ")
		b.WriteString(label)
		b.WriteString("\n")
	}
	b.WriteString(`
Respond with ONLY a JSON object, no markdown and no commentary:
{"category": "<one category from the list, spelled exactly>", "confidence": <number between 0 and 1>, "reasoning": "<one short sentence>"}
If nothing fits, use "Other".`)
	return b.String()
}

// BuildUserPrompt describes one expense.
func BuildUserPrompt(expense model.Expense) string {
	return fmt.Sprintf("Description: %s\nAmount: %s\nDate: %s",
		expense.Summary,
		expense.Amount.StringFixed(2),
		expense.Timestamp.UTC().Format(time.RFC3339))
}

// Categorize classifies a single expense, retrying transient failures.
func (c *Categorizer) Categorize(ctx context.Context, expense model.Expense, labels []string) (model.Suggestion, error) {
	if len(labels) == 0 {
		return model.Suggestion{}, fmt.Errorf("%w: empty category list", common.ErrValidation)
	}

	systemPrompt := BuildSystemPrompt(labels)
	userPrompt := BuildUserPrompt(expense)

	var suggestion model.Suggestion
	err := common.WithRetry(ctx, func() error {
		if err := c.rateLimiter.wait(ctx); err != nil {
			return common.Permanent(err)
		}

		content, err := c.client.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			c.logger.Warn("LLM categorization attempt failed",
				"expense_id", expense.ID,
				"error", err)
			return err
		}

		parsed, err := ParseSuggestion(content, labels)
		if err != nil {
			return common.Permanent(err)
		}
		suggestion = parsed
		return nil
	}, c.retryOpts)
	if err != nil {
		return model.Suggestion{}, fmt.Errorf("%w: expense %s: %w", common.ErrClassification, expense.ID, err)
	}

	c.logger.Debug("expense categorized",
		"expense_id", expense.ID,
		"category", suggestion.Category,
		"confidence", suggestion.Confidence)

	return suggestion, nil
}

// CategorizeBatch classifies up to model.MaxCategorizationBatch expenses
// concurrently. It fails fast, before any call, when the batch is too large
// or there are no labels; otherwise every expense gets a Result in input order.
func (c *Categorizer) CategorizeBatch(ctx context.Context, expenses []model.Expense, labels []string) ([]Result, error) {
	if len(expenses) > model.MaxCategorizationBatch {
		return nil, fmt.Errorf("%w: %d expenses exceeds limit of %d",
			common.ErrBatchTooLarge, len(expenses), model.MaxCategorizationBatch)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: empty category list", common.ErrValidation)
	}

	results := make([]Result, len(expenses))
	var wg sync.WaitGroup
	for i := range expenses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			suggestion, err := c.Categorize(ctx, expenses[i], labels)
			results[i] = Result{ExpenseID: expenses[i].ID, Suggestion: suggestion, Err: err}
		}(i)
	}
	wg.Wait()

	return results, nil
}
