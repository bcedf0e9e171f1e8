package dynamo

import (
	"fmt"
	"time"

	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// record is the item layout. Times are RFC 3339 strings so the user index
// sorts by timestamp lexically; amounts are strings to keep exact decimals.
type record struct {
	Validated *bool `dynamodbav:"aiCategoryValidated,omitempty"`

	ID            string `dynamodbav:"id"`
	UserID        string `dynamodbav:"userId"`
	Timestamp     string `dynamodbav:"timestamp"`
	Summary       string `dynamodbav:"summary"`
	Amount        string `dynamodbav:"amount"`
	Category      string `dynamodbav:"category,omitempty"`
	CategorizedAt string `dynamodbav:"categorizedAt,omitempty"`
	Note          string `dynamodbav:"note,omitempty"`
	CreatedAt     string `dynamodbav:"createdAt"`
	UpdatedAt     string `dynamodbav:"updatedAt"`

	Status          string  `dynamodbav:"aiCategorizationStatus,omitempty"`
	Suggestion      string  `dynamodbav:"aiCategorySuggestion,omitempty"`
	Reasoning       string  `dynamodbav:"aiCategoryReasoning,omitempty"`
	AICategorizedAt string  `dynamodbav:"aiCategorizedAt,omitempty"`
	Confidence      float64 `dynamodbav:"aiCategoryConfidence,omitempty"`

	Enabled bool `dynamodbav:"aiCategorizationEnabled"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return t.UTC(), nil
}

func parseOptionalTime(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toRecord(e *model.Expense) record {
	return record{
		ID:              e.ID,
		UserID:          e.UserID,
		Timestamp:       formatTime(e.Timestamp),
		Summary:         e.Summary,
		Amount:          e.Amount.String(),
		Category:        e.Category,
		CategorizedAt:   formatOptionalTime(e.CategorizedAt),
		Note:            e.Note,
		CreatedAt:       formatTime(e.CreatedAt),
		UpdatedAt:       formatTime(e.UpdatedAt),
		Enabled:         e.AICategorizationEnabled,
		Status:          string(e.AICategorizationStatus),
		Suggestion:      e.AICategorySuggestion,
		Reasoning:       e.AICategoryReasoning,
		Confidence:      e.AICategoryConfidence,
		Validated:       e.AICategoryValidated.Bool(),
		AICategorizedAt: formatOptionalTime(e.AICategorizedAt),
	}
}

func unmarshalExpense(item map[string]types.AttributeValue) (model.Expense, error) {
	var r record
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return model.Expense{}, fmt.Errorf("failed to unmarshal expense: %w", err)
	}

	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return model.Expense{}, fmt.Errorf("expense %s: invalid amount %q: %w", r.ID, r.Amount, err)
	}

	e := model.Expense{
		ID:                      r.ID,
		UserID:                  r.UserID,
		Summary:                 r.Summary,
		Amount:                  amount,
		Category:                r.Category,
		Note:                    r.Note,
		AICategorizationEnabled: r.Enabled,
		AICategorizationStatus:  model.AIStatus(r.Status),
		AICategorySuggestion:    r.Suggestion,
		AICategoryReasoning:     r.Reasoning,
		AICategoryConfidence:    r.Confidence,
		AICategoryValidated:     model.ValidationFromPtr(r.Validated),
	}

	if e.Timestamp, err = parseTime("timestamp", r.Timestamp); err != nil {
		return model.Expense{}, fmt.Errorf("expense %s: %w", r.ID, err)
	}
	if e.CreatedAt, err = parseTime("createdAt", r.CreatedAt); err != nil {
		return model.Expense{}, fmt.Errorf("expense %s: %w", r.ID, err)
	}
	if e.UpdatedAt, err = parseTime("updatedAt", r.UpdatedAt); err != nil {
		return model.Expense{}, fmt.Errorf("expense %s: %w", r.ID, err)
	}
	if e.CategorizedAt, err = parseOptionalTime("categorizedAt", r.CategorizedAt); err != nil {
		return model.Expense{}, fmt.Errorf("expense %s: %w", r.ID, err)
	}
	if e.AICategorizedAt, err = parseOptionalTime("aiCategorizedAt", r.AICategorizedAt); err != nil {
		return model.Expense{}, fmt.Errorf("expense %s: %w", r.ID, err)
	}
	return e, nil
}
