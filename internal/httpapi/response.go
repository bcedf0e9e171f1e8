package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/aws/aws-lambda-go/events"
)

// ExpenseView is the wire form of an expense.
type ExpenseView struct {
	Timestamp               time.Time        `json:"timestamp"`
	CreatedAt               time.Time        `json:"createdAt"`
	UpdatedAt               time.Time        `json:"updatedAt"`
	CategorizedAt           *time.Time       `json:"categorizedAt,omitempty"`
	AICategorizedAt         *time.Time       `json:"aiCategorizedAt,omitempty"`
	ID                      string           `json:"id"`
	UserID                  string           `json:"userId"`
	Summary                 string           `json:"summary"`
	Amount                  string           `json:"amount"`
	Category                string           `json:"category,omitempty"`
	Note                    string           `json:"note,omitempty"`
	AICategorizationStatus  model.AIStatus   `json:"aiCategorizationStatus,omitempty"`
	AICategorySuggestion    string           `json:"aiCategorySuggestion,omitempty"`
	AICategoryReasoning     string           `json:"aiCategoryReasoning,omitempty"`
	AICategoryConfidence    float64          `json:"aiCategoryConfidence,omitempty"`
	AICategoryValidated     model.Validation `json:"aiCategoryValidated"`
	AICategorizationEnabled bool             `json:"aiCategorizationEnabled"`
}

// NewExpenseView converts an expense for the wire.
func NewExpenseView(e *model.Expense) ExpenseView {
	return ExpenseView{
		ID:                      e.ID,
		UserID:                  e.UserID,
		Summary:                 e.Summary,
		Amount:                  e.Amount.String(),
		Timestamp:               e.Timestamp,
		CreatedAt:               e.CreatedAt,
		UpdatedAt:               e.UpdatedAt,
		Category:                e.Category,
		CategorizedAt:           e.CategorizedAt,
		Note:                    e.Note,
		AICategorizationEnabled: e.AICategorizationEnabled,
		AICategorizationStatus:  e.AICategorizationStatus,
		AICategorySuggestion:    e.AICategorySuggestion,
		AICategoryConfidence:    e.AICategoryConfidence,
		AICategoryReasoning:     e.AICategoryReasoning,
		AICategoryValidated:     e.AICategoryValidated,
		AICategorizedAt:         e.AICategorizedAt,
	}
}

// StatusCode maps a domain error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage is the client-facing text for err. Internal failures are not
// described.
func ErrorMessage(err error) string {
	if StatusCode(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return common.UserMessage(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusCode(err), map[string]string{"error": ErrorMessage(err)})
}

// JSON creates an API Gateway response with a JSON body.
func JSON(status int, v any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

// Error creates an API Gateway JSON error response for err.
func Error(err error) events.APIGatewayV2HTTPResponse {
	return JSON(StatusCode(err), map[string]string{"error": ErrorMessage(err)})
}
