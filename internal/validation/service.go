// Package validation commits a user's verdict on an AI category suggestion.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
)

// Request is the user's decision on one suggestion.
type Request struct {
	Validated *bool   `json:"validated"`
	Category  *string `json:"category,omitempty"`
	ExpenseID string  `json:"expenseId"`
}

// Store is the part of the expense store validation needs.
type Store interface {
	GetExpense(ctx context.Context, id string) (*model.Expense, error)
	UpdateExpense(ctx context.Context, id string, update model.ExpenseUpdate) error
}

// Service applies validation decisions.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a validation service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Validate records an accept or reject for requesterID's expense and returns
// the updated record. The AI status is never changed here.
func (s *Service) Validate(ctx context.Context, requesterID string, req Request) (*model.Expense, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, common.ErrUnauthorized
	}
	expenseID := strings.TrimSpace(req.ExpenseID)
	if expenseID == "" {
		return nil, common.NewUserError("expenseId is required", common.ErrValidation)
	}
	if req.Validated == nil {
		return nil, common.NewUserError("validated is required", common.ErrValidation)
	}

	expense, err := s.Get(ctx, requesterID, expenseID)
	if err != nil {
		return nil, err
	}

	update, err := s.buildUpdate(expense, *req.Validated, req.Category)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateExpense(ctx, expenseID, update); err != nil {
		return nil, fmt.Errorf("failed to record validation for %s: %w", expenseID, err)
	}
	update.Apply(expense, s.now())

	s.logger.Info("AI suggestion validated",
		"expense_id", expenseID,
		"user_id", requesterID,
		"validated", expense.AICategoryValidated.String(),
		"category", expense.Category)

	return expense, nil
}

// Get loads an expense the requester owns.
func (s *Service) Get(ctx context.Context, requesterID, expenseID string) (*model.Expense, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, common.ErrUnauthorized
	}

	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense.UserID != requesterID {
		return nil, common.NewUserError("expense belongs to another user", common.ErrForbidden)
	}
	return expense, nil
}

func (s *Service) buildUpdate(expense *model.Expense, validated bool, category *string) (model.ExpenseUpdate, error) {
	now := s.now()
	verdict := model.ValidationFromBool(validated)
	update := model.ExpenseUpdate{AICategoryValidated: &verdict}

	if validated {
		suggestion := strings.TrimSpace(expense.AICategorySuggestion)
		if suggestion == "" {
			return model.ExpenseUpdate{}, common.NewUserError("expense has no AI suggestion to accept", common.ErrValidation)
		}
		update.Category = &suggestion
		update.CategorizedAt = &now
		return update, nil
	}

	if category != nil {
		if replacement := strings.TrimSpace(*category); replacement != "" {
			update.Category = &replacement
			update.CategorizedAt = &now
		}
	}
	return update, nil
}
