// Package storage provides the SQLite persistence layer: the expense table and a
// durable work queue with visibility leases and dead-lettering.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/expense-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext     = errors.New("context cannot be nil")
	ErrEmptyString    = errors.New("string parameter cannot be empty")
	ErrNilParameter   = errors.New("parameter cannot be nil")
	ErrInvalidStatus  = errors.New("invalid AI categorization status")
	ErrInvalidExpense = errors.New("invalid expense")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateExpense validates a single expense before it is written.
func validateExpense(expense *model.Expense) error {
	if expense == nil {
		return fmt.Errorf("%w: expense", ErrNilParameter)
	}
	if expense.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidExpense)
	}
	if expense.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidExpense)
	}
	if expense.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidExpense)
	}
	if !expense.AICategorizationStatus.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, expense.AICategorizationStatus)
	}
	return nil
}

// validateUpdate validates a field-level expense update.
func validateUpdate(update model.ExpenseUpdate) error {
	if update.IsEmpty() {
		return fmt.Errorf("%w: update", ErrNilParameter)
	}
	if update.AICategorizationStatus != nil && !update.AICategorizationStatus.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, *update.AICategorizationStatus)
	}
	return nil
}
