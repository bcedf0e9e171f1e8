package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedWorkItem marks a queue message that can never be processed.
var ErrMalformedWorkItem = errors.New("malformed work item")

// WorkItem is the queue message asking the worker to categorize one expense.
// All mutable state lives in the expense store; the worker re-reads it.
type WorkItem struct {
	EnqueuedAt time.Time `json:"enqueuedAt"`
	ExpenseID  string    `json:"expenseId"`
	UserID     string    `json:"userId"`
}

// NewWorkItem builds a work item for an expense.
func NewWorkItem(expense Expense, now time.Time) WorkItem {
	return WorkItem{
		ExpenseID:  expense.ID,
		UserID:     expense.UserID,
		EnqueuedAt: now.UTC(),
	}
}

// Validate checks the fields the worker needs.
func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.ExpenseID) == "" {
		return fmt.Errorf("%w: missing expenseId", ErrMalformedWorkItem)
	}
	if strings.TrimSpace(w.UserID) == "" {
		return fmt.Errorf("%w: missing userId", ErrMalformedWorkItem)
	}
	return nil
}

// ParseWorkItem decodes and validates a queue message body.
func ParseWorkItem(body []byte) (WorkItem, error) {
	var item WorkItem
	if err := json.Unmarshal(body, &item); err != nil {
		return WorkItem{}, fmt.Errorf("%w: %v", ErrMalformedWorkItem, err)
	}
	if err := item.Validate(); err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// Encode returns the JSON message body.
func (w WorkItem) Encode() ([]byte, error) {
	return json.Marshal(w)
}
