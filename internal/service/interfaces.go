// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/expense-flow/internal/model"
)

// ExpenseFilter narrows a per-user expense query.
type ExpenseFilter struct {
	Status          *model.AIStatus
	OnlyCategorized bool
	Limit           int
}

// ExpenseStore is the durable key-value table of expenses keyed by content hash.
// It is the only shared mutable resource; updates are last-writer-wins per field.
type ExpenseStore interface {
	GetExpense(ctx context.Context, id string) (*model.Expense, error)
	PutExpense(ctx context.Context, expense *model.Expense) error
	UpdateExpense(ctx context.Context, id string, update model.ExpenseUpdate) error
	BatchGetExpenses(ctx context.Context, ids []string) ([]model.Expense, error)
	QueryExpensesByUser(ctx context.Context, userID string, filter ExpenseFilter) ([]model.Expense, error)

	// TransitionStatus moves an expense from one AI status to another only if
	// its current status still equals from. It reports whether it did.
	TransitionStatus(ctx context.Context, id string, from, to model.AIStatus) (bool, error)

	// CountByStatus returns the number of a user's expenses per AI status.
	CountByStatus(ctx context.Context, userID string) (map[model.AIStatus]int, error)
}

// Message is one delivery of a queued work item.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	ReceiveCount  int
}

// WorkQueue is an at-least-once queue with visibility leases and a dead-letter queue.
type WorkQueue interface {
	Send(ctx context.Context, item model.WorkItem) error
	// Receive leases up to max messages for the visibility timeout.
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)
	// Ack deletes a delivered message.
	Ack(ctx context.Context, receiptHandle string) error
	// Nack makes a delivered message visible again immediately.
	Nack(ctx context.Context, receiptHandle string) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// WithDefaults fills unset retry options.
func (o RetryOptions) WithDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2.0
	}
	return o
}
