// Package ingest writes uploaded expenses to the store and enrolls the ones
// that asked for AI categorization on the work queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/shopspring/decimal"
)

// Row is one normalized expense from an upload.
type Row struct {
	Timestamp time.Time
	Summary   string
	Category  string
	Amount    decimal.Decimal
	AIEnabled bool
}

// Result tallies an ingestion run.
type Result struct {
	IDs           []string
	Total         int
	Invalid       int
	Stored        int
	StoreFailed   int
	Duplicates    int
	Categorized   int
	Enrolled      int
	Enqueued      int
	EnqueueFailed int
}

// Store is the part of the expense store ingestion needs.
type Store interface {
	GetExpense(ctx context.Context, id string) (*model.Expense, error)
	PutExpense(ctx context.Context, expense *model.Expense) error
}

// Queue accepts work items.
type Queue interface {
	Send(ctx context.Context, item model.WorkItem) error
}

// FanOut persists rows and enqueues AI work.
type FanOut struct {
	store  Store
	queue  Queue
	logger *slog.Logger
	now    func() time.Time

	// OnRow, when set, is called after each row is handled.
	OnRow func()
}

// NewFanOut creates an ingestion fan-out.
func NewFanOut(store Store, queue Queue, logger *slog.Logger) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{
		store:  store,
		queue:  queue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (f *FanOut) SetClock(now func() time.Time) {
	f.now = now
}

// Ingest stores every valid row for userID. The store write always precedes
// the enqueue, and a failed enqueue is counted without stopping the run.
func (f *FanOut) Ingest(ctx context.Context, userID string, rows []Row) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, fmt.Errorf("%w: user id is required", common.ErrValidation)
	}

	result := Result{Total: len(rows)}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("ingestion interrupted after %d rows: %w", i, err)
		}
		f.ingestRow(ctx, userID, row, &result)
		if f.OnRow != nil {
			f.OnRow()
		}
	}

	f.logger.Info("ingestion complete",
		"user_id", userID,
		"total", result.Total,
		"stored", result.Stored,
		"enqueued", result.Enqueued,
		"enqueue_failed", result.EnqueueFailed)

	return result, nil
}

func (f *FanOut) ingestRow(ctx context.Context, userID string, row Row, result *Result) {
	summary := strings.TrimSpace(row.Summary)
	if summary == "" || row.Timestamp.IsZero() {
		result.Invalid++
		f.logger.Warn("skipping invalid row", "user_id", userID, "summary", row.Summary)
		return
	}

	now := f.now()
	expense := model.Expense{
		UserID:    userID,
		Summary:   summary,
		Amount:    row.Amount,
		Timestamp: row.Timestamp.UTC(),
	}
	expense.GenerateID()

	existing, err := f.store.GetExpense(ctx, expense.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		result.StoreFailed++
		f.logger.Error("failed to look up existing expense", "expense_id", expense.ID, "error", err)
		return
	}
	if existing != nil {
		result.Duplicates++
		carryForward(&expense, existing, now)
	}

	if category := strings.TrimSpace(row.Category); category != "" {
		expense.Category = category
		expense.CategorizedAt = &now
		result.Categorized++
	}

	enroll := row.AIEnabled && !expense.IsCategorized()
	if enroll {
		expense.AICategorizationEnabled = true
		expense.AICategorizationStatus = model.AIStatusPending
	}

	if err := f.store.PutExpense(ctx, &expense); err != nil {
		result.StoreFailed++
		f.logger.Error("failed to store expense", "expense_id", expense.ID, "error", err)
		return
	}
	result.Stored++
	result.IDs = append(result.IDs, expense.ID)

	if !enroll {
		return
	}
	result.Enrolled++

	if err := f.queue.Send(ctx, model.NewWorkItem(expense, now)); err != nil {
		result.EnqueueFailed++
		f.logger.Error("failed to enqueue expense for categorization",
			"expense_id", expense.ID,
			"user_id", userID,
			"error", err)
		return
	}
	result.Enqueued++
}

// carryForward keeps what must survive a re-upload of the same row: its
// creation time and any committed category with the AI state behind it.
func carryForward(expense, existing *model.Expense, now time.Time) {
	expense.CreatedAt = existing.CreatedAt
	expense.Note = fmt.Sprintf("duplicate upload at %s, previous record overwritten", now.Format(time.RFC3339))

	if !existing.IsCategorized() {
		return
	}
	expense.Category = existing.Category
	expense.CategorizedAt = existing.CategorizedAt
	expense.AICategorizationEnabled = existing.AICategorizationEnabled
	expense.AICategorizationStatus = existing.AICategorizationStatus
	expense.AICategorySuggestion = existing.AICategorySuggestion
	expense.AICategoryConfidence = existing.AICategoryConfidence
	expense.AICategoryReasoning = existing.AICategoryReasoning
	expense.AICategoryValidated = existing.AICategoryValidated
	expense.AICategorizedAt = existing.AICategorizedAt
}
