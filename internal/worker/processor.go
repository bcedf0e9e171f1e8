// Package worker drains categorization work items: it groups them per user,
// classifies eligible expenses in bounded chunks, and records the outcome
// on each expense.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/expense-flow/internal/llm"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
	"golang.org/x/sync/errgroup"
)

// Classifier suggests categories for a chunk of expenses.
type Classifier interface {
	CategorizeBatch(ctx context.Context, expenses []model.Expense, labels []string) ([]llm.Result, error)
}

// CatalogSource resolves the labels a user's expenses may be filed under.
type CatalogSource interface {
	ForUser(ctx context.Context, userID string) (model.Catalog, error)
}

// Options tunes the processor.
type Options struct {
	// UserConcurrency bounds how many users are processed at once.
	UserConcurrency int
	// ChunkSize caps expenses per classification call.
	ChunkSize int
	// ConditionalTransition guards pending->processing with a compare-and-set.
	ConditionalTransition bool
}

// Processor runs the categorization batch algorithm.
type Processor struct {
	store      service.ExpenseStore
	catalog    CatalogSource
	classifier Classifier
	logger     *slog.Logger
	now        func() time.Time
	opts       Options
}

// NewProcessor wires a processor. The classifier is injected so tests can
// substitute a double.
func NewProcessor(store service.ExpenseStore, catalog CatalogSource, classifier Classifier, opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UserConcurrency <= 0 {
		opts.UserConcurrency = 4
	}
	if opts.ChunkSize <= 0 || opts.ChunkSize > model.MaxCategorizationBatch {
		opts.ChunkSize = model.MaxCategorizationBatch
	}
	return &Processor{
		store:      store,
		catalog:    catalog,
		classifier: classifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		opts:       opts,
	}
}

// SetClock overrides the time source.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// HandleMessages parses queue deliveries and processes the valid ones.
// Malformed bodies are logged and counted but never retried.
func (p *Processor) HandleMessages(ctx context.Context, msgs []service.Message) model.BatchSummary {
	items := make([]model.WorkItem, 0, len(msgs))
	malformed := 0
	for _, msg := range msgs {
		item, err := model.ParseWorkItem(msg.Body)
		if err != nil {
			malformed++
			p.logger.Warn("dropping malformed work item",
				"message_id", msg.ID,
				"error", err)
			continue
		}
		items = append(items, item)
	}

	summary := p.ProcessBatch(ctx, items)
	summary.Malformed += malformed
	return summary
}

// userWork is one user's distinct expense ids in first-seen order.
type userWork struct {
	userID string
	ids    []string
}

// ProcessBatch categorizes the expenses referenced by items. Users run
// concurrently, each user's chunks run in order, and failures are recorded
// as expense status rather than returned.
func (p *Processor) ProcessBatch(ctx context.Context, items []model.WorkItem) model.BatchSummary {
	start := time.Now()
	groups := groupByUser(items)

	var (
		mu      sync.Mutex
		summary model.BatchSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.UserConcurrency)
	for _, work := range groups {
		g.Go(func() error {
			userSummary := p.processUser(gctx, work)
			mu.Lock()
			summary.Add(userSummary)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)

	p.logger.Info("categorization batch complete",
		"users", len(groups),
		"total_processed", summary.TotalProcessed,
		"eligible", summary.Eligible,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration)

	return summary
}

func groupByUser(items []model.WorkItem) []userWork {
	index := make(map[string]int)
	seen := make(map[string]map[string]bool)
	var groups []userWork

	for _, item := range items {
		i, ok := index[item.UserID]
		if !ok {
			i = len(groups)
			index[item.UserID] = i
			seen[item.UserID] = make(map[string]bool)
			groups = append(groups, userWork{userID: item.UserID})
		}
		if seen[item.UserID][item.ExpenseID] {
			continue
		}
		seen[item.UserID][item.ExpenseID] = true
		groups[i].ids = append(groups[i].ids, item.ExpenseID)
	}
	return groups
}

func (p *Processor) processUser(ctx context.Context, work userWork) model.BatchSummary {
	var summary model.BatchSummary
	for start := 0; start < len(work.ids); start += p.opts.ChunkSize {
		end := start + p.opts.ChunkSize
		if end > len(work.ids) {
			end = len(work.ids)
		}
		summary.Add(p.processChunk(ctx, work.userID, work.ids[start:end]))
	}
	return summary
}

func (p *Processor) processChunk(ctx context.Context, userID string, ids []string) model.BatchSummary {
	var summary model.BatchSummary

	expenses, err := p.store.BatchGetExpenses(ctx, ids)
	if err != nil {
		p.logger.Error("failed to read chunk, marking unfinished expenses failed",
			"user_id", userID,
			"chunk_size", len(ids),
			"error", err)
		moved := p.failUnfinished(ctx, ids)
		summary.TotalProcessed = len(ids)
		summary.Eligible = moved
		summary.Failed = moved
		summary.Skipped = len(ids) - moved
		return summary
	}

	eligible := p.claimEligible(ctx, expenses)
	summary.TotalProcessed = len(ids)
	summary.Eligible = len(eligible)
	summary.Skipped = len(ids) - len(eligible)
	if len(eligible) == 0 {
		return summary
	}

	eligibleIDs := make([]string, len(eligible))
	for i, e := range eligible {
		eligibleIDs[i] = e.ID
	}

	cat, err := p.catalog.ForUser(ctx, userID)
	if err != nil {
		p.logger.Error("failed to load category catalog",
			"user_id", userID,
			"error", err)
		p.markFailed(ctx, eligibleIDs)
		summary.Failed = len(eligible)
		return summary
	}

	results, err := p.classifier.CategorizeBatch(ctx, eligible, cat.All)
	if err != nil {
		p.logger.Error("classification batch rejected",
			"user_id", userID,
			"chunk_size", len(eligible),
			"error", err)
		p.markFailed(ctx, eligibleIDs)
		summary.Failed = len(eligible)
		return summary
	}

	for _, result := range results {
		if p.recordResult(ctx, result) {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return summary
}

// claimEligible filters expenses the worker may classify and marks them
// processing. By default the mark is a plain overwrite, so two deliveries of
// the same item can both claim it.
func (p *Processor) claimEligible(ctx context.Context, expenses []model.Expense) []model.Expense {
	eligible := make([]model.Expense, 0, len(expenses))
	for _, e := range expenses {
		if !e.IsEligibleForAI() {
			continue
		}

		if p.opts.ConditionalTransition {
			ok, err := p.store.TransitionStatus(ctx, e.ID, model.AIStatusPending, model.AIStatusProcessing)
			if err != nil {
				p.logger.Error("failed to claim expense", "expense_id", e.ID, "error", err)
				continue
			}
			if !ok {
				p.logger.Debug("expense already claimed", "expense_id", e.ID)
				continue
			}
		} else if err := p.store.UpdateExpense(ctx, e.ID, model.StatusUpdate(model.AIStatusProcessing)); err != nil {
			p.logger.Warn("failed to mark expense processing", "expense_id", e.ID, "error", err)
		}

		eligible = append(eligible, e)
	}
	return eligible
}

func (p *Processor) recordResult(ctx context.Context, result llm.Result) bool {
	if result.Err != nil {
		p.logger.Warn("expense categorization failed",
			"expense_id", result.ExpenseID,
			"error", result.Err)
		p.markFailed(ctx, []string{result.ExpenseID})
		return false
	}

	status := model.AIStatusCompleted
	now := p.now()
	suggestion := result.Suggestion
	update := model.ExpenseUpdate{
		AICategorizationStatus: &status,
		AICategorySuggestion:   &suggestion.Category,
		AICategoryConfidence:   &suggestion.Confidence,
		AICategoryReasoning:    &suggestion.Reasoning,
		AICategorizedAt:        &now,
	}
	if err := p.store.UpdateExpense(ctx, result.ExpenseID, update); err != nil {
		p.logger.Error("failed to record suggestion",
			"expense_id", result.ExpenseID,
			"error", err)
		p.failUnfinished(ctx, []string{result.ExpenseID})
		return false
	}
	return true
}

// failUnfinished moves expenses still pending or processing to failed and
// returns how many moved. Finished expenses keep their status.
func (p *Processor) failUnfinished(ctx context.Context, ids []string) int {
	moved := 0
	for _, id := range ids {
		for _, from := range []model.AIStatus{model.AIStatusProcessing, model.AIStatusPending} {
			ok, err := p.store.TransitionStatus(ctx, id, from, model.AIStatusFailed)
			if err != nil {
				p.logger.Error("failed to mark expense failed",
					"expense_id", id,
					"error", err)
				break
			}
			if ok {
				moved++
				break
			}
		}
	}
	return moved
}

func (p *Processor) markFailed(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := p.store.UpdateExpense(ctx, id, model.StatusUpdate(model.AIStatusFailed)); err != nil {
			p.logger.Error("failed to mark expense failed",
				"expense_id", id,
				"error", err)
		}
	}
}
