// Package catalog produces the list of category labels valid for a user:
// a fixed predefined set plus labels mined from the user's own history.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
)

// HistorySampleSize bounds how many categorized expenses are scanned per request.
const HistorySampleSize = 100

// predefined is the ordered label set shipped with the system.
var predefined = []string{
	"Food & Dining",
	"Transportation",
	"Shopping",
	"Entertainment",
	"Bills & Utilities",
	"Healthcare",
	"Travel",
	"Education",
	"Personal Care",
	model.OtherCategory,
}

// Predefined returns a copy of the predefined labels.
func Predefined() []string {
	out := make([]string, len(predefined))
	copy(out, predefined)
	return out
}

// ExpenseQuerier is the slice of the expense store the catalog reads.
type ExpenseQuerier interface {
	QueryExpensesByUser(ctx context.Context, userID string, filter service.ExpenseFilter) ([]model.Expense, error)
}

// Catalog builds per-user category catalogs.
type Catalog struct {
	store ExpenseQuerier
}

// New creates a catalog backed by the expense store.
func New(store ExpenseQuerier) *Catalog {
	return &Catalog{store: store}
}

// ForUser computes the catalog for a user. Nothing is cached: labels the user
// adds while a run is in progress show up in the next chunk.
func (c *Catalog) ForUser(ctx context.Context, userID string) (model.Catalog, error) {
	expenses, err := c.store.QueryExpensesByUser(ctx, userID, service.ExpenseFilter{
		OnlyCategorized: true,
		Limit:           HistorySampleSize,
	})
	if err != nil {
		return model.Catalog{}, fmt.Errorf("failed to load category history for %s: %w", userID, err)
	}

	userDefined := UserDefined(expenses)
	all := make([]string, 0, len(predefined)+len(userDefined))
	all = append(all, predefined...)
	all = append(all, userDefined...)

	return model.Catalog{
		Predefined:  Predefined(),
		UserDefined: userDefined,
		All:         all,
	}, nil
}

// UserDefined extracts the distinct non-predefined labels from at most
// HistorySampleSize categorized expenses, sorted alphabetically.
func UserDefined(expenses []model.Expense) []string {
	known := make(map[string]bool, len(predefined))
	for _, p := range predefined {
		known[p] = true
	}

	if len(expenses) > HistorySampleSize {
		expenses = expenses[:HistorySampleSize]
	}

	seen := make(map[string]bool)
	labels := make([]string, 0)
	for _, e := range expenses {
		label := strings.TrimSpace(e.Category)
		if label == "" || known[label] || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}

	sort.Strings(labels)
	return labels
}

// ValidateCategory matches candidate against the available labels, exactly
// first and then case-insensitively. It returns the available-list casing.
func ValidateCategory(candidate string, available []string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}

	for _, label := range available {
		if label == candidate {
			return label, true
		}
	}
	for _, label := range available {
		if strings.EqualFold(label, candidate) {
			return label, true
		}
	}
	return "", false
}
