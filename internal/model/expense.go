// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AIStatus tracks an expense through AI categorization.
// The zero value means the expense is not enrolled.
type AIStatus string

// AI categorization status constants.
const (
	AIStatusNone       AIStatus = ""
	AIStatusPending    AIStatus = "pending"
	AIStatusProcessing AIStatus = "processing"
	AIStatusCompleted  AIStatus = "completed"
	AIStatusFailed     AIStatus = "failed"
)

// IsValid reports whether s is one of the known statuses (including none).
func (s AIStatus) IsValid() bool {
	switch s {
	case AIStatusNone, AIStatusPending, AIStatusProcessing, AIStatusCompleted, AIStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further worker transition is possible.
func (s AIStatus) IsTerminal() bool {
	return s == AIStatusCompleted || s == AIStatusFailed
}

// CanTransitionTo reports whether the worker may move an expense from s to next.
// Status only moves forward; pending is re-entered solely through ingestion.
func (s AIStatus) CanTransitionTo(next AIStatus) bool {
	switch s {
	case AIStatusPending:
		return next == AIStatusProcessing || next == AIStatusFailed
	case AIStatusProcessing:
		return next == AIStatusCompleted || next == AIStatusFailed
	default:
		return false
	}
}

// Expense is a single spending record owned by one user.
type Expense struct {
	Timestamp     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CategorizedAt *time.Time

	AICategorizedAt *time.Time

	ID      string
	UserID  string
	Summary string
	Amount  decimal.Decimal

	// Category is the committed category. Empty means uncategorized.
	Category string
	// Note records duplicate-ingestion overwrites.
	Note string

	AICategorizationStatus AIStatus
	AICategorySuggestion   string
	AICategoryReasoning    string
	AICategoryConfidence   float64
	AICategoryValidated    Validation

	AICategorizationEnabled bool
}

// GenerateExpenseID returns the deterministic id for a (user, summary, timestamp) triple.
// Re-ingesting the same logical row always yields the same id.
func GenerateExpenseID(userID, summary string, timestamp time.Time) string {
	data := fmt.Sprintf("%s|%s|%s",
		userID,
		summary,
		timestamp.UTC().Format(time.RFC3339Nano))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// GenerateID sets and returns the expense's deterministic id.
func (e *Expense) GenerateID() string {
	e.ID = GenerateExpenseID(e.UserID, e.Summary, e.Timestamp)
	return e.ID
}

// IsCategorized reports whether a final category has been committed.
func (e *Expense) IsCategorized() bool {
	return strings.TrimSpace(e.Category) != ""
}

// IsEligibleForAI reports whether the worker may classify this expense:
// enrolled, still pending, and not yet categorized.
func (e *Expense) IsEligibleForAI() bool {
	return e.AICategorizationEnabled &&
		e.AICategorizationStatus == AIStatusPending &&
		!e.IsCategorized()
}

// ExpenseUpdate is a field-level patch. Nil fields are left untouched.
// Updates are plain overwrites; the last writer wins per field.
type ExpenseUpdate struct {
	Category               *string
	CategorizedAt          *time.Time
	AICategorizationStatus *AIStatus
	AICategorySuggestion   *string
	AICategoryConfidence   *float64
	AICategoryReasoning    *string
	AICategoryValidated    *Validation
	AICategorizedAt        *time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u ExpenseUpdate) IsEmpty() bool {
	return u.Category == nil &&
		u.CategorizedAt == nil &&
		u.AICategorizationStatus == nil &&
		u.AICategorySuggestion == nil &&
		u.AICategoryConfidence == nil &&
		u.AICategoryReasoning == nil &&
		u.AICategoryValidated == nil &&
		u.AICategorizedAt == nil
}

// Apply copies the non-nil fields of u onto e and stamps UpdatedAt.
func (u ExpenseUpdate) Apply(e *Expense, now time.Time) {
	if u.Category != nil {
		e.Category = *u.Category
	}
	if u.CategorizedAt != nil {
		t := *u.CategorizedAt
		e.CategorizedAt = &t
	}
	if u.AICategorizationStatus != nil {
		e.AICategorizationStatus = *u.AICategorizationStatus
	}
	if u.AICategorySuggestion != nil {
		e.AICategorySuggestion = *u.AICategorySuggestion
	}
	if u.AICategoryConfidence != nil {
		e.AICategoryConfidence = *u.AICategoryConfidence
	}
	if u.AICategoryReasoning != nil {
		e.AICategoryReasoning = *u.AICategoryReasoning
	}
	if u.AICategoryValidated != nil {
		e.AICategoryValidated = *u.AICategoryValidated
	}
	if u.AICategorizedAt != nil {
		t := *u.AICategorizedAt
		e.AICategorizedAt = &t
	}
	e.UpdatedAt = now
}

// StatusUpdate builds an update that only changes the AI status.
func StatusUpdate(status AIStatus) ExpenseUpdate {
	return ExpenseUpdate{AICategorizationStatus: &status}
}
