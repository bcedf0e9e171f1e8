package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
)

const expenseColumns = `id, user_id, summary, amount, timestamp,
	category, categorized_at, note,
	ai_enabled, ai_status, ai_suggestion, ai_confidence, ai_reasoning,
	ai_validated, ai_categorized_at, created_at, updated_at`

// batchGetChunk mirrors the DynamoDB BatchGetItem key limit.
const batchGetChunk = 100

// PutExpense writes an expense, replacing any record with the same id.
func (s *SQLiteStorage) PutExpense(ctx context.Context, expense *model.Expense) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateExpense(expense); err != nil {
		return err
	}

	now := s.now()
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = now
	}
	expense.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID,
		expense.UserID,
		expense.Summary,
		expense.Amount.String(),
		expense.Timestamp.UTC(),
		nullString(expense.Category),
		nullTime(expense.CategorizedAt),
		nullString(expense.Note),
		expense.AICategorizationEnabled,
		nullString(string(expense.AICategorizationStatus)),
		nullString(expense.AICategorySuggestion),
		expense.AICategoryConfidence,
		nullString(expense.AICategoryReasoning),
		nullValidation(expense.AICategoryValidated),
		nullTime(expense.AICategorizedAt),
		expense.CreatedAt.UTC(),
		expense.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save expense %s: %w", expense.ID, err)
	}
	return nil
}

// GetExpense retrieves a single expense by id.
func (s *SQLiteStorage) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	expense, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense %s: %w", id, err)
	}
	return expense, nil
}

// UpdateExpense applies a field-level update. Unset fields are left untouched.
func (s *SQLiteStorage) UpdateExpense(ctx context.Context, id string, update model.ExpenseUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateUpdate(update); err != nil {
		return err
	}

	sets, args := updateAssignments(update)
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update expense %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("expense %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// TransitionStatus sets the AI status only if it currently equals from.
func (s *SQLiteStorage) TransitionStatus(ctx context.Context, id string, from, to model.AIStatus) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if !from.IsValid() || !to.IsValid() {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, to)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE expenses SET ai_status = ?, updated_at = ?
		WHERE id = ? AND COALESCE(ai_status, '') = ?`,
		nullString(string(to)), s.now(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition expense %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check transition result: %w", err)
	}
	return affected == 1, nil
}

// BatchGetExpenses returns the expenses that exist among ids, in id order.
// Missing ids are silently omitted.
func (s *SQLiteStorage) BatchGetExpenses(ctx context.Context, ids []string) ([]model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]model.Expense, len(ids))
	for start := 0; start < len(ids); start += batchGetChunk {
		end := min(start+batchGetChunk, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		expenses, err := s.queryExpenses(ctx, s.db,
			`SELECT `+expenseColumns+` FROM expenses WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to batch get expenses: %w", err)
		}
		for _, e := range expenses {
			byID[e.ID] = e
		}
	}

	result := make([]model.Expense, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok && !seen[id] {
			result = append(result, e)
			seen[id] = true
		}
	}
	return result, nil
}

// QueryExpensesByUser lists a user's expenses, newest first.
func (s *SQLiteStorage) QueryExpensesByUser(ctx context.Context, userID string, filter service.ExpenseFilter) ([]model.Expense, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE user_id = ?`
	args := []any{userID}

	if filter.OnlyCategorized {
		query += ` AND category IS NOT NULL AND TRIM(category) != ''`
	}
	if filter.Status != nil {
		query += ` AND COALESCE(ai_status, '') = ?`
		args = append(args, string(*filter.Status))
	}

	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	expenses, err := s.queryExpenses(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses for user %s: %w", userID, err)
	}
	return expenses, nil
}

// CountByStatus returns the number of a user's expenses per AI status.
func (s *SQLiteStorage) CountByStatus(ctx context.Context, userID string) (map[model.AIStatus]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(ai_status, ''), COUNT(*)
		FROM expenses WHERE user_id = ?
		GROUP BY COALESCE(ai_status, '')`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.AIStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[model.AIStatus(status)] = count
	}
	return counts, rows.Err()
}

func (s *SQLiteStorage) queryExpenses(ctx context.Context, q queryable, query string, args ...any) ([]model.Expense, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var expenses []model.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *expense)
	}
	return expenses, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*model.Expense, error) {
	var (
		e               model.Expense
		category        sql.NullString
		categorizedAt   sql.NullTime
		note            sql.NullString
		aiStatus        sql.NullString
		aiSuggestion    sql.NullString
		aiConfidence    sql.NullFloat64
		aiReasoning     sql.NullString
		aiValidated     sql.NullBool
		aiCategorizedAt sql.NullTime
	)

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Summary,
		&e.Amount,
		&e.Timestamp,
		&category,
		&categorizedAt,
		&note,
		&e.AICategorizationEnabled,
		&aiStatus,
		&aiSuggestion,
		&aiConfidence,
		&aiReasoning,
		&aiValidated,
		&aiCategorizedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.Category = category.String
	e.CategorizedAt = timePtr(categorizedAt)
	e.Note = note.String
	e.AICategorizationStatus = model.AIStatus(aiStatus.String)
	e.AICategorySuggestion = aiSuggestion.String
	e.AICategoryConfidence = aiConfidence.Float64
	e.AICategoryReasoning = aiReasoning.String
	if aiValidated.Valid {
		e.AICategoryValidated = model.ValidationFromBool(aiValidated.Bool)
	}
	e.AICategorizedAt = timePtr(aiCategorizedAt)

	return &e, nil
}

// updateAssignments renders the SET clause for the non-nil update fields.
func updateAssignments(u model.ExpenseUpdate) ([]string, []any) {
	var sets []string
	var args []any

	if u.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, nullString(*u.Category))
	}
	if u.CategorizedAt != nil {
		sets = append(sets, "categorized_at = ?")
		args = append(args, u.CategorizedAt.UTC())
	}
	if u.AICategorizationStatus != nil {
		sets = append(sets, "ai_status = ?")
		args = append(args, nullString(string(*u.AICategorizationStatus)))
	}
	if u.AICategorySuggestion != nil {
		sets = append(sets, "ai_suggestion = ?")
		args = append(args, nullString(*u.AICategorySuggestion))
	}
	if u.AICategoryConfidence != nil {
		sets = append(sets, "ai_confidence = ?")
		args = append(args, *u.AICategoryConfidence)
	}
	if u.AICategoryReasoning != nil {
		sets = append(sets, "ai_reasoning = ?")
		args = append(args, nullString(*u.AICategoryReasoning))
	}
	if u.AICategoryValidated != nil {
		sets = append(sets, "ai_validated = ?")
		args = append(args, nullValidation(*u.AICategoryValidated))
	}
	if u.AICategorizedAt != nil {
		sets = append(sets, "ai_categorized_at = ?")
		args = append(args, u.AICategorizedAt.UTC())
	}

	return sets, args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullValidation(v model.Validation) sql.NullBool {
	b := v.Bool()
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
