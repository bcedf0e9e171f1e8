package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateExpenseID_Deterministic(t *testing.T) {
	ts := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		userID  string
		summary string
		ts      time.Time
	}{
		{name: "simple", userID: "user-1", summary: "STARBUCKS #123", ts: ts},
		{name: "empty summary", userID: "user-1", summary: "", ts: ts},
		{name: "unicode", userID: "user-2", summary: "Café Ñandú", ts: ts.Add(time.Nanosecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := GenerateExpenseID(tt.userID, tt.summary, tt.ts)
			second := GenerateExpenseID(tt.userID, tt.summary, tt.ts)
			assert.Equal(t, first, second)
			assert.Len(t, first, 64)
		})
	}
}

func TestGenerateExpenseID_TimezoneNormalized(t *testing.T) {
	utc := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*60*60))

	assert.Equal(t,
		GenerateExpenseID("u", "coffee", utc),
		GenerateExpenseID("u", "coffee", est))
}

func TestGenerateExpenseID_DistinguishesInputs(t *testing.T) {
	ts := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	base := GenerateExpenseID("u", "coffee", ts)

	assert.NotEqual(t, base, GenerateExpenseID("v", "coffee", ts))
	assert.NotEqual(t, base, GenerateExpenseID("u", "tea", ts))
	assert.NotEqual(t, base, GenerateExpenseID("u", "coffee", ts.Add(time.Second)))
}

func TestExpense_IsEligibleForAI(t *testing.T) {
	tests := []struct {
		name    string
		expense Expense
		want    bool
	}{
		{
			name:    "pending and enrolled",
			expense: Expense{AICategorizationEnabled: true, AICategorizationStatus: AIStatusPending},
			want:    true,
		},
		{
			name:    "not enrolled",
			expense: Expense{AICategorizationStatus: AIStatusPending},
		},
		{
			name:    "already processing",
			expense: Expense{AICategorizationEnabled: true, AICategorizationStatus: AIStatusProcessing},
		},
		{
			name:    "completed",
			expense: Expense{AICategorizationEnabled: true, AICategorizationStatus: AIStatusCompleted},
		},
		{
			name: "category set wins over pending",
			expense: Expense{
				AICategorizationEnabled: true,
				AICategorizationStatus:  AIStatusPending,
				Category:                "Travel",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expense.IsEligibleForAI())
		})
	}
}

func TestExpense_CategorizedNeverEligible(t *testing.T) {
	for _, status := range []AIStatus{AIStatusNone, AIStatusPending, AIStatusProcessing, AIStatusCompleted, AIStatusFailed} {
		e := Expense{AICategorizationEnabled: true, AICategorizationStatus: status, Category: "Food & Dining"}
		assert.False(t, e.IsEligibleForAI(), "status %q", status)
	}
}

func TestAIStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, AIStatusPending.CanTransitionTo(AIStatusProcessing))
	assert.True(t, AIStatusProcessing.CanTransitionTo(AIStatusCompleted))
	assert.True(t, AIStatusProcessing.CanTransitionTo(AIStatusFailed))

	assert.False(t, AIStatusProcessing.CanTransitionTo(AIStatusPending))
	assert.False(t, AIStatusCompleted.CanTransitionTo(AIStatusPending))
	assert.False(t, AIStatusFailed.CanTransitionTo(AIStatusPending))
	assert.False(t, AIStatusNone.CanTransitionTo(AIStatusProcessing))
}

func TestExpenseUpdate_Apply(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	e := Expense{ID: "x", AICategorizationStatus: AIStatusProcessing}

	status := AIStatusCompleted
	suggestion := "Shopping"
	ExpenseUpdate{
		AICategorizationStatus: &status,
		AICategorySuggestion:   &suggestion,
		AICategorizedAt:        &now,
	}.Apply(&e, now)

	assert.Equal(t, AIStatusCompleted, e.AICategorizationStatus)
	assert.Equal(t, "Shopping", e.AICategorySuggestion)
	require.NotNil(t, e.AICategorizedAt)
	assert.Equal(t, now, *e.AICategorizedAt)
	assert.Equal(t, now, e.UpdatedAt)
	assert.Empty(t, e.Category)
	assert.True(t, ExpenseUpdate{}.IsEmpty())
}

func TestValidation_JSON(t *testing.T) {
	tests := []struct {
		value Validation
		json  string
	}{
		{Unvalidated, "null"},
		{Accepted, "true"},
		{Rejected, "false"},
	}

	for _, tt := range tests {
		t.Run(tt.value.String(), func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			var decoded Validation
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.value, decoded)
		})
	}

	var v Validation
	assert.Error(t, json.Unmarshal([]byte(`"yes"`), &v))
}

func TestParseWorkItem(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"expenseId":"e1","userId":"u1","enqueuedAt":"2024-01-01T00:00:00Z"}`},
		{name: "missing expense id", body: `{"userId":"u1"}`, wantErr: true},
		{name: "missing user id", body: `{"expenseId":"e1"}`, wantErr: true},
		{name: "not json", body: `expense e1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := ParseWorkItem([]byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedWorkItem)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "e1", item.ExpenseID)
			assert.Equal(t, "u1", item.UserID)
		})
	}
}
