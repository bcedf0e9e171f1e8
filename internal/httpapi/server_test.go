package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/storage"
	"github.com/Veraticus/expense-flow/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (http.Handler, *storage.SQLiteStorage, model.Expense) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	expense := model.Expense{
		UserID:                  "user-1",
		Summary:                 "SHELL OIL 5741",
		Amount:                  decimal.RequireFromString("48.02"),
		Timestamp:               time.Date(2024, 6, 1, 7, 30, 0, 0, time.UTC),
		AICategorizationEnabled: true,
		AICategorizationStatus:  model.AIStatusCompleted,
		AICategorySuggestion:    "Transportation",
		AICategoryConfidence:    0.88,
	}
	expense.GenerateID()
	require.NoError(t, store.PutExpense(context.Background(), &expense))

	srv := NewServer(validation.NewService(store, nil), true, nil)
	return srv.Routes(), store, expense
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("x-user-sub", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestValidateEndpoint_Accept(t *testing.T) {
	h, store, expense := setupServer(t)

	rec := do(t, h, http.MethodPost, "/expenses/validate", "user-1",
		fmt.Sprintf(`{"expenseId":%q,"validated":true}`, expense.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Transportation", view["category"])
	assert.Equal(t, true, view["aiCategoryValidated"])
	assert.Equal(t, "48.02", view["amount"])

	stored, err := store.GetExpense(context.Background(), expense.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Accepted, stored.AICategoryValidated)
}

func TestValidateEndpoint_RejectWithCategory(t *testing.T) {
	h, store, expense := setupServer(t)

	rec := do(t, h, http.MethodPost, "/expenses/validate", "user-1",
		fmt.Sprintf(`{"expenseId":%q,"validated":false,"category":"Auto"}`, expense.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := store.GetExpense(context.Background(), expense.ID)
	require.NoError(t, err)
	assert.Equal(t, "Auto", stored.Category)
	assert.Equal(t, model.Rejected, stored.AICategoryValidated)
}

func TestValidateEndpoint_Errors(t *testing.T) {
	h, _, expense := setupServer(t)

	tests := []struct {
		name       string
		user       string
		body       string
		wantStatus int
	}{
		{name: "no identity", user: "", body: fmt.Sprintf(`{"expenseId":%q,"validated":true}`, expense.ID), wantStatus: http.StatusUnauthorized},
		{name: "bad json", user: "user-1", body: `{"expenseId":`, wantStatus: http.StatusBadRequest},
		{name: "missing validated", user: "user-1", body: fmt.Sprintf(`{"expenseId":%q}`, expense.ID), wantStatus: http.StatusBadRequest},
		{name: "missing expense id", user: "user-1", body: `{"validated":true}`, wantStatus: http.StatusBadRequest},
		{name: "unknown expense", user: "user-1", body: `{"expenseId":"missing","validated":true}`, wantStatus: http.StatusNotFound},
		{name: "someone else's expense", user: "user-2", body: fmt.Sprintf(`{"expenseId":%q,"validated":false}`, expense.ID), wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/expenses/validate", tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetExpenseEndpoint(t *testing.T) {
	h, _, expense := setupServer(t)

	rec := do(t, h, http.MethodGet, "/expenses/"+expense.ID, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view ExpenseView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, expense.ID, view.ID)
	assert.Equal(t, model.AIStatusCompleted, view.AICategorizationStatus)
	assert.Equal(t, model.Unvalidated, view.AICategoryValidated)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/expenses/"+expense.ID, "user-2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/expenses/nope", "user-1", "").Code)
}

func TestHealthz(t *testing.T) {
	h, _, _ := setupServer(t)
	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: http.StatusOK},
		{err: fmt.Errorf("wrapped: %w", common.ErrValidation), want: http.StatusBadRequest},
		{err: common.ErrUnauthorized, want: http.StatusUnauthorized},
		{err: common.NewUserError("nope", common.ErrForbidden), want: http.StatusForbidden},
		{err: common.ErrNotFound, want: http.StatusNotFound},
		{err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err))
	}
	assert.Equal(t, "internal error", ErrorMessage(errors.New("disk on fire")))
}

func TestLambdaResponses(t *testing.T) {
	resp := Error(common.NewUserError("validated is required", common.ErrValidation))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"validated is required"}`, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
}
