package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 200, cfg.LLM.MaxTokens)
	assert.Equal(t, 3, cfg.LLM.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "userId-index", cfg.Store.UserIndex)
	assert.Equal(t, 6*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 3, cfg.Queue.MaxReceiveCount)
	assert.Equal(t, 4, cfg.Worker.UserConcurrency)
	assert.False(t, cfg.Worker.ConditionalTransition)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NotContains(t, cfg.Store.DatabasePath, "$HOME")
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MODEL", "gpt-4o")
	t.Setenv("OPENAI_MODEL", "ignored")
	t.Setenv("OPENAI_MAX_TOKENS", "150")
	t.Setenv("STORE_BACKEND", "DynamoDB")
	t.Setenv("QUEUE_BACKEND", "sqs")
	t.Setenv("CATEGORIZATION_QUEUE_URL", "http://localhost:4566/000000000000/categorize")
	t.Setenv("VISIBILITY_TIMEOUT", "90s")
	t.Setenv("WORKER_CONDITIONAL_TRANSITION", "true")
	t.Setenv("DEV_BYPASS_AUTH", "true")

	v, err := New()
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model, "the first env var wins")
	assert.Equal(t, 150, cfg.LLM.MaxTokens)
	assert.Equal(t, BackendDynamoDB, cfg.Store.Backend)
	assert.Equal(t, BackendSQS, cfg.Queue.Backend)
	assert.Equal(t, 90*time.Second, cfg.Queue.VisibilityTimeout)
	assert.True(t, cfg.Worker.ConditionalTransition)
	assert.True(t, cfg.Server.DevBypass)
	assert.NoError(t, cfg.RequireLLM())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		env  map[string]string
		name string
	}{
		{name: "unknown store", env: map[string]string{"STORE_BACKEND": "postgres"}},
		{name: "unknown queue", env: map[string]string{"QUEUE_BACKEND": "kafka"}},
		{name: "sqs without url", env: map[string]string{"QUEUE_BACKEND": "sqs"}},
		{name: "sqlite queue on dynamodb", env: map[string]string{"STORE_BACKEND": "dynamodb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, val := range tt.env {
				t.Setenv(k, val)
			}
			v, err := New()
			require.NoError(t, err)
			_, err = Load(v)
			require.ErrorIs(t, err, common.ErrConfiguration)
		})
	}
}

func TestRequireLLM(t *testing.T) {
	assert.ErrorIs(t, Config{}.RequireLLM(), common.ErrConfiguration)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("EXPENSEFLOW_TEST_DIR", "/data")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "~", want: home},
		{in: "~/db/expenses.db", want: filepath.Join(home, "db/expenses.db")},
		{in: "$EXPENSEFLOW_TEST_DIR/expenses.db", want: "/data/expenses.db"},
		{in: "/abs/path.db", want: "/abs/path.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandPath(tt.in), tt.in)
	}
}

func TestLoadLambda(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	cfg, err := LoadLambda(v)
	require.NoError(t, err)
	assert.Equal(t, BackendDynamoDB, cfg.Store.Backend)
	assert.Equal(t, "expenses", cfg.Store.Table)

	t.Setenv("STORE_BACKEND", "sqlite")
	v, err = New()
	require.NoError(t, err)
	_, err = LoadLambda(v)
	require.ErrorIs(t, err, common.ErrConfiguration)
}
