package cli

import (
	"testing"
	"time"

	"github.com/Veraticus/expense-flow/internal/ingest"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestFormatters(t *testing.T) {
	assert.Contains(t, FormatSuccess("done"), "done")
	assert.Contains(t, FormatError("boom"), ErrorIcon)
	assert.Contains(t, FormatWarning("careful"), WarningIcon)
	assert.Contains(t, FormatInfo("fyi"), "fyi")
}

func TestRenderIngestResult(t *testing.T) {
	out := RenderIngestResult(ingest.Result{Total: 3, Stored: 3, Enrolled: 2, Enqueued: 2, Categorized: 1})
	assert.Contains(t, out, "Ingestion")
	assert.Contains(t, out, "Enqueued")
	assert.NotContains(t, out, "Invalid")

	out = RenderIngestResult(ingest.Result{Total: 2, Invalid: 1, EnqueueFailed: 1})
	assert.Contains(t, out, "Invalid")
	assert.Contains(t, out, "Enqueue failures")
}

func TestRenderBatchSummary(t *testing.T) {
	out := RenderBatchSummary(model.BatchSummary{TotalProcessed: 3, Eligible: 3, Successful: 2, Failed: 1, Duration: 1500 * time.Millisecond})
	assert.Contains(t, out, "Successful")
	assert.Contains(t, out, "Failed")
	assert.NotContains(t, out, "Malformed")
}

func TestRenderStatusCounts(t *testing.T) {
	out := RenderStatusCounts("user-1",
		map[model.AIStatus]int{model.AIStatusPending: 2, model.AIStatusNone: 1},
		map[string]int{"visible": 4, "dead": 1})
	assert.Contains(t, out, "user-1")
	assert.Contains(t, out, "not enrolled")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "queue dead")
}
