package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
)

// testClock is a manually advanced UTC clock.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func createTestQueue(t *testing.T, maxReceiveCount int) (*SQLiteQueue, *testClock, func()) {
	t.Helper()
	store, cleanup := createTestStorage(t)
	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store.SetClock(clock.Now)
	return store.NewQueue("categorization", maxReceiveCount), clock, cleanup
}

func workItem(id string) model.WorkItem {
	return model.WorkItem{ExpenseID: id, UserID: "user-1", EnqueuedAt: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)}
}

func TestSQLiteQueue_SendReceiveAck(t *testing.T) {
	q, _, cleanup := createTestQueue(t, 3)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := q.Send(ctx, workItem(id)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 2, time.Minute)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}

	item, err := model.ParseWorkItem(msgs[0].Body)
	if err != nil {
		t.Fatalf("Failed to parse body: %v", err)
	}
	if item.ExpenseID != "e1" {
		t.Errorf("Expected FIFO order, first = %s", item.ExpenseID)
	}
	if msgs[0].ReceiveCount != 1 || msgs[0].ReceiptHandle == "" {
		t.Errorf("Unexpected lease metadata: %+v", msgs[0])
	}

	for _, m := range msgs {
		if err := q.Ack(ctx, m.ReceiptHandle); err != nil {
			t.Fatalf("Ack failed: %v", err)
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Visible != 1 || stats.InFlight != 0 || stats.Dead != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSQLiteQueue_SendRejectsMalformedItem(t *testing.T) {
	q, _, cleanup := createTestQueue(t, 3)
	defer cleanup()

	err := q.Send(context.Background(), model.WorkItem{ExpenseID: "e1"})
	if !errors.Is(err, model.ErrMalformedWorkItem) {
		t.Errorf("Expected ErrMalformedWorkItem, got %v", err)
	}
}

func TestSQLiteQueue_VisibilityTimeout(t *testing.T) {
	q, clock, cleanup := createTestQueue(t, 3)
	defer cleanup()
	ctx := context.Background()

	if err := q.Send(ctx, workItem("e1")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	first, err := q.Receive(ctx, 10, time.Minute)
	if err != nil || len(first) != 1 {
		t.Fatalf("First receive = %d, %v", len(first), err)
	}

	hidden, err := q.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(hidden) != 0 {
		t.Fatal("Leased message should be invisible")
	}

	clock.Advance(61 * time.Second)
	again, err := q.Receive(ctx, 10, time.Minute)
	if err != nil || len(again) != 1 {
		t.Fatalf("Redelivery = %d, %v", len(again), err)
	}
	if again[0].ReceiveCount != 2 {
		t.Errorf("ReceiveCount = %d, want 2", again[0].ReceiveCount)
	}

	// The first lease expired, so its receipt is stale.
	if err := q.Ack(ctx, first[0].ReceiptHandle); !errors.Is(err, common.ErrDelivery) {
		t.Errorf("Expected ErrDelivery for stale receipt, got %v", err)
	}
	if err := q.Ack(ctx, again[0].ReceiptHandle); err != nil {
		t.Errorf("Ack with current receipt failed: %v", err)
	}
}

func TestSQLiteQueue_Nack(t *testing.T) {
	q, _, cleanup := createTestQueue(t, 3)
	defer cleanup()
	ctx := context.Background()

	_ = q.Send(ctx, workItem("e1"))
	msgs, _ := q.Receive(ctx, 1, time.Hour)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}

	if err := q.Nack(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Nack failed: %v", err)
	}

	again, err := q.Receive(ctx, 1, time.Hour)
	if err != nil || len(again) != 1 {
		t.Fatalf("Expected immediate redelivery after nack, got %d, %v", len(again), err)
	}
}

func TestSQLiteQueue_DeadLetterAfterMaxReceives(t *testing.T) {
	q, clock, cleanup := createTestQueue(t, 3)
	defer cleanup()
	ctx := context.Background()

	_ = q.Send(ctx, workItem("poison"))

	for i := 1; i <= 3; i++ {
		msgs, err := q.Receive(ctx, 1, time.Minute)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("Delivery %d = %d, %v", i, len(msgs), err)
		}
		clock.Advance(2 * time.Minute)
	}

	msgs, err := q.Receive(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatal("Message should be dead-lettered after 3 deliveries")
	}

	letters, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 || letters[0].ReceiveCount != 3 {
		t.Fatalf("Unexpected dead letters: %+v", letters)
	}

	moved, err := q.Redrive(ctx)
	if err != nil || moved != 1 {
		t.Fatalf("Redrive = %d, %v", moved, err)
	}

	msgs, err = q.Receive(ctx, 1, time.Minute)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Expected redriven message, got %d, %v", len(msgs), err)
	}
	if msgs[0].ReceiveCount != 1 {
		t.Errorf("Redriven ReceiveCount = %d, want 1", msgs[0].ReceiveCount)
	}
}

func TestSQLiteQueue_QueuesAreIsolated(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	a := store.NewQueue("a", 3)
	b := store.NewQueue("b", 3)
	_ = a.Send(ctx, workItem("e1"))

	msgs, err := b.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Error("Queue b should not see queue a's messages")
	}
}
