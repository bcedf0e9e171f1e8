package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// DefaultMaxReceiveCount is the number of deliveries before a message is dead-lettered.
const DefaultMaxReceiveCount = 3

// SQLiteQueue is a durable at-least-once queue backed by the queue_messages table.
// A received message is leased until its visibility timeout expires; a message
// that is visible again after maxReceiveCount deliveries moves to the dead-letter queue.
type SQLiteQueue struct {
	db              *sql.DB
	now             func() time.Time
	name            string
	maxReceiveCount int
}

var _ service.WorkQueue = (*SQLiteQueue)(nil)

// DeadLetter is a message that exhausted its deliveries.
type DeadLetter struct {
	EnqueuedAt   time.Time
	DeadAt       time.Time
	ID           string
	Body         []byte
	ReceiveCount int
}

// QueueStats summarises queue depth.
type QueueStats struct {
	Visible  int
	InFlight int
	Dead     int
}

func newSQLiteQueue(db *sql.DB, name string, maxReceiveCount int, now func() time.Time) *SQLiteQueue {
	if maxReceiveCount <= 0 {
		maxReceiveCount = DefaultMaxReceiveCount
	}
	return &SQLiteQueue{
		db:              db,
		name:            name,
		maxReceiveCount: maxReceiveCount,
		now:             now,
	}
}

// Send enqueues a work item, immediately visible.
func (q *SQLiteQueue) Send(ctx context.Context, item model.WorkItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := item.Validate(); err != nil {
		return err
	}

	body, err := item.Encode()
	if err != nil {
		return fmt.Errorf("%w: failed to encode work item: %v", common.ErrDelivery, err)
	}

	now := q.now()
	enqueuedAt := item.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = now
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_messages (id, queue, body, enqueued_at, visible_at, receive_count)
		VALUES (?, ?, ?, ?, ?, 0)`,
		ulid.Make().String(), q.name, body, enqueuedAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("%w: failed to send message: %v", common.ErrDelivery, err)
	}
	return nil
}

// Receive leases up to max visible messages for the visibility timeout.
func (q *SQLiteQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]service.Message, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin receive: %v", common.ErrDelivery, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := q.now()

	// Redrive: anything visible again after its last allowed delivery is dead.
	result, err := tx.ExecContext(ctx, `
		UPDATE queue_messages SET dead_at = ?, receipt_handle = NULL
		WHERE queue = ? AND dead_at IS NULL AND visible_at <= ? AND receive_count >= ?`,
		now, q.name, now, q.maxReceiveCount)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dead-letter messages: %v", common.ErrDelivery, err)
	}
	if dead, _ := result.RowsAffected(); dead > 0 {
		slog.Warn("Moved messages to dead-letter queue",
			"queue", q.name,
			"count", dead,
			"max_receive_count", q.maxReceiveCount)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, body, receive_count FROM queue_messages
		WHERE queue = ? AND dead_at IS NULL AND visible_at <= ?
		ORDER BY enqueued_at, id
		LIMIT ?`, q.name, now, max)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select messages: %v", common.ErrDelivery, err)
	}

	var messages []service.Message
	for rows.Next() {
		var m service.Message
		if scanErr := rows.Scan(&m.ID, &m.Body, &m.ReceiveCount); scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: failed to scan message: %v", common.ErrDelivery, scanErr)
		}
		messages = append(messages, m)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDelivery, err)
	}

	visibleAt := now.Add(visibility)
	for i := range messages {
		messages[i].ReceiptHandle = uuid.NewString()
		messages[i].ReceiveCount++
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_messages
			SET receive_count = ?, receipt_handle = ?, visible_at = ?
			WHERE id = ?`,
			messages[i].ReceiveCount, messages[i].ReceiptHandle, visibleAt, messages[i].ID); err != nil {
			return nil, fmt.Errorf("%w: failed to lease message %s: %v", common.ErrDelivery, messages[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit receive: %v", common.ErrDelivery, err)
	}
	return messages, nil
}

// Ack deletes a leased message. A stale receipt (lease expired and re-delivered) fails.
func (q *SQLiteQueue) Ack(ctx context.Context, receiptHandle string) error {
	if err := validateString(receiptHandle, "receiptHandle"); err != nil {
		return err
	}

	result, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_messages
		WHERE queue = ? AND receipt_handle = ? AND dead_at IS NULL`, q.name, receiptHandle)
	if err != nil {
		return fmt.Errorf("%w: failed to delete message: %v", common.ErrDelivery, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: receipt handle %s is no longer valid", common.ErrDelivery, receiptHandle)
	}
	return nil
}

// Nack ends a lease early so the message can be redelivered.
func (q *SQLiteQueue) Nack(ctx context.Context, receiptHandle string) error {
	if err := validateString(receiptHandle, "receiptHandle"); err != nil {
		return err
	}

	result, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages SET visible_at = ?, receipt_handle = NULL
		WHERE queue = ? AND receipt_handle = ? AND dead_at IS NULL`, q.now(), q.name, receiptHandle)
	if err != nil {
		return fmt.Errorf("%w: failed to release message: %v", common.ErrDelivery, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: receipt handle %s is no longer valid", common.ErrDelivery, receiptHandle)
	}
	return nil
}

// Stats reports visible, in-flight and dead message counts.
func (q *SQLiteQueue) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN dead_at IS NULL AND visible_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dead_at IS NULL AND visible_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN dead_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM queue_messages WHERE queue = ?`,
		q.now(), q.now(), q.name).Scan(&stats.Visible, &stats.InFlight, &stats.Dead)
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return stats, nil
}

// DeadLetters lists dead-lettered messages, oldest first.
func (q *SQLiteQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, body, receive_count, enqueued_at, dead_at FROM queue_messages
		WHERE queue = ? AND dead_at IS NOT NULL
		ORDER BY dead_at, id
		LIMIT ?`, q.name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var letters []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.Body, &d.ReceiveCount, &d.EnqueuedAt, &d.DeadAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// Redrive moves every dead letter back onto the queue with a fresh receive count.
func (q *SQLiteQueue) Redrive(ctx context.Context) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages
		SET dead_at = NULL, receive_count = 0, receipt_handle = NULL, visible_at = ?
		WHERE queue = ? AND dead_at IS NOT NULL`, q.now(), q.name)
	if err != nil {
		return 0, fmt.Errorf("failed to redrive dead letters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check redrive result: %w", err)
	}
	return int(affected), nil
}
