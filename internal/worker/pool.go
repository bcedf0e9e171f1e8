package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
	"golang.org/x/sync/errgroup"
)

// MessageHandler processes one delivered batch.
type MessageHandler interface {
	HandleMessages(ctx context.Context, msgs []service.Message) model.BatchSummary
}

// PoolOptions configures a worker pool.
type PoolOptions struct {
	Concurrency  int
	BatchSize    int
	Visibility   time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
}

// DefaultPoolOptions returns sensible defaults.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		Concurrency:  2,
		BatchSize:    10,
		Visibility:   6 * time.Minute,
		Timeout:      5 * time.Minute,
		PollInterval: 2 * time.Second,
	}
}

// Pool runs stateless handlers that pull fixed-size batches from a queue.
type Pool struct {
	queue   service.WorkQueue
	handler MessageHandler
	logger  *slog.Logger
	opts    PoolOptions
}

// NewPool creates a pool. Zero options fall back to DefaultPoolOptions.
func NewPool(queue service.WorkQueue, handler MessageHandler, opts PoolOptions, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultPoolOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.Visibility <= 0 {
		opts.Visibility = defaults.Visibility
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	return &Pool{queue: queue, handler: handler, logger: logger, opts: opts}
}

// Run starts Concurrency workers and blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		"concurrency", p.opts.Concurrency,
		"batch_size", p.opts.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return p.loop(gctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) loop(ctx context.Context, worker int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		_, received, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error("worker receive failed", "worker", worker, "error", err)
		}

		if received == 0 || err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.opts.PollInterval):
			}
		}
	}
}

// RunOnce receives one batch, handles it under the invocation budget, and
// acknowledges it. Messages are not acknowledged when the budget ran out, so
// the queue redelivers them after the visibility timeout. On shutdown they are
// released right away instead.
func (p *Pool) RunOnce(ctx context.Context) (model.BatchSummary, int, error) {
	msgs, err := p.queue.Receive(ctx, p.opts.BatchSize, p.opts.Visibility)
	if err != nil {
		return model.BatchSummary{}, 0, fmt.Errorf("failed to receive work: %w", err)
	}
	if len(msgs) == 0 {
		return model.BatchSummary{}, 0, nil
	}

	budgetCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	summary := p.handler.HandleMessages(budgetCtx, msgs)

	ackCtx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		p.logger.Warn("shutting down, releasing batch",
			"messages", len(msgs))
		for _, msg := range msgs {
			if err := p.queue.Nack(ackCtx, msg.ReceiptHandle); err != nil {
				p.logger.Warn("failed to release message",
					"message_id", msg.ID,
					"error", err)
			}
		}
		return summary, len(msgs), nil
	}
	if budgetCtx.Err() != nil {
		p.logger.Warn("invocation budget exhausted, leaving batch for redelivery",
			"messages", len(msgs),
			"error", budgetCtx.Err())
		return summary, len(msgs), nil
	}

	for _, msg := range msgs {
		if err := p.queue.Ack(ackCtx, msg.ReceiptHandle); err != nil {
			p.logger.Warn("failed to acknowledge message",
				"message_id", msg.ID,
				"error", err)
		}
	}

	return summary, len(msgs), nil
}
