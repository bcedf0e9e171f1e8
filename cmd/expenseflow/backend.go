package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/expense-flow/internal/awsutil"
	"github.com/Veraticus/expense-flow/internal/config"
	"github.com/Veraticus/expense-flow/internal/dynamo"
	"github.com/Veraticus/expense-flow/internal/service"
	"github.com/Veraticus/expense-flow/internal/sqsqueue"
	"github.com/Veraticus/expense-flow/internal/storage"
)

// queueName is the SQLite queue the pipeline uses.
const queueName = "categorization"

// backend is the store and queue selected by configuration.
type backend struct {
	store service.ExpenseStore
	queue service.WorkQueue

	// Set for the sqlite backends only.
	sqlite      *storage.SQLiteStorage
	sqliteQueue *storage.SQLiteQueue

	// Set for the sqs backend only.
	sqsQueue *sqsqueue.Queue
}

func (b *backend) Close() error {
	if b.sqlite != nil {
		return b.sqlite.Close()
	}
	return nil
}

// openBackend connects to the configured store and queue, migrating SQLite.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}

	var clients awsutil.Clients
	if cfg.Store.Backend == config.BackendDynamoDB || cfg.Queue.Backend == config.BackendSQS {
		var err error
		if clients, err = awsutil.Load(ctx, cfg.AWS.Region, cfg.AWS.Endpoint); err != nil {
			return nil, err
		}
	}

	switch cfg.Store.Backend {
	case config.BackendDynamoDB:
		b.store = dynamo.NewStore(clients.DynamoDB, cfg.Store.Table, cfg.Store.UserIndex)
	default:
		store, err := storage.NewSQLiteStorage(cfg.Store.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		b.sqlite = store
		b.store = store
	}

	switch cfg.Queue.Backend {
	case config.BackendSQS:
		b.sqsQueue = sqsqueue.New(clients.SQS, cfg.Queue.URL, cfg.Queue.WaitTime)
		b.queue = b.sqsQueue
	default:
		b.sqliteQueue = b.sqlite.NewQueue(queueName, cfg.Queue.MaxReceiveCount)
		b.queue = b.sqliteQueue
	}

	return b, nil
}

// queueDepth reports queue counts by name for the status command.
func (b *backend) queueDepth(ctx context.Context) (map[string]int, error) {
	switch {
	case b.sqliteQueue != nil:
		stats, err := b.sqliteQueue.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"visible": stats.Visible, "in flight": stats.InFlight, "dead": stats.Dead}, nil
	case b.sqsQueue != nil:
		stats, err := b.sqsQueue.Stats(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"visible": stats.Visible, "in flight": stats.InFlight}, nil
	default:
		return nil, nil
	}
}
