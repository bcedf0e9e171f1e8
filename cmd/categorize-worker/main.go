// Package main is the Lambda entry point that categorizes expenses from SQS
// work-item batches.
package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/Veraticus/expense-flow/internal/awsutil"
	"github.com/Veraticus/expense-flow/internal/catalog"
	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/config"
	"github.com/Veraticus/expense-flow/internal/dynamo"
	"github.com/Veraticus/expense-flow/internal/llm"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
	"github.com/Veraticus/expense-flow/internal/sqsqueue"
	"github.com/Veraticus/expense-flow/internal/worker"
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

// deadlineMargin is kept free before the Lambda deadline for the response.
const deadlineMargin = 5 * time.Second

// messageHandler processes decoded queue messages.
type messageHandler interface {
	HandleMessages(ctx context.Context, msgs []service.Message) model.BatchSummary
}

// App holds the handler's dependencies.
type App struct {
	handler messageHandler
	logger  *slog.Logger
	timeout time.Duration
}

// budget bounds one invocation by the configured timeout and the Lambda deadline.
func (a *App) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		ctx, cancel := context.WithDeadline(ctx, deadline.Add(-deadlineMargin))
		if a.timeout <= 0 {
			return ctx, cancel
		}
		inner, innerCancel := context.WithTimeout(ctx, a.timeout)
		return inner, func() { innerCancel(); cancel() }
	}
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// handle processes an SQS batch. Messages are deleted by the event source
// unless reported as failures, which only happens when the batch overran its
// budget; redelivery then follows the queue's visibility and redrive policy.
func (a *App) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	msgs := make([]service.Message, 0, len(event.Records))
	for _, r := range event.Records {
		msgs = append(msgs, sqsqueue.FromSQS(r.MessageId, r.ReceiptHandle, r.Body, r.Attributes))
	}

	budgetCtx, cancel := a.budget(ctx)
	defer cancel()

	summary := a.handler.HandleMessages(budgetCtx, msgs)
	a.logger.Info("categorization batch finished",
		"messages", len(msgs),
		"eligible", summary.Eligible,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"malformed", summary.Malformed,
		"duration", summary.Duration)

	if budgetCtx.Err() == nil {
		return events.SQSEventResponse{}, nil
	}

	a.logger.Warn("categorization batch exceeded its budget; returning messages to the queue",
		"messages", len(msgs),
		"error", budgetCtx.Err())
	resp := events.SQSEventResponse{BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(event.Records))}
	for _, r := range event.Records {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: r.MessageId})
	}
	return resp, nil
}

func main() {
	v, err := config.New()
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadLambda(v)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.RequireLLM(); err != nil {
		log.Fatal(err)
	}
	if err := common.SetupLogger(cfg.Logging.Level, "json"); err != nil {
		log.Fatal(err)
	}
	logger := slog.Default()

	clients, err := awsutil.Load(context.Background(), cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		log.Fatal(err)
	}
	store := dynamo.NewStore(clients.DynamoDB, cfg.Store.Table, cfg.Store.UserIndex)

	categorizer, err := llm.NewCategorizer(cfg.LLM, logger)
	if err != nil {
		log.Fatal(err)
	}

	processor := worker.NewProcessor(store, catalog.New(store), categorizer, worker.Options{
		UserConcurrency:       cfg.Worker.UserConcurrency,
		ConditionalTransition: cfg.Worker.ConditionalTransition,
	}, logger)

	app := &App{handler: processor, logger: logger, timeout: cfg.Worker.Timeout}
	lambda.Start(app.handle)
}
