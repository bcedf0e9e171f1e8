// Package dynamo implements the expense store on Amazon DynamoDB. The table
// is keyed by expense id, with a global secondary index on userId sorted by
// timestamp for per-user queries.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/expense-flow/internal/common"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/service"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// batchGetLimit is DynamoDB's BatchGetItem key ceiling.
const batchGetLimit = 100

const unprocessedRetries = 5

// API is the subset of the DynamoDB client the store calls.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store is a DynamoDB-backed service.ExpenseStore.
type Store struct {
	db        API
	now       func() time.Time
	table     string
	userIndex string
}

// NewStore creates a store for table, querying users through userIndex.
func NewStore(db API, table, userIndex string) *Store {
	return &Store{
		db:        db,
		table:     table,
		userIndex: userIndex,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// GetExpense reads one expense with a strongly consistent read.
func (s *Store) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: expense id is required", common.ErrValidation)
	}

	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get expense %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("expense %s: %w", id, common.ErrNotFound)
	}

	expense, err := unmarshalExpense(out.Item)
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

// PutExpense writes the whole record, replacing any existing one.
func (s *Store) PutExpense(ctx context.Context, expense *model.Expense) error {
	if expense == nil {
		return fmt.Errorf("%w: expense cannot be nil", common.ErrValidation)
	}
	if expense.ID == "" || expense.UserID == "" || expense.Timestamp.IsZero() {
		return fmt.Errorf("%w: expense requires id, user and timestamp", common.ErrValidation)
	}
	if !expense.AICategorizationStatus.IsValid() {
		return fmt.Errorf("%w: invalid AI status %q", common.ErrValidation, expense.AICategorizationStatus)
	}

	now := s.now()
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = now
	}
	expense.UpdatedAt = now

	item, err := attributevalue.MarshalMap(toRecord(expense))
	if err != nil {
		return fmt.Errorf("failed to marshal expense %s: %w", expense.ID, err)
	}

	if _, err := s.db.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.table, Item: item}); err != nil {
		return fmt.Errorf("failed to put expense %s: %w", expense.ID, err)
	}
	return nil
}

// UpdateExpense applies a field-level patch to an existing expense.
func (s *Store) UpdateExpense(ctx context.Context, id string, update model.ExpenseUpdate) error {
	if update.IsEmpty() {
		return fmt.Errorf("%w: empty update", common.ErrValidation)
	}
	if update.AICategorizationStatus != nil && !update.AICategorizationStatus.IsValid() {
		return fmt.Errorf("%w: invalid AI status %q", common.ErrValidation, *update.AICategorizationStatus)
	}

	builder := buildUpdate(update, s.now())
	expr, err := expression.NewBuilder().
		WithUpdate(builder).
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build update for %s: %w", id, err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.table,
		Key:                       key(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionFailure(err) {
		return fmt.Errorf("expense %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update expense %s: %w", id, err)
	}
	return nil
}

// TransitionStatus sets the AI status to "to" only if it still equals "from".
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to model.AIStatus) (bool, error) {
	if !from.IsValid() || !to.IsValid() {
		return false, fmt.Errorf("%w: invalid transition %q -> %q", common.ErrValidation, from, to)
	}

	status := expression.Name("aiCategorizationStatus")
	current := status.Equal(expression.Value(string(from)))
	if from == model.AIStatusNone {
		current = status.AttributeNotExists()
	}

	expr, err := expression.NewBuilder().
		WithUpdate(buildUpdate(model.StatusUpdate(to), s.now())).
		WithCondition(expression.And(expression.AttributeExists(expression.Name("id")), current)).
		Build()
	if err != nil {
		return false, fmt.Errorf("failed to build transition for %s: %w", id, err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.table,
		Key:                       key(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionFailure(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition expense %s: %w", id, err)
	}
	return true, nil
}

// BatchGetExpenses reads ids in groups of 100, retrying unprocessed keys.
// Results follow request order; missing ids are omitted.
func (s *Store) BatchGetExpenses(ctx context.Context, ids []string) ([]model.Expense, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	found := make(map[string]model.Expense, len(unique))
	for start := 0; start < len(unique); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(unique) {
			end = len(unique)
		}
		if err := s.batchGet(ctx, unique[start:end], found); err != nil {
			return nil, err
		}
	}

	expenses := make([]model.Expense, 0, len(found))
	for _, id := range unique {
		if e, ok := found[id]; ok {
			expenses = append(expenses, e)
		}
	}
	return expenses, nil
}

func (s *Store) batchGet(ctx context.Context, ids []string, found map[string]model.Expense) error {
	keys := make([]map[string]types.AttributeValue, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}

	request := map[string]types.KeysAndAttributes{
		s.table: {Keys: keys, ConsistentRead: aws.Bool(true)},
	}

	for attempt := 0; len(request) > 0; attempt++ {
		if attempt > unprocessedRetries {
			return fmt.Errorf("failed to read %d expenses: unprocessed keys remain after %d attempts",
				len(request[s.table].Keys), unprocessedRetries)
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*50) * time.Millisecond):
			}
		}

		out, err := s.db.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return fmt.Errorf("failed to batch get expenses: %w", err)
		}

		for _, item := range out.Responses[s.table] {
			e, err := unmarshalExpense(item)
			if err != nil {
				return err
			}
			found[e.ID] = e
		}
		request = out.UnprocessedKeys
	}
	return nil
}

// QueryExpensesByUser reads a user's expenses newest first through the user index.
func (s *Store) QueryExpensesByUser(ctx context.Context, userID string, filter service.ExpenseFilter) ([]model.Expense, error) {
	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key("userId").Equal(expression.Value(userID)))

	var conditions []expression.ConditionBuilder
	if filter.OnlyCategorized {
		conditions = append(conditions, expression.Name("category").AttributeExists())
	}
	if filter.Status != nil {
		status := expression.Name("aiCategorizationStatus")
		if *filter.Status == model.AIStatusNone {
			conditions = append(conditions, status.AttributeNotExists())
		} else {
			conditions = append(conditions, status.Equal(expression.Value(string(*filter.Status))))
		}
	}
	switch len(conditions) {
	case 0:
	case 1:
		builder = builder.WithFilter(conditions[0])
	default:
		builder = builder.WithFilter(expression.And(conditions[0], conditions[1], conditions[2:]...))
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query for %s: %w", userID, err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 &s.table,
		IndexName:                 &s.userIndex,
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}

	var expenses []model.Expense
	paginator := dynamodb.NewQueryPaginator(s.db, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query expenses for %s: %w", userID, err)
		}
		for _, item := range page.Items {
			e, err := unmarshalExpense(item)
			if err != nil {
				return nil, err
			}
			if filter.OnlyCategorized && !e.IsCategorized() {
				continue
			}
			if filter.Status != nil && e.AICategorizationStatus != *filter.Status {
				continue
			}
			expenses = append(expenses, e)
			if filter.Limit > 0 && len(expenses) >= filter.Limit {
				return expenses, nil
			}
		}
	}
	return expenses, nil
}

// CountByStatus tallies a user's expenses per AI status.
func (s *Store) CountByStatus(ctx context.Context, userID string) (map[model.AIStatus]int, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("userId").Equal(expression.Value(userID))).
		WithProjection(expression.NamesList(expression.Name("id"), expression.Name("aiCategorizationStatus"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query for %s: %w", userID, err)
	}

	counts := make(map[model.AIStatus]int)
	paginator := dynamodb.NewQueryPaginator(s.db, &dynamodb.QueryInput{
		TableName:                 &s.table,
		IndexName:                 &s.userIndex,
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count expenses for %s: %w", userID, err)
		}
		for _, item := range page.Items {
			var row struct {
				Status string `dynamodbav:"aiCategorizationStatus"`
			}
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, fmt.Errorf("failed to decode status: %w", err)
			}
			counts[model.AIStatus(row.Status)]++
		}
	}
	return counts, nil
}

// buildUpdate turns a patch into SET/REMOVE clauses and stamps updatedAt.
func buildUpdate(u model.ExpenseUpdate, now time.Time) expression.UpdateBuilder {
	b := expression.Set(expression.Name("updatedAt"), expression.Value(formatTime(now)))

	if u.Category != nil {
		if *u.Category == "" {
			b = b.Remove(expression.Name("category"))
		} else {
			b = b.Set(expression.Name("category"), expression.Value(*u.Category))
		}
	}
	if u.CategorizedAt != nil {
		b = b.Set(expression.Name("categorizedAt"), expression.Value(formatTime(*u.CategorizedAt)))
	}
	if u.AICategorizationStatus != nil {
		if *u.AICategorizationStatus == model.AIStatusNone {
			b = b.Remove(expression.Name("aiCategorizationStatus"))
		} else {
			b = b.Set(expression.Name("aiCategorizationStatus"), expression.Value(string(*u.AICategorizationStatus)))
		}
	}
	if u.AICategorySuggestion != nil {
		b = b.Set(expression.Name("aiCategorySuggestion"), expression.Value(*u.AICategorySuggestion))
	}
	if u.AICategoryConfidence != nil {
		b = b.Set(expression.Name("aiCategoryConfidence"), expression.Value(*u.AICategoryConfidence))
	}
	if u.AICategoryReasoning != nil {
		b = b.Set(expression.Name("aiCategoryReasoning"), expression.Value(*u.AICategoryReasoning))
	}
	if u.AICategoryValidated != nil {
		if v := u.AICategoryValidated.Bool(); v != nil {
			b = b.Set(expression.Name("aiCategoryValidated"), expression.Value(*v))
		} else {
			b = b.Remove(expression.Name("aiCategoryValidated"))
		}
	}
	if u.AICategorizedAt != nil {
		b = b.Set(expression.Name("aiCategorizedAt"), expression.Value(formatTime(*u.AICategorizedAt)))
	}
	return b
}
