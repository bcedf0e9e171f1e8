package dynamo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	assignRe    = regexp.MustCompile(`(#\w+)\s*=\s*(:\w+)`)
	nameRe      = regexp.MustCompile(`#\w+`)
	clauseRe    = regexp.MustCompile(`\b(SET|REMOVE)\b`)
	existsRe    = regexp.MustCompile(`attribute_exists\s*\(\s*(#\w+)\s*\)`)
	notExistsRe = regexp.MustCompile(`attribute_not_exists\s*\(\s*(#\w+)\s*\)`)
)

// fakeDynamo is an in-memory table that understands the expressions the
// store builds: SET/REMOVE updates and AND-ed equality or existence conditions.
// Query ignores filters and projections and pages pageSize items at a time.
type fakeDynamo struct {
	items       map[string]map[string]types.AttributeValue
	unprocessed int
	pageSize    int
	batchCalls  int
	queryCalls  int
	mu          sync.Mutex
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func idOf(k map[string]types.AttributeValue) string {
	if s, ok := k["id"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[idOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: clone(item)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[idOf(in.Item)] = clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := idOf(in.Key)
	item, exists := f.items[id]
	if !exists {
		item = map[string]types.AttributeValue{}
	}

	if in.ConditionExpression != nil && !f.holds(*in.ConditionExpression, item, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: stringPtr("condition failed")}
	}

	updated := clone(item)
	expr := *in.UpdateExpression
	clauses := clauseRe.FindAllStringIndex(expr, -1)
	for i, loc := range clauses {
		end := len(expr)
		if i+1 < len(clauses) {
			end = clauses[i+1][0]
		}
		body := expr[loc[1]:end]
		switch strings.TrimSpace(expr[loc[0]:loc[1]]) {
		case "SET":
			for _, m := range assignRe.FindAllStringSubmatch(body, -1) {
				updated[in.ExpressionAttributeNames[m[1]]] = in.ExpressionAttributeValues[m[2]]
			}
		case "REMOVE":
			for _, n := range nameRe.FindAllString(body, -1) {
				delete(updated, in.ExpressionAttributeNames[n])
			}
		}
	}
	updated["id"] = &types.AttributeValueMemberS{Value: id}
	f.items[id] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) holds(cond string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	for _, m := range existsRe.FindAllStringSubmatch(cond, -1) {
		if _, ok := item[names[m[1]]]; !ok {
			return false
		}
	}
	for _, m := range notExistsRe.FindAllStringSubmatch(cond, -1) {
		if _, ok := item[names[m[1]]]; ok {
			return false
		}
	}
	for _, m := range assignRe.FindAllStringSubmatch(cond, -1) {
		if str(item[names[m[1]]]) != str(values[m[2]]) {
			return false
		}
	}
	return true
}

func (f *fakeDynamo) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++

	out := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	for table, ka := range in.RequestItems {
		if len(ka.Keys) > 100 {
			return nil, fmt.Errorf("too many keys: %d", len(ka.Keys))
		}
		var deferred []map[string]types.AttributeValue
		for _, k := range ka.Keys {
			if f.unprocessed > 0 {
				f.unprocessed--
				deferred = append(deferred, k)
				continue
			}
			if item, ok := f.items[idOf(k)]; ok {
				out.Responses[table] = append(out.Responses[table], clone(item))
			}
		}
		if len(deferred) > 0 {
			out.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: deferred}
		}
	}
	return out, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++

	m := assignRe.FindStringSubmatch(*in.KeyConditionExpression)
	user := str(in.ExpressionAttributeValues[m[2]])

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if str(item["userId"]) == user {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := str(matched[i]["timestamp"]), str(matched[j]["timestamp"])
		if in.ScanIndexForward != nil && !*in.ScanIndexForward {
			return a > b
		}
		return a < b
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		last := idOf(in.ExclusiveStartKey)
		for i, item := range matched {
			if idOf(item) == last {
				start = i + 1
				break
			}
		}
	}
	end := start + f.pageSize
	if end > len(matched) {
		end = len(matched)
	}

	out := &dynamodb.QueryOutput{}
	for _, item := range matched[start:end] {
		out.Items = append(out.Items, clone(item))
	}
	if end < len(matched) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"id": matched[end-1]["id"]}
	}
	return out, nil
}

func stringPtr(s string) *string { return &s }
