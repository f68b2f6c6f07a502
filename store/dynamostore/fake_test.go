package dynamostore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo evaluates exactly the expressions the store issues.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	failWith error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func sval(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func nval(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}

func itemKey(key map[string]types.AttributeValue) string {
	return sval(key["pk"]) + "|" + sval(key["sk"])
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	k := itemKey(in.Item)
	existing := f.items[k]
	switch aws.ToString(in.ConditionExpression) {
	case "":
	case attemptCondition:
		if existing != nil {
			return nil, conditionFailed()
		}
	case createCondition:
		if existing != nil {
			st := sval(existing["status"])
			cutoff := nval(in.ExpressionAttributeValues[":cutoff"])
			replaceable := st == "failed" || (st == "success" && nval(existing["updated_at"]) <= cutoff)
			if !replaceable {
				return nil, conditionFailed()
			}
		}
	default:
		return nil, errors.New("fake: unsupported condition " + aws.ToString(in.ConditionExpression))
	}

	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if aws.ToString(in.ConditionExpression) != updateCondition {
		return nil, errors.New("fake: unsupported condition")
	}

	k := itemKey(in.Key)
	existing := f.items[k]
	if existing == nil || sval(existing["status"]) != "pending" {
		return nil, conditionFailed()
	}

	updated := make(map[string]types.AttributeValue, len(existing)+1)
	for name, v := range existing {
		updated[name] = v
	}
	v := in.ExpressionAttributeValues
	updated["status"] = v[":st"]
	updated["result_id"] = v[":rid"]
	updated["updated_at"] = v[":u"]
	if exp, ok := v[":exp"]; ok {
		updated["expires_at"] = exp
	}
	f.items[k] = updated
	return &dynamodb.UpdateItemOutput{Attributes: updated}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	pk := sval(in.ExpressionAttributeValues[":pk"])
	prefix := sval(in.ExpressionAttributeValues[":prefix"])
	var matches []map[string]types.AttributeValue
	for _, item := range f.items {
		if sval(item["pk"]) == pk && strings.HasPrefix(sval(item["sk"]), prefix) {
			matches = append(matches, item)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return sval(matches[i]["sk"]) < sval(matches[j]["sk"]) })

	start := 0
	if in.ExclusiveStartKey != nil {
		after := sval(in.ExclusiveStartKey["sk"])
		for start < len(matches) && sval(matches[start]["sk"]) <= after {
			start++
		}
	}
	end := start + f.pageSize
	out := &dynamodb.QueryOutput{}
	if end < len(matches) {
		last := matches[end-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"pk": last["pk"], "sk": last["sk"]}
	} else {
		end = len(matches)
	}
	out.Items = matches[start:end]
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}
