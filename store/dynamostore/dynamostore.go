// Package dynamostore persists idempotency records and send attempts in a
// single DynamoDB table keyed by (pk, sk).
//
// Item layout:
//
//	pk = IDEM#<key>       sk = RECORD                      idempotency record
//	pk = TARGET#<target>  sk = ATTEMPT#<ts ms>#<attempt id>  send attempt
//	pk = TARGET#<target>  sk = SUCCESS                     delivered marker
//
// Finished records carry an expires_at attribute (epoch seconds) when a
// retention policy is set; enable DynamoDB TTL on it to reclaim space.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jonwraymond/sendguard/idempotency"
	"github.com/jonwraymond/sendguard/ledger"
)

// API is the subset of *dynamodb.Client used by the store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

const (
	recordSK      = "RECORD"
	successSK     = "SUCCESS"
	attemptPrefix = "ATTEMPT#"

	createCondition  = "attribute_not_exists(pk) OR #st = :failed OR (#st = :success AND updated_at <= :cutoff)"
	updateCondition  = "#st = :pending"
	attemptCondition = "attribute_not_exists(pk)"
)

type recordItem struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	TargetID  string `dynamodbav:"target_id"`
	Status    string `dynamodbav:"status"`
	ResultID  string `dynamodbav:"result_id"`
	CreatedAt int64  `dynamodbav:"created_at"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

type attemptItem struct {
	PK             string   `dynamodbav:"pk"`
	SK             string   `dynamodbav:"sk"`
	ID             string   `dynamodbav:"id"`
	TargetID       string   `dynamodbav:"target_id"`
	IdempotencyKey string   `dynamodbav:"idempotency_key"`
	AttemptNumber  int      `dynamodbav:"attempt_number"`
	Timestamp      int64    `dynamodbav:"ts"`
	Success        bool     `dynamodbav:"success"`
	MessageID      string   `dynamodbav:"message_id"`
	ErrorCode      string   `dynamodbav:"error_code"`
	ErrorMessage   string   `dynamodbav:"error_message"`
	ResponseTimeMs int64    `dynamodbav:"response_time_ms"`
	RetriedErrors  []string `dynamodbav:"retried_errors,omitempty"`
}

// Store is a DynamoDB-backed idempotency store and attempt ledger.
type Store struct {
	api    API
	table  string
	policy idempotency.Policy
	now    func() time.Time
}

var (
	_ idempotency.Store = (*Store)(nil)
	_ ledger.Ledger     = (*Store)(nil)
)

// New creates a Store over api and table.
func New(api API, table string, policy idempotency.Policy) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamostore: client is required")
	}
	if table == "" {
		return nil, errors.New("dynamostore: table name is required")
	}
	return &Store{api: api, table: table, policy: policy, now: time.Now}, nil
}

// NewClient loads the default AWS configuration for region. A non-empty
// endpoint points the client at DynamoDB Local or another compatible server.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Ping checks that the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return err
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "IDEM#" + key},
		"sk": &types.AttributeValueMemberS{Value: recordSK},
	}
}

func targetPK(targetID string) string {
	return "TARGET#" + targetID
}

func attemptSK(a ledger.Attempt) string {
	ms := a.Timestamp.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%s%016d#%s", attemptPrefix, ms, a.ID)
}

func num(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func str(s string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: s}
}

func isConditionFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}

// Get returns the record for key, or nil when absent or expired.
func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	// DynamoDB TTL deletion lags; retention is enforced on read as well.
	if s.policy.Expired(rec, s.now()) {
		return nil, nil
	}
	return rec, nil
}

func (s *Store) load(ctx context.Context, key string) (*idempotency.Record, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            recordKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: get %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	return decodeRecord(key, out.Item)
}

func decodeRecord(key string, item map[string]types.AttributeValue) (*idempotency.Record, error) {
	var it recordItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("dynamostore: decode %s: %w", key, err)
	}
	status, err := idempotency.ParseStatus(it.Status)
	if err != nil {
		return nil, err
	}
	return &idempotency.Record{
		Key:       key,
		TargetID:  it.TargetID,
		Status:    status,
		ResultID:  it.ResultID,
		CreatedAt: time.UnixMilli(it.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(it.UpdatedAt).UTC(),
	}, nil
}

// Create inserts a Pending record with a conditional put.
func (s *Store) Create(ctx context.Context, targetID, key string) (*idempotency.Record, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	cutoff := int64(-1)
	if s.policy.Retention > 0 {
		cutoff = now.Add(-s.policy.Retention).UnixMilli()
	}

	item, err := attributevalue.MarshalMap(recordItem{
		PK:        "IDEM#" + key,
		SK:        recordSK,
		TargetID:  targetID,
		Status:    string(idempotency.StatusPending),
		CreatedAt: nowMs,
		UpdatedAt: nowMs,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: encode %s: %w", key, err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String(createCondition),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":  str(string(idempotency.StatusFailed)),
			":success": str(string(idempotency.StatusSuccess)),
			":cutoff":  num(cutoff),
		},
	})
	if isConditionFailed(err) {
		existing, lerr := s.load(ctx, key)
		if lerr != nil {
			return nil, lerr
		}
		if cerr := idempotency.CheckCreate(existing); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: key %s", idempotency.ErrConflict, key)
	}
	if err != nil {
		return nil, fmt.Errorf("dynamostore: create %s: %w", key, err)
	}

	return idempotency.NewPending(targetID, key, time.UnixMilli(nowMs).UTC()), nil
}

// Update finishes the Pending record for key with a conditional update.
func (s *Store) Update(ctx context.Context, key string, status idempotency.Status, resultID string) (*idempotency.Record, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: target status %q is not terminal", idempotency.ErrInvalidTransition, status)
	}

	now := s.now()
	expr := "SET #st = :st, result_id = :rid, updated_at = :u"
	values := map[string]types.AttributeValue{
		":st":      str(string(status)),
		":rid":     str(idempotency.ResultFor(status, resultID)),
		":u":       num(now.UnixMilli()),
		":pending": str(string(idempotency.StatusPending)),
	}
	if s.policy.Retention > 0 {
		expr += ", expires_at = :exp"
		values[":exp"] = num(now.Add(s.policy.Retention).Unix())
	}

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       recordKey(key),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(updateCondition),
		ExpressionAttributeNames:  map[string]string{"#st": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		existing, lerr := s.load(ctx, key)
		if lerr != nil {
			return nil, lerr
		}
		if cerr := idempotency.CheckUpdate(key, existing, status); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: key %s", idempotency.ErrInvalidTransition, key)
	}
	if err != nil {
		return nil, fmt.Errorf("dynamostore: update %s: %w", key, err)
	}
	return decodeRecord(key, out.Attributes)
}

// Record appends an attempt and, for successful ones, the delivered marker.
func (s *Store) Record(ctx context.Context, a ledger.Attempt) error {
	item, err := attributevalue.MarshalMap(attemptItem{
		PK:             targetPK(a.TargetID),
		SK:             attemptSK(a),
		ID:             a.ID,
		TargetID:       a.TargetID,
		IdempotencyKey: a.IdempotencyKey,
		AttemptNumber:  a.AttemptNumber,
		Timestamp:      a.Timestamp.UnixMilli(),
		Success:        a.Success,
		MessageID:      a.MessageID,
		ErrorCode:      a.ErrorCode,
		ErrorMessage:   a.ErrorMessage,
		ResponseTimeMs: a.ResponseTimeMs,
		RetriedErrors:  a.RetriedErrors,
	})
	if err != nil {
		return fmt.Errorf("dynamostore: encode attempt %s: %w", a.ID, err)
	}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String(attemptCondition),
	}); err != nil {
		return fmt.Errorf("%w: record %s: %w", ledger.ErrUnavailable, a.ID, err)
	}

	if !a.Success {
		return nil
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"pk":         str(targetPK(a.TargetID)),
			"sk":         str(successSK),
			"attempt_id": str(a.ID),
		},
	}); err != nil {
		return fmt.Errorf("%w: mark %s delivered: %w", ledger.ErrUnavailable, a.TargetID, err)
	}
	return nil
}

// ListByTarget returns the attempts of targetID in chronological order.
func (s *Store) ListByTarget(ctx context.Context, targetID string) ([]ledger.Attempt, error) {
	var (
		attempts []ledger.Attempt
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     str(targetPK(targetID)),
				":prefix": str(attemptPrefix),
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", ledger.ErrUnavailable, targetID, err)
		}

		var items []attemptItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("dynamostore: decode attempts of %s: %w", targetID, err)
		}
		for _, it := range items {
			attempts = append(attempts, ledger.Attempt{
				ID:             it.ID,
				TargetID:       it.TargetID,
				IdempotencyKey: it.IdempotencyKey,
				AttemptNumber:  it.AttemptNumber,
				Timestamp:      time.UnixMilli(it.Timestamp).UTC(),
				Success:        it.Success,
				MessageID:      it.MessageID,
				ErrorCode:      it.ErrorCode,
				ErrorMessage:   it.ErrorMessage,
				ResponseTimeMs: it.ResponseTimeMs,
				RetriedErrors:  it.RetriedErrors,
			})
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].Timestamp.Before(attempts[j].Timestamp)
	})
	return attempts, nil
}

// HasSuccessfulSend reports whether the delivered marker exists.
func (s *Store) HasSuccessfulSend(ctx context.Context, targetID string) (bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": str(targetPK(targetID)),
			"sk": str(successSK),
		},
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("pk"),
	})
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ledger.ErrUnavailable, targetID, err)
	}
	return out.Item != nil, nil
}
