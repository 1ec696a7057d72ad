// Package dynamo implements store.Backend on a DynamoDB table.
//
// Each strategy is one item keyed by application (partition key) and id
// (sort key). The full document is kept as JSON in the body attribute;
// name is duplicated as a top-level attribute for console browsing.
// Point reads and scans are strongly consistent, so a Store over this
// backend usually runs without a cache.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strategystore/store"
)

// ErrTableNotFound is returned, wrapped with store.ErrStoreUnavailable,
// when the configured table does not exist.
var ErrTableNotFound = errors.New("dynamo: table not found")

// API is the subset of the DynamoDB client used by Backend.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// key is the primary key of a strategy item.
type key struct {
	Application string `dynamodbav:"application"`
	ID          string `dynamodbav:"id"`
}

// item is the stored representation of a strategy.
type item struct {
	Application string `dynamodbav:"application"`
	ID          string `dynamodbav:"id"`
	Name        string `dynamodbav:"name"`
	Body        string `dynamodbav:"body"`
	CreatedAt   string `dynamodbav:"created_at,omitempty"`
	UpdatedAt   string `dynamodbav:"updated_at,omitempty"`
}

// Backend is a store.Backend over a DynamoDB table.
type Backend struct {
	client API
	config Config
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for skipped items.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a new Backend.
func New(client API, config Config, opts ...Option) *Backend {
	config.validate()
	b := &Backend{
		client: client,
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Table returns the configured table name.
func (b *Backend) Table() string {
	return b.config.Table
}

// Put writes doc, keeping the created_at of an existing item.
func (b *Backend) Put(ctx context.Context, doc *store.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", store.ErrInvalidDocument, doc.Key(), err)
	}
	k, err := marshalKey(doc.Key())
	if err != nil {
		return err
	}
	now := b.now().UTC().Format(time.RFC3339)

	_, err = b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(b.config.Table),
		Key:              k,
		UpdateExpression: aws.String("SET #name = :name, #body = :body, #updated_at = :now, #created_at = if_not_exists(#created_at, :now)"),
		ExpressionAttributeNames: map[string]string{
			"#name":       "name",
			"#body":       "body",
			"#updated_at": "updated_at",
			"#created_at": "created_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: doc.Name},
			":body": &types.AttributeValueMemberS{Value: string(body)},
			":now":  &types.AttributeValueMemberS{Value: now},
		},
	})
	return b.wrap("put "+doc.Key().String(), err)
}

// Get returns the strategy stored under k, or store.ErrNotFound.
func (b *Backend) Get(ctx context.Context, k store.Key) (*store.Document, error) {
	av, err := marshalKey(k)
	if err != nil {
		return nil, err
	}
	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.config.Table),
		Key:            av,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, b.wrap("get "+k.String(), err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, k)
	}
	return decodeItem(result.Item)
}

// Delete removes k. Deleting a missing item succeeds.
func (b *Backend) Delete(ctx context.Context, k store.Key) error {
	av, err := marshalKey(k)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.config.Table),
		Key:       av,
	})
	return b.wrap("delete "+k.String(), err)
}

// ListAll scans the whole table with strongly consistent reads. Items
// that cannot be decoded are logged and skipped.
func (b *Backend) ListAll(ctx context.Context) ([]*store.Document, error) {
	segments := b.config.ScanSegments

	// Fast path for a single segment (default)
	if segments == 1 {
		return b.scanSegment(ctx, nil)
	}

	// Multi-segment fan-out
	var mu sync.Mutex
	var all []*store.Document
	var wg sync.WaitGroup
	errs := make(chan error, segments)

	for segment := 0; segment < segments; segment++ {
		wg.Add(1)
		go func(segment int) {
			defer wg.Done()

			docs, err := b.scanSegment(ctx, &segment)
			if err != nil {
				errs <- fmt.Errorf("segment %d: %w", segment, err)
				return
			}

			mu.Lock()
			all = append(all, docs...)
			mu.Unlock()
		}(segment)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return all, nil
}

// scanSegment pages through one scan segment, or the whole table when
// segment is nil.
func (b *Backend) scanSegment(ctx context.Context, segment *int) ([]*store.Document, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(b.config.Table),
		ConsistentRead: aws.Bool(true),
	}
	if segment != nil {
		input.Segment = aws.Int32(int32(*segment))
		input.TotalSegments = aws.Int32(int32(b.config.ScanSegments))
	}

	var docs []*store.Document
	paginator := dynamodb.NewScanPaginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.wrap("scan", err)
		}
		for _, raw := range page.Items {
			doc, err := decodeItem(raw)
			if err != nil {
				b.logger.Warn("skipping undecodable strategy item",
					"table", b.config.Table,
					"error", err,
				)
				continue
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// wrap maps an SDK error to store.ErrStoreUnavailable.
func (b *Backend) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return store.Unavailable(op, fmt.Errorf("%w: %s: %w", ErrTableNotFound, b.config.Table, err))
	}
	return store.Unavailable(op, err)
}

func marshalKey(k store.Key) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(key{Application: k.Application, ID: k.ID})
	if err != nil {
		return nil, fmt.Errorf("marshal key %s: %w", k, err)
	}
	return av, nil
}

// decodeItem converts a stored item back into a document. The key and
// name attributes win over the copies inside the body.
func decodeItem(raw map[string]types.AttributeValue) (*store.Document, error) {
	var it item
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	var doc store.Document
	if it.Body != "" {
		if err := json.Unmarshal([]byte(it.Body), &doc); err != nil {
			return nil, fmt.Errorf("decode body of %s/%s: %w", it.Application, it.ID, err)
		}
	}
	doc.Application = it.Application
	doc.ID = it.ID
	doc.Name = it.Name
	return &doc, nil
}
