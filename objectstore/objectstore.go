// Package objectstore implements store.Backend on an S3 bucket.
//
// Every strategy is a JSON object at
//
//	<prefix>/<shard>/<application>/<id>.json
//
// Listing enumerates the prefix and fetches each object, which is slow for
// large buckets; run the Store with its cache enabled. Writes also rewrite
// a small marker object so caches can tell when a reload is unnecessary.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/strategystore/internal/shard"
	"github.com/jacentio/strategystore/store"
)

// MarkerName is the name of the change marker object under the prefix.
const MarkerName = "last-modified.json"

// markerMetaKey is the user metadata entry holding the marker time.
const markerMetaKey = "modified-at"

// API is the subset of the S3 client used by Backend.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ API = (*s3.Client)(nil)

// Backend is a store.Backend over an S3 bucket.
type Backend struct {
	client API
	config Config
	logger *slog.Logger
	now    func() time.Time

	// markerMu orders marker writes from this process.
	markerMu sync.Mutex
}

var (
	_ store.Backend       = (*Backend)(nil)
	_ store.ChangeTracker = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger for tolerated failures.
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

// Bucket returns the configured bucket.
func (b *Backend) Bucket() string {
	return b.config.Bucket
}

// Prefix returns the configured key prefix.
func (b *Backend) Prefix() string {
	return b.config.Prefix
}

// ObjectKey returns the object key for k.
func (b *Backend) ObjectKey(k store.Key) string {
	return shard.ObjectKey(b.config.Prefix, k.Application, k.ID, b.config.NumShards)
}

// MarkerKey returns the key of the change marker object.
func (b *Backend) MarkerKey() string {
	return shard.Root(b.config.Prefix) + MarkerName
}

// Put writes doc as a JSON object and bumps the change marker.
func (b *Backend) Put(ctx context.Context, doc *store.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", store.ErrInvalidDocument, doc.Key(), err)
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.config.Bucket),
		Key:         aws.String(b.ObjectKey(doc.Key())),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return store.Unavailable("put "+doc.Key().String(), err)
	}
	b.touchMarker(ctx)
	return nil
}

// Get returns the strategy stored under k, or store.ErrNotFound.
func (b *Backend) Get(ctx context.Context, k store.Key) (*store.Document, error) {
	doc, err := b.fetch(ctx, b.ObjectKey(k))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, k)
		}
		return nil, err
	}
	doc.Application = k.Application
	doc.ID = k.ID
	return doc, nil
}

// Delete removes the object for k and bumps the change marker. S3 deletes
// are idempotent, so a missing object is not an error.
func (b *Backend) Delete(ctx context.Context, k store.Key) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.ObjectKey(k)),
	})
	if err != nil && !isNotFound(err) {
		return store.Unavailable("delete "+k.String(), err)
	}
	b.touchMarker(ctx)
	return nil
}

// ListAll enumerates the prefix and fetches every strategy object with up
// to FetchConcurrency requests in flight. Objects removed between listing
// and fetching are skipped, as are objects that do not decode.
func (b *Backend) ListAll(ctx context.Context) ([]*store.Document, error) {
	type entry struct {
		key         string
		application string
		id          string
	}

	var entries []entry
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(shard.Root(b.config.Prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, store.Unavailable("list "+b.config.Bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			application, id, ok := shard.ParseObjectKey(b.config.Prefix, key)
			if !ok {
				continue
			}
			entries = append(entries, entry{key: key, application: application, id: id})
		}
	}

	docs := make([]*store.Document, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.FetchConcurrency)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			doc, err := b.fetch(gctx, e.key)
			switch {
			case err == nil:
				doc.Application = e.application
				doc.ID = e.id
				docs[i] = doc
			case isNotFound(err):
			case errors.Is(err, store.ErrStoreUnavailable):
				return err
			default:
				b.logger.Warn("skipping undecodable strategy object",
					"bucket", b.config.Bucket,
					"key", e.key,
					"error", err,
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// LastModified returns the time recorded in the change marker, or the
// zero time when no marker has been written yet.
func (b *Backend) LastModified(ctx context.Context) (time.Time, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(b.MarkerKey()),
	})
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, nil
		}
		return time.Time{}, store.Unavailable("head marker", err)
	}
	if v, ok := head.Metadata[markerMetaKey]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, nil
		}
	}
	return aws.ToTime(head.LastModified), nil
}

// fetch reads and decodes one object. Transport failures are wrapped with
// store.ErrStoreUnavailable; a missing object is returned unwrapped.
func (b *Backend) fetch(ctx context.Context, key string) (*store.Document, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, err
		}
		return nil, store.Unavailable("get "+key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, store.Unavailable("read "+key, err)
	}
	var doc store.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &doc, nil
}

// touchMarker records the current time in the change marker. The write
// has already been committed, so a failure here is only logged; other
// caches pick the change up once the marker moves again.
func (b *Backend) touchMarker(ctx context.Context) {
	b.markerMu.Lock()
	defer b.markerMu.Unlock()

	now := b.now().UTC()
	body, _ := json.Marshal(map[string]string{"lastModified": now.Format(time.RFC3339Nano)})
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.config.Bucket),
		Key:         aws.String(b.MarkerKey()),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{markerMetaKey: now.Format(time.RFC3339Nano)},
	})
	if err != nil {
		b.logger.Warn("failed to update change marker",
			"bucket", b.config.Bucket,
			"key", b.MarkerKey(),
			"error", err,
		)
	}
}

// isNotFound reports whether err means the object does not exist. S3
// returns NoSuchKey for GetObject and a bare 404 NotFound for HeadObject;
// S3-compatible stores do not always map these to the typed errors.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
