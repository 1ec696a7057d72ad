// Package stream turns S3 event notifications into early cache reloads.
//
// When several processes share a bucket, each one's cache only notices
// another's writes on its next scheduled reload. Routing the bucket's
// event notifications to Handler (directly as a Lambda, or through an SQS
// queue and Poller) shortens that window to the notification latency.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/jacentio/strategystore/internal/shard"
)

var (
	recordsReceived  metric.Int64Counter
	reloadsTriggered metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/jacentio/strategystore/stream")

	var err error
	recordsReceived, err = meter.Int64Counter(
		"strategystore.stream.records",
		metric.WithDescription("Number of S3 event records received"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create stream.records counter: %w", err))
	}

	reloadsTriggered, err = meter.Int64Counter(
		"strategystore.stream.reloads",
		metric.WithDescription("Number of cache reloads requested from S3 events"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create stream.reloads counter: %w", err))
	}
}

// Refresher is the part of store.Cache the handler drives.
type Refresher interface {
	Trigger()
}

// Handler processes S3 event notifications for a strategy bucket.
type Handler struct {
	refresher Refresher
	bucket    string
	root      string
	logger    *slog.Logger
}

// NewHandler creates a new handler for objects under prefix in bucket.
// An empty bucket matches events from any bucket.
func NewHandler(r Refresher, bucket, prefix string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		refresher: r,
		bucket:    bucket,
		root:      shard.Root(prefix),
		logger:    logger,
	}
}

// HandleS3Event asks for a cache reload when any record of event touches
// a strategy object. Requests are coalesced by the cache, so one reload
// is requested per event at most. This function is designed to be used as
// an AWS Lambda handler.
func (h *Handler) HandleS3Event(ctx context.Context, event events.S3Event) error {
	var matched int
	for _, record := range event.Records {
		recordsReceived.Add(ctx, 1)
		if h.relevant(record) {
			matched++
		}
	}
	if matched == 0 {
		return nil
	}

	h.refresher.Trigger()
	reloadsTriggered.Add(ctx, 1)
	h.logger.Debug("requested strategy cache reload",
		"records", len(event.Records),
		"matched", matched,
	)
	return nil
}

// relevant reports whether record is a create or remove of an object under
// the handler's prefix.
func (h *Handler) relevant(record events.S3EventRecord) bool {
	if !strings.HasPrefix(record.EventName, "ObjectCreated:") &&
		!strings.HasPrefix(record.EventName, "ObjectRemoved:") {
		return false
	}
	if h.bucket != "" && record.S3.Bucket.Name != h.bucket {
		return false
	}
	return strings.HasPrefix(objectKey(record), h.root)
}

// objectKey returns the decoded key of the record's object.
func objectKey(record events.S3EventRecord) string {
	if record.S3.Object.URLDecodedKey != "" {
		return record.S3.Object.URLDecodedKey
	}
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return record.S3.Object.Key
	}
	return key
}
