package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ErrNoQueue is returned by Run when no queue URL is configured.
var ErrNoQueue = errors.New("stream: queue URL is required")

// SQSAPI is the subset of the SQS client used by Poller.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// PollerConfig holds configuration for the SQS poller.
type PollerConfig struct {
	// QueueURL receives the bucket's S3 event notifications. Required.
	QueueURL string `mapstructure:"queue_url"`

	// WaitTime is the long-poll duration of each receive.
	// Default: 20s
	// Max: 20s
	WaitTime time.Duration `mapstructure:"wait_time"`

	// MaxMessages is the batch size of each receive.
	// Default: 10
	// Max: 10
	MaxMessages int32 `mapstructure:"max_messages"`

	// ErrorBackoff is the pause after a failed receive.
	// Default: 5s
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// DefaultPollerConfig returns sensible defaults. QueueURL must still be set.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		WaitTime:     20 * time.Second,
		MaxMessages:  10,
		ErrorBackoff: 5 * time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *PollerConfig) validate() {
	if c.WaitTime <= 0 || c.WaitTime > 20*time.Second {
		c.WaitTime = 20 * time.Second
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
}

// Poller long-polls an SQS queue of S3 event notifications and feeds them
// to a Handler.
type Poller struct {
	client  SQSAPI
	handler *Handler
	config  PollerConfig
}

// NewPoller creates a new poller.
func NewPoller(client SQSAPI, handler *Handler, config PollerConfig) *Poller {
	config.validate()
	return &Poller{
		client:  client,
		handler: handler,
		config:  config,
	}
}

// Run polls until ctx is done. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	if p.config.QueueURL == "" {
		return ErrNoQueue
	}
	logger := p.handler.logger
	logger.Info("starting SQS poller", "queueURL", p.config.QueueURL)

	for {
		select {
		case <-ctx.Done():
			logger.Info("SQS poller stopped")
			return nil
		default:
		}

		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("failed to receive messages from SQS",
				"queueURL", p.config.QueueURL,
				"error", err,
			)
			select {
			case <-ctx.Done():
			case <-time.After(p.config.ErrorBackoff):
			}
		}
	}
}

// PollOnce receives one batch of messages and handles it. It returns an
// error only when the receive itself fails.
func (p *Poller) PollOnce(ctx context.Context) error {
	result, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.config.QueueURL),
		MaxNumberOfMessages: p.config.MaxMessages,
		WaitTimeSeconds:     int32(p.config.WaitTime / time.Second),
	})
	if err != nil {
		return err
	}
	for _, msg := range result.Messages {
		p.handleMessage(ctx, msg)
	}
	return nil
}

// handleMessage dispatches one message and deletes it. Messages that are
// not S3 events are deleted too, since they will never decode.
func (p *Poller) handleMessage(ctx context.Context, msg types.Message) {
	logger := p.handler.logger
	messageID := aws.ToString(msg.MessageId)

	if msg.Body == nil {
		logger.Warn("received SQS message with nil body", "messageId", messageID)
	} else {
		var event events.S3Event
		if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
			logger.Warn("dropping SQS message that is not an S3 event",
				"messageId", messageID,
				"error", err,
			)
		} else if err := p.handler.HandleS3Event(ctx, event); err != nil {
			logger.Error("failed to handle S3 event, leaving message for retry",
				"messageId", messageID,
				"error", err,
			)
			return
		}
	}

	// Deletion must complete even if the poller is being stopped.
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := p.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.config.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error("failed to delete SQS message",
			"messageId", messageID,
			"error", err,
		)
	}
}
