package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jacentio/strategystore/config"
	"github.com/jacentio/strategystore/dynamo"
	"github.com/jacentio/strategystore/objectstore"
	"github.com/jacentio/strategystore/store"
	"github.com/jacentio/strategystore/stream"
)

// runtime is what a command needs from the configured backend.
type runtime struct {
	store *store.Store

	// tables is set for the dynamo backend only.
	tables tableCreator

	// queue receives the bucket's change notifications.
	queue stream.SQSAPI
}

type tableCreator interface {
	Table() string
	CreateTable(ctx context.Context, maxWait time.Duration) error
}

type storeOpener func(ctx context.Context, cfg *config.Config, storeCfg store.Config, logger *slog.Logger) (*runtime, error)

// loadAWS builds the SDK configuration from the aws section.
func loadAWS(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// openStore connects to the configured backend.
func openStore(ctx context.Context, cfg *config.Config, storeCfg store.Config, logger *slog.Logger) (*runtime, error) {
	awsCfg, err := loadAWS(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	endpoint := cfg.AWS.Endpoint

	rt := &runtime{
		queue: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}),
	}

	var backend store.Backend
	switch cfg.Backend {
	case config.BackendS3:
		client := objectstore.NewClient(awsCfg,
			objectstore.WithEndpoint(endpoint),
			objectstore.WithPathStyle(cfg.AWS.PathStyle),
		)
		backend = objectstore.New(client, cfg.ObjectStore, objectstore.WithLogger(logger))
	case config.BackendDynamo:
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		b := dynamo.New(client, cfg.Dynamo, dynamo.WithLogger(logger))
		rt.tables = b
		backend = b
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}

	rt.store = store.New(backend, storeCfg, store.WithLogger(logger))
	return rt, nil
}
