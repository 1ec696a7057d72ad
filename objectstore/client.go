package objectstore

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientOption customizes the S3 client built by NewClient.
type ClientOption func(*s3.Options)

// WithEndpoint forces a custom S3 endpoint (eg MinIO, Ceph).
func WithEndpoint(url string) ClientOption {
	return func(o *s3.Options) {
		if url != "" {
			o.BaseEndpoint = aws.String(url)
		}
	}
}

// WithPathStyle uses path-style addressing instead of virtual-host.
func WithPathStyle(enabled bool) ClientOption {
	return func(o *s3.Options) {
		o.UsePathStyle = enabled
	}
}

// NewClient builds an S3 client from cfg.
func NewClient(cfg aws.Config, opts ...ClientOption) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		for _, opt := range opts {
			opt(o)
		}
	})
}
