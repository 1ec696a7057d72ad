// Package config loads the settings of the strategystore binaries.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/jacentio/strategystore/dynamo"
	"github.com/jacentio/strategystore/objectstore"
	"github.com/jacentio/strategystore/store"
	"github.com/jacentio/strategystore/stream"
)

// Backend names.
const (
	BackendDynamo = "dynamo"
	BackendS3     = "s3"
)

// ErrUnknownBackend is returned by Validate for an unsupported backend name.
var ErrUnknownBackend = errors.New("config: unknown backend")

// Config aggregates configuration for the binaries.
// Each section is owned by its respective package.
type Config struct {
	// Backend selects the storage adapter: "dynamo" or "s3".
	Backend     string              `mapstructure:"backend"`
	AWS         AWSConfig           `mapstructure:"aws"`
	Store       store.Config        `mapstructure:"store"`
	Dynamo      dynamo.Config       `mapstructure:"dynamo"`
	ObjectStore objectstore.Config  `mapstructure:"objectstore"`
	Stream      stream.PollerConfig `mapstructure:"stream"`
}

// AWSConfig holds the settings passed to the AWS SDK.
type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`

	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string `mapstructure:"endpoint"`

	// PathStyle addresses S3 buckets by path instead of by host name.
	PathStyle bool `mapstructure:"path_style"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Backend:     BackendDynamo,
		Store:       store.DefaultConfig(),
		Dynamo:      dynamo.DefaultConfig(),
		ObjectStore: objectstore.DefaultConfig(),
		Stream:      stream.DefaultPollerConfig(),
	}
}

// Load reads configuration from the given file, or from config.yaml in the
// working directory when path is empty, and from environment variables.
// Environment variables use the prefix "STRATEGYSTORE" and the dot
// character in keys is replaced by an underscore. For example,
// "dynamo.table" becomes "STRATEGYSTORE_DYNAMO_TABLE".
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("STRATEGYSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be clamped to a default.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDynamo:
	case BackendS3:
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("config: objectstore.bucket is required for the %s backend", BackendS3)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
