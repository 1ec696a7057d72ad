package objectstore

// Config holds configuration for the object store backend.
type Config struct {
	// Bucket holds the strategy objects. Required.
	Bucket string `mapstructure:"bucket"`

	// Prefix is the key prefix under which strategies are stored.
	// Default: "strategies"
	Prefix string `mapstructure:"prefix"`

	// NumShards spreads objects over this many key prefixes.
	// Default: 1 (no sharding)
	// Max: 256
	NumShards int `mapstructure:"num_shards"`

	// FetchConcurrency bounds the parallel GetObject calls made by ListAll.
	// Default: 16
	// Max: 256
	FetchConcurrency int `mapstructure:"fetch_concurrency"`
}

// DefaultConfig returns sensible defaults. Bucket must still be set.
func DefaultConfig() Config {
	return Config{
		Prefix:           "strategies",
		NumShards:        1,
		FetchConcurrency: 16,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Prefix == "" {
		c.Prefix = "strategies"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.FetchConcurrency < 1 {
		c.FetchConcurrency = 16
	}
	if c.FetchConcurrency > 256 {
		c.FetchConcurrency = 256
	}
}
