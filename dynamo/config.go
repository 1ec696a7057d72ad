package dynamo

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// Table is the name of the strategies table.
	// Default: "strategies"
	Table string `mapstructure:"table"`

	// ScanSegments is the number of parallel segments ListAll scans.
	// Use more than one only for large tables; each segment is a separate
	// paginated Scan.
	// Default: 1
	// Max: 64
	ScanSegments int `mapstructure:"scan_segments"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:        "strategies",
		ScanSegments: 1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "strategies"
	}
	if c.ScanSegments < 1 {
		c.ScanSegments = 1
	}
	if c.ScanSegments > 64 {
		c.ScanSegments = 64
	}
}
