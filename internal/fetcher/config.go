package fetcher

// DefaultMaxBodySize comfortably fits an uncompressed 8192x8192 BMP.
const DefaultMaxBodySize = 64 << 20

// Config tunes the HTTP client used for frame requests. Durations are strings
// such as "10s" so they can come straight from flags, env or YAML.
type Config struct {
	// Timeout bounds a whole request including body transfer.
	// optional default "10s"
	Timeout string `mapstructure:"timeout"`

	// DialTimeout bounds TCP connection setup.
	// optional default "3s"
	DialTimeout string `mapstructure:"dial_timeout"`

	// MaxIdleConnsPerHost keeps the polling connection warm.
	// optional default 2
	MaxIdleConnsPerHost int `mapstructure:"max_idle_conns_per_host"`

	// MaxBodySize rejects responses larger than this many bytes.
	// optional default 64MiB
	MaxBodySize int `mapstructure:"max_body_size"`

	// Trace wraps the transport with OpenTelemetry instrumentation.
	Trace bool `mapstructure:"trace"`
}

func configMergeDefault(c *Config) *Config {
	if c == nil {
		c = &Config{}
	}
	if c.Timeout == "" {
		c.Timeout = "10s"
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "3s"
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 2
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	return c
}
