package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	UploadDir         string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	// StoreTimeout bounds every chat store operation issued by the service
	// layer. Timed-out operations fail as retryable without partial writes.
	StoreTimeout time.Duration `mapstructure:"store_timeout" yaml:"store_timeout"`

	// MessageRatePerMinute limits inbound WebSocket commands per connection.
	// Zero disables the limit.
	MessageRatePerMinute int `mapstructure:"message_rate_per_minute" yaml:"message_rate_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                 ":8080",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		DatabasePath:         "pairchat.db",
		UploadDir:            "uploads/profiles",
		LogLevel:             "info",
		JWTSecret:            "change-me",
		JWTIssuer:            "pairchat",
		JWTAudience:          "pairchat-clients",
		TokenTTL:             30 * 24 * time.Hour,
		StoreTimeout:         5 * time.Second,
		MessageRatePerMinute: 120,
	}
}
