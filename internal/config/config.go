package config

import "time"

// Config holds configuration for both the sync client and the reference server.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Client side.
	WSEndpoint       string        `mapstructure:"ws_endpoint" yaml:"ws_endpoint"`
	APIBase          string        `mapstructure:"api_base" yaml:"api_base"`
	PageSize         int           `mapstructure:"page_size" yaml:"page_size"`
	TypingQuiet      time.Duration `mapstructure:"typing_quiet" yaml:"typing_quiet"`
	TypingDecay      time.Duration `mapstructure:"typing_decay" yaml:"typing_decay"`
	ReconnectMin     time.Duration `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`
	MaxAttachmentKiB int           `mapstructure:"max_attachment_kib" yaml:"max_attachment_kib"`

	// Reference server.
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel:          "info",
		WSEndpoint:        "ws://localhost:8080/ws",
		APIBase:           "http://localhost:8080",
		PageSize:          50,
		TypingQuiet:       time.Second,
		TypingDecay:       5 * time.Second,
		ReconnectMin:      time.Second,
		ReconnectMax:      30 * time.Second,
		MaxAttachmentKiB:  5120,
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "chatsync.db",
		JWTSecret:         "dev-secret-change-me",
		JWTIssuer:         "chatsync",
		JWTAudience:       "chatsync-clients",
	}
}
