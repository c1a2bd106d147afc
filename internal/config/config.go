package config

import (
	"time"
)

// Config is the top-level configuration loaded from defaults, file and env.
type Config struct {
	DataDir string        `koanf:"data_dir" validate:"required"`
	Storage StorageConfig `koanf:"storage"`
	Tenancy TenancyConfig `koanf:"tenancy"`
	Archive ArchiveConfig `koanf:"archive"`
	Server  ServerConfig  `koanf:"server"`
	Notify  NotifyConfig  `koanf:"notify"`
	Log     LogConfig     `koanf:"log"`
}

// StorageConfig selects and tunes the backend.
type StorageConfig struct {
	// Driver is pebble, sqlite or postgres.
	Driver string `koanf:"driver" validate:"oneof=pebble sqlite postgres"`
	// Fsync is the Pebble WAL policy: always, interval or never.
	Fsync         string        `koanf:"fsync" validate:"oneof=always interval never"`
	FsyncInterval time.Duration `koanf:"fsync_interval" validate:"gte=0"`
	// DSN is the SQL connection string. For sqlite it defaults to
	// {data_dir}/evstore.db; postgres requires it.
	DSN          string        `koanf:"dsn" validate:"required_if=Driver postgres"`
	MaxOpenConns int           `koanf:"max_open_conns" validate:"gte=0"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the SQL circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
	MaxRequests      uint32        `koanf:"max_requests" validate:"gte=1"`
}

// TenancyConfig restricts which tenant ids are accepted.
type TenancyConfig struct {
	NameRegex      string   `koanf:"name_regex" validate:"omitempty,regexp"`
	AllowedTenants []string `koanf:"allowed_tenants"`
}

// ArchiveConfig controls the scheduled integrity audit.
type ArchiveConfig struct {
	VerifyEnabled  bool   `koanf:"verify_enabled"`
	VerifySchedule string `koanf:"verify_schedule" validate:"required_if=VerifyEnabled true,omitempty,cron"`
}

// ServerConfig holds listener addresses. An empty address disables the listener.
type ServerConfig struct {
	HTTPAddr        string        `koanf:"http_addr" validate:"omitempty,hostname_port"`
	GRPCAddr        string        `koanf:"grpc_addr" validate:"omitempty,hostname_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// NotifyConfig controls commit notifications.
type NotifyConfig struct {
	Enabled     bool   `koanf:"enabled"`
	TopicPrefix string `koanf:"topic_prefix"`
}

// LogConfig mirrors pkg/log.Config.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Storage: StorageConfig{
			Driver:        "pebble",
			Fsync:         "always",
			FsyncInterval: 5 * time.Millisecond,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
				MaxRequests:      1,
			},
		},
		Tenancy: TenancyConfig{
			NameRegex: `^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`,
		},
		Archive: ArchiveConfig{
			VerifyEnabled:  false,
			VerifySchedule: "@daily",
		},
		Server: ServerConfig{
			HTTPAddr:        "127.0.0.1:8080",
			GRPCAddr:        "127.0.0.1:9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			Enabled:     true,
			TopicPrefix: "evstore.",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
