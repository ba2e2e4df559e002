package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds the cluster action engine's bootstrap configuration,
// trimmed from the teacher's dashboard config down to what the engine
// itself consumes plus the ambient stack (logging, TLS, tracing,
// metrics) carried regardless of feature scope.
type Config struct {
	DatabaseDriver string `mapstructure:"database_driver"` // sqlite | postgres
	DatabasePath   string `mapstructure:"database_path"`   // sqlite file path
	DatabaseDSN    string `mapstructure:"database_dsn"`     // postgres connection string

	LogLevel  string `mapstructure:"log_level"`  // debug | info | warn | error
	LogFormat string `mapstructure:"log_format"` // json | text

	KubeconfigPath string `mapstructure:"kubeconfig_path"`

	GRPCPort       int  `mapstructure:"grpc_port"`
	GRPCTLSEnabled bool `mapstructure:"grpc_tls_enabled"`

	HealthPort int `mapstructure:"health_port"` // health + /metrics HTTP surface

	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`

	// Action store / executor
	ActionStoreCacheSize int `mapstructure:"action_store_cache_size"` // dependency-edge LRU size
	ActionTimeoutSec     int `mapstructure:"action_timeout_sec"`      // per-execute() deadline; 0 = clusteraction.DefaultActionTimeout
	PollIntervalMs       int `mapstructure:"poll_interval_ms"`        // wait_for_dependents tick interval

	// Dispatcher worker pool
	DispatcherWorkers    int     `mapstructure:"dispatcher_workers"`
	DispatcherQueueSize  int     `mapstructure:"dispatcher_queue_size"`
	DispatcherRatePerSec float64 `mapstructure:"dispatcher_rate_per_sec"`
	DispatcherBurst      int     `mapstructure:"dispatcher_burst"`

	MetricsAuthEnabled bool `mapstructure:"metrics_auth_enabled"`

	TLSEnabled  bool   `mapstructure:"tls_enabled"`
	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`

	TracingEnabled      bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint     string  `mapstructure:"tracing_endpoint"`
	TracingServiceName  string  `mapstructure:"tracing_service_name"`
	TracingSamplingRate float64 `mapstructure:"tracing_sampling_rate"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/cluster-engine/")
	viper.AddConfigPath("$HOME/.cluster-engine")
	viper.AddConfigPath(".")

	viper.SetDefault("database_driver", "sqlite")
	viper.SetDefault("database_path", "./cluster-engine.db")
	viper.SetDefault("database_dsn", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("kubeconfig_path", "")

	viper.SetDefault("grpc_port", 50051)
	viper.SetDefault("grpc_tls_enabled", false)
	viper.SetDefault("health_port", 8090)
	viper.SetDefault("shutdown_timeout_sec", 15)

	viper.SetDefault("action_store_cache_size", 1024)
	viper.SetDefault("action_timeout_sec", 300)
	viper.SetDefault("poll_interval_ms", 200)

	viper.SetDefault("dispatcher_workers", 4)
	viper.SetDefault("dispatcher_queue_size", 256)
	viper.SetDefault("dispatcher_rate_per_sec", 50.0)
	viper.SetDefault("dispatcher_burst", 4)

	viper.SetDefault("metrics_auth_enabled", false)

	viper.SetDefault("tls_enabled", false)
	viper.SetDefault("tls_cert_path", "")
	viper.SetDefault("tls_key_path", "")

	viper.SetDefault("tracing_enabled", false)
	viper.SetDefault("tracing_endpoint", "")
	viper.SetDefault("tracing_service_name", "cluster-action-engine")
	viper.SetDefault("tracing_sampling_rate", 1.0)

	viper.SetEnvPrefix("CLUSTER_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.KubeconfigPath == "" {
		cfg.KubeconfigPath = os.Getenv("KUBECONFIG")
	}

	// Auto-enable tracing if the standard OTEL env var is set, matching the
	// teacher's bootstrap behavior.
	if !cfg.TracingEnabled && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cfg.TracingEnabled = true
		if cfg.TracingEndpoint == "" {
			cfg.TracingEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
	}

	return &cfg, nil
}
