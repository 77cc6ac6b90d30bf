package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "market-collector"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	Port                    map[string]string         `mapstructure:"port"`
	Collector               CollectorConfig           `mapstructure:"collector"`
	Exchanges               map[string]ExchangeConfig `mapstructure:"exchanges"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Kafka                   KafkaConfig               `mapstructure:"kafka"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool          `mapstructure:"show_caller"`
	LogLevel   string        `mapstructure:"log_level"`
	File       LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RedisConfig struct {
	CacheDSN string        `mapstructure:"cache_dsn"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type CollectorConfig struct {
	OutputBuffer   int      `mapstructure:"output_buffer"`
	OverflowPolicy string   `mapstructure:"overflow_policy"` // block | drop_oldest
	Sinks          []string `mapstructure:"sinks"`
}

type ExchangeConfig struct {
	Enabled            bool              `mapstructure:"enabled"`
	Protocol           string            `mapstructure:"protocol"`
	WSURL              string            `mapstructure:"ws_url"`
	RestURL            string            `mapstructure:"rest_url"`
	Instruments        []string          `mapstructure:"instruments"`
	Symbols            map[string]string `mapstructure:"symbols"` // instrument -> exchange symbol
	Credential         CredentialConfig  `mapstructure:"credential"`
	Reconnect          ReconnectConfig   `mapstructure:"reconnect"`
	HeartbeatTimeout   time.Duration     `mapstructure:"heartbeat_timeout"`
	PingInterval       time.Duration     `mapstructure:"ping_interval"`
	PollInterval       time.Duration     `mapstructure:"poll_interval"`
	RateLimit          float64           `mapstructure:"rate_limit"` // requests per second for polled exchanges
	MaxAuthFailures    int               `mapstructure:"max_auth_failures"`
	MaxSessionRestarts int               `mapstructure:"max_session_restarts"`
}

type CredentialConfig struct {
	Type          string        `mapstructure:"type"` // none | static | coinbase_jwt
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	KeyName       string        `mapstructure:"key_name"`
	PrivateKey    string        `mapstructure:"private_key"`
	KeyFile       string        `mapstructure:"key_file"`
	URI           string        `mapstructure:"uri"`
	TTL           time.Duration `mapstructure:"ttl"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
}

type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Factor      float64       `mapstructure:"factor"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      time.Duration `mapstructure:"jitter"`
}

const (
	defaultReconnectMaxAttempts = 10
	defaultReconnectFactor      = 2.0
	defaultReconnectMinDelay    = 1 * time.Second
	defaultReconnectMaxDelay    = 15 * time.Second
	defaultHeartbeatTimeout     = 30 * time.Second
	defaultPingInterval         = 10 * time.Second
	defaultPollInterval         = 1 * time.Second
	defaultRateLimit            = 5.0
	defaultMaxAuthFailures      = 3
	defaultOutputBuffer         = 4096
)

// ProtocolName falls back to the exchange key when protocol is not set.
func (c ExchangeConfig) ProtocolName(exchange string) string {
	if p := strings.TrimSpace(c.Protocol); p != "" {
		return strings.ToLower(p)
	}

	return strings.ToLower(exchange)
}

func (c ExchangeConfig) ReconnectPolicy() ReconnectConfig {
	policy := c.Reconnect
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultReconnectMaxAttempts
	}
	if policy.Factor < 1 {
		policy.Factor = defaultReconnectFactor
	}
	if policy.MinDelay <= 0 {
		policy.MinDelay = defaultReconnectMinDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultReconnectMaxDelay
	}
	if policy.MaxDelay < policy.MinDelay {
		policy.MaxDelay = policy.MinDelay
	}

	return policy
}

func (c ExchangeConfig) HeartbeatTimeoutOrDefault() time.Duration {
	if c.HeartbeatTimeout <= 0 {
		return defaultHeartbeatTimeout
	}

	return c.HeartbeatTimeout
}

func (c ExchangeConfig) PingIntervalOrDefault() time.Duration {
	if c.PingInterval <= 0 {
		return defaultPingInterval
	}

	return c.PingInterval
}

func (c ExchangeConfig) PollIntervalOrDefault() time.Duration {
	if c.PollInterval <= 0 {
		return defaultPollInterval
	}

	return c.PollInterval
}

func (c ExchangeConfig) RateLimitOrDefault() float64 {
	if c.RateLimit <= 0 {
		return defaultRateLimit
	}

	return c.RateLimit
}

func (c ExchangeConfig) MaxAuthFailuresOrDefault() int {
	if c.MaxAuthFailures <= 0 {
		return defaultMaxAuthFailures
	}

	return c.MaxAuthFailures
}

func (c CollectorConfig) OutputBufferOrDefault() int {
	if c.OutputBuffer <= 0 {
		return defaultOutputBuffer
	}

	return c.OutputBuffer
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)
	viper.SetDefault("collector.overflow_policy", "block")
	viper.SetDefault("collector.output_buffer", defaultOutputBuffer)
	viper.SetDefault("collector.sinks", []string{"log"})

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
