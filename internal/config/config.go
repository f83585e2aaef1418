package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Session    SessionConfig    `mapstructure:"session"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Bus        BusConfig        `mapstructure:"bus"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type TransportConfig struct {
	GatewayURL       string        `mapstructure:"gateway_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PairingTimeout   time.Duration `mapstructure:"pairing_timeout"`
}

// BackoffConfig holds the exponential backoff knobs shared by session
// reconnects and sink delivery retries.
type BackoffConfig struct {
	Base       time.Duration `mapstructure:"base"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`
	Jitter     bool          `mapstructure:"jitter"`
}

type SessionConfig struct {
	Backoff       BackoffConfig `mapstructure:"backoff"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	AckTimeout    time.Duration `mapstructure:"ack_timeout"`
	SendAttempts  int           `mapstructure:"send_attempts"`
	StopGrace     time.Duration `mapstructure:"stop_grace"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type BusConfig struct {
	Buffer int    `mapstructure:"buffer"`
	Policy string `mapstructure:"policy"` // drop | block
}

type DispatcherConfig struct {
	Backoff         BackoffConfig `mapstructure:"backoff"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	DefaultAttempts int           `mapstructure:"default_attempts"`
	WorkerBuffer    int           `mapstructure:"worker_buffer"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (CHATGATE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (CHATGATE_*)
	v.SetEnvPrefix("CHATGATE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
