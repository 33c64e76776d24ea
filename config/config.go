package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateways GatewayConfig  `yaml:"gateways"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	LedgerTopic   string   `yaml:"ledger_topic"`
	ReportTopic   string   `yaml:"report_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type GatewayConfig struct {
	Epay     EpayConfig     `yaml:"epay"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Default  string         `yaml:"default"`
}

type EpayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIURL    string `yaml:"api_url"`
	PID       string `yaml:"pid"`
	Key       string `yaml:"key"`
	NotifyURL string `yaml:"notify_url"`
	ReturnURL string `yaml:"return_url"`
	PayType   string `yaml:"pay_type"`
}

type CheckoutConfig struct {
	Enabled       bool          `yaml:"enabled"`
	APIURL        string        `yaml:"api_url"`
	APIKey        string        `yaml:"api_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	SuccessURL    string        `yaml:"success_url"`
	Currency      string        `yaml:"currency"`
	Timeout       time.Duration `yaml:"timeout"`
}

type LedgerConfig struct {
	OrderTTL            time.Duration `yaml:"order_ttl"`
	PromoLockoutLimit   int           `yaml:"promo_lockout_limit"`
	PromoLockoutWindow  time.Duration `yaml:"promo_lockout_window"`
	StatusPollLimit     int           `yaml:"status_poll_limit"`
	StatusPollWindow    time.Duration `yaml:"status_poll_window"`
	AttemptLogRetention time.Duration `yaml:"attempt_log_retention"`
}

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":8084",
			GRPCAddr: ":50054",
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         "5432",
			User:         "postgres",
			Password:     "postgres",
			Name:         "ledgerdb",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 10,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			LedgerTopic:   "ledger_events",
			ReportTopic:   "report_events",
			ConsumerGroup: "ledger-service",
		},
		Tracing: TracingConfig{
			Enabled:        true,
			JaegerEndpoint: "http://localhost:14268/api/traces",
			ServiceName:    "ledger-service",
		},
		Auth: AuthConfig{
			JWTSecret: "your-secret-key-change-in-production",
		},
		Gateways: GatewayConfig{
			Default: "epay",
			Epay: EpayConfig{
				Enabled: true,
				PayType: "alipay",
			},
			Checkout: CheckoutConfig{
				Currency: "CNY",
				Timeout:  10 * time.Second,
			},
		},
		Ledger: LedgerConfig{
			OrderTTL:            30 * time.Minute,
			PromoLockoutLimit:   5,
			PromoLockoutWindow:  15 * time.Minute,
			StatusPollLimit:     30,
			StatusPollWindow:    time.Minute,
			AttemptLogRetention: 30 * 24 * time.Hour,
		},
	}
}

// Load reads the optional YAML file at path on top of the defaults and then
// applies environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.HTTPAddr = getEnv("HTTP_ADDR", cfg.Server.HTTPAddr)
	cfg.Server.GRPCAddr = getEnv("GRPC_ADDR", cfg.Server.GRPCAddr)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKER"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.LedgerTopic = getEnv("KAFKA_LEDGER_TOPIC", cfg.Kafka.LedgerTopic)
	cfg.Kafka.ReportTopic = getEnv("KAFKA_REPORT_TOPIC", cfg.Kafka.ReportTopic)
	cfg.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", cfg.Tracing.JaegerEndpoint)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Gateways.Default = getEnv("DEFAULT_GATEWAY", cfg.Gateways.Default)
	cfg.Gateways.Epay.APIURL = getEnv("EPAY_API_URL", cfg.Gateways.Epay.APIURL)
	cfg.Gateways.Epay.PID = getEnv("EPAY_PID", cfg.Gateways.Epay.PID)
	cfg.Gateways.Epay.Key = getEnv("EPAY_KEY", cfg.Gateways.Epay.Key)
	cfg.Gateways.Epay.NotifyURL = getEnv("EPAY_NOTIFY_URL", cfg.Gateways.Epay.NotifyURL)
	cfg.Gateways.Epay.ReturnURL = getEnv("EPAY_RETURN_URL", cfg.Gateways.Epay.ReturnURL)
	cfg.Gateways.Checkout.Enabled = getEnvBool("CHECKOUT_ENABLED", cfg.Gateways.Checkout.Enabled)
	cfg.Gateways.Checkout.APIURL = getEnv("CHECKOUT_API_URL", cfg.Gateways.Checkout.APIURL)
	cfg.Gateways.Checkout.APIKey = getEnv("CHECKOUT_API_KEY", cfg.Gateways.Checkout.APIKey)
	cfg.Gateways.Checkout.WebhookSecret = getEnv("CHECKOUT_WEBHOOK_SECRET", cfg.Gateways.Checkout.WebhookSecret)
	cfg.Gateways.Checkout.SuccessURL = getEnv("CHECKOUT_SUCCESS_URL", cfg.Gateways.Checkout.SuccessURL)

	cfg.Ledger.OrderTTL = getEnvDuration("ORDER_TTL", cfg.Ledger.OrderTTL)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Ledger.OrderTTL <= 0 {
		return fmt.Errorf("config: order_ttl must be positive")
	}
	if c.Ledger.PromoLockoutLimit <= 0 || c.Ledger.PromoLockoutWindow <= 0 {
		return fmt.Errorf("config: promo lockout limit and window must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: jwt_secret is required")
	}
	switch c.Gateways.Default {
	case "epay":
		if !c.Gateways.Epay.Enabled {
			return fmt.Errorf("config: default gateway epay is disabled")
		}
	case "checkout":
		if !c.Gateways.Checkout.Enabled {
			return fmt.Errorf("config: default gateway checkout is disabled")
		}
	default:
		return fmt.Errorf("config: unknown default gateway %q", c.Gateways.Default)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
