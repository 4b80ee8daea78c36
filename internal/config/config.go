package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Bidding        BiddingConfig        `yaml:"bidding"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Auth           AuthConfig           `yaml:"auth"`
	Notifier       NotifierConfig       `yaml:"notifier"`
	Invoice        InvoiceConfig        `yaml:"invoice"`
	Realtime       RealtimeConfig       `yaml:"realtime"`
	Alert          AlertConfig          `yaml:"alert"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds ledger connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
	// Migrate applies the embedded schema migrations on startup.
	Migrate bool `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds fast-path cache settings. When disabled or unreachable
// the in-process cache is used instead.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// BiddingConfig holds bid adjudication settings.
type BiddingConfig struct {
	LockTTL  time.Duration `yaml:"lock_ttl"`
	StateTTL time.Duration `yaml:"state_ttl"`
}

// SchedulerConfig holds lifecycle timer settings.
type SchedulerConfig struct {
	// LateStartGrace is how late a scheduled start may fire before it is
	// reported as a missed boundary.
	LateStartGrace time.Duration `yaml:"late_start_grace"`
	// FireTimeout bounds the work done by a single timer firing.
	FireTimeout time.Duration `yaml:"fire_timeout"`
}

// AuthConfig holds credential service settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// NotifierConfig holds outbound email settings.
type NotifierConfig struct {
	Driver  string `yaml:"driver"` // "log" or "amqp"
	AMQPURL string `yaml:"amqp_url"`
	Queue   string `yaml:"queue"`
	From    string `yaml:"from"`
	// MaxInFlight bounds concurrent fire-and-forget sends.
	MaxInFlight int `yaml:"max_in_flight"`
}

// InvoiceConfig holds document generator settings.
type InvoiceConfig struct {
	Dir       string `yaml:"dir"`
	URLPrefix string `yaml:"url_prefix"`
}

// RealtimeConfig holds websocket channel settings.
type RealtimeConfig struct {
	// RequireToken makes identify and place_bid accept only identities
	// proven by a credential token.
	RequireToken   bool          `yaml:"require_token"`
	SendBuffer     int           `yaml:"send_buffer"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// AlertConfig holds operator alert settings.
type AlertConfig struct {
	DiscordWebhookID    string `yaml:"discord_webhook_id"`
	DiscordWebhookToken string `yaml:"discord_webhook_token"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	Insecure       bool          `yaml:"insecure"`
	SampleRatio    float64       `yaml:"sample_ratio"`
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
			Migrate: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DialTimeout: 2 * time.Second,
		},
		Bidding: BiddingConfig{
			LockTTL:  30 * time.Second,
			StateTTL: time.Hour,
		},
		Scheduler: SchedulerConfig{
			LateStartGrace: 60 * time.Second,
			FireTimeout:    30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
		},
		Notifier: NotifierConfig{
			Driver:      "log",
			Queue:       "auction.email",
			From:        "noreply@auctionhub.local",
			MaxInFlight: 64,
		},
		Invoice: InvoiceConfig{
			Dir:       "invoices",
			URLPrefix: "/api/invoices",
		},
		Realtime: RealtimeConfig{
			SendBuffer:   64,
			PingInterval: 25 * time.Second,
			PongWait:     60 * time.Second,
			WriteWait:    10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctionhub",
			ServiceVersion: "0.1.0",
			SampleRatio:    1,
			MetricInterval: 30 * time.Second,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctionhub-scheduler",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// Load reads a YAML configuration file from the given path. ${VAR}
// references in the file are expanded from the environment first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver))
	}

	switch c.Notifier.Driver {
	case "log":
	case "amqp":
		if c.Notifier.AMQPURL == "" {
			errs = append(errs, errors.New("notifier.amqp_url is required for the amqp driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported notifier driver %q: must be \"log\" or \"amqp\"", c.Notifier.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Bidding.LockTTL <= 0 {
		errs = append(errs, errors.New("bidding.lock_ttl must be positive"))
	}
	if c.Bidding.StateTTL <= 0 {
		errs = append(errs, errors.New("bidding.state_ttl must be positive"))
	}
	if c.Scheduler.LateStartGrace < 0 {
		errs = append(errs, errors.New("scheduler.late_start_grace must not be negative"))
	}
	if c.Realtime.SendBuffer <= 0 {
		errs = append(errs, errors.New("realtime.send_buffer must be positive"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}
