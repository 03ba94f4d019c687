package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/SentientDrill/internal/advisor"
	"github.com/AaronLay10/SentientDrill/internal/notify"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scoring"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultPath is read when DRILL_CONFIG is unset.
const DefaultPath = "drill.yaml"

// Config is the drilld configuration file.
type Config struct {
	Version   int                `yaml:"version"`
	Server    ServerConfig       `yaml:"server"`
	Storage   StorageConfig      `yaml:"storage"`
	Redis     RedisConfig        `yaml:"redis"`
	MQTT      MQTTConfig         `yaml:"mqtt"`
	Notify    notify.Config      `yaml:"notify"`
	Session   SessionConfig      `yaml:"session"`
	Scoring   scoring.Config     `yaml:"scoring"`
	Profile   ProfileConfig      `yaml:"profile"`
	Advisor   advisor.Thresholds `yaml:"advisor"`
	Scenarios ScenariosConfig    `yaml:"scenarios"`
	Logging   LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Addr           string     `yaml:"addr"`
	AllowedOrigins []string   `yaml:"allowed_origins"`
	TLSCert        string     `yaml:"tls_cert"`
	TLSKey         string     `yaml:"tls_key"`
	Auth           AuthConfig `yaml:"auth"`
}

// AuthConfig holds basic-auth credentials. Auth is off unless the admin pair
// is set.
type AuthConfig struct {
	AdminUser   Secret `yaml:"admin_user"`
	AdminPass   Secret `yaml:"admin_pass"`
	TraineeUser Secret `yaml:"trainee_user"`
	TraineePass Secret `yaml:"trainee_pass"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN Secret `yaml:"postgres_dsn"`
	// Instance tags audit rows when several engines share a database.
	Instance string `yaml:"instance"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   Secret        `yaml:"password"`
	LockPrefix string        `yaml:"lock_prefix"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    Secret `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type SessionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type ProfileConfig struct {
	Aggregator profile.Config      `yaml:"aggregator"`
	Retry      profile.RetryConfig `yaml:"retry"`
}

type ScenariosConfig struct {
	Dir string `yaml:"dir"`
	// Templates seeds the store with the built-in template library.
	Templates *bool `yaml:"templates"`
	// GeneratorURL is an optional content service consulted before templates.
	GeneratorURL     string        `yaml:"generator_url"`
	GeneratorTimeout time.Duration `yaml:"generator_timeout"`
}

// SeedTemplates reports whether the template library is stored at startup.
func (c ScenariosConfig) SeedTemplates() bool {
	return c.Templates == nil || *c.Templates
}

type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: 1, Advisor: advisor.DefaultThresholds()}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies defaults and env overrides, and validates.
// A missing file at the default path yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("DRILL_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	// Keys absent from the file keep their defaults; an explicit 0 is kept.
	cfg := &Config{Version: 1, Advisor: advisor.DefaultThresholds()}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if cfg.Version != 1 {
			return nil, fmt.Errorf("unsupported config version: %d", cfg.Version)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/drill.db"
	}
	if c.Storage.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Storage.Instance = host
		} else {
			c.Storage.Instance = "drilld"
		}
	}
	if c.Redis.LockPrefix == "" {
		c.Redis.LockPrefix = "drill:lock:"
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 10 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "drilld"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "drill"
	}
	if c.MQTT.QoS > 2 {
		c.MQTT.QoS = 1
	}
	if c.Session.Timeout <= 0 {
		c.Session.Timeout = 30 * time.Minute
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Profile.Retry.MaxAttempts <= 0 {
		c.Profile.Retry = profile.DefaultRetryConfig()
	}
	if c.Logging.Mode == "" {
		c.Logging.Mode = "production"
	}
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DRILL_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("DRILL_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = Secret{Value: v}
	}
	if v := os.Getenv("DRILL_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("DRILL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DRILL_LOG_MODE"); v != "" {
		c.Logging.Mode = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		c.MQTT.BrokerURL = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("DRILL_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("DRILL_GENERATOR_URL"); v != "" {
		c.Scenarios.GeneratorURL = v
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Logging.Mode {
	case "production", "development":
	default:
		problems = append(problems, fmt.Sprintf("unknown logging mode %q", c.Logging.Mode))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		problems = append(problems, "server.tls_cert and server.tls_key must be set together")
	}
	if c.Session.SweepInterval > c.Session.Timeout {
		problems = append(problems, "session.sweep_interval must not exceed session.timeout")
	}
	if err := c.Advisor.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
