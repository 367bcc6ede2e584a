// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev  bool
	Role string // api | worker | all
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// AdminConfig is the worker-side listener for /health and /metrics.
type AdminConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type QueueConfig struct {
	Driver string `yaml:"driver"` // redis | amqp
	// Stream is the Redis stream key, or the queue name for amqp.
	Stream       string        `yaml:"stream"`
	Group        string        `yaml:"group"`
	Consumer     string        `yaml:"consumer"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
	ClaimIdle    time.Duration `yaml:"claim_idle"`
	MaxLen       int64         `yaml:"max_len"`
	AMQPURL      string        `yaml:"amqp_url"`
	Prefetch     int           `yaml:"prefetch"`
}

type GeneratorConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Local selects the unauthenticated strategy (emulator / local runs).
	Local bool `yaml:"local"`
	// Timeout bounds establishing the remote call (until response headers).
	Timeout time.Duration `yaml:"timeout"`
	// CredentialsFile optionally points at a service account key used to mint
	// identity tokens; empty means application default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver"` // minio | filesystem
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Extension string `yaml:"extension"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	PartSize  uint64 `yaml:"part_size"`
	Path      string `yaml:"path"` // filesystem driver root
}

type WorkerConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

type MonitorConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Limit      int           `yaml:"limit"`
}

type IntakeConfig struct {
	MaxPromptLength int `yaml:"max_prompt_length"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Generator GeneratorConfig `yaml:"generator"`
	Storage   StorageConfig   `yaml:"storage"`
	Worker    WorkerConfig    `yaml:"worker"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Intake    IntakeConfig    `yaml:"intake"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, expands ${VAR} references from the
// environment, applies defaults and validates the minimum required settings.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployments inject secrets without templating the file.
func (c *Config) applyEnvOverrides() {
	overrideString(&c.Database.URL, "DATABASE_URL")
	overrideString(&c.Redis.URL, "REDIS_URL")
	overrideString(&c.Redis.Password, "REDIS_PASSWORD")
	overrideString(&c.Queue.AMQPURL, "AMQP_URL")
	overrideString(&c.Generator.Endpoint, "GENERATOR_ENDPOINT")
	overrideString(&c.Storage.Bucket, "STORAGE_BUCKET")
	overrideString(&c.Storage.AccessKey, "STORAGE_ACCESS_KEY")
	overrideString(&c.Storage.SecretKey, "STORAGE_SECRET_KEY")
	if v, ok := os.LookupEnv("GENERATOR_LOCAL"); ok && v != "" {
		c.Generator.Local = strings.EqualFold(v, "true") || v == "1"
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	c.HTTP.ReadTimeout = orDuration(c.HTTP.ReadTimeout, 15*time.Second)
	c.HTTP.WriteTimeout = orDuration(c.HTTP.WriteTimeout, 30*time.Second)
	c.HTTP.ShutdownTimeout = orDuration(c.HTTP.ShutdownTimeout, 15*time.Second)
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 64 << 10
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.CacheTTL = orDuration(c.Redis.CacheTTL, 30*time.Second)

	if c.Queue.Driver == "" {
		c.Queue.Driver = "redis"
	}
	if c.Queue.Stream == "" {
		c.Queue.Stream = "generation:jobs"
	}
	if c.Queue.Group == "" {
		c.Queue.Group = "workers"
	}
	c.Queue.BlockTimeout = orDuration(c.Queue.BlockTimeout, 5*time.Second)
	c.Queue.ClaimIdle = orDuration(c.Queue.ClaimIdle, 15*time.Minute)
	if c.Queue.MaxLen <= 0 {
		c.Queue.MaxLen = 100000
	}

	c.Generator.Timeout = orDuration(c.Generator.Timeout, 60*time.Second)

	if c.Storage.Driver == "" {
		c.Storage.Driver = "minio"
	}
	if c.Storage.Extension == "" {
		c.Storage.Extension = ".schem"
	}
	if !strings.HasPrefix(c.Storage.Extension, ".") {
		c.Storage.Extension = "." + c.Storage.Extension
	}
	if c.Storage.PartSize == 0 {
		c.Storage.PartSize = 16 << 20
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	c.Worker.JobTimeout = orDuration(c.Worker.JobTimeout, 10*time.Minute)
	c.Worker.StatusTimeout = orDuration(c.Worker.StatusTimeout, 10*time.Second)
	if c.Queue.Prefetch <= 0 {
		c.Queue.Prefetch = c.Worker.Concurrency
	}

	c.Monitor.Interval = orDuration(c.Monitor.Interval, time.Minute)
	c.Monitor.StaleAfter = orDuration(c.Monitor.StaleAfter, 15*time.Minute)
	if c.Monitor.Limit <= 0 {
		c.Monitor.Limit = 100
	}

	if c.Intake.MaxPromptLength <= 0 {
		c.Intake.MaxPromptLength = 1000
	}
}

// Validate checks the settings every role needs.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	switch c.Queue.Driver {
	case "redis":
		// load, started, finished and ack each take up to status_timeout
		if budget := c.Worker.JobTimeout + 4*c.Worker.StatusTimeout; c.Queue.ClaimIdle <= budget {
			return fmt.Errorf("queue.claim_idle (%s) must exceed worker.job_timeout plus 4x worker.status_timeout (%s)", c.Queue.ClaimIdle, budget)
		}
	case "amqp":
		if c.Queue.AMQPURL == "" {
			return errors.New("queue.amqp_url is required for the amqp driver")
		}
	default:
		return fmt.Errorf("unknown queue.driver %q", c.Queue.Driver)
	}
	if c.Generator.Endpoint == "" {
		return errors.New("generator.endpoint is required")
	}
	switch c.Storage.Driver {
	case "minio":
		if c.Storage.Bucket == "" || c.Storage.Endpoint == "" {
			return errors.New("storage.bucket and storage.endpoint are required for the minio driver")
		}
	case "filesystem":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the filesystem driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func orDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
