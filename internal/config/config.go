package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	AutoReply AutoReplyConfig `mapstructure:"auto_reply"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// RedisConfig holds the shared key-value store used for rate limiting
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// GmailConfig holds Gmail API configuration
type GmailConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	PubSubTopic  string        `mapstructure:"pubsub_topic"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker around Gmail API calls
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// WebhookConfig holds push endpoint verification settings
type WebhookConfig struct {
	Token        string `mapstructure:"token"`
	VerifyOIDC   bool   `mapstructure:"verify_oidc"`
	OIDCAudience string `mapstructure:"oidc_audience"`
	OIDCEmail    string `mapstructure:"oidc_email"`
}

// TasksConfig configures the durable Cloud Tasks queue. An empty project
// selects in-process dispatch.
type TasksConfig struct {
	Project             string `mapstructure:"project"`
	Location            string `mapstructure:"location"`
	Queue               string `mapstructure:"queue"`
	BaseURL             string `mapstructure:"base_url"`
	Token               string `mapstructure:"token"`
	ServiceAccountEmail string `mapstructure:"service_account_email"`
}

// PubSubConfig configures the optional pull-subscription receiver
type PubSubConfig struct {
	Project         string `mapstructure:"project"`
	Subscription    string `mapstructure:"subscription"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// AutoReplyConfig holds processing limits
type AutoReplyConfig struct {
	HourlyLimit      int           `mapstructure:"hourly_limit"`
	Window           time.Duration `mapstructure:"window"`
	Model            string        `mapstructure:"model"`
	SerializePerUser bool          `mapstructure:"serialize_per_user"`
	MaxErrorLength   int           `mapstructure:"max_error_length"`
}

// AgentConfig points at the decision agent endpoint
type AgentConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig holds watch renewal scheduling
type SchedulerConfig struct {
	RenewInterval time.Duration `mapstructure:"renew_interval"`
	Enabled       bool          `mapstructure:"enabled"`
}

// AdminConfig protects the operator endpoints
type AdminConfig struct {
	Token      string        `mapstructure:"token"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// Load loads configuration from an optional .env file, config file and
// environment variables. An explicit path overrides the config search path.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "gmail-auto-reply.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "10s")
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("gmail.redirect_url", "http://localhost:8080/callback")
	v.SetDefault("gmail.call_timeout", "30s")
	v.SetDefault("gmail.breaker.max_requests", 3)
	v.SetDefault("gmail.breaker.interval", "60s")
	v.SetDefault("gmail.breaker.timeout", "30s")
	v.SetDefault("gmail.breaker.consecutive_failures", 5)

	v.SetDefault("webhook.verify_oidc", true)

	v.SetDefault("tasks.location", "us-central1")

	v.SetDefault("auto_reply.hourly_limit", 20)
	v.SetDefault("auto_reply.window", "1h")
	v.SetDefault("auto_reply.model", "gemini-2.5-flash")
	v.SetDefault("auto_reply.serialize_per_user", false)
	v.SetDefault("auto_reply.max_error_length", 500)

	v.SetDefault("agent.timeout", "120s")

	v.SetDefault("scheduler.renew_interval", "6h")
	v.SetDefault("scheduler.enabled", true)

	v.SetDefault("admin.rate_limit", 60)
	v.SetDefault("admin.rate_window", "60s")
}

func bindEnvVars(v *viper.Viper) {
	bind := func(key, env string) { _ = v.BindEnv(key, env) }

	// Server
	bind("server.port", "PORT")
	bind("server.read_timeout", "SERVER_READ_TIMEOUT")
	bind("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	bind("log.level", "LOG_LEVEL")

	// Database
	bind("database.driver", "DB_DRIVER")
	bind("database.host", "DB_HOST")
	bind("database.port", "DB_PORT")
	bind("database.user", "DB_USER")
	bind("database.password", "DB_PASSWORD")
	bind("database.dbname", "DB_NAME")
	bind("database.sslmode", "DB_SSLMODE")
	bind("database.path", "DB_PATH")

	// Redis
	bind("redis.addr", "REDIS_ADDR")
	bind("redis.username", "REDIS_USERNAME")
	bind("redis.password", "REDIS_PASSWORD")
	bind("redis.db", "REDIS_DB")

	// Gmail
	bind("gmail.client_id", "GOOGLE_CLIENT_ID")
	bind("gmail.client_secret", "GOOGLE_CLIENT_SECRET")
	bind("gmail.redirect_url", "GOOGLE_REDIRECT_URL")
	bind("gmail.pubsub_topic", "PUBSUB_TOPIC")
	bind("gmail.call_timeout", "GMAIL_CALL_TIMEOUT")

	// Webhook
	bind("webhook.token", "PUBSUB_WEBHOOK_TOKEN")
	bind("webhook.verify_oidc", "PUBSUB_VERIFY_OIDC")
	bind("webhook.oidc_audience", "PUBSUB_OIDC_AUDIENCE")
	bind("webhook.oidc_email", "PUBSUB_OIDC_EMAIL")

	// Cloud Tasks
	bind("tasks.project", "CLOUD_TASKS_PROJECT")
	bind("tasks.location", "CLOUD_TASKS_LOCATION")
	bind("tasks.queue", "CLOUD_TASKS_QUEUE_NAME")
	bind("tasks.base_url", "BASE_PROJECT_URL")
	bind("tasks.token", "CLOUD_TASKS_TOKEN")
	bind("tasks.service_account_email", "CLOUD_TASKS_SERVICE_ACCOUNT_EMAIL")

	// Pub/Sub pull
	bind("pubsub.project", "PUBSUB_PROJECT")
	bind("pubsub.subscription", "PUBSUB_SUBSCRIPTION")
	bind("pubsub.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")

	// Auto-reply
	bind("auto_reply.hourly_limit", "AUTO_REPLY_HOURLY_LIMIT")
	bind("auto_reply.model", "DEFAULT_MODEL")
	bind("auto_reply.serialize_per_user", "AUTO_REPLY_SERIALIZE_PER_USER")

	// Agent
	bind("agent.url", "AGENT_URL")
	bind("agent.token", "AGENT_TOKEN")
	bind("agent.timeout", "AGENT_TIMEOUT")

	// Scheduler
	bind("scheduler.renew_interval", "WATCH_RENEW_INTERVAL")
	bind("scheduler.enabled", "WATCH_RENEW_ENABLED")

	bind("admin.token", "ADMIN_TOKEN")
	bind("admin.rate_limit", "ADMIN_RATE_LIMIT")
	bind("admin.rate_window", "ADMIN_RATE_WINDOW")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	case "sqlite":
		return c.Path
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
}

// DurableQueue reports whether Cloud Tasks dispatch is configured
func (c *TasksConfig) DurableQueue() bool {
	return c.Project != ""
}

// QueuePath returns the fully qualified Cloud Tasks queue name
func (c *TasksConfig) QueuePath() string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", c.Project, c.Location, c.Queue)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Webhook.Token == "" {
		return fmt.Errorf("webhook token is required")
	}

	if c.Tasks.DurableQueue() {
		if c.Tasks.Queue == "" || c.Tasks.BaseURL == "" || c.Tasks.Token == "" {
			return fmt.Errorf("cloud tasks queue, base url, and token are required when a tasks project is set")
		}
	}

	if c.AutoReply.HourlyLimit <= 0 {
		return fmt.Errorf("auto-reply hourly limit must be greater than 0")
	}
	if c.AutoReply.Window <= 0 {
		return fmt.Errorf("auto-reply window must be greater than 0")
	}

	if c.Scheduler.RenewInterval <= 0 {
		return fmt.Errorf("watch renew interval must be greater than 0")
	}

	return nil
}
