package config

import (
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vango-dev/docsync/internal/errors"
	"github.com/vango-dev/docsync/pkg/collab"
	"github.com/vango-dev/docsync/pkg/server"
)

// EnvPrefix prefixes every environment variable read by the config.
const EnvPrefix = "DOCSYNC"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverS3       = "s3"
)

// Config is the complete docsyncd configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Hydration   HydrationConfig   `mapstructure:"hydration"`
	Store       StoreConfig       `mapstructure:"store"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PersistenceConfig controls the debounced flush of each document.
type PersistenceConfig struct {
	Debounce    time.Duration `mapstructure:"debounce"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	SaveTimeout time.Duration `mapstructure:"save_timeout"`
}

// HydrationConfig controls how sessions load their stored snapshot.
type HydrationConfig struct {
	// Policy is start-empty or reject.
	Policy      string        `mapstructure:"policy"`
	Retries     int           `mapstructure:"retries"`
	Backoff     time.Duration `mapstructure:"backoff"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`

	// Notify publishes a change notification on Redis after every save,
	// whatever the driver.
	Notify bool `mapstructure:"notify"`

	Bolt     BoltConfig     `mapstructure:"bolt"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
}

// BoltConfig configures the bbolt store.
type BoltConfig struct {
	Path   string `mapstructure:"path"`
	Bucket string `mapstructure:"bucket"`
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table"`
}

// RedisConfig configures the Redis store and change notifications.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Channel  string        `mapstructure:"channel"`
}

// S3Config configures the S3 store.
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	MaxSize  int64  `mapstructure:"max_size"`
}

// AuthConfig controls WebSocket authentication.
type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens. Empty means anonymous access.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	srv := server.DefaultConfig()
	sched := collab.DefaultSchedulerConfig()
	return &Config{
		Server: ServerConfig{
			Address:         srv.Address,
			MaxMessageSize:  srv.MaxMessageSize,
			SendQueueSize:   srv.SendQueueSize,
			WriteTimeout:    srv.WriteTimeout,
			PongTimeout:     srv.PongTimeout,
			Heartbeat:       srv.HeartbeatInterval,
			ShutdownTimeout: srv.ShutdownTimeout,
		},
		Persistence: PersistenceConfig{
			Debounce:    sched.Debounce,
			MaxWait:     sched.MaxWait,
			SaveTimeout: sched.SaveTimeout,
		},
		Hydration: HydrationConfig{
			Policy:      string(collab.HydrateStartEmpty),
			Retries:     3,
			Backoff:     100 * time.Millisecond,
			LoadTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver:   DriverMemory,
			Bolt:     BoltConfig{Path: "docsync.db", Bucket: "documents"},
			Postgres: PostgresConfig{Table: "docsync_documents"},
			Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "docsync:doc:", Channel: "docsync:changed"},
			S3:       S3Config{Prefix: "documents/", MaxSize: 64 << 20},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers default values with v. Every key needs a default so
// that environment variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.max_message_size", d.Server.MaxMessageSize)
	v.SetDefault("server.send_queue_size", d.Server.SendQueueSize)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.pong_timeout", d.Server.PongTimeout)
	v.SetDefault("server.heartbeat", d.Server.Heartbeat)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("persistence.debounce", d.Persistence.Debounce)
	v.SetDefault("persistence.max_wait", d.Persistence.MaxWait)
	v.SetDefault("persistence.save_timeout", d.Persistence.SaveTimeout)

	v.SetDefault("hydration.policy", d.Hydration.Policy)
	v.SetDefault("hydration.retries", d.Hydration.Retries)
	v.SetDefault("hydration.backoff", d.Hydration.Backoff)
	v.SetDefault("hydration.load_timeout", d.Hydration.LoadTimeout)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.notify", d.Store.Notify)
	v.SetDefault("store.bolt.path", d.Store.Bolt.Path)
	v.SetDefault("store.bolt.bucket", d.Store.Bolt.Bucket)
	v.SetDefault("store.postgres.url", d.Store.Postgres.URL)
	v.SetDefault("store.postgres.table", d.Store.Postgres.Table)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)
	v.SetDefault("store.redis.ttl", d.Store.Redis.TTL)
	v.SetDefault("store.redis.channel", d.Store.Redis.Channel)
	v.SetDefault("store.s3.bucket", d.Store.S3.Bucket)
	v.SetDefault("store.s3.prefix", d.Store.S3.Prefix)
	v.SetDefault("store.s3.region", d.Store.S3.Region)
	v.SetDefault("store.s3.endpoint", d.Store.S3.Endpoint)
	v.SetDefault("store.s3.max_size", d.Store.S3.MaxSize)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// NewViper returns a viper instance with defaults and DOCSYNC_* environment
// lookup configured.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the optional file at path into v, then decodes and validates
// the merged configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New("D101").WithDetail(path).Wrap(err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.New("D101").WithDetail("decoding settings").Wrap(err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return errors.New("D102").WithDetailf("server.address is %q", c.Server.Address).Wrap(err)
	}
	if err := c.ServerConfig().Validate(); err != nil {
		return errors.New("D107").Wrap(err)
	}

	p := c.Persistence
	if p.Debounce <= 0 || p.SaveTimeout <= 0 || (p.MaxWait != 0 && p.MaxWait < p.Debounce) {
		return errors.New("D105").WithDetailf("debounce %s, max_wait %s, save_timeout %s",
			p.Debounce, p.MaxWait, p.SaveTimeout)
	}

	if _, err := collab.ParseHydrationPolicy(c.Hydration.Policy); err != nil {
		return errors.New("D106").WithDetailf("hydration.policy is %q", c.Hydration.Policy)
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if _, ok := parseLevel(c.Log.Level); !ok {
		return errors.New("D108").WithDetailf("log.level is %q", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return errors.New("D108").WithDetailf("log.format is %q", c.Log.Format)
	}
	return nil
}

func (c *Config) validateStore() error {
	missing := func(key string) error {
		return errors.New("D104").WithDetailf("%s is required for driver %q", key, c.Store.Driver)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverBolt:
		if c.Store.Bolt.Path == "" {
			return missing("store.bolt.path")
		}
	case DriverPostgres:
		if c.Store.Postgres.URL == "" {
			return missing("store.postgres.url")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return missing("store.redis.addr")
		}
	case DriverS3:
		if c.Store.S3.Bucket == "" {
			return missing("store.s3.bucket")
		}
	default:
		return errors.New("D103").WithDetailf("store.driver is %q", c.Store.Driver)
	}

	if c.Store.Notify && c.Store.Redis.Addr == "" {
		return errors.New("D104").WithDetail("store.redis.addr is required when store.notify is set")
	}
	return nil
}

// ServerConfig returns the transport settings.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Address:           c.Server.Address,
		MaxMessageSize:    c.Server.MaxMessageSize,
		SendQueueSize:     c.Server.SendQueueSize,
		WriteTimeout:      c.Server.WriteTimeout,
		PongTimeout:       c.Server.PongTimeout,
		HeartbeatInterval: c.Server.Heartbeat,
		ShutdownTimeout:   c.Server.ShutdownTimeout,
		JWTSecret:         []byte(c.Auth.JWTSecret),
	}
}

// SchedulerConfig returns the persistence scheduler settings.
func (c *Config) SchedulerConfig() collab.SchedulerConfig {
	return collab.SchedulerConfig{
		Debounce:    c.Persistence.Debounce,
		MaxWait:     c.Persistence.MaxWait,
		SaveTimeout: c.Persistence.SaveTimeout,
	}
}

// RegistryConfig returns the session registry settings. Store, logger and
// metrics are left for the caller.
func (c *Config) RegistryConfig() collab.RegistryConfig {
	policy, _ := collab.ParseHydrationPolicy(c.Hydration.Policy)
	return collab.RegistryConfig{
		Scheduler:        c.SchedulerConfig(),
		HydrationPolicy:  policy,
		HydrationRetries: c.Hydration.Retries,
		HydrationBackoff: c.Hydration.Backoff,
		LoadTimeout:      c.Hydration.LoadTimeout,
	}
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
