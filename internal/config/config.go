package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EVENTPIX_JWT_SECRET.
const EnvPrefix = "EVENTPIX"

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Uploads    UploadsConfig    `yaml:"uploads" mapstructure:"uploads"`
	Thumbnails ThumbnailsConfig `yaml:"thumbnails" mapstructure:"thumbnails"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	JWT        JWTConfig        `yaml:"jwt" mapstructure:"jwt"`
	APNs       APNsConfig       `yaml:"apns" mapstructure:"apns"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`

	v *viper.Viper
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port          int           `yaml:"port" mapstructure:"port"`
	Host          string        `yaml:"host" mapstructure:"host"`
	PublicBaseURL string        `yaml:"public_base_url" mapstructure:"public_base_url"`
	ReadTimeout   time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodySize   string        `yaml:"max_body_size" mapstructure:"max_body_size"`
	// TrustedProxies lists the CIDRs whose forwarding headers are believed.
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// MaxBodyBytes parses MaxBodySize ("1MB", "512KiB").
func (c ServerConfig) MaxBodyBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxBodySize)
	if err != nil {
		return 0, fmt.Errorf("invalid server.max_body_size %q: %w", c.MaxBodySize, err)
	}
	return int64(n), nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated as a
// single-host prefix.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid server.trusted_proxies entry %q", raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	DBName   string `yaml:"dbname" mapstructure:"dbname"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// RedisConfig holds the shared key-value store location
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// StorageConfig selects and configures the object store driver
type StorageConfig struct {
	Driver       string        `yaml:"driver" mapstructure:"driver"`
	Bucket       string        `yaml:"bucket" mapstructure:"bucket"`
	Region       string        `yaml:"region" mapstructure:"region"`
	Endpoint     string        `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey    string        `yaml:"access_key" mapstructure:"access_key"`
	SecretKey    string        `yaml:"secret_key" mapstructure:"secret_key"`
	PathStyle    bool          `yaml:"path_style" mapstructure:"path_style"`
	DisableSSL   bool          `yaml:"disable_ssl" mapstructure:"disable_ssl"`
	LocalDir     string        `yaml:"local_dir" mapstructure:"local_dir"`
	PresignTTL   time.Duration `yaml:"presign_ttl" mapstructure:"presign_ttl"`
	MemorySecret string        `yaml:"memory_secret" mapstructure:"memory_secret"`
}

// UploadsConfig tunes grant issuance and finalize
type UploadsConfig struct {
	HostConcurrency  int  `yaml:"host_concurrency" mapstructure:"host_concurrency"`
	GuestConcurrency int  `yaml:"guest_concurrency" mapstructure:"guest_concurrency"`
	VerifyOnFinalize bool `yaml:"verify_on_finalize" mapstructure:"verify_on_finalize"`
}

// ThumbnailsConfig sizes the gallery derivative
type ThumbnailsConfig struct {
	Width   int           `yaml:"width" mapstructure:"width"`
	Height  int           `yaml:"height" mapstructure:"height"`
	Quality int           `yaml:"quality" mapstructure:"quality"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ArchiveConfig tunes bulk downloads
type ArchiveConfig struct {
	Workers         int           `yaml:"workers" mapstructure:"workers"`
	MaxItems        int           `yaml:"max_items" mapstructure:"max_items"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	RateLimitMax    int64         `yaml:"rate_limit_max" mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window" mapstructure:"rate_limit_window"`
}

// EventsConfig tunes event creation
type EventsConfig struct {
	CreateGuardTTL time.Duration `yaml:"create_guard_ttl" mapstructure:"create_guard_ttl"`
}

// CacheConfig tunes the version-tagged list cache
type CacheConfig struct {
	ListTTL time.Duration `yaml:"list_ttl" mapstructure:"list_ttl"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string        `yaml:"secret" mapstructure:"secret"`
	TTL    time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// APNsConfig holds push notification credentials
type APNsConfig struct {
	CertPath     string `yaml:"cert_path" mapstructure:"cert_path"`
	CertPassword string `yaml:"cert_password" mapstructure:"cert_password"`
	KeyPath      string `yaml:"key_path" mapstructure:"key_path"`
	KeyID        string `yaml:"key_id" mapstructure:"key_id"`
	TeamID       string `yaml:"team_id" mapstructure:"team_id"`
	Topic        string `yaml:"topic" mapstructure:"topic"`
	Production   bool   `yaml:"production" mapstructure:"production"`
}

// TelemetryConfig holds exporter settings
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	MetricsListen string `yaml:"metrics_listen" mapstructure:"metrics_listen"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

var defaults = map[string]any{
	"server.host":                "0.0.0.0",
	"server.port":                8080,
	"server.public_base_url":     "http://localhost:8080",
	"server.read_timeout":        15 * time.Second,
	"server.write_timeout":       15 * time.Second,
	"server.idle_timeout":        60 * time.Second,
	"server.max_body_size":       "1MB",
	"server.trusted_proxies":     []string{},
	"database.host":              "localhost",
	"database.port":              5432,
	"database.user":              "postgres",
	"database.password":          "",
	"database.dbname":            "eventpix",
	"database.sslmode":           "disable",
	"database.max_conns":         10,
	"redis.url":                  "redis://localhost:6379/0",
	"storage.driver":             "aws",
	"storage.bucket":             "",
	"storage.region":             "us-east-1",
	"storage.endpoint":           "",
	"storage.access_key":         "",
	"storage.secret_key":         "",
	"storage.path_style":         false,
	"storage.disable_ssl":        false,
	"storage.local_dir":          "",
	"storage.presign_ttl":        time.Hour,
	"storage.memory_secret":      "",
	"uploads.host_concurrency":   10,
	"uploads.guest_concurrency":  2,
	"uploads.verify_on_finalize": false,
	"thumbnails.width":           400,
	"thumbnails.height":          400,
	"thumbnails.quality":         80,
	"thumbnails.timeout":         20 * time.Second,
	"archive.workers":            4,
	"archive.max_items":          500,
	"archive.fetch_timeout":      60 * time.Second,
	"archive.rate_limit_max":     10,
	"archive.rate_limit_window":  10 * time.Minute,
	"events.create_guard_ttl":    10 * time.Second,
	"cache.list_ttl":             5 * time.Minute,
	"jwt.secret":                 "",
	"jwt.ttl":                    30 * 24 * time.Hour,
	"apns.cert_path":             "",
	"apns.cert_password":         "",
	"apns.key_path":              "",
	"apns.key_id":                "",
	"apns.team_id":               "",
	"apns.topic":                 "",
	"apns.production":            false,
	"telemetry.otlp_endpoint":    "",
	"telemetry.metrics_listen":   "",
	"log.level":                  "info",
	"log.format":                 "console",
}

// Load reads configuration from a YAML file, then applies EVENTPIX_*
// environment overrides. A missing file is an error only when path was
// given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// Validate reports settings the server cannot start without
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "aws", "minio", "azure":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server.port %d", c.Server.Port))
	}
	if _, err := c.Server.MaxBodyBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.Uploads.HostConcurrency < 1 || c.Uploads.GuestConcurrency < 1 {
		errs = append(errs, errors.New("upload concurrency must be at least 1"))
	}
	if c.APNs.CertPath != "" || c.APNs.KeyPath != "" {
		if c.APNs.Topic == "" {
			errs = append(errs, errors.New("apns.topic is required when apns is configured"))
		}
	}
	return errors.Join(errs...)
}

// WatchLogLevel calls apply with log.level whenever the config file changes.
func (c *Config) WatchLogLevel(apply func(level string)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(c.v.ConfigFileUsed()); err != nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := c.v.GetString("log.level")
		log.Info().Str("file", e.Name).Str("level", level).Msg("Config changed")
		apply(level)
	})
	c.v.WatchConfig()
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
