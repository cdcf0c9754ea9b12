package boltproxy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level, YAML-decoded configuration for a boltproxy
// instance. LoadConfig fills zero-valued bind addresses and timeouts
// with the Default* values below; every other field keeps its zero
// value, which means unset or unbounded.
type Config struct {
	// Host and Port are where the proxy listener binds.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AdminListen is the address the control-surface HTTP API binds to.
	AdminListen string `yaml:"admin_listen"`

	// DenylistFile, if set, seeds the denylist store at startup and is
	// watched for changes (see admin.WatchDenylistFile).
	DenylistFile string `yaml:"denylist_file,omitempty"`

	// Persistence is optional; any backend left unset falls back to a
	// purely in-process store.
	Persistence PersistenceConfig `yaml:"persistence,omitempty"`

	// LogFile, if set, routes the structured log to a rotated file
	// instead of stderr.
	LogFile string `yaml:"log_file,omitempty"`

	// Timeouts, all expressed as durations, governing the client read,
	// upstream dial/read, tunnel idle, and worker join deadlines.
	ClientReadTimeout   time.Duration `yaml:"client_read_timeout,omitempty"`
	UpstreamDialTimeout time.Duration `yaml:"upstream_dial_timeout,omitempty"`
	UpstreamReadTimeout time.Duration `yaml:"upstream_read_timeout,omitempty"`
	TunnelIdleTimeout   time.Duration `yaml:"tunnel_idle_timeout,omitempty"`
	WorkerJoinTimeout   time.Duration `yaml:"worker_join_timeout,omitempty"`

	// MaxConcurrentWorkers bounds how many connection workers may run
	// at once via a semaphore ticket; zero means unbounded.
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers,omitempty"`

	// UpstreamDialsPerSecond rate-limits outbound dials; zero means
	// unlimited.
	UpstreamDialsPerSecond float64 `yaml:"upstream_dials_per_second,omitempty"`
}

// PersistenceConfig configures the optional durable backends for the
// cache and log stores.
type PersistenceConfig struct {
	RedisAddr    string `yaml:"redis_addr,omitempty"`
	SQLitePath   string `yaml:"sqlite_path,omitempty"`
}

// Defaults for the listener's timeouts and bind addresses.
const (
	DefaultHost                   = "0.0.0.0"
	DefaultPort                   = 8080
	DefaultAdminListen            = "localhost:2021"
	DefaultClientReadTimeout      = 5 * time.Second
	DefaultUpstreamDialTimeout    = 10 * time.Second
	DefaultUpstreamReadTimeout    = 10 * time.Second
	DefaultTunnelIdleTimeout      = 15 * time.Second
	DefaultWorkerJoinTimeout      = 2 * time.Second
	DefaultMaxHeaderBytes         = 64 * 1024
)

// FallbackPorts are the ports the control surface tries, in order,
// when the configured port fails to bind.
var FallbackPorts = []int{8081, 8888, 9000}

// LoadConfig reads and validates a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.AdminListen == "" {
		c.AdminListen = DefaultAdminListen
	}
	if c.ClientReadTimeout == 0 {
		c.ClientReadTimeout = DefaultClientReadTimeout
	}
	if c.UpstreamDialTimeout == 0 {
		c.UpstreamDialTimeout = DefaultUpstreamDialTimeout
	}
	if c.UpstreamReadTimeout == 0 {
		c.UpstreamReadTimeout = DefaultUpstreamReadTimeout
	}
	if c.TunnelIdleTimeout == 0 {
		c.TunnelIdleTimeout = DefaultTunnelIdleTimeout
	}
	if c.WorkerJoinTimeout == 0 {
		c.WorkerJoinTimeout = DefaultWorkerJoinTimeout
	}
}

// Validate rejects configurations the core cannot safely run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConcurrentWorkers < 0 {
		return fmt.Errorf("max_concurrent_workers must not be negative")
	}
	if c.UpstreamDialsPerSecond < 0 {
		return fmt.Errorf("upstream_dials_per_second must not be negative")
	}
	return nil
}
