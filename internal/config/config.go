// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Crawler   CrawlerConfig           `mapstructure:"crawler"`
	Publisher PublisherConfig         `mapstructure:"publisher"`
	Tor       TorConfig               `mapstructure:"tor"`
	Engines   map[string]EngineConfig `mapstructure:"engines"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the breadth-limited HTTP crawl pipeline.
type CrawlerConfig struct {
	MaxDepth            int    `mapstructure:"max_depth"`
	MaxLinksPerPage     int    `mapstructure:"max_links_per_page"`
	RequestDelayMs      int    `mapstructure:"request_delay_ms"`
	RequestTimeoutSecs  int    `mapstructure:"request_timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
	FollowExternalLinks bool   `mapstructure:"follow_external_links"`
	Concurrency         int    `mapstructure:"concurrency"`
	Progressive         bool   `mapstructure:"progressive"`
}

// PublisherConfig sets the primary document path and its mirror.
type PublisherConfig struct {
	PrimaryPath    string `mapstructure:"primary_path"`
	MirrorPath     string `mapstructure:"mirror_path"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
}

// TorConfig locates the local SOCKS5 endpoint used for onion routing.
type TorConfig struct {
	SocksHost string `mapstructure:"socks_host"`
	SocksPort int    `mapstructure:"socks_port"`
}

// EngineConfig describes one external crawler subprocess.
type EngineConfig struct {
	Binary         string   `mapstructure:"binary"`
	Args           []string `mapstructure:"args"`
	Workdir        string   `mapstructure:"workdir"`
	Artifact       string   `mapstructure:"artifact"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIVEGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_links_per_page", 5)
	v.SetDefault("crawler.request_delay_ms", 1000)
	v.SetDefault("crawler.request_timeout_seconds", 10)
	v.SetDefault("crawler.user_agent", "live-graph-crawler/1.0")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.follow_external_links", false)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.progressive", true)
	v.SetDefault("publisher.primary_path", "data/data.json")
	v.SetDefault("publisher.mirror_path", "frontend/data/data.json")
	v.SetDefault("publisher.poll_interval_ms", 1000)
	v.SetDefault("tor.socks_host", "127.0.0.1")
	v.SetDefault("tor.socks_port", 9050)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxDepth < 1 || c.Crawler.MaxDepth > 10 {
		return fmt.Errorf("crawler.max_depth must be in 1..10")
	}
	if c.Crawler.MaxLinksPerPage < 1 || c.Crawler.MaxLinksPerPage > 20 {
		return fmt.Errorf("crawler.max_links_per_page must be in 1..20")
	}
	if c.Crawler.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("crawler.request_timeout_seconds must be > 0")
	}
	if c.Crawler.RequestDelayMs < 0 {
		return fmt.Errorf("crawler.request_delay_ms must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Publisher.PrimaryPath == "" || c.Publisher.MirrorPath == "" {
		return fmt.Errorf("publisher paths must be set")
	}
	if c.Publisher.PollIntervalMs < 500 {
		return fmt.Errorf("publisher.poll_interval_ms must be >= 500")
	}
	if c.Tor.SocksPort <= 0 || c.Tor.SocksPort > 65535 {
		return fmt.Errorf("tor.socks_port must be a valid port")
	}
	for slot, eng := range c.Engines {
		if eng.Binary == "" {
			return fmt.Errorf("engines.%s.binary must be set", slot)
		}
		if eng.TimeoutSeconds < 0 {
			return fmt.Errorf("engines.%s.timeout_seconds must be >= 0", slot)
		}
	}
	return nil
}

// RequestDelay converts the configured per-host delay into a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Crawler.RequestDelayMs) * time.Millisecond
}

// RequestTimeout converts the configured fetch timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.RequestTimeoutSecs) * time.Second
}

// PollInterval converts the mirror poll interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Publisher.PollIntervalMs) * time.Millisecond
}

// EngineTimeout returns the wall-clock limit for the named engine slot.
// The default is ten minutes when the slot does not override it.
func (c Config) EngineTimeout(slot string) time.Duration {
	if eng, ok := c.Engines[slot]; ok && eng.TimeoutSeconds > 0 {
		return time.Duration(eng.TimeoutSeconds) * time.Second
	}
	return 600 * time.Second
}
