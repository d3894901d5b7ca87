package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Marketfeed    MarketfeedConfig     `yaml:"marketfeed"`
	Logging       LoggingConfig        `yaml:"logging"`
	Proxy         ProxyConfig          `yaml:"proxy"`
	Feed          FeedConfig           `yaml:"feed"`
	Gateway       GatewayConfig        `yaml:"gateway"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

type MarketfeedConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string                 `yaml:"level"`
	Format         string                 `yaml:"format"`
	Output         string                 `yaml:"output"`
	MaxAge         int                    `yaml:"max_age"`
	ReportInterval time.Duration          `yaml:"report_interval"`
	Fields         map[string]interface{} `yaml:"fields"`
}

type ProxyConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
}

type FeedConfig struct {
	CandleInterval string          `yaml:"candle_interval"`
	CandleLimit    int             `yaml:"candle_limit"`
	BookDepth      int             `yaml:"book_depth"`
	Reconnect      ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	DelayUnit   time.Duration `yaml:"delay_unit"`
}

type GatewayConfig struct {
	Enabled bool        `yaml:"enabled"`
	Listen  string      `yaml:"listen"`
	Depth   int         `yaml:"depth"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type SubscriptionConfig struct {
	Exchange string   `yaml:"exchange"`
	Symbol   string   `yaml:"symbol"`
	Kinds    []string `yaml:"kinds"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Feed: FeedConfig{
			CandleInterval: "1m",
			CandleLimit:    300,
			BookDepth:      15,
			Reconnect: ReconnectConfig{
				MaxAttempts: 3,
				DelayUnit:   time.Second,
			},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides so deployments can repoint the proxy and
	// redis without editing the file.
	if v := os.Getenv("PROXY_BASE_URL"); v != "" {
		config.Proxy.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Gateway.Redis.Addr = strings.TrimSpace(v)
	}

	config.Proxy.BaseURL = strings.TrimRight(strings.TrimSpace(config.Proxy.BaseURL), "/")

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Marketfeed.Name == "" {
		return fmt.Errorf("marketfeed.name is required")
	}

	if cfg.Marketfeed.Version == "" {
		return fmt.Errorf("marketfeed.version is required")
	}

	if cfg.Feed.CandleLimit <= 0 {
		return fmt.Errorf("feed.candle_limit must be greater than 0")
	}
	if cfg.Feed.BookDepth <= 0 {
		return fmt.Errorf("feed.book_depth must be greater than 0")
	}
	if cfg.Feed.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("feed.reconnect.max_attempts must be greater than 0")
	}
	if cfg.Feed.Reconnect.DelayUnit <= 0 {
		return fmt.Errorf("feed.reconnect.delay_unit must be greater than 0")
	}

	if cfg.Gateway.Enabled && cfg.Gateway.Listen == "" {
		return fmt.Errorf("gateway.listen is required when the gateway is enabled")
	}
	if cfg.Gateway.Redis.Enabled && cfg.Gateway.Redis.Addr == "" {
		return fmt.Errorf("gateway.redis.addr is required when redis is enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	for i, sub := range cfg.Subscriptions {
		if sub.Exchange == "" {
			return fmt.Errorf("subscriptions[%d].exchange is required", i)
		}
		if !isValidSymbol(sub.Symbol) {
			return fmt.Errorf("subscriptions[%d].symbol '%s' is invalid", i, sub.Symbol)
		}
		if len(sub.Kinds) == 0 {
			return fmt.Errorf("subscriptions[%d].kinds must not be empty", i)
		}
		for _, kind := range sub.Kinds {
			if kind != "candles" && kind != "book" {
				return fmt.Errorf("subscriptions[%d] has unknown kind '%s'", i, kind)
			}
		}
	}

	return nil
}

var symbolRegexp = regexp.MustCompile(`^[A-Za-z0-9]{2,20}$`)

func isValidSymbol(symbol string) bool {
	return symbolRegexp.MatchString(symbol)
}
