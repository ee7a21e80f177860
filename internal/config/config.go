package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Transport string

const (
	TransportStdio      Transport = "stdio"
	TransportSSE        Transport = "sse"
	TransportStreamable Transport = "streamable"
)

type Config struct {
	Transport             Transport `mapstructure:"transport"`
	HTTPAddr              string    `mapstructure:"http_addr"`
	HTTPPort              int       `mapstructure:"http_port"`
	HTTPPath              string    `mapstructure:"http_path"`
	CacheDBPath           string    `mapstructure:"cache_db_path"`
	UsageDBPath           string    `mapstructure:"usage_db_path"`
	CacheTTLSeconds       int       `mapstructure:"cache_ttl_seconds"`
	EnableCaching         bool      `mapstructure:"enable_caching"`
	RequestTimeoutSeconds int       `mapstructure:"request_timeout_seconds"`
	FDAAPIKey             string    `mapstructure:"fda_api_key"`
	PubMedAPIKey          string    `mapstructure:"pubmed_api_key"`
	RateLimitPerMinute    int       `mapstructure:"rate_limit_per_minute"`
	UsageRetentionDays    int       `mapstructure:"usage_retention_days"`
	LogLevel              string    `mapstructure:"log_level"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("transport", string(TransportStdio))
	v.SetDefault("http_addr", "0.0.0.0")
	v.SetDefault("http_port", 8000)
	v.SetDefault("http_path", "/mcp")
	v.SetDefault("cache_db_path", "healthcare_cache.db")
	v.SetDefault("usage_db_path", "healthcare_usage.db")
	v.SetDefault("cache_ttl_seconds", 3600)
	v.SetDefault("enable_caching", true)
	v.SetDefault("request_timeout_seconds", 30)
	v.SetDefault("fda_api_key", "")
	v.SetDefault("pubmed_api_key", "")
	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("usage_retention_days", 365)
	v.SetDefault("log_level", "info")
}

func Load() (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("HEALTHCARE_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Flags override (parse early to locate config file)
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	var cfgPathFlag string
	fs.StringVarP(&cfgPathFlag, "config", "c", "", "Config file path (yaml|json|toml)")
	fs.String("transport", string(TransportStdio), "Transport: stdio|sse|streamable")
	fs.String("http-addr", "0.0.0.0", "HTTP listen address")
	fs.Int("http-port", 8000, "HTTP listen port")
	fs.String("http-path", "/mcp", "HTTP endpoint path for the MCP transport")
	fs.String("cache-db-path", "healthcare_cache.db", "Path to the cache database file")
	fs.String("usage-db-path", "healthcare_usage.db", "Path to the usage database file")
	fs.Int("cache-ttl-seconds", 3600, "Default cache TTL in seconds")
	fs.Bool("enable-caching", true, "Enable response caching")
	fs.Int("request-timeout-seconds", 30, "Upstream request timeout in seconds")
	fs.String("fda-api-key", "", "openFDA API key (optional)")
	fs.String("pubmed-api-key", "", "NCBI E-utilities API key (optional)")
	fs.Int("rate-limit-per-minute", 60, "Base per-client rate limit for the HTTP API")
	fs.Int("usage-retention-days", 365, "Days of usage history to keep")
	fs.String("log-level", "info", "Log level")

	_ = fs.Parse(os.Args[1:])

	// Config file resolution
	cfgPath := cfgPathFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("HEALTHCARE_MCP_CONFIG")
	}
	if cfgPath != "" {
		if err := readConfigFile(v, cfgPath); err != nil {
			return Config{}, err
		}
	} else {
		_ = readDefaultConfig(v) // best-effort
	}

	// Flags override config
	_ = v.BindPFlags(fs)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Transport {
	case TransportStdio, TransportSSE, TransportStreamable:
	default:
		return fmt.Errorf("config: transport must be one of [%s,%s,%s]", TransportStdio, TransportSSE, TransportStreamable)
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return errors.New("config: http_port must be in 1..65535")
	}
	if cfg.CacheDBPath == "" {
		return errors.New("config: cache_db_path is required")
	}
	if cfg.UsageDBPath == "" {
		return errors.New("config: usage_db_path is required")
	}
	if cfg.CacheTTLSeconds <= 0 {
		return errors.New("config: cache_ttl_seconds must be > 0")
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		return errors.New("config: request_timeout_seconds must be > 0")
	}
	if cfg.RateLimitPerMinute <= 0 {
		return errors.New("config: rate_limit_per_minute must be > 0")
	}
	if cfg.UsageRetentionDays < 30 {
		return errors.New("config: usage_retention_days must be >= 30")
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

func readDefaultConfig(v *viper.Viper) error {
	paths := defaultConfigCandidates()
	exts := []string{"yaml", "yml", "json", "toml"}
	for _, base := range paths {
		for _, ext := range exts {
			candidate := base + "." + ext
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read default config %s: %w", candidate, err)
				}
				return nil
			}
		}
	}
	return nil
}

func defaultConfigCandidates() []string {
	var out []string
	cwd, _ := os.Getwd()
	if cwd != "" {
		out = append(out,
			filepath.Join(cwd, "healthcare-mcp"),
			filepath.Join(cwd, "config", "healthcare-mcp"),
		)
	}
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			xdg = filepath.Join(home, ".config")
		}
	}
	if xdg != "" {
		out = append(out, filepath.Join(xdg, "healthcare-mcp", "config"))
	}
	return out
}
