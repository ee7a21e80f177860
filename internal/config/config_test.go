package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport != TransportStdio {
		t.Fatalf("expected transport stdio, got %s", cfg.Transport)
	}
	if cfg.CacheDBPath != "healthcare_cache.db" {
		t.Fatalf("expected default cache db path, got %s", cfg.CacheDBPath)
	}
	if cfg.CacheTTLSeconds != 3600 {
		t.Fatalf("expected default ttl 3600, got %d", cfg.CacheTTLSeconds)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HEALTHCARE_MCP_CACHE_DB_PATH", "/tmp/alt_cache.db")
	t.Setenv("HEALTHCARE_MCP_LOG_LEVEL", "debug")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheDBPath != "/tmp/alt_cache.db" {
		t.Fatalf("expected env override for cache db path, got %s", cfg.CacheDBPath)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env override for log level, got %s", cfg.LogLevel)
	}
}

func TestValidateRejectsBadTransport(t *testing.T) {
	cfg := Config{
		Transport:             Transport("carrier-pigeon"),
		HTTPPort:              8000,
		CacheDBPath:           "cache.db",
		UsageDBPath:           "usage.db",
		CacheTTLSeconds:       3600,
		RequestTimeoutSeconds: 30,
		RateLimitPerMinute:    60,
		UsageRetentionDays:    365,
	}
	if err := validate(cfg); err == nil {
		t.Fatalf("expected validation error for unknown transport")
	}
}
