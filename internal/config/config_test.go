package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ASSISTANT_POLL_INTERVAL", "")
	t.Setenv("ASSISTANT_POLL_TIMEOUT", "")
	t.Setenv("CONVERSATION_LOCK_TTL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" || !cfg.IsDevelopment() {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.AssistantPollInterval != time.Second {
		t.Fatalf("expected 1s poll interval, got %s", cfg.AssistantPollInterval)
	}
	if cfg.AssistantPollTimeout != 120*time.Second {
		t.Fatalf("expected 120s poll timeout, got %s", cfg.AssistantPollTimeout)
	}
	if cfg.ConversationLockTTL != 150*time.Second {
		t.Fatalf("expected lock ttl to follow poll timeout, got %s", cfg.ConversationLockTTL)
	}
	if cfg.WhatsAppAPIBaseURL == "" {
		t.Fatalf("expected default graph api base url")
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no cors origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("DATABASE_MAX_CONNS", "4")
	t.Setenv("ASSISTANT_POLL_INTERVAL", "250")
	t.Setenv("ASSISTANT_POLL_TIMEOUT", "30s")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("MEDIA_PUBLIC_BASE_URL", "https://cdn.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.IsDevelopment() {
		t.Fatalf("expected production env")
	}
	if cfg.DatabaseURL != "postgres://user@host/db" || cfg.DatabaseMaxConns != 4 {
		t.Fatalf("unexpected database config: %s %d", cfg.DatabaseURL, cfg.DatabaseMaxConns)
	}
	if cfg.AssistantPollInterval != 250*time.Millisecond {
		t.Fatalf("expected bare milliseconds to parse, got %s", cfg.AssistantPollInterval)
	}
	if cfg.AssistantPollTimeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.AssistantPollTimeout)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls")
	}
	if cfg.MediaPublicBaseURL != "https://cdn.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.MediaPublicBaseURL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("ASSISTANT_POLL_INTERVAL", "soon")
	cfg := Load()
	if cfg.AssistantPollInterval != time.Second {
		t.Fatalf("expected fallback, got %s", cfg.AssistantPollInterval)
	}
}
