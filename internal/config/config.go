package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL      string
	DatabaseMaxConns int

	// WhatsApp Cloud API
	WhatsAppAPIBaseURL  string
	WhatsAppAccessToken string
	WhatsAppVerifyToken string
	WhatsAppAppSecret   string

	// Assistant API
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	DefaultAssistantID    string
	AssistantPollInterval time.Duration
	AssistantPollTimeout  time.Duration

	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool
	ConversationLockTTL time.Duration

	// Durable media mirror
	MediaBucket        string
	MediaPublicBaseURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	PrivateAPIJWTSecret string
	CORSAllowedOrigins  []string
}

// Load reads configuration from environment variables
func Load() *Config {
	pollTimeout := getEnvAsDuration("ASSISTANT_POLL_TIMEOUT", 120*time.Second)
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseMaxConns: getEnvAsInt("DATABASE_MAX_CONNS", 10),

		WhatsAppAPIBaseURL:  getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v21.0"),
		WhatsAppAccessToken: getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:   getEnv("WHATSAPP_APP_SECRET", ""),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		DefaultAssistantID:    getEnv("OPENAI_ASSISTANT_ID", ""),
		AssistantPollInterval: getEnvAsDuration("ASSISTANT_POLL_INTERVAL", time.Second),
		AssistantPollTimeout:  pollTimeout,

		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		ConversationLockTTL: getEnvAsDuration("CONVERSATION_LOCK_TTL", pollTimeout+30*time.Second),

		MediaBucket:        getEnv("MEDIA_BUCKET", ""),
		MediaPublicBaseURL: strings.TrimRight(getEnv("MEDIA_PUBLIC_BASE_URL", ""), "/"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		PrivateAPIJWTSecret: getEnv("PRIVATE_API_JWT_SECRET", ""),
		CORSAllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// IsDevelopment reports whether internal error details may be exposed.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "development")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms", "2m") or bare milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if ms, err := strconv.Atoi(valueStr); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
