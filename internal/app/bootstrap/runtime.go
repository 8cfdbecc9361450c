package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/whatsapp-assistant-relay/internal/config"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool opens a bounded pgx pool, or returns nil when no
// DATABASE_URL is configured.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	if cfg.DatabaseMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DatabaseMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildStore picks Postgres when a pool is available and falls back to the
// in-memory store otherwise.
func BuildStore(pool *pgxpool.Pool, logger *logging.Logger) conversation.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if pool == nil {
		logger.Warn("DATABASE_URL not set; using in-memory conversation store (data is lost on restart)")
		return conversation.NewMemoryStore()
	}
	return conversation.NewPostgresStore(pool)
}

// BuildLocker serializes assistant processing per conversation through Redis
// when a client is available.
func BuildLocker(client *redis.Client, cfg *appconfig.Config, logger *logging.Logger) conversation.Locker {
	if logger == nil {
		logger = logging.Default()
	}
	if client == nil {
		logger.Info("redis not configured; conversation lock disabled")
		return conversation.NoopLocker{}
	}
	return conversation.NewRedisLocker(client, cfg.ConversationLockTTL)
}
