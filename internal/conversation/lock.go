package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
)

// Unlock releases a lock obtained from a Locker.
type Unlock func(ctx context.Context) error

// Locker serialises work on a single conversation across processes.
type Locker interface {
	// Lock returns a Conflict error when the conversation is already held.
	Lock(ctx context.Context, conversationID string) (Unlock, error)
}

const defaultLockTTL = 150 * time.Second

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds conversation locks as expiring Redis keys.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "relay:conversation-lock:"}
}

func (l *RedisLocker) key(conversationID string) string {
	return l.prefix + conversationID
}

func (l *RedisLocker) Lock(ctx context.Context, conversationID string) (Unlock, error) {
	if conversationID == "" {
		return nil, apperrors.Validation("conversation id is required")
	}
	token := uuid.NewString()
	key := l.key(conversationID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: acquire lock: %w", apperrors.Storage("lock conversation", err))
	}
	if !ok {
		return nil, apperrors.Conflict("conversation %s is already being processed", conversationID)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("conversation: release lock: %w", err)
		}
		return nil
	}, nil
}

// NoopLocker never blocks; used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}
