package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/whatsapp-assistant-relay/internal/config"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, logging.Discard(), true))
}

func TestBuildRedisClientVerifiesConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), true)
	require.NotNil(t, client)
	defer client.Close()

	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "127.0.0.1:1"}, logging.Discard(), true))
}

func TestBuildPostgresPoolSkippedWithoutURL(t *testing.T) {
	pool, err := BuildPostgresPool(context.Background(), &appconfig.Config{})
	require.NoError(t, err)
	assert.Nil(t, pool)

	_, err = BuildPostgresPool(context.Background(), &appconfig.Config{DatabaseURL: "postgres://localhost:badport/relay"})
	assert.Error(t, err)
}

func TestBuildStoreFallsBackToMemory(t *testing.T) {
	store := BuildStore(nil, logging.Discard())
	_, ok := store.(*conversation.MemoryStore)
	assert.True(t, ok)
}

func TestBuildLocker(t *testing.T) {
	cfg := &appconfig.Config{ConversationLockTTL: time.Minute}
	_, ok := BuildLocker(nil, cfg, logging.Discard()).(conversation.NoopLocker)
	assert.True(t, ok)

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	defer client.Close()
	locker := BuildLocker(client, cfg, logging.Discard())
	unlock, err := locker.Lock(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("relay:conversation-lock:conv-1"))
	require.NoError(t, unlock(context.Background()))
}

func TestBuildAssistantDisabledWithoutKey(t *testing.T) {
	stack, err := BuildAssistant(&appconfig.Config{}, conversation.NewMemoryStore(), nil, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, stack)

	stack, err = BuildAssistant(&appconfig.Config{OpenAIAPIKey: "sk-test", DefaultAssistantID: "asst_1"}, conversation.NewMemoryStore(), nil, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, stack)
	assert.NotNil(t, stack.Client)
	assert.NotNil(t, stack.Orchestrator)
}

type nopDownloader struct{}

func (nopDownloader) DownloadMedia(context.Context, string) ([]byte, error) { return nil, nil }

func TestBuildMediaMirror(t *testing.T) {
	assert.Nil(t, BuildMediaMirror(&appconfig.Config{}, s3.New(s3.Options{Region: "us-east-1"}), nopDownloader{}, logging.Discard()))

	mirror := BuildMediaMirror(&appconfig.Config{MediaBucket: "relay-media"}, s3.New(s3.Options{Region: "us-east-1"}), nopDownloader{}, logging.Discard())
	require.NotNil(t, mirror)
	assert.True(t, mirror.Enabled())
}
