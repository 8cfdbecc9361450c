package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	return client
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.Error(t, err)
}

func TestCreateThread(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/threads", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		writeBody(w, http.StatusOK, `{"id":"thread_abc","object":"thread","created_at":1700000000}`)
	})

	thread, err := client.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_abc", thread.ID)
	assert.Equal(t, int64(1700000000), thread.CreatedAt.Unix())
}

func TestAddMessageSendsUserRole(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_abc/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user", body["role"])
		assert.Equal(t, "hola", body["content"])
		writeBody(w, http.StatusOK, `{"id":"msg_1","object":"thread.message","created_at":1700000001,"thread_id":"thread_abc","role":"user","content":[{"type":"text","text":{"value":"hola","annotations":[]}}]}`)
	})

	msg, err := client.AddMessage(context.Background(), "thread_abc", "hola")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, "hola", msg.Content)
}

func TestCreateAndRetrieveRun(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_abc/runs":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "asst_1", body["assistant_id"])
			writeBody(w, http.StatusOK, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","assistant_id":"asst_1","status":"queued","created_at":1700000002}`)
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_abc/runs/run_1":
			writeBody(w, http.StatusOK, `{"id":"run_1","object":"thread.run","thread_id":"thread_abc","assistant_id":"asst_1","status":"completed","created_at":1700000002}`)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	run, err := client.CreateRun(context.Background(), "thread_abc", "asst_1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, run.Status)

	run, err = client.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
}

func TestListMessagesJoinsTextParts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/thread_abc/messages", r.URL.Path)
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		writeBody(w, http.StatusOK, `{"object":"list","data":[
			{"id":"msg_2","object":"thread.message","created_at":1700000010,"thread_id":"thread_abc","role":"assistant","run_id":"run_1","content":[{"type":"text","text":{"value":"Hello","annotations":[]}},{"type":"text","text":{"value":"there","annotations":[]}}]},
			{"id":"msg_1","object":"thread.message","created_at":1700000001,"thread_id":"thread_abc","role":"user","content":[{"type":"text","text":{"value":"hi","annotations":[]}}]}
		],"has_more":false}`)
	})

	msgs, err := client.ListMessages(context.Background(), "thread_abc")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello\nthere", msgs[0].Content)
	assert.Equal(t, "run_1", msgs[0].RunID)

	latest, ok := LatestAssistantMessage(msgs)
	require.True(t, ok)
	assert.Equal(t, "msg_2", latest.ID)
}

func TestNotFoundMapsToNotFoundKind(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusNotFound, `{"error":{"message":"No thread found with id 'thread_missing'.","type":"invalid_request_error","param":null,"code":null}}`)
	})

	_, err := client.ListMessages(context.Background(), "thread_missing")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.True(t, strings.Contains(err.Error(), "thread_missing"))
}

func TestServerErrorMapsToRemoteService(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusInternalServerError, `{"error":{"message":"upstream exploded","type":"server_error"}}`)
	})

	_, err := client.CreateThread(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindRemoteService))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.StatusCode(err))
}

func TestValidationBeforeRemoteCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	})

	_, err := client.CreateRun(context.Background(), "thread_abc", "")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	_, err = client.UploadFile(context.Background(), "notes.txt", nil)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}
