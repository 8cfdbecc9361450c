package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

const serviceName = "assistant"

// OpenAIConfig configures the Assistants API client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// OpenAIClient implements Client on the OpenAI Assistants v2 API.
type OpenAIClient struct {
	client *openai.Client
	logger *logging.Logger
}

// NewOpenAIClient builds a client; the API key is required.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("assistant: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	clientCfg.HTTPClient = httpClient
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}, nil
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (*Thread, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return nil, c.mapError("create thread", "thread", "", err)
	}
	return &Thread{ID: thread.ID, CreatedAt: unix(thread.CreatedAt)}, nil
}

func (c *OpenAIClient) AddMessage(ctx context.Context, threadID, content string) (*Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, apperrors.Validation("thread id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.Validation("message content is required")
	}
	msg, err := c.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	if err != nil {
		return nil, c.mapError("add message", "thread", threadID, err)
	}
	out := toMessage(msg)
	return &out, nil
}

func (c *OpenAIClient) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, apperrors.Validation("thread id is required")
	}
	if strings.TrimSpace(assistantID) == "" {
		return nil, apperrors.Validation("assistant id is required")
	}
	run, err := c.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return nil, c.mapError("create run", "thread", threadID, err)
	}
	return toRun(run), nil
}

func (c *OpenAIClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	if strings.TrimSpace(threadID) == "" || strings.TrimSpace(runID) == "" {
		return nil, apperrors.Validation("thread id and run id are required")
	}
	run, err := c.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, c.mapError("retrieve run", "run", runID, err)
	}
	return toRun(run), nil
}

func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, apperrors.Validation("thread id is required")
	}
	limit := 100
	order := "desc"
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, c.mapError("list messages", "thread", threadID, err)
	}
	out := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		out = append(out, toMessage(m))
	}
	return out, nil
}

func (c *OpenAIClient) UploadFile(ctx context.Context, filename string, data []byte) (*File, error) {
	if strings.TrimSpace(filename) == "" || len(data) == 0 {
		return nil, apperrors.Validation("file name and content are required")
	}
	file, err := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    filename,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return nil, c.mapError("upload file", "file", filename, err)
	}
	return &File{
		ID:        file.ID,
		Filename:  file.FileName,
		Purpose:   file.Purpose,
		Bytes:     int64(file.Bytes),
		CreatedAt: unix(file.CreatedAt),
	}, nil
}

// mapError turns 404s into NotFound and everything else into a remote failure.
func (c *OpenAIClient) mapError(op, entity, id string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	c.logger.Warn("assistant api call failed", "op", op, "status", status, "error", err)
	if status == http.StatusNotFound && id != "" {
		return &apperrors.Error{
			Kind:    apperrors.KindNotFound,
			Message: fmt.Sprintf("%s %s not found", entity, id),
			Service: serviceName,
			Err:     err,
		}
	}
	return fmt.Errorf("assistant: %s: %w", op, apperrors.Remote(serviceName, err))
}

func toRun(run openai.Run) *Run {
	out := &Run{
		ID:          run.ID,
		ThreadID:    run.ThreadID,
		AssistantID: run.AssistantID,
		Status:      RunStatus(run.Status),
		CreatedAt:   unix(run.CreatedAt),
	}
	if run.LastError != nil {
		out.LastError = run.LastError.Message
	}
	return out
}

func toMessage(m openai.Message) Message {
	var parts []string
	for _, content := range m.Content {
		if content.Text != nil && content.Text.Value != "" {
			parts = append(parts, content.Text.Value)
		}
	}
	out := Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      m.Role,
		Content:   strings.Join(parts, "\n"),
		CreatedAt: unix(int64(m.CreatedAt)),
	}
	if m.RunID != nil {
		out.RunID = *m.RunID
	}
	return out
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
