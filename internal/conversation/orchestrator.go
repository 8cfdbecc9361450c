package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/assistant"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var orchestratorTracer = otel.Tracer("relay.internal.conversation.orchestrator")

// AssistantAPI is the subset of the assistant client the orchestrator drives.
type AssistantAPI interface {
	CreateThread(ctx context.Context) (*assistant.Thread, error)
	AddMessage(ctx context.Context, threadID, content string) (*assistant.Message, error)
	CreateRun(ctx context.Context, threadID, assistantID string) (*assistant.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*assistant.Run, error)
	ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error)
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Store              ConversationStore
	Assistant          AssistantAPI
	DefaultAssistantID string
	PollInterval       time.Duration
	PollTimeout        time.Duration
	Logger             *logging.Logger
	Metrics            *metrics.RelayMetrics
}

// Orchestrator forwards a conversation's text to its assistant thread and
// waits for the reply.
type Orchestrator struct {
	store              ConversationStore
	assistant          AssistantAPI
	defaultAssistantID string
	poll               assistant.PollOptions
	logger             *logging.Logger
	metrics            *metrics.RelayMetrics
}

// Result is the outcome of one orchestration pass. Reply is nil when the run
// completed without producing an assistant message.
type Result struct {
	Conversation *Conversation
	ThreadID     string
	RunID        string
	Status       assistant.RunStatus
	Reply        *assistant.Message
}

// Completed reports whether the run reached the completed status.
func (r *Result) Completed() bool {
	return r != nil && r.Status == assistant.RunStatusCompleted
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Store == nil {
		panic("conversation: store cannot be nil")
	}
	if cfg.Assistant == nil {
		panic("conversation: assistant cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		store:              cfg.Store,
		assistant:          cfg.Assistant,
		defaultAssistantID: strings.TrimSpace(cfg.DefaultAssistantID),
		poll:               assistant.PollOptions{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout},
		logger:             logger,
		metrics:            cfg.Metrics,
	}
}

// ProcessConversation appends text to the conversation's assistant thread,
// runs the assistant and returns the newest assistant reply.
//
// The thread id and run id are merged into the conversation config as soon as
// they exist, so a failure later in the flow still leaves them recorded.
// Callers must serialise calls per conversation.
func (o *Orchestrator) ProcessConversation(ctx context.Context, text string, conv *Conversation) (*Result, error) {
	if conv == nil {
		return nil, apperrors.Validation("conversation is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Validation("message text is required")
	}

	ctx, span := orchestratorTracer.Start(ctx, "conversation.process")
	defer span.End()
	span.SetAttributes(attribute.String("relay.conversation_id", conv.ID))

	logger := o.logger.With("conversation_id", conv.ID)

	assistantID := conv.Config.AssistantID
	if assistantID == "" {
		assistantID = o.defaultAssistantID
	}
	if assistantID == "" {
		err := apperrors.Validation("no assistant configured for conversation %s", conv.ID)
		span.RecordError(err)
		return nil, err
	}

	current := conv
	threadID := current.Config.ThreadID
	if threadID == "" {
		thread, err := o.assistant.CreateThread(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		threadID = thread.ID
		current, err = o.store.MergeConversationConfig(ctx, conv.ID, Config{ThreadID: threadID})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		logger.Info("assistant thread created", "thread_id", threadID)
	}
	span.SetAttributes(attribute.String("relay.thread_id", threadID))

	if _, err := o.assistant.AddMessage(ctx, threadID, text); err != nil {
		span.RecordError(err)
		return nil, err
	}

	started := time.Now()
	run, err := o.assistant.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	current, err = o.store.MergeConversationConfig(ctx, conv.ID, Config{RunID: run.ID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("relay.run_id", run.ID))

	final, err := assistant.WaitForRun(ctx, o.assistant, threadID, run.ID, o.poll)
	if err != nil {
		status := "error"
		if apperrors.Is(err, apperrors.KindTimeout) {
			status = "timeout"
		}
		o.metrics.ObserveAssistantRun(status, time.Since(started))
		span.RecordError(err)
		return nil, err
	}
	o.metrics.ObserveAssistantRun(string(final.Status), time.Since(started))

	result := &Result{
		Conversation: current,
		ThreadID:     threadID,
		RunID:        run.ID,
		Status:       final.Status,
	}
	if final.Status != assistant.RunStatusCompleted {
		logger.Warn("assistant run did not complete",
			"run_id", run.ID,
			"status", final.Status,
			"last_error", final.LastError,
		)
		return result, nil
	}

	msgs, err := o.assistant.ListMessages(ctx, threadID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if reply, ok := assistant.LatestAssistantMessage(msgs); ok {
		result.Reply = reply
	}
	return result, nil
}

// ErrEmptyReply signals a completed run that produced no assistant text.
var ErrEmptyReply = errors.New("conversation: assistant produced no reply")

// ReplyText returns the reply body or a typed error describing why there is none.
func (r *Result) ReplyText() (string, error) {
	if r == nil {
		return "", ErrEmptyReply
	}
	if r.Status != assistant.RunStatusCompleted {
		return "", fmt.Errorf("conversation: %w", apperrors.Remote("assistant",
			fmt.Errorf("run %s finished with status %s", r.RunID, r.Status)))
	}
	if r.Reply == nil || strings.TrimSpace(r.Reply.Content) == "" {
		return "", ErrEmptyReply
	}
	return r.Reply.Content, nil
}
