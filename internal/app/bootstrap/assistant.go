package bootstrap

import (
	"fmt"
	"strings"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/assistant"
	appconfig "github.com/wolfman30/whatsapp-assistant-relay/internal/config"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

// AssistantStack bundles the assistant client with the orchestrator built on it.
type AssistantStack struct {
	Client       *assistant.OpenAIClient
	Orchestrator *conversation.Orchestrator
}

// BuildAssistant wires the assistant client and orchestration. It returns nil
// when no API key is configured, which leaves /processWithAI and the
// assistant routes unavailable.
func BuildAssistant(cfg *appconfig.Config, store conversation.ConversationStore, m *metrics.RelayMetrics, logger *logging.Logger) (*AssistantStack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		logger.Warn("OPENAI_API_KEY not set; assistant features disabled")
		return nil, nil
	}

	client, err := assistant.NewOpenAIClient(assistant.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: assistant client: %w", err)
	}
	if cfg.DefaultAssistantID == "" {
		logger.Warn("OPENAI_ASSISTANT_ID not set; conversations must carry their own assistantId")
	}

	orchestrator := conversation.NewOrchestrator(conversation.OrchestratorConfig{
		Store:              store,
		Assistant:          client,
		DefaultAssistantID: cfg.DefaultAssistantID,
		PollInterval:       cfg.AssistantPollInterval,
		PollTimeout:        cfg.AssistantPollTimeout,
		Logger:             logger,
		Metrics:            m,
	})
	return &AssistantStack{Client: client, Orchestrator: orchestrator}, nil
}
