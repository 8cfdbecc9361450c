package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

var serviceTracer = otel.Tracer("relay.internal.messaging.service")

// Gateway is the outbound side of the WhatsApp client.
type Gateway interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
	SendMedia(ctx context.Context, phoneNumberID, to string, media whatsapp.OutboundMedia) (string, error)
	MarkAsRead(ctx context.Context, phoneNumberID, messageID string) error
}

// ConversationProcessor produces assistant replies for a conversation.
type ConversationProcessor interface {
	ProcessConversation(ctx context.Context, text string, conv *conversation.Conversation) (*conversation.Result, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store     conversation.Store
	Gateway   Gateway
	Processor ConversationProcessor
	Locker    conversation.Locker
	Logger    *logging.Logger
	Metrics   *metrics.RelayMetrics
}

// Service implements the private outbound operations.
type Service struct {
	store     conversation.Store
	gateway   Gateway
	processor ConversationProcessor
	locker    conversation.Locker
	logger    *logging.Logger
	metrics   *metrics.RelayMetrics
	now       func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil {
		panic("messaging: store cannot be nil")
	}
	if cfg.Gateway == nil {
		panic("messaging: gateway cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = conversation.NoopLocker{}
	}
	return &Service{
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		processor: cfg.Processor,
		locker:    locker,
		logger:    logger,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SendTextInput is the body of POST /send.
type SendTextInput struct {
	To             string `json:"to"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	PhoneNumberID  string `json:"phoneNumberId"`
}

// MediaData describes the media attached to POST /sendMedia.
type MediaData struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// SendMediaInput is the body of POST /sendMedia.
type SendMediaInput struct {
	To             string    `json:"to"`
	MediaData      MediaData `json:"mediaData"`
	ConversationID string    `json:"conversationId"`
	PhoneNumberID  string    `json:"phoneNumberId"`
}

// ProcessInput is the body of POST /processWithAI.
type ProcessInput struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	PhoneNumberID  string `json:"phoneNumberId"`
}

var outboundMediaKinds = map[string]conversation.MessageKind{
	"image":    conversation.MessageKindImage,
	"document": conversation.MessageKindDocument,
	"audio":    conversation.MessageKindAudio,
	"video":    conversation.MessageKindVideo,
}

// outboundMimeType mirrors the long-standing defaulting: documents are
// recorded as PDF and every other media type as JPEG.
func outboundMimeType(mediaType string) string {
	if mediaType == "document" {
		return "application/pdf"
	}
	return "image/jpeg"
}

// Send delivers a text message and records it with status sent.
func (s *Service) Send(ctx context.Context, in SendTextInput) (*conversation.Message, error) {
	if in.To == "" || in.Message == "" || in.ConversationID == "" || in.PhoneNumberID == "" {
		return nil, apperrors.Validation("to, message, conversationId and phoneNumberId are required")
	}
	if _, err := s.requireConversation(ctx, in.ConversationID); err != nil {
		return nil, err
	}
	externalID, err := s.gateway.SendText(ctx, in.PhoneNumberID, in.To, in.Message)
	s.observeOutbound("text", err)
	if err != nil {
		return nil, err
	}
	return s.recordOutbound(ctx, conversation.NewMessage{
		ConversationID:    in.ConversationID,
		Kind:              conversation.MessageKindText,
		ExternalMessageID: externalID,
		ChannelOriginID:   in.PhoneNumberID,
		Payload:           conversation.Text{Body: in.Message},
	})
}

// SendMedia delivers a media message by link and records it with status sent.
func (s *Service) SendMedia(ctx context.Context, in SendMediaInput) (*conversation.Message, error) {
	if in.To == "" || in.ConversationID == "" || in.PhoneNumberID == "" {
		return nil, apperrors.Validation("to, conversationId and phoneNumberId are required")
	}
	kind, ok := outboundMediaKinds[in.MediaData.Type]
	if !ok {
		return nil, apperrors.Validation("mediaData.type must be one of image, document, audio, video")
	}
	if in.MediaData.URL == "" {
		return nil, apperrors.Validation("mediaData.url is required")
	}
	if _, err := s.requireConversation(ctx, in.ConversationID); err != nil {
		return nil, err
	}
	externalID, err := s.gateway.SendMedia(ctx, in.PhoneNumberID, in.To, whatsapp.OutboundMedia{
		Type:    in.MediaData.Type,
		URL:     in.MediaData.URL,
		Caption: in.MediaData.Caption,
	})
	s.observeOutbound(in.MediaData.Type, err)
	if err != nil {
		return nil, err
	}
	return s.recordOutbound(ctx, conversation.NewMessage{
		ConversationID:    in.ConversationID,
		Kind:              kind,
		ExternalMessageID: externalID,
		ChannelOriginID:   in.PhoneNumberID,
		Payload: conversation.Media{
			URL:      in.MediaData.URL,
			MimeType: outboundMimeType(in.MediaData.Type),
			Caption:  in.MediaData.Caption,
		},
	})
}

// MarkAsRead sends a read receipt and moves the local row to read when known.
func (s *Service) MarkAsRead(ctx context.Context, externalMessageID, phoneNumberID string) error {
	if externalMessageID == "" || phoneNumberID == "" {
		return apperrors.Validation("messageId and phoneNumberId are required")
	}
	if err := s.gateway.MarkAsRead(ctx, phoneNumberID, externalMessageID); err != nil {
		return err
	}
	msg, err := s.store.FindMessageByExternalID(ctx, externalMessageID)
	if err != nil {
		s.logger.Warn("read receipt sent but local lookup failed", "external_message_id", externalMessageID, "error", err)
		return nil
	}
	if msg == nil || !msg.Status.Advances(conversation.MessageStatusRead) {
		return nil
	}
	if _, err := s.store.UpdateMessageStatus(ctx, msg.ID, conversation.MessageStatusRead); err != nil {
		s.logger.Warn("read receipt sent but local status update failed", "message_id", msg.ID, "error", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Service) ListMessages(ctx context.Context, conversationID string, filter conversation.MessageFilter) ([]*conversation.Message, error) {
	if conversationID == "" {
		return nil, apperrors.Validation("conversationId is required")
	}
	return s.store.FindMessagesByConversation(ctx, conversationID, filter)
}

// ProcessWithAI runs the assistant over a stored inbound message, sends the
// reply to the contact and records it as a bot_answer.
func (s *Service) ProcessWithAI(ctx context.Context, in ProcessInput) (*conversation.Message, error) {
	if in.MessageID == "" || in.ConversationID == "" || in.PhoneNumberID == "" {
		return nil, apperrors.Validation("messageId, conversationId and phoneNumberId are required")
	}
	if s.processor == nil {
		return nil, apperrors.Remote("assistant", errors.New("assistant is not configured"))
	}

	ctx, span := serviceTracer.Start(ctx, "messaging.process_with_ai")
	defer span.End()
	span.SetAttributes(
		attribute.String("relay.conversation_id", in.ConversationID),
		attribute.String("relay.message_id", in.MessageID),
	)

	unlock, err := s.locker.Lock(ctx, in.ConversationID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindConflict) {
			s.metrics.ObserveLockConflict()
		}
		span.RecordError(err)
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release conversation lock", "conversation_id", in.ConversationID, "error", err)
		}
	}()

	msg, err := s.store.FindMessageByID(ctx, in.MessageID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if msg == nil {
		return nil, apperrors.NotFound("message", in.MessageID)
	}
	conv, err := s.requireConversation(ctx, in.ConversationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if msg.ConversationID != conv.ID {
		return nil, apperrors.Validation("message %s does not belong to conversation %s", msg.ID, conv.ID)
	}
	text, ok := msg.TextBody()
	if !ok || strings.TrimSpace(text) == "" {
		return nil, apperrors.Validation("message %s has no text to process", msg.ID)
	}

	result, err := s.processor.ProcessConversation(ctx, text, conv)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	reply, err := result.ReplyText()
	if errors.Is(err, conversation.ErrEmptyReply) {
		return nil, &apperrors.Error{
			Kind:    apperrors.KindNotFound,
			Message: "assistant produced no reply for thread " + result.ThreadID,
			Service: "assistant",
			Err:     err,
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	externalID, err := s.gateway.SendText(ctx, in.PhoneNumberID, conv.ExternalContactID, reply)
	s.observeOutbound("bot_answer", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	answer := conversation.NewMessage{
		ConversationID:    conv.ID,
		Kind:              conversation.MessageKindBotAnswer,
		ExternalMessageID: externalID,
		ChannelOriginID:   in.PhoneNumberID,
		Payload:           conversation.Text{Body: reply},
	}
	if msg.ExternalMessageID != "" {
		replyTo := msg.ExternalMessageID
		answer.InReplyToExternalID = &replyTo
	}
	stored, err := s.recordOutbound(ctx, answer)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("assistant reply sent",
		"conversation_id", conv.ID,
		"message_id", stored.ID,
		"external_message_id", externalID,
		"thread_id", result.ThreadID,
		"run_id", result.RunID,
	)
	return stored, nil
}

func (s *Service) requireConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	conv, err := s.store.FindConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperrors.NotFound("conversation", id)
	}
	return conv, nil
}

func (s *Service) recordOutbound(ctx context.Context, in conversation.NewMessage) (*conversation.Message, error) {
	in.Status = conversation.MessageStatusSent
	in.Timestamp = s.now()
	stored, err := s.store.CreateMessage(ctx, in)
	if err != nil {
		s.logger.Error("message sent but not recorded",
			"conversation_id", in.ConversationID,
			"external_message_id", in.ExternalMessageID,
			"error", err,
		)
		return nil, err
	}
	s.metrics.ObserveMessageStored("outbound", string(in.Kind))
	return stored, nil
}

func (s *Service) observeOutbound(kind string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	s.metrics.ObserveOutbound(kind, outcome)
}
