package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/media"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

var pipelineTracer = otel.Tracer("relay.internal.messaging.pipeline")

// MediaResolver turns a webhook media id into a downloadable reference.
type MediaResolver interface {
	GetMediaInfo(ctx context.Context, mediaID string) (*whatsapp.MediaInfo, error)
}

// MediaMirror stores resolved media durably.
type MediaMirror interface {
	Enabled() bool
	Mirror(ctx context.Context, obj media.Object) (*media.Stored, error)
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Store   conversation.Store
	Media   MediaResolver
	Mirror  MediaMirror
	Logger  *logging.Logger
	Metrics *metrics.RelayMetrics
}

// Pipeline normalises webhook envelopes into conversation and message rows.
type Pipeline struct {
	store   conversation.Store
	media   MediaResolver
	mirror  MediaMirror
	logger  *logging.Logger
	metrics *metrics.RelayMetrics
}

// IngestResult summarises one webhook delivery.
type IngestResult struct {
	ConversationsCreated int
	Messages             []*conversation.Message
	StatusesApplied      int
	Skipped              int
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Store == nil {
		panic("messaging: store cannot be nil")
	}
	if cfg.Media == nil {
		panic("messaging: media resolver cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		store:   cfg.Store,
		media:   cfg.Media,
		mirror:  cfg.Mirror,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

var inboundKinds = map[string]conversation.MessageKind{
	"text":     conversation.MessageKindText,
	"image":    conversation.MessageKindImage,
	"document": conversation.MessageKindDocument,
	"audio":    conversation.MessageKindAudio,
	"video":    conversation.MessageKindVideo,
	"location": conversation.MessageKindLocation,
	"contacts": conversation.MessageKindContact,
}

var deliveryStatuses = map[string]conversation.MessageStatus{
	"sent":      conversation.MessageStatusSent,
	"delivered": conversation.MessageStatusDelivered,
	"read":      conversation.MessageStatusRead,
	"failed":    conversation.MessageStatusFailed,
}

// Ingest processes every message and status in the envelope in order. The
// first failing item aborts the rest of the delivery.
func (p *Pipeline) Ingest(ctx context.Context, body []byte) (*IngestResult, error) {
	started := time.Now()
	ctx, span := pipelineTracer.Start(ctx, "messaging.webhook.ingest", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	result, err := p.ingest(ctx, body)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if apperrors.Is(err, apperrors.KindValidation) {
			outcome = "invalid"
		}
		span.RecordError(err)
	}
	p.metrics.ObserveWebhookLatency(outcome, time.Since(started))
	if result != nil {
		span.SetAttributes(
			attribute.Int("relay.messages_stored", len(result.Messages)),
			attribute.Int("relay.statuses_applied", result.StatusesApplied),
		)
	}
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, body []byte) (*IngestResult, error) {
	env, err := whatsapp.ParseEnvelope(body)
	if err != nil {
		return nil, err
	}
	raw := json.RawMessage(body)
	result := &IngestResult{}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				p.logger.Debug("ignoring webhook change", "field", change.Field)
				continue
			}
			origin := change.Value.Metadata.PhoneNumberID
			for _, msg := range change.Value.Messages {
				stored, created, err := p.ingestMessage(ctx, raw, origin, msg)
				if err != nil {
					p.metrics.ObserveWebhookEvent("message", "error")
					return result, fmt.Errorf("messaging: ingest %s: %w", msg.ID, err)
				}
				if created {
					result.ConversationsCreated++
				}
				if stored == nil {
					result.Skipped++
					continue
				}
				result.Messages = append(result.Messages, stored)
			}
			for _, status := range change.Value.Statuses {
				applied, err := p.applyStatus(ctx, status)
				if err != nil {
					p.metrics.ObserveWebhookEvent("status", "error")
					return result, fmt.Errorf("messaging: status %s: %w", status.ID, err)
				}
				if applied {
					result.StatusesApplied++
				} else {
					result.Skipped++
				}
			}
		}
	}
	return result, nil
}

// ingestMessage stores one inbound message. A nil message with a nil error
// means the type is unsupported and was skipped.
func (p *Pipeline) ingestMessage(ctx context.Context, raw json.RawMessage, origin string, msg whatsapp.InboundMessage) (*conversation.Message, bool, error) {
	kind, ok := inboundKinds[msg.Type]
	if !ok {
		p.logger.Info("skipping unsupported message type",
			"type", msg.Type,
			"external_message_id", msg.ID,
		)
		p.metrics.ObserveWebhookEvent("message", "unsupported")
		return nil, false, nil
	}
	if msg.From == "" {
		return nil, false, apperrors.Validation("message %s has no sender", msg.ID)
	}

	conv, created, err := p.resolveConversation(ctx, msg.From)
	if err != nil {
		return nil, false, err
	}

	payload, err := p.payloadFor(ctx, conv.ID, kind, msg)
	if err != nil {
		return nil, created, err
	}

	in := conversation.NewMessage{
		ConversationID:    conv.ID,
		Kind:              kind,
		ExternalMessageID: msg.ID,
		Timestamp:         msg.Time(),
		ChannelOriginID:   origin,
		RawPayload:        raw,
		Payload:           payload,
		Status:            conversation.MessageStatusReceived,
	}
	if msg.Context != nil && msg.Context.ID != "" {
		replyTo := msg.Context.ID
		in.InReplyToExternalID = &replyTo
	}
	stored, err := p.store.CreateMessage(ctx, in)
	if err != nil {
		return nil, created, err
	}
	p.metrics.ObserveWebhookEvent("message", "stored")
	p.metrics.ObserveMessageStored("inbound", string(kind))
	p.logger.Info("inbound message stored",
		"conversation_id", conv.ID,
		"message_id", stored.ID,
		"external_message_id", msg.ID,
		"kind", kind,
	)
	return stored, created, nil
}

func (p *Pipeline) resolveConversation(ctx context.Context, contactID string) (*conversation.Conversation, bool, error) {
	conv, err := p.store.FindConversationByExternalContactID(ctx, contactID)
	if err != nil {
		return nil, false, err
	}
	if conv != nil {
		return conv, false, nil
	}
	conv, err = p.store.CreateConversation(ctx, conversation.CreateConversationInput{
		ExternalContactID: contactID,
		Kind:              conversation.KindUserInitiated,
		Status:            conversation.StatusNew,
	})
	if err != nil {
		return nil, false, err
	}
	p.logger.Info("conversation created", "conversation_id", conv.ID)
	return conv, true, nil
}

func (p *Pipeline) payloadFor(ctx context.Context, conversationID string, kind conversation.MessageKind, msg whatsapp.InboundMessage) (conversation.Payload, error) {
	switch {
	case kind == conversation.MessageKindText:
		if msg.Text == nil {
			return nil, apperrors.Validation("text message %s has no body", msg.ID)
		}
		return conversation.Text{Body: msg.Text.Body}, nil
	case kind.IsMedia():
		return p.resolveMedia(ctx, conversationID, msg)
	case kind == conversation.MessageKindLocation:
		if msg.Location == nil {
			return nil, apperrors.Validation("location message %s has no location", msg.ID)
		}
		return conversation.Location{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
			Name:      msg.Location.Name,
			Address:   msg.Location.Address,
			URL:       msg.Location.URL,
			Raw:       msg.Location.Raw,
		}, nil
	case kind == conversation.MessageKindContact:
		if len(msg.Contacts) == 0 {
			return nil, apperrors.Validation("contacts message %s has no contacts", msg.ID)
		}
		return conversation.Contacts{Cards: msg.Contacts}, nil
	}
	return nil, apperrors.Validation("unsupported message kind %q", kind)
}

// resolveMedia swaps the short-lived media id for a durable reference.
func (p *Pipeline) resolveMedia(ctx context.Context, conversationID string, msg whatsapp.InboundMessage) (conversation.Payload, error) {
	ref := msg.Media()
	if ref == nil || ref.ID == "" {
		return nil, apperrors.Validation("%s message %s has no media id", msg.Type, msg.ID)
	}
	info, err := p.media.GetMediaInfo(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	out := conversation.Media{
		URL:      info.URL,
		MimeType: info.MimeType,
		Filename: ref.Filename,
		Checksum: info.SHA256,
		Size:     info.FileSize,
		Caption:  ref.Caption,
	}
	if out.MimeType == "" {
		out.MimeType = ref.MimeType
	}
	if out.Checksum == "" {
		out.Checksum = ref.SHA256
	}
	if p.mirror != nil && p.mirror.Enabled() {
		stored, err := p.mirror.Mirror(ctx, media.Object{
			ConversationID: conversationID,
			MediaID:        ref.ID,
			SourceURL:      info.URL,
			MimeType:       out.MimeType,
			Filename:       ref.Filename,
		})
		if err != nil {
			return nil, err
		}
		out.URL = stored.URL
		if out.Size == 0 {
			out.Size = stored.Size
		}
	}
	return out, nil
}

// applyStatus moves the matching outbound message forward. Unknown ids and
// backward transitions are skipped.
func (p *Pipeline) applyStatus(ctx context.Context, update whatsapp.StatusUpdate) (bool, error) {
	next, ok := deliveryStatuses[update.Status]
	if !ok {
		p.logger.Info("skipping unknown delivery status", "status", update.Status, "external_message_id", update.ID)
		p.metrics.ObserveWebhookEvent("status", "unsupported")
		return false, nil
	}
	msg, err := p.store.FindMessageByExternalID(ctx, update.ID)
	if err != nil {
		return false, err
	}
	if msg == nil {
		p.logger.Info("status for unknown message", "external_message_id", update.ID, "status", update.Status)
		p.metrics.ObserveWebhookEvent("status", "unknown_message")
		return false, nil
	}
	if !msg.Status.Advances(next) {
		p.logger.Debug("ignoring non-forward status",
			"message_id", msg.ID,
			"current", msg.Status,
			"incoming", next,
		)
		p.metrics.ObserveWebhookEvent("status", "stale")
		return false, nil
	}
	if _, err := p.store.UpdateMessageStatus(ctx, msg.ID, next); err != nil {
		return false, err
	}
	if next == conversation.MessageStatusFailed && len(update.Errors) > 0 {
		p.logger.Warn("outbound message failed",
			"message_id", msg.ID,
			"external_message_id", update.ID,
			"code", update.Errors[0].Code,
			"title", update.Errors[0].Title,
		)
	}
	p.metrics.ObserveWebhookEvent("status", "applied")
	return true, nil
}
