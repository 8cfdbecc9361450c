package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/messaging"
)

type messagingService interface {
	Send(ctx context.Context, in messaging.SendTextInput) (*conversation.Message, error)
	SendMedia(ctx context.Context, in messaging.SendMediaInput) (*conversation.Message, error)
	MarkAsRead(ctx context.Context, externalMessageID, phoneNumberID string) error
	ListMessages(ctx context.Context, conversationID string, filter conversation.MessageFilter) ([]*conversation.Message, error)
	ProcessWithAI(ctx context.Context, in messaging.ProcessInput) (*conversation.Message, error)
}

// MessagesHandler hosts the private outbound messaging endpoints.
type MessagesHandler struct {
	service messagingService
	errors  *ErrorWriter
}

func NewMessagesHandler(service messagingService, errs *ErrorWriter) *MessagesHandler {
	if service == nil {
		panic("handlers: messaging service cannot be nil")
	}
	if errs == nil {
		errs = NewErrorWriter(nil, false)
	}
	return &MessagesHandler{service: service, errors: errs}
}

type sentResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

// Send handles POST /send.
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var in messaging.SendTextInput
	if err := decodeJSON(r, &in); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	msg, err := h.service.Send(r.Context(), in)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sentResponse{Success: true, MessageID: msg.ExternalMessageID})
}

// SendMedia handles POST /sendMedia.
func (h *MessagesHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	var in messaging.SendMediaInput
	if err := decodeJSON(r, &in); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	msg, err := h.service.SendMedia(r.Context(), in)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sentResponse{Success: true, MessageID: msg.ExternalMessageID})
}

type markAsReadRequest struct {
	MessageID     string `json:"messageId"`
	PhoneNumberID string `json:"phoneNumberId"`
}

// MarkAsRead handles POST /markAsRead.
func (h *MessagesHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	var in markAsReadRequest
	if err := decodeJSON(r, &in); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	if err := h.service.MarkAsRead(r.Context(), in.MessageID, in.PhoneNumberID); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// List handles GET /messages/{conversationId}?type=&status=.
func (h *MessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "conversationId"))
	filter := conversation.MessageFilter{
		Kind:   conversation.MessageKind(strings.TrimSpace(r.URL.Query().Get("type"))),
		Status: conversation.MessageStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		h.errors.WriteError(w, r, apperrors.Validation("unknown message type %q", filter.Kind))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.errors.WriteError(w, r, apperrors.Validation("unknown message status %q", filter.Status))
		return
	}

	msgs, err := h.service.ListMessages(r.Context(), conversationID, filter)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(msgs),
		"messages": msgs,
	})
}

// ProcessWithAI handles POST /processWithAI.
func (h *MessagesHandler) ProcessWithAI(w http.ResponseWriter, r *http.Request) {
	var in messaging.ProcessInput
	if err := decodeJSON(r, &in); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	msg, err := h.service.ProcessWithAI(r.Context(), in)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sentResponse{Success: true, MessageID: msg.ExternalMessageID})
}
