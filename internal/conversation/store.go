package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
)

// ConversationStore persists conversations. Find methods return (nil, nil)
// when no row matches; update methods fail with a NotFound error instead.
type ConversationStore interface {
	CreateConversation(ctx context.Context, in CreateConversationInput) (*Conversation, error)
	FindConversationByID(ctx context.Context, id string) (*Conversation, error)
	// FindConversationByExternalContactID returns the most recently created
	// conversation for the contact.
	FindConversationByExternalContactID(ctx context.Context, externalID string) (*Conversation, error)
	UpdateConversationStatus(ctx context.Context, id string, status Status) (*Conversation, error)
	// MergeConversationConfig shallow-merges patch into the stored config.
	MergeConversationConfig(ctx context.Context, id string, patch Config) (*Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, in NewMessage) (*Message, error)
	FindMessageByID(ctx context.Context, id string) (*Message, error)
	// FindMessageByExternalID returns the most recently created message with
	// the platform's message id.
	FindMessageByExternalID(ctx context.Context, externalID string) (*Message, error)
	// FindMessagesByConversation lists messages in ascending creation order.
	FindMessagesByConversation(ctx context.Context, conversationID string, filter MessageFilter) ([]*Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status MessageStatus) (*Message, error)
}

// Store is the full persistence surface used by the relay.
type Store interface {
	ConversationStore
	MessageStore
	Ping(ctx context.Context) error
}

func invalid(err error) error {
	return apperrors.Validation("%s", err.Error())
}

func conversationNotFound(id string) error {
	return apperrors.NotFound("conversation", id)
}

func messageNotFound(id string) error {
	return apperrors.NotFound("message", id)
}

func checkStatus(status Status) error {
	if !status.Valid() {
		return apperrors.Validation("invalid conversation status %q", status)
	}
	return nil
}

func checkMessageStatus(status MessageStatus) error {
	if !status.Valid() {
		return apperrors.Validation("invalid message status %q", status)
	}
	return nil
}

func checkFilter(f MessageFilter) error {
	if f.Kind != "" && !f.Kind.Valid() {
		return apperrors.Validation("invalid message kind %q", f.Kind)
	}
	if f.Status != "" && !f.Status.Valid() {
		return apperrors.Validation("invalid message status %q", f.Status)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("conversation: %w", apperrors.Storage(op, err))
}
