package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	seq           int64
	conversations map[string]*memConversation
	messages      map[string]*memMessage
}

type memConversation struct {
	conv Conversation
	seq  int64
}

type memMessage struct {
	msg Message
	seq int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           func() time.Time { return time.Now().UTC() },
		conversations: make(map[string]*memConversation),
		messages:      make(map[string]*memMessage),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateConversation(_ context.Context, in CreateConversationInput) (*Conversation, error) {
	if err := in.normalize(); err != nil {
		return nil, invalid(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.seq++
	conv := Conversation{
		ID:                uuid.NewString(),
		ExternalContactID: in.ExternalContactID,
		OwnerUserID:       cloneString(in.OwnerUserID),
		SubjectID:         cloneString(in.SubjectID),
		Kind:              in.Kind,
		Status:            in.Status,
		Config:            in.Config.clone(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.conversations[conv.ID] = &memConversation{conv: conv, seq: s.seq}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) FindConversationByID(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return cloneConversation(row.conv), nil
}

func (s *MemoryStore) FindConversationByExternalContactID(_ context.Context, externalID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *memConversation
	for _, row := range s.conversations {
		if row.conv.ExternalContactID != externalID {
			continue
		}
		if latest == nil || newer(row.conv.CreatedAt, row.seq, latest.conv.CreatedAt, latest.seq) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneConversation(latest.conv), nil
}

func (s *MemoryStore) UpdateConversationStatus(_ context.Context, id string, status Status) (*Conversation, error) {
	if err := checkStatus(status); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.conversations[id]
	if !ok {
		return nil, conversationNotFound(id)
	}
	row.conv.Status = status
	row.conv.UpdatedAt = s.now()
	return cloneConversation(row.conv), nil
}

func (s *MemoryStore) MergeConversationConfig(_ context.Context, id string, patch Config) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.conversations[id]
	if !ok {
		return nil, conversationNotFound(id)
	}
	if patch.IsZero() {
		return cloneConversation(row.conv), nil
	}
	row.conv.Config = row.conv.Config.Merge(patch)
	row.conv.UpdatedAt = s.now()
	return cloneConversation(row.conv), nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, in NewMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if err := in.normalize(now); err != nil {
		return nil, invalid(err)
	}
	if _, ok := s.conversations[in.ConversationID]; !ok {
		return nil, conversationNotFound(in.ConversationID)
	}
	s.seq++
	msg := Message{
		ID:                  uuid.NewString(),
		ConversationID:      in.ConversationID,
		Kind:                in.Kind,
		ExternalMessageID:   in.ExternalMessageID,
		Timestamp:           in.Timestamp,
		InReplyToExternalID: cloneString(in.InReplyToExternalID),
		ChannelOriginID:     in.ChannelOriginID,
		RawPayload:          append(json.RawMessage(nil), in.RawPayload...),
		Payload:             in.Payload,
		Status:              in.Status,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.messages[msg.ID] = &memMessage{msg: msg, seq: s.seq}
	return cloneMessage(msg), nil
}

func (s *MemoryStore) FindMessageByID(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return cloneMessage(row.msg), nil
}

func (s *MemoryStore) FindMessageByExternalID(_ context.Context, externalID string) (*Message, error) {
	if externalID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *memMessage
	for _, row := range s.messages {
		if row.msg.ExternalMessageID != externalID {
			continue
		}
		if latest == nil || newer(row.msg.CreatedAt, row.seq, latest.msg.CreatedAt, latest.seq) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneMessage(latest.msg), nil
}

func (s *MemoryStore) FindMessagesByConversation(_ context.Context, conversationID string, filter MessageFilter) ([]*Message, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]*memMessage, 0)
	for _, row := range s.messages {
		if row.msg.ConversationID == conversationID && filter.matches(&row.msg) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return newer(rows[j].msg.CreatedAt, rows[j].seq, rows[i].msg.CreatedAt, rows[i].seq)
	})
	out := make([]*Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, cloneMessage(row.msg))
	}
	return out, nil
}

func (s *MemoryStore) UpdateMessageStatus(_ context.Context, id string, status MessageStatus) (*Message, error) {
	if err := checkMessageStatus(status); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, messageNotFound(id)
	}
	row.msg.Status = status
	row.msg.UpdatedAt = s.now()
	return cloneMessage(row.msg), nil
}

// newer orders by creation time, falling back to insertion order on ties.
func newer(at time.Time, seq int64, thanAt time.Time, thanSeq int64) bool {
	if at.Equal(thanAt) {
		return seq > thanSeq
	}
	return at.After(thanAt)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneConversation(c Conversation) *Conversation {
	out := c
	out.OwnerUserID = cloneString(c.OwnerUserID)
	out.SubjectID = cloneString(c.SubjectID)
	out.Config = c.Config.clone()
	return &out
}

func cloneMessage(m Message) *Message {
	out := m
	out.InReplyToExternalID = cloneString(m.InReplyToExternalID)
	if m.RawPayload != nil {
		out.RawPayload = append(json.RawMessage(nil), m.RawPayload...)
	}
	return &out
}
