package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind records who opened the conversation.
type Kind string

const (
	KindUserInitiated     Kind = "user_initiated"
	KindOperatorInitiated Kind = "operator_initiated"
)

func (k Kind) Valid() bool {
	return k == KindUserInitiated || k == KindOperatorInitiated
}

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusNew     Status = "new"
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusClosed  Status = "closed"
	StatusTaken   Status = "taken"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusActive, StatusPending, StatusClosed, StatusTaken:
		return true
	}
	return false
}

// Conversation is one thread of interaction with an external contact.
type Conversation struct {
	ID                string    `json:"id"`
	ExternalContactID string    `json:"externalContactId"`
	OwnerUserID       *string   `json:"ownerUserId"`
	SubjectID         *string   `json:"subjectId"`
	Kind              Kind      `json:"kind"`
	Status            Status    `json:"status"`
	Config            Config    `json:"config"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// CreateConversationInput carries the caller-supplied fields for a new row.
type CreateConversationInput struct {
	ExternalContactID string
	OwnerUserID       *string
	SubjectID         *string
	Kind              Kind
	Status            Status
	Config            Config
}

func (in *CreateConversationInput) normalize() error {
	if in.ExternalContactID == "" {
		return fmt.Errorf("external contact id is required")
	}
	if in.Kind == "" {
		in.Kind = KindUserInitiated
	}
	if in.Status == "" {
		in.Status = StatusNew
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("invalid conversation kind %q", in.Kind)
	}
	if !in.Status.Valid() {
		return fmt.Errorf("invalid conversation status %q", in.Status)
	}
	return nil
}

const (
	configKeyThreadID    = "threadId"
	configKeyRunID       = "runId"
	configKeyAssistantID = "assistantId"
)

// Config is the integration state attached to a conversation. The known keys
// are typed; anything else written by other integrations survives in Extra.
type Config struct {
	ThreadID    string
	RunID       string
	AssistantID string
	Extra       map[string]json.RawMessage
}

// Merge returns a copy of c with every key set in patch overwriting c's value.
// Keys absent from patch are left untouched.
func (c Config) Merge(patch Config) Config {
	out := c.clone()
	if patch.ThreadID != "" {
		out.ThreadID = patch.ThreadID
	}
	if patch.RunID != "" {
		out.RunID = patch.RunID
	}
	if patch.AssistantID != "" {
		out.AssistantID = patch.AssistantID
	}
	for k, v := range patch.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage, len(patch.Extra))
		}
		out.Extra[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// IsZero reports whether no key is set.
func (c Config) IsZero() bool {
	return c.ThreadID == "" && c.RunID == "" && c.AssistantID == "" && len(c.Extra) == 0
}

func (c Config) clone() Config {
	out := Config{ThreadID: c.ThreadID, RunID: c.RunID, AssistantID: c.AssistantID}
	if len(c.Extra) > 0 {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// MarshalJSON flattens the typed keys and Extra into one object.
func (c Config) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(c.Extra)+3)
	for k, v := range c.Extra {
		m[k] = v
	}
	for key, value := range map[string]string{
		configKeyThreadID:    c.ThreadID,
		configKeyRunID:       c.RunID,
		configKeyAssistantID: c.AssistantID,
	} {
		if value == "" {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		m[key] = encoded
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts any JSON object. Known keys holding non-string values
// are kept verbatim in Extra.
func (c *Config) UnmarshalJSON(data []byte) error {
	*c = Config{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return fmt.Errorf("conversation config: %w", err)
	}
	for k, v := range m {
		var target *string
		switch k {
		case configKeyThreadID:
			target = &c.ThreadID
		case configKeyRunID:
			target = &c.RunID
		case configKeyAssistantID:
			target = &c.AssistantID
		}
		if target != nil && json.Unmarshal(v, target) == nil {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[k] = v
	}
	return nil
}
