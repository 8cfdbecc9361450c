package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the payload carried by a message.
type MessageKind string

const (
	MessageKindText      MessageKind = "text"
	MessageKindImage     MessageKind = "image"
	MessageKindDocument  MessageKind = "document"
	MessageKindAudio     MessageKind = "audio"
	MessageKindVideo     MessageKind = "video"
	MessageKindLocation  MessageKind = "location"
	MessageKindContact   MessageKind = "contact"
	MessageKindBotAnswer MessageKind = "bot_answer"
)

func (k MessageKind) Valid() bool {
	_, ok := payloadFieldByKind[k]
	return ok
}

// IsMedia reports whether the kind carries a Media payload.
func (k MessageKind) IsMedia() bool {
	return payloadFieldByKind[k] == fieldMedia
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

var messageStatusRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusReceived:  1,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
	MessageStatusFailed:    3,
}

func (s MessageStatus) Valid() bool {
	_, ok := messageStatusRank[s]
	return ok
}

// Advances reports whether moving from s to next is a forward transition.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return messageStatusRank[next] > messageStatusRank[s]
}

const (
	fieldText     = "text"
	fieldMedia    = "media"
	fieldLocation = "location"
	fieldContacts = "contacts"
)

var payloadFieldByKind = map[MessageKind]string{
	MessageKindText:      fieldText,
	MessageKindBotAnswer: fieldText,
	MessageKindImage:     fieldMedia,
	MessageKindDocument:  fieldMedia,
	MessageKindAudio:     fieldMedia,
	MessageKindVideo:     fieldMedia,
	MessageKindLocation:  fieldLocation,
	MessageKindContact:   fieldContacts,
}

// Payload is the kind-specific body of a message. Exactly one implementation
// matches each MessageKind.
type Payload interface {
	payloadField() string
}

// Text is the body of text and bot_answer messages.
type Text struct {
	Body string `json:"body"`
}

// Media describes a durable reference to an image, document, audio or video.
type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Location is a shared map pin. When Raw is set it is stored and rendered
// verbatim; the typed fields are a read convenience.
type Location struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Name      string          `json:"name,omitempty"`
	Address   string          `json:"address,omitempty"`
	URL       string          `json:"url,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

func (l Location) MarshalJSON() ([]byte, error) {
	if len(l.Raw) > 0 {
		return l.Raw, nil
	}
	type plain Location
	return json.Marshal(plain(l))
}

func (l *Location) UnmarshalJSON(data []byte) error {
	type plain Location
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = Location(v)
	l.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Contacts holds the shared contact cards exactly as the platform sent them.
type Contacts struct {
	Cards json.RawMessage
}

func (Text) payloadField() string     { return fieldText }
func (Media) payloadField() string    { return fieldMedia }
func (Location) payloadField() string { return fieldLocation }
func (Contacts) payloadField() string { return fieldContacts }

func (c Contacts) MarshalJSON() ([]byte, error) {
	if len(c.Cards) == 0 {
		return []byte("[]"), nil
	}
	return c.Cards, nil
}

func (c *Contacts) UnmarshalJSON(data []byte) error {
	c.Cards = append(json.RawMessage(nil), data...)
	return nil
}

// CheckPayload verifies that p is the payload type required by kind.
func CheckPayload(kind MessageKind, p Payload) error {
	want, ok := payloadFieldByKind[kind]
	if !ok {
		return fmt.Errorf("unsupported message kind %q", kind)
	}
	if p == nil {
		return fmt.Errorf("%s message requires a %s payload", kind, want)
	}
	if got := p.payloadField(); got != want {
		return fmt.Errorf("%s message cannot carry a %s payload", kind, got)
	}
	return nil
}

func encodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(kind MessageKind, data []byte) (Payload, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var (
		p   Payload
		err error
	)
	switch payloadFieldByKind[kind] {
	case fieldText:
		var v Text
		err = json.Unmarshal(data, &v)
		p = &v
	case fieldMedia:
		var v Media
		err = json.Unmarshal(data, &v)
		p = &v
	case fieldLocation:
		var v Location
		err = json.Unmarshal(data, &v)
		p = &v
	case fieldContacts:
		var v Contacts
		err = json.Unmarshal(data, &v)
		p = &v
	default:
		return nil, fmt.Errorf("unsupported message kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// Message is one inbound or outbound unit tied to a conversation.
type Message struct {
	ID                  string
	ConversationID      string
	Kind                MessageKind
	ExternalMessageID   string
	Timestamp           time.Time
	InReplyToExternalID *string
	ChannelOriginID     string
	RawPayload          json.RawMessage
	Payload             Payload
	Status              MessageStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TextBody returns the text of text and bot_answer messages.
func (m *Message) TextBody() (string, bool) {
	switch p := m.Payload.(type) {
	case *Text:
		return p.Body, true
	case Text:
		return p.Body, true
	}
	return "", false
}

// MarshalJSON exposes the payload under its kind-specific field name.
func (m Message) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":                  m.ID,
		"conversationId":      m.ConversationID,
		"kind":                m.Kind,
		"externalMessageId":   m.ExternalMessageID,
		"timestamp":           m.Timestamp,
		"inReplyToExternalId": m.InReplyToExternalID,
		"channelOriginId":     m.ChannelOriginID,
		"status":              m.Status,
		"createdAt":           m.CreatedAt,
		"updatedAt":           m.UpdatedAt,
	}
	if len(m.RawPayload) > 0 {
		out["rawPayload"] = m.RawPayload
	}
	if m.Payload != nil {
		field := m.Payload.payloadField()
		if t, ok := m.TextBody(); ok {
			out[field] = t
		} else {
			out[field] = m.Payload
		}
	}
	return json.Marshal(out)
}

// NewMessage carries the caller-supplied fields for a new message row.
type NewMessage struct {
	ConversationID      string
	Kind                MessageKind
	ExternalMessageID   string
	Timestamp           time.Time
	InReplyToExternalID *string
	ChannelOriginID     string
	RawPayload          json.RawMessage
	Payload             Payload
	Status              MessageStatus
}

func (in *NewMessage) normalize(now time.Time) error {
	if in.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if err := CheckPayload(in.Kind, in.Payload); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = MessageStatusPending
	}
	if !in.Status.Valid() {
		return fmt.Errorf("invalid message status %q", in.Status)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = now
	}
	return nil
}

// MessageFilter narrows FindMessagesByConversation. Empty fields match all.
type MessageFilter struct {
	Kind   MessageKind
	Status MessageStatus
}

func (f MessageFilter) matches(m *Message) bool {
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	return true
}
