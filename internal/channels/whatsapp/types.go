package whatsapp

import (
	"encoding/json"
	"strconv"
	"time"
)

// Envelope is the top-level structure Meta posts to the webhook.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one WhatsApp Business Account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update; messages arrive under Field "messages".
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the inbound messages and delivery statuses of a change.
type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []StatusUpdate   `json:"statuses,omitempty"`
}

// Metadata identifies the business phone number the change belongs to.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one message sent by a contact.
type InboundMessage struct {
	From      string          `json:"from"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Text      *TextBody       `json:"text,omitempty"`
	Image     *MediaRef       `json:"image,omitempty"`
	Document  *MediaRef       `json:"document,omitempty"`
	Audio     *MediaRef       `json:"audio,omitempty"`
	Video     *MediaRef       `json:"video,omitempty"`
	Location  *Location       `json:"location,omitempty"`
	Contacts  json.RawMessage `json:"contacts,omitempty"`
	Context   *ReplyContext   `json:"context,omitempty"`
}

// Time converts the unix-seconds timestamp; zero when absent or malformed.
func (m InboundMessage) Time() time.Time {
	return parseUnix(m.Timestamp)
}

// Media returns the media reference matching the message type, if any.
func (m InboundMessage) Media() *MediaRef {
	switch m.Type {
	case "image":
		return m.Image
	case "document":
		return m.Document
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	}
	return nil
}

type TextBody struct {
	Body string `json:"body"`
}

// MediaRef is the short-lived media handle included in webhooks.
type MediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`

	// Raw is the location object as received, including fields not mapped above.
	Raw json.RawMessage `json:"-"`
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

// ReplyContext is present when the contact replied to a specific message.
type ReplyContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// StatusUpdate reports delivery progress of a message we sent.
type StatusUpdate struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

func (s StatusUpdate) Time() time.Time {
	return parseUnix(s.Timestamp)
}

type StatusError struct {
	Code  int    `json:"code"`
	Title string `json:"title"`
}

// MediaInfo is the Graph API description of an uploaded media object.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// OutboundMedia describes a media message to send by link.
type OutboundMedia struct {
	Type    string
	URL     string
	Caption string
}

type sendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func parseUnix(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
