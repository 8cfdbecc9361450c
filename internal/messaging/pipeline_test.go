package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

func envelope(messages, statuses string) []byte {
	return []byte(fmt.Sprintf(`{
  "object": "whatsapp_business_account",
  "entry": [{"id": "WABA_1", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "metadata": {"display_phone_number": "15550000000", "phone_number_id": "PNID_1"},
    "messages": [%s],
    "statuses": [%s]
  }}]}]
}`, messages, statuses))
}

func textMessage(from, id, body string) string {
	return fmt.Sprintf(`{"from": %q, "id": %q, "timestamp": "1718000000", "type": "text", "text": {"body": %q}}`, from, id, body)
}

func newTestPipeline(store conversation.Store, gw *fakeGateway, mirror MediaMirror) *Pipeline {
	return NewPipeline(PipelineConfig{
		Store:  store,
		Media:  gw,
		Mirror: mirror,
		Logger: logging.Discard(),
	})
}

func TestIngestTextCreatesConversationOnce(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	p := newTestPipeline(store, newFakeGateway(), nil)

	body := envelope(
		textMessage("5215550001", "wamid.A", "hola")+","+textMessage("5215550001", "wamid.B", "¿sigues ahí?"),
		"",
	)
	result, err := p.Ingest(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ConversationsCreated)
	require.Len(t, result.Messages, 2)

	conv, err := store.FindConversationByExternalContactID(ctx, "5215550001")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, conversation.StatusNew, conv.Status)
	assert.Equal(t, conversation.KindUserInitiated, conv.Kind)

	msgs, err := store.FindMessagesByConversation(ctx, conv.ID, conversation.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	first := msgs[0]
	assert.Equal(t, conversation.MessageStatusReceived, first.Status)
	assert.Equal(t, "PNID_1", first.ChannelOriginID)
	assert.Equal(t, "wamid.A", first.ExternalMessageID)
	assert.JSONEq(t, string(body), string(first.RawPayload))
	text, ok := first.TextBody()
	require.True(t, ok)
	assert.Equal(t, "hola", text)
}

func TestIngestReusesLatestConversation(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	existing, err := store.CreateConversation(ctx, conversation.CreateConversationInput{ExternalContactID: "5215550001", Status: conversation.StatusActive})
	require.NoError(t, err)
	p := newTestPipeline(store, newFakeGateway(), nil)

	result, err := p.Ingest(ctx, envelope(textMessage("5215550001", "wamid.A", "hola"), ""))
	require.NoError(t, err)
	assert.Equal(t, 0, result.ConversationsCreated)
	assert.Equal(t, existing.ID, result.Messages[0].ConversationID)
}

func TestIngestDuplicateDeliveryCreatesSecondRow(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	p := newTestPipeline(store, newFakeGateway(), nil)
	body := envelope(textMessage("5215550001", "wamid.DUP", "hola"), "")

	first, err := p.Ingest(ctx, body)
	require.NoError(t, err)
	second, err := p.Ingest(ctx, body)
	require.NoError(t, err)

	assert.NotEqual(t, first.Messages[0].ID, second.Messages[0].ID)
	msgs, err := store.FindMessagesByConversation(ctx, first.Messages[0].ConversationID, conversation.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestIngestMediaResolvesAndMirrors(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	gw := newFakeGateway()
	gw.mediaInfo["media_1"] = &whatsapp.MediaInfo{ID: "media_1", URL: "https://lookaside.fbsbx.com/m1", MimeType: "application/pdf", SHA256: "sum", FileSize: 2048}
	mirror := &fakeMirror{}
	p := newTestPipeline(store, gw, mirror)

	doc := `{"from": "5215550001", "id": "wamid.DOC", "timestamp": "1718000000", "type": "document",
	  "document": {"id": "media_1", "mime_type": "application/pdf", "sha256": "sum", "filename": "factura.pdf", "caption": "mi factura"},
	  "context": {"from": "15550000000", "id": "wamid.PREV"}}`
	result, err := p.Ingest(ctx, envelope(doc, ""))
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)

	stored := result.Messages[0]
	assert.Equal(t, conversation.MessageKindDocument, stored.Kind)
	require.NotNil(t, stored.InReplyToExternalID)
	assert.Equal(t, "wamid.PREV", *stored.InReplyToExternalID)

	m, ok := stored.Payload.(conversation.Media)
	require.True(t, ok)
	assert.Equal(t, "s3://relay-media/media/"+stored.ConversationID+"/media_1", m.URL)
	assert.Equal(t, "application/pdf", m.MimeType)
	assert.Equal(t, "factura.pdf", m.Filename)
	assert.Equal(t, "sum", m.Checksum)
	assert.Equal(t, int64(2048), m.Size)
	assert.Equal(t, "mi factura", m.Caption)

	require.Len(t, mirror.objects, 1)
	assert.Equal(t, "https://lookaside.fbsbx.com/m1", mirror.objects[0].SourceURL)
}

func TestIngestMediaWithoutMirrorKeepsGatewayURL(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.mediaInfo["media_2"] = &whatsapp.MediaInfo{URL: "https://lookaside.fbsbx.com/m2", MimeType: "image/webp"}
	p := newTestPipeline(conversation.NewMemoryStore(), gw, nil)

	img := `{"from": "1", "id": "wamid.IMG", "timestamp": "1718000000", "type": "image", "image": {"id": "media_2", "mime_type": "image/webp"}}`
	result, err := p.Ingest(ctx, envelope(img, ""))
	require.NoError(t, err)
	m, ok := result.Messages[0].Payload.(conversation.Media)
	require.True(t, ok)
	assert.Equal(t, "https://lookaside.fbsbx.com/m2", m.URL)
}

func TestIngestLocationAndContacts(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(conversation.NewMemoryStore(), newFakeGateway(), nil)

	loc := `{"from": "1", "id": "wamid.LOC", "timestamp": "1718000000", "type": "location", "location": {"latitude": 19.43, "longitude": -99.13, "name": "Zócalo", "place_id": "pl_77"}}`
	contacts := `{"from": "1", "id": "wamid.CON", "timestamp": "1718000001", "type": "contacts", "contacts": [{"name": {"formatted_name": "Ana"}, "phones": [{"phone": "+5215550002"}]}]}`
	result, err := p.Ingest(ctx, envelope(loc+","+contacts, ""))
	require.NoError(t, err)
	require.Len(t, result.Messages, 2)

	l, ok := result.Messages[0].Payload.(conversation.Location)
	require.True(t, ok)
	assert.Equal(t, "Zócalo", l.Name)
	assert.InDelta(t, 19.43, l.Latitude, 1e-9)
	encoded, err := json.Marshal(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"latitude": 19.43, "longitude": -99.13, "name": "Zócalo", "place_id": "pl_77"}`, string(encoded))

	c, ok := result.Messages[1].Payload.(conversation.Contacts)
	require.True(t, ok)
	assert.Contains(t, string(c.Cards), "Ana")
	assert.Equal(t, conversation.MessageKindContact, result.Messages[1].Kind)
}

func TestIngestSkipsUnsupportedTypes(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	p := newTestPipeline(store, newFakeGateway(), nil)

	sticker := `{"from": "1", "id": "wamid.STK", "timestamp": "1718000000", "type": "sticker", "sticker": {"id": "s1"}}`
	result, err := p.Ingest(ctx, envelope(sticker+","+textMessage("1", "wamid.T", "ok"), ""))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "wamid.T", result.Messages[0].ExternalMessageID)
}

func TestIngestRejectsMissingEntry(t *testing.T) {
	p := newTestPipeline(conversation.NewMemoryStore(), newFakeGateway(), nil)
	_, err := p.Ingest(context.Background(), []byte(`{"object":"whatsapp_business_account"}`))
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestIngestFirstErrorAbortsRemainingItems(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	gw := newFakeGateway()
	gw.infoErr = apperrors.Remote("whatsapp", errors.New("media lookup 500"))
	p := newTestPipeline(store, gw, nil)

	img := `{"from": "1", "id": "wamid.IMG", "timestamp": "1718000000", "type": "image", "image": {"id": "media_x"}}`
	result, err := p.Ingest(ctx, envelope(textMessage("1", "wamid.T1", "first")+","+img+","+textMessage("1", "wamid.T2", "never"), ""))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindRemoteService))
	require.NotNil(t, result)
	require.Len(t, result.Messages, 1)

	never, err := store.FindMessageByExternalID(ctx, "wamid.T2")
	require.NoError(t, err)
	assert.Nil(t, never)
}

func TestIngestStatusesMoveForwardOnly(t *testing.T) {
	ctx := context.Background()
	store := conversation.NewMemoryStore()
	conv, err := store.CreateConversation(ctx, conversation.CreateConversationInput{ExternalContactID: "1"})
	require.NoError(t, err)
	sent, err := store.CreateMessage(ctx, conversation.NewMessage{
		ConversationID:    conv.ID,
		Kind:              conversation.MessageKindBotAnswer,
		ExternalMessageID: "wamid.OUT",
		Payload:           conversation.Text{Body: "hola"},
		Status:            conversation.MessageStatusSent,
	})
	require.NoError(t, err)
	p := newTestPipeline(store, newFakeGateway(), nil)

	status := func(s string) string {
		return fmt.Sprintf(`{"id": "wamid.OUT", "status": %q, "timestamp": "1718000005", "recipient_id": "1"}`, s)
	}
	result, err := p.Ingest(ctx, envelope("", status("read")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.StatusesApplied)

	result, err = p.Ingest(ctx, envelope("", status("delivered")+`,{"id": "wamid.UNKNOWN", "status": "read", "timestamp": "1"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, result.StatusesApplied)
	assert.Equal(t, 2, result.Skipped)

	after, err := store.FindMessageByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.MessageStatusRead, after.Status)
}
