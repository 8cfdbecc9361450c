package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfman30/whatsapp-assistant-relay/internal/channels/whatsapp"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/conversation"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/media"
)

type sentText struct {
	phoneNumberID string
	to            string
	body          string
}

type fakeGateway struct {
	mu        sync.Mutex
	texts     []sentText
	media     []whatsapp.OutboundMedia
	reads     []string
	mediaInfo map[string]*whatsapp.MediaInfo
	sendErr   error
	infoErr   error
	nextID    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{mediaInfo: make(map[string]*whatsapp.MediaInfo)}
}

func (g *fakeGateway) id() string {
	g.nextID++
	return fmt.Sprintf("wamid.OUT%d", g.nextID)
}

func (g *fakeGateway) SendText(_ context.Context, phoneNumberID, to, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.texts = append(g.texts, sentText{phoneNumberID: phoneNumberID, to: to, body: body})
	return g.id(), nil
}

func (g *fakeGateway) SendMedia(_ context.Context, _ string, _ string, m whatsapp.OutboundMedia) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.media = append(g.media, m)
	return g.id(), nil
}

func (g *fakeGateway) MarkAsRead(_ context.Context, _ string, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads = append(g.reads, messageID)
	return nil
}

func (g *fakeGateway) GetMediaInfo(_ context.Context, mediaID string) (*whatsapp.MediaInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.infoErr != nil {
		return nil, g.infoErr
	}
	info, ok := g.mediaInfo[mediaID]
	if !ok {
		return nil, errors.New("unknown media " + mediaID)
	}
	return info, nil
}

type fakeMirror struct {
	objects []media.Object
}

func (m *fakeMirror) Enabled() bool { return true }

func (m *fakeMirror) Mirror(_ context.Context, obj media.Object) (*media.Stored, error) {
	m.objects = append(m.objects, obj)
	key := media.Key(obj.ConversationID, obj.MediaID)
	return &media.Stored{Key: key, URL: "s3://relay-media/" + key, Size: 11}, nil
}

type fakeProcessor struct {
	calls  []string
	result *conversation.Result
	err    error
}

func (p *fakeProcessor) ProcessConversation(_ context.Context, text string, conv *conversation.Conversation) (*conversation.Result, error) {
	p.calls = append(p.calls, conv.ID+":"+text)
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type fakeLocker struct {
	err      error
	locked   []string
	released int
}

func (l *fakeLocker) Lock(_ context.Context, id string) (conversation.Unlock, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, id)
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}
