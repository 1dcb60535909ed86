package whatsapp

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// MockClient implements the same surface as Client without a WhatsApp connection.
// In tests, use whatsapp.NewMockClient() instead of NewClient; Emit feeds raw
// whatsmeow events to registered handlers.
type MockClient struct {
	mu       sync.Mutex
	handlers []func(evt any)

	Self     string
	Names    map[string]string
	Groups   []models.Chat
	Status   models.ConnectionState
	SendErr  error
	Texts    []SentText
	Media    []SentMedia
	Rejected []string
	msgSeq   int
}

// SentText is a text message recorded by MockClient.
type SentText struct {
	To   string
	Body string
}

// SentMedia is a media message recorded by MockClient.
type SentMedia struct {
	To      string
	Media   models.Media
	Caption string
}

// NewMockClient returns a connected mock with no contacts or groups.
func NewMockClient() *MockClient {
	return &MockClient{
		Self:   "5511000000000@s.whatsapp.net",
		Names:  make(map[string]string),
		Status: models.ConnectionConnected,
	}
}

func (m *MockClient) nextID() string {
	m.msgSeq++
	return fmt.Sprintf("MOCK%04d", m.msgSeq)
}

func (m *MockClient) SendText(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.Texts = append(m.Texts, SentText{To: to, Body: body})
	return m.nextID(), nil
}

func (m *MockClient) SendMedia(ctx context.Context, to string, media models.Media, caption string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.Media = append(m.Media, SentMedia{To: to, Media: media, Caption: caption})
	return m.nextID(), nil
}

func (m *MockClient) ContactName(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.Names[id]; ok {
		return name, nil
	}
	return "", ErrContactNotFound
}

func (m *MockClient) JoinedGroups(ctx context.Context) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Chat(nil), m.Groups...), nil
}

func (m *MockClient) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Status
}

func (m *MockClient) SelfJID() string { return m.Self }

func (m *MockClient) SelfLID() string { return "" }

func (m *MockClient) RejectCall(ctx context.Context, from, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rejected = append(m.Rejected, callID)
	return nil
}

func (m *MockClient) AddEventHandler(h func(evt any)) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Emit delivers evt to every registered handler synchronously.
func (m *MockClient) Emit(evt any) {
	m.mu.Lock()
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// SentTexts returns a copy of the recorded text messages.
func (m *MockClient) SentTexts() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentText(nil), m.Texts...)
}
