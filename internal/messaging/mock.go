package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// ErrMockNameUnknown is returned by MockConnector for participants without a configured name.
var ErrMockNameUnknown = errors.New("mock: unknown participant")

// SentMessage is one send recorded by MockConnector.
type SentMessage struct {
	Target string
	Body   string // text body, or the caption of a media send
	Media  *models.Media
	SentAt time.Time
}

// MockConnector is an in-memory Connector for tests.
// Sends are recorded; Block, when set, holds every send until it is closed,
// ignoring context cancellation the way a platform call may.
type MockConnector struct {
	mu sync.Mutex

	Self    string
	State   models.ConnectionState
	Names   map[string]string
	NameErr error
	Chats   []models.Chat
	ChatErr error
	SendErr error
	Block   chan struct{}

	sent       []SentMessage
	rejected   []string
	chatCalls  int
	sendNotify chan struct{}

	events    chan models.Event
	closeOnce sync.Once
}

// NewMockConnector returns a connected mock with a buffered event stream.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		Self:       "bot@s.whatsapp.net",
		State:      models.ConnectionConnected,
		Names:      make(map[string]string),
		sendNotify: make(chan struct{}, 1024),
		events:     make(chan models.Event, 256),
	}
}

func (m *MockConnector) send(ctx context.Context, target, body string, media *models.Media) (models.Receipt, error) {
	m.mu.Lock()
	block, sendErr := m.Block, m.SendErr
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	if sendErr != nil {
		return models.Receipt{To: target, Status: models.MessageStatusFailed, Error: sendErr.Error()}, sendErr
	}

	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{Target: target, Body: body, Media: media, SentAt: time.Now()})
	id := fmt.Sprintf("MOCK%04d", len(m.sent))
	m.mu.Unlock()

	m.sendNotify <- struct{}{}
	return models.Receipt{To: target, MessageID: id, Status: models.MessageStatusSent, Time: time.Now().Unix()}, nil
}

func (m *MockConnector) SendText(ctx context.Context, target string, body string) (models.Receipt, error) {
	return m.send(ctx, target, body, nil)
}

func (m *MockConnector) SendMedia(ctx context.Context, target string, media models.Media, caption string) (models.Receipt, error) {
	return m.send(ctx, target, caption, &media)
}

func (m *MockConnector) ResolveDisplayName(ctx context.Context, participantID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NameErr != nil {
		return "", m.NameErr
	}
	if name, ok := m.Names[participantID]; ok {
		return name, nil
	}
	return "", ErrMockNameUnknown
}

func (m *MockConnector) ListChats(ctx context.Context) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls++
	if m.ChatErr != nil {
		return nil, m.ChatErr
	}
	return append([]models.Chat(nil), m.Chats...), nil
}

func (m *MockConnector) ConnectionState() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State
}

// SetState changes the reported connection state.
func (m *MockConnector) SetState(s models.ConnectionState) {
	m.mu.Lock()
	m.State = s
	m.mu.Unlock()
}

func (m *MockConnector) SelfID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Self
}

func (m *MockConnector) RejectCall(ctx context.Context, from, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected = append(m.rejected, callID)
	return nil
}

func (m *MockConnector) Events() <-chan models.Event {
	return m.events
}

// Emit pushes evt onto the event stream.
func (m *MockConnector) Emit(evt models.Event) {
	m.events <- evt
}

// Close ends the event stream.
func (m *MockConnector) Close() {
	m.closeOnce.Do(func() { close(m.events) })
}

// Sent returns a copy of every recorded send, oldest first.
func (m *MockConnector) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// RejectedCalls returns the IDs of rejected calls.
func (m *MockConnector) RejectedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.rejected...)
}

// ListChatsCalls returns how many times ListChats was called.
func (m *MockConnector) ListChatsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatCalls
}

// WaitForSends blocks until n more sends completed or the timeout elapsed.
func (m *MockConnector) WaitForSends(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for i := 0; i < n; i++ {
		select {
		case <-m.sendNotify:
		case <-deadline.C:
			return false
		}
	}
	return true
}
