package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/models"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppClient is the low-level session the connector drives.
// *whatsapp.Client and *whatsapp.MockClient implement it.
type WhatsAppClient interface {
	SendText(ctx context.Context, to string, body string) (string, error)
	SendMedia(ctx context.Context, to string, media models.Media, caption string) (string, error)
	ContactName(ctx context.Context, id string) (string, error)
	JoinedGroups(ctx context.Context) ([]models.Chat, error)
	State() models.ConnectionState
	SelfJID() string
	SelfLID() string
	RejectCall(ctx context.Context, from, callID string) error
	AddEventHandler(h func(evt any))
}

// WhatsAppConnector implements Connector on top of a whatsmeow session.
type WhatsAppConnector struct {
	client WhatsAppClient

	once  sync.Once
	queue *eventQueue
}

// NewWhatsAppConnector creates a connector wrapping the given client.
func NewWhatsAppConnector(client WhatsAppClient) *WhatsAppConnector {
	return &WhatsAppConnector{client: client}
}

// SendText sends a message and returns a sent receipt.
func (s *WhatsAppConnector) SendText(ctx context.Context, target string, body string) (models.Receipt, error) {
	slog.Debug("WhatsAppConnector.SendText invoked", "to", target, "body_length", len(body))
	id, err := s.client.SendText(ctx, target, body)
	if err != nil {
		return failedReceipt(target, err), err
	}
	return sentReceipt(target, id), nil
}

// SendMedia sends media with a caption and returns a sent receipt.
func (s *WhatsAppConnector) SendMedia(ctx context.Context, target string, media models.Media, caption string) (models.Receipt, error) {
	slog.Debug("WhatsAppConnector.SendMedia invoked", "to", target, "kind", media.Kind, "mime", media.MimeType)
	id, err := s.client.SendMedia(ctx, target, media, caption)
	if err != nil {
		return failedReceipt(target, err), err
	}
	return sentReceipt(target, id), nil
}

func sentReceipt(to, messageID string) models.Receipt {
	return models.Receipt{To: to, MessageID: messageID, Status: models.MessageStatusSent, Time: time.Now().Unix()}
}

func failedReceipt(to string, err error) models.Receipt {
	return models.Receipt{To: to, Status: models.MessageStatusFailed, Error: err.Error(), Time: time.Now().Unix()}
}

// ResolveDisplayName looks up the contact name of a participant.
func (s *WhatsAppConnector) ResolveDisplayName(ctx context.Context, participantID string) (string, error) {
	return s.client.ContactName(ctx, participantID)
}

// ListChats returns the joined groups; direct chats are addressed by number.
func (s *WhatsAppConnector) ListChats(ctx context.Context) ([]models.Chat, error) {
	return s.client.JoinedGroups(ctx)
}

func (s *WhatsAppConnector) ConnectionState() models.ConnectionState {
	return s.client.State()
}

func (s *WhatsAppConnector) SelfID() string {
	return s.client.SelfJID()
}

func (s *WhatsAppConnector) RejectCall(ctx context.Context, from, callID string) error {
	return s.client.RejectCall(ctx, from, callID)
}

// Events registers the event handler on first use and returns the stream.
func (s *WhatsAppConnector) Events() <-chan models.Event {
	s.once.Do(func() {
		s.queue = newEventQueue()
		s.client.AddEventHandler(s.handleEvent)
		slog.Debug("WhatsAppConnector event handler registered")
	})
	return s.queue.out
}

// Stop closes the event stream. Events already queued are still delivered.
func (s *WhatsAppConnector) Stop() {
	s.once.Do(func() {
		s.queue = newEventQueue()
	})
	s.queue.close()
	slog.Info("WhatsAppConnector stopped")
}

func (s *WhatsAppConnector) handleEvent(evt any) {
	out, ok := TranslateEvent(evt, s.client.SelfJID(), s.client.SelfLID())
	if !ok {
		return
	}
	if !s.queue.push(out) {
		slog.Debug("WhatsAppConnector dropped event after stop")
	}
}

// TranslateEvent converts a raw whatsmeow event into a DeskPipe event.
// Mentions of selfLID are rewritten to selfJID so callers compare against a
// single identity.
func TranslateEvent(evt any, selfJID, selfLID string) (models.Event, bool) {
	switch v := evt.(type) {
	case *events.Message:
		return translateMessage(v, selfJID, selfLID)
	case *events.CallOffer:
		return models.InboundCall{
			CallID: v.CallID,
			From:   v.From.ToNonAD().String(),
			Time:   v.Timestamp,
		}, true
	case *events.CallOfferNotice:
		return models.InboundCall{
			CallID:  v.CallID,
			From:    v.From.ToNonAD().String(),
			IsVideo: v.Media == "video",
			Time:    v.Timestamp,
		}, true
	case *events.Connected:
		return models.ConnectionEvent{State: models.ConnectionConnected, Time: time.Now()}, true
	case *events.Disconnected:
		return models.ConnectionEvent{State: models.ConnectionDisconnected, Reason: "disconnected", Time: time.Now()}, true
	case *events.LoggedOut:
		return models.ConnectionEvent{State: models.ConnectionDisconnected, Reason: fmt.Sprintf("logged out: %v", v.Reason), Time: time.Now()}, true
	default:
		return nil, false
	}
}

func translateMessage(evt *events.Message, selfJID, selfLID string) (models.Event, bool) {
	if evt.Message == nil {
		return nil, false
	}
	body, mentions, ok := messageText(evt.Message)
	if !ok {
		slog.Debug("WhatsAppConnector ignoring non-text message", "from", evt.Info.Sender.String())
		return nil, false
	}
	if selfLID != "" && selfJID != "" {
		for i, m := range mentions {
			if m == selfLID {
				mentions[i] = selfJID
			}
		}
	}

	msg := models.InboundMessage{
		ID:           evt.Info.ID,
		From:         evt.Info.Chat.ToNonAD().String(),
		PushName:     evt.Info.PushName,
		Body:         body,
		MentionedIDs: mentions,
		IsFromSelf:   evt.Info.IsFromMe,
		IsGroup:      evt.Info.IsGroup,
		Timestamp:    evt.Info.Timestamp,
	}
	if evt.Info.IsGroup {
		msg.Author = evt.Info.Sender.ToNonAD().String()
	}
	return msg, true
}

// messageText extracts the text body and mention list of a message.
// Captioned media count as text.
func messageText(m *waE2E.Message) (string, []string, bool) {
	switch {
	case m.Conversation != nil:
		return m.GetConversation(), nil, true
	case m.ExtendedTextMessage != nil:
		ext := m.GetExtendedTextMessage()
		return ext.GetText(), copyMentions(ext.GetContextInfo().GetMentionedJID()), true
	case m.ImageMessage != nil && m.GetImageMessage().GetCaption() != "":
		img := m.GetImageMessage()
		return img.GetCaption(), copyMentions(img.GetContextInfo().GetMentionedJID()), true
	case m.DocumentMessage != nil && m.GetDocumentMessage().GetCaption() != "":
		doc := m.GetDocumentMessage()
		return doc.GetCaption(), copyMentions(doc.GetContextInfo().GetMentionedJID()), true
	default:
		return "", nil, false
	}
}

func copyMentions(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}
