// Package messaging defines the platform connector DeskPipe talks to and its
// WhatsApp implementation.
package messaging

import (
	"context"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// Connector is the capability surface of a messaging platform session.
type Connector interface {
	// SendText sends a plain text message to a chat or participant ID.
	SendText(ctx context.Context, target string, body string) (models.Receipt, error)

	// SendMedia sends a media payload with an optional caption.
	SendMedia(ctx context.Context, target string, media models.Media, caption string) (models.Receipt, error)

	// ResolveDisplayName returns the best known name for a participant.
	ResolveDisplayName(ctx context.Context, participantID string) (string, error)

	// ListChats returns a snapshot of the chats the session can address by name.
	ListChats(ctx context.Context) ([]models.Chat, error)

	// ConnectionState reports the current link status.
	ConnectionState() models.ConnectionState

	// SelfID returns the session's own participant ID, or "" before pairing.
	SelfID() string

	// RejectCall declines an incoming call.
	RejectCall(ctx context.Context, from, callID string) error

	// Events returns the inbound event stream. The stream is created lazily on
	// first call, never blocks the platform and cannot be restarted once closed.
	Events() <-chan models.Event
}
