package models

import (
	"slices"
	"time"
)

// Event is anything the platform connector delivers on its event stream.
type Event interface {
	eventKind() string
}

// InboundMessage is a text message received from the platform.
type InboundMessage struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`             // chat the message arrived in
	Author       string    `json:"author,omitempty"` // participant, set only in group chats
	PushName     string    `json:"push_name,omitempty"`
	Body         string    `json:"body"`
	MentionedIDs []string  `json:"mentioned_ids,omitempty"`
	IsFromSelf   bool      `json:"is_from_self"`
	IsGroup      bool      `json:"is_group"`
	Timestamp    time.Time `json:"timestamp"`
}

func (InboundMessage) eventKind() string { return "message" }

// Sender returns the participant that authored the message.
func (m InboundMessage) Sender() string {
	if m.IsGroup && m.Author != "" {
		return m.Author
	}
	return m.From
}

// Key returns the conversation key the message belongs to.
func (m InboundMessage) Key() ConversationKey {
	return ConversationKey{Sender: m.Sender(), ChatID: m.From}
}

// Mentions reports whether id appears in the message's mention list.
func (m InboundMessage) Mentions(id string) bool {
	if id == "" {
		return false
	}
	return slices.Contains(m.MentionedIDs, id)
}

// InboundCall is an incoming voice or video call offer.
type InboundCall struct {
	CallID  string    `json:"call_id"`
	From    string    `json:"from"`
	IsVideo bool      `json:"is_video"`
	Time    time.Time `json:"time"`
}

func (InboundCall) eventKind() string { return "call" }

// ConnectionState is the connector's link status.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

// ConnectionEvent reports a lifecycle change of the platform connection.
type ConnectionEvent struct {
	State  ConnectionState `json:"state"`
	Reason string          `json:"reason,omitempty"`
	Time   time.Time       `json:"time"`
}

func (ConnectionEvent) eventKind() string { return "connection" }

// Chat is one entry of the connector's chat list snapshot.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"is_group"`
}

// MediaKind selects how a media payload is presented to the recipient.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
)

// Media is a fully loaded media payload ready for upload.
type Media struct {
	Kind     MediaKind `json:"kind"`
	MimeType string    `json:"mime_type"`
	FileName string    `json:"file_name,omitempty"`
	Data     []byte    `json:"-"`
}

// Attachment is caller-supplied file content for an outbound dispatch.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}
