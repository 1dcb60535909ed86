// Package models defines the core data structures for DeskPipe.
//
// It includes conversation keys, platform events, receipts and the API response
// envelope shared across modules.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound message body
	MaxMessageBodyLength = 4096
	// MaxRecipientsPerRequest bounds a single batch send request
	MaxRecipientsPerRequest = 256
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
	ErrEmptyBody         = errors.New("message body cannot be empty")
	ErrBodyTooLong       = errors.New("message body exceeds maximum length")
	ErrTooManyRecipients = errors.New("too many recipients")
	ErrEmptyConversation = errors.New("conversation key requires sender and chat")
)

// ConversationKey identifies one participant inside one chat thread.
// In a direct chat the sender and the chat are the same identity.
type ConversationKey struct {
	Sender string `json:"sender"`
	ChatID string `json:"chat_id"`
}

// NewConversationKey builds a key, validating that both parts are present.
func NewConversationKey(sender, chatID string) (ConversationKey, error) {
	if strings.TrimSpace(sender) == "" || strings.TrimSpace(chatID) == "" {
		return ConversationKey{}, ErrEmptyConversation
	}
	return ConversationKey{Sender: sender, ChatID: chatID}, nil
}

// String renders the key as "sender@chat", the form used for persistence and logs.
func (k ConversationKey) String() string {
	return k.Sender + "@" + k.ChatID
}

// MessageStatus represents the outcome of an outbound send.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was accepted by the platform.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the send was rejected or errored.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusTimeout indicates the send did not finish before its deadline.
	MessageStatusTimeout MessageStatus = "timeout"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "success"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusPartial indicates a batch reached only some of its recipients.
	APIStatusPartial APIStatus = "partial"
	// APIStatusConnected reports a paired and connected session.
	APIStatusConnected APIStatus = "connected"
	// APIStatusWaiting reports that no pairing code is available yet.
	APIStatusWaiting APIStatus = "waiting"
)

// Receipt records the outcome of one outbound send.
type Receipt struct {
	ID        string        `json:"id"`
	To        string        `json:"to"`
	MessageID string        `json:"message_id,omitempty"`
	Status    MessageStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Time      int64         `json:"time"`
}

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Error   string      `json:"error,omitempty"`   // optional underlying error detail
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithError attaches an error detail to the API response.
func (b *APIResponseBuilder) WithError(err error) *APIResponseBuilder {
	if err != nil {
		b.response.Error = err.Error()
	}
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorWithCause creates an error API response carrying the underlying error text.
func ErrorWithCause(message string, err error) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		WithError(err).
		Build()
}
