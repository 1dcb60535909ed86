// Package models defines state management structures for DeskPipe conversations.
package models

import "time"

// TicketState is the step a conversation has reached in the ticket intake dialogue.
type TicketState string

const (
	TicketAwaitingConfirmation TicketState = "awaiting_confirmation"
	TicketAwaitingSubject      TicketState = "awaiting_subject"
	TicketAwaitingSummary      TicketState = "awaiting_summary"
)

// IsValid reports whether s is one of the known ticket states.
func (s TicketState) IsValid() bool {
	switch s {
	case TicketAwaitingConfirmation, TicketAwaitingSubject, TicketAwaitingSummary:
		return true
	default:
		return false
	}
}

// TicketEntry is the in-memory intake progress for one conversation.
type TicketEntry struct {
	Key       ConversationKey `json:"key"`
	State     TicketState     `json:"state"`
	EnteredAt time.Time       `json:"entered_at"`
	Subject   string          `json:"subject,omitempty"` // set once State is TicketAwaitingSummary
}

// Age returns how long the entry has been in its current state.
func (e TicketEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.EnteredAt)
}

// ContactEntry records the last time a conversation contacted the bot.
type ContactEntry struct {
	Key             string    `json:"key"`
	LastContactDate time.Time `json:"last_contact_date"`
}
