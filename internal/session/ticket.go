package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

const (
	// DefaultTicketTTL is how long an entry may stay in one state before it expires.
	DefaultTicketTTL = 5 * time.Minute
	// TriggerKeyword starts the intake dialogue when found anywhere in a message.
	TriggerKeyword = "ticket"
	// ConfirmKeyword accepts the offer to open a ticket.
	ConfirmKeyword = "sim"
)

// ContainsFold reports whether s contains substr, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsTicketTrigger reports whether body asks for a ticket.
func IsTicketTrigger(body string) bool {
	return ContainsFold(body, TriggerKeyword)
}

// Step is one planned move of the intake dialogue. A zero Next means the
// dialogue ends and the entry is removed.
type Step struct {
	Key     models.ConversationKey
	From    models.TicketState
	Next    models.TicketState
	Subject string // subject captured so far
	Summary string // set on the final step only
}

// Completes reports whether the step ends the dialogue.
func (s Step) Completes() bool {
	return s.Next == ""
}

// TicketTracker holds at most one intake entry per conversation key.
type TicketTracker struct {
	ttl time.Duration
	now Clock

	mu      sync.Mutex
	entries map[models.ConversationKey]models.TicketEntry
}

// TicketOption configures a TicketTracker.
type TicketOption func(*TicketTracker)

// WithTicketTTL overrides DefaultTicketTTL.
func WithTicketTTL(ttl time.Duration) TicketOption {
	return func(t *TicketTracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTicketClock overrides the time source.
func WithTicketClock(now Clock) TicketOption {
	return func(t *TicketTracker) { t.now = now }
}

// NewTicketTracker creates an empty tracker.
func NewTicketTracker(opts ...TicketOption) *TicketTracker {
	t := &TicketTracker{
		ttl:     DefaultTicketTTL,
		now:     time.Now,
		entries: make(map[models.ConversationKey]models.TicketEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TicketTracker) expired(e models.TicketEntry, now time.Time) bool {
	return e.Age(now) > t.ttl
}

// Active returns the live entry for key. An expired entry is deleted and
// reported as absent.
func (t *TicketTracker) Active(key models.ConversationKey) (models.TicketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return models.TicketEntry{}, false
	}
	if t.expired(e, t.now()) {
		delete(t.entries, key)
		slog.Debug("TicketTracker.Active: dropped expired entry", "key", key.String(), "state", e.State)
		return models.TicketEntry{}, false
	}
	return e, true
}

// Start opens a new dialogue in TicketAwaitingConfirmation. It returns false
// and leaves the tracker unchanged if an active entry already exists.
func (t *TicketTracker) Start(key models.ConversationKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if e, ok := t.entries[key]; ok && !t.expired(e, now) {
		return false
	}
	t.entries[key] = models.TicketEntry{Key: key, State: models.TicketAwaitingConfirmation, EnteredAt: now}
	slog.Debug("TicketTracker.Start: dialogue opened", "key", key.String())
	return true
}

// Plan decides the next move for entry given the message body, without
// mutating anything. It returns false when the body does not advance the
// dialogue (a non-confirming reply while awaiting confirmation).
func (t *TicketTracker) Plan(entry models.TicketEntry, body string) (Step, bool) {
	step := Step{Key: entry.Key, From: entry.State, Subject: entry.Subject}
	switch entry.State {
	case models.TicketAwaitingConfirmation:
		if !ContainsFold(body, ConfirmKeyword) {
			return Step{}, false
		}
		step.Next = models.TicketAwaitingSubject
	case models.TicketAwaitingSubject:
		step.Next = models.TicketAwaitingSummary
		step.Subject = body
	case models.TicketAwaitingSummary:
		step.Summary = body
	default:
		return Step{}, false
	}
	return step, true
}

// Apply commits a planned step. The entry's EnteredAt is reset to now; a
// completing step removes the entry.
func (t *TicketTracker) Apply(step Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if step.Completes() {
		delete(t.entries, step.Key)
		slog.Debug("TicketTracker.Apply: dialogue completed", "key", step.Key.String())
		return
	}
	e := models.TicketEntry{Key: step.Key, State: step.Next, EnteredAt: t.now()}
	if step.Next == models.TicketAwaitingSummary {
		e.Subject = step.Subject
	}
	t.entries[step.Key] = e
	slog.Debug("TicketTracker.Apply: state advanced", "key", step.Key.String(), "from", step.From, "to", step.Next)
}

// Delete removes the entry for key, if any.
func (t *TicketTracker) Delete(key models.ConversationKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// SweepExpired removes every entry older than the TTL and returns how many
// were removed.
func (t *TicketTracker) SweepExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for k, e := range t.entries {
		if t.expired(e, now) {
			delete(t.entries, k)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("TicketTracker.SweepExpired: expired dialogues removed", "removed", removed, "remaining", len(t.entries))
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (t *TicketTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
