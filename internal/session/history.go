package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/store"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// ContactHistory records the last contact time of every conversation key.
type ContactHistory struct {
	repo store.HistoryRepo
	now  Clock

	mu      sync.Mutex
	order   []string // keys in first-seen order, mirrors the persisted layout
	entries map[string]time.Time

	saveMu sync.Mutex
}

// HistoryOption configures a ContactHistory.
type HistoryOption func(*ContactHistory)

// WithHistoryClock overrides the time source.
func WithHistoryClock(now Clock) HistoryOption {
	return func(h *ContactHistory) { h.now = now }
}

// NewContactHistory creates an empty history persisted through repo.
// Call Load to restore the persisted state.
func NewContactHistory(repo store.HistoryRepo, opts ...HistoryOption) *ContactHistory {
	h := &ContactHistory{
		repo:    repo,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load replaces the in-memory history with the persisted one. On error the
// history is left empty and the error is returned for logging.
func (h *ContactHistory) Load() error {
	loaded, err := h.repo.LoadContactHistory()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.order = nil
	h.entries = make(map[string]time.Time)
	if err != nil {
		slog.Error("ContactHistory.Load: failed to load history, starting empty", "error", err)
		return err
	}
	for _, e := range loaded {
		if _, dup := h.entries[e.Key]; !dup {
			h.order = append(h.order, e.Key)
		}
		h.entries[e.Key] = e.LastContactDate
	}
	slog.Info("ContactHistory.Load: history restored", "count", len(h.order))
	return nil
}

// IsFirstContactToday reports whether key has not been seen yet on the current
// local calendar day. When it returns true the current time is recorded and
// the whole history is persisted; when it returns false nothing changes.
func (h *ContactHistory) IsFirstContactToday(key models.ConversationKey) bool {
	k := key.String()
	now := h.now()

	h.mu.Lock()
	last, seen := h.entries[k]
	if seen && sameDay(last, now) {
		h.mu.Unlock()
		slog.Debug("ContactHistory: not the first contact today", "key", k, "last_contact", last)
		return false
	}
	if !seen {
		h.order = append(h.order, k)
	}
	h.entries[k] = now
	h.mu.Unlock()

	slog.Debug("ContactHistory: first contact today", "key", k)
	h.persist()
	return true
}

// ResetAll forgets every conversation and persists the empty history.
func (h *ContactHistory) ResetAll() {
	h.mu.Lock()
	n := len(h.order)
	h.order = nil
	h.entries = make(map[string]time.Time)
	h.mu.Unlock()

	slog.Info("ContactHistory.ResetAll: history cleared for new greetings", "cleared", n)
	h.persist()
}

// Len returns the number of tracked conversations.
func (h *ContactHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// Snapshot returns the history in persisted order.
func (h *ContactHistory) Snapshot() []models.ContactEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.ContactEntry, 0, len(h.order))
	for _, k := range h.order {
		out = append(out, models.ContactEntry{Key: k, LastContactDate: h.entries[k]})
	}
	return out
}

// persist writes the latest snapshot. The snapshot is taken under saveMu so
// concurrent savers can never overwrite a newer state with an older one.
func (h *ContactHistory) persist() {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()
	if err := h.repo.SaveContactHistory(h.Snapshot()); err != nil {
		slog.Error("ContactHistory: failed to persist history", "error", err)
	}
}

// sameDay compares calendar dates in now's location.
func sameDay(a, now time.Time) bool {
	a = a.In(now.Location())
	ay, am, ad := a.Date()
	ny, nm, nd := now.Date()
	return ay == ny && am == nm && ad == nd
}
