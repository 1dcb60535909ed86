// Package session tracks per-conversation state for DeskPipe.
//
// ContactHistory answers "is this the first contact today?" and is persisted
// through a store.HistoryRepo on every mutation. TicketTracker holds the
// in-memory ticket intake dialogue for each conversation and expires stale
// entries. KeyedMutex serializes work on a single conversation key while
// leaving different keys fully parallel.
package session
