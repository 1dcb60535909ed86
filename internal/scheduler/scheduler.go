// Package scheduler runs DeskPipe's periodic maintenance on cron.
//
// The two session sweeps run as ordinary jobs: a full contact-history reset
// every 24h counted from boot, and a ticket expiry sweep every minute. Both
// go through the same tracker methods as live traffic.
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

const (
	// DailyResetSpec clears the contact history. Not aligned to midnight.
	DailyResetSpec = "@every 24h"
	// ExpirySweepSpec drops stale ticket dialogues.
	ExpirySweepSpec = "@every 1m"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// standard 5-field expressions plus @every/@daily descriptors; panics in jobs are recovered
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// HistoryResetter clears the contact history. *session.ContactHistory implements it.
type HistoryResetter interface {
	ResetAll()
}

// TicketSweeper drops expired ticket dialogues. *session.TicketTracker implements it.
type TicketSweeper interface {
	SweepExpired() int
}

// ScheduleSweeps registers the daily history reset and the ticket expiry sweep.
func (s *Scheduler) ScheduleSweeps(history HistoryResetter, tickets TicketSweeper) error {
	if err := s.AddJob(DailyResetSpec, func() {
		slog.Info("Scheduler: running daily contact history reset")
		history.ResetAll()
	}); err != nil {
		return fmt.Errorf("failed to schedule history reset: %w", err)
	}
	if err := s.AddJob(ExpirySweepSpec, func() {
		if n := tickets.SweepExpired(); n > 0 {
			slog.Debug("Scheduler: ticket sweep removed entries", "removed", n)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule ticket sweep: %w", err)
	}
	slog.Info("Scheduler: sweeps scheduled", "history_reset", DailyResetSpec, "ticket_sweep", ExpirySweepSpec)
	return nil
}
