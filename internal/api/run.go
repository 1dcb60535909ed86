package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DeskPipe/internal/config"
	"github.com/BTreeMap/DeskPipe/internal/dispatch"
	"github.com/BTreeMap/DeskPipe/internal/lockfile"
	"github.com/BTreeMap/DeskPipe/internal/messaging"
	"github.com/BTreeMap/DeskPipe/internal/responder"
	"github.com/BTreeMap/DeskPipe/internal/scheduler"
	"github.com/BTreeMap/DeskPipe/internal/session"
	"github.com/BTreeMap/DeskPipe/internal/store"
	"github.com/BTreeMap/DeskPipe/internal/whatsapp"
)

// Modules carries the per-module options assembled by main.
type Modules struct {
	StateDir      string
	ResponsesFile string
	Humanize      bool
	WhatsApp      []whatsapp.Option
	Store         []store.Option
	Dispatch      []dispatch.Option
	Batch         []dispatch.BatchOption
	API           []Option
}

// Run wires every module together and serves until ctx is cancelled.
func Run(ctx context.Context, m Modules) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var apiCfg Opts
	for _, opt := range m.API {
		opt(&apiCfg)
	}

	lock, err := lockfile.AcquireLock(m.StateDir, lockfile.WithAPIAddr(apiCfg.Addr))
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("api.Run: failed to release lock", "error", err)
		}
	}()

	st, err := store.New(m.Store...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("api.Run: failed to close store", "error", err)
		}
	}()

	waClient, err := whatsapp.NewClient(m.WhatsApp...)
	if err != nil {
		return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
	}
	conn := messaging.NewWhatsAppConnector(waClient)
	defer conn.Stop()

	pool, err := config.LoadResponses(m.ResponsesFile)
	if err != nil {
		slog.Warn("api.Run: using default responses", "file", m.ResponsesFile, "error", err)
	}

	history := session.NewContactHistory(st)
	if err := history.Load(); err != nil {
		slog.Warn("api.Run: starting with empty contact history", "error", err)
	}
	tickets := session.NewTicketTracker()

	guard := dispatch.NewGuard(conn, append(m.Dispatch, dispatch.WithReceiptRepo(st))...)
	batch := dispatch.NewBatchSender(guard, conn, m.Batch...)

	var delayer responder.Delayer = responder.HumanizeDelayer{}
	if !m.Humanize {
		slog.Warn("api.Run: humanization delay disabled")
		delayer = responder.NoDelay
	}
	resp := responder.New(conn, history, tickets, pool,
		responder.WithSender(guard),
		responder.WithDelayer(delayer),
		responder.WithDedup(st),
	)
	resp.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleSweeps(history, tickets); err != nil {
		return fmt.Errorf("failed to schedule sweeps: %w", err)
	}

	if err := waClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect WhatsApp client: %w", err)
	}
	defer waClient.Disconnect()

	server := NewServer(conn, waClient, guard, batch, st, m.API...)
	err = server.Run(ctx)

	// a listener failure returns before ctx ends; stop the responder either way
	cancel()
	slog.Info("api.Run: waiting for in-flight replies")
	resp.Wait()
	return err
}
