// Package responder classifies inbound messages and sends DeskPipe's
// automated replies.
//
// Each message is handled on its own goroutine. Work on one conversation key
// is serialized from the decision through the humanized delay, the send and
// the tracker update; different keys proceed in parallel.
package responder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/dispatch"
	"github.com/BTreeMap/DeskPipe/internal/messaging"
	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/responses"
	"github.com/BTreeMap/DeskPipe/internal/session"
	"github.com/BTreeMap/DeskPipe/internal/store"
)

// Action is the branch HandleMessage took for a message.
type Action string

const (
	ActionIgnored      Action = "ignored"
	ActionPong         Action = "pong"
	ActionTicketOffer  Action = "ticket_offer"
	ActionTicketStep   Action = "ticket_step"
	ActionNotMentioned Action = "not_mentioned"
	ActionGreeting     Action = "greeting"
	ActionClosing      Action = "closing"
)

// Sender delivers a plain text reply. *dispatch.Guard implements it.
type Sender interface {
	Reply(ctx context.Context, target, body string) (dispatch.Result, error)
}

// Responder routes inbound messages through the session trackers.
type Responder struct {
	conn    messaging.Connector
	sender  Sender
	history *session.ContactHistory
	tickets *session.TicketTracker
	pool    *responses.Pool
	dedup   store.DedupRepo
	delayer Delayer
	locks   *session.KeyedMutex
	now     session.Clock

	wg sync.WaitGroup
}

// Option configures a Responder.
type Option func(*Responder)

// WithSender overrides the default dispatch.Guard built on the connector.
func WithSender(s Sender) Option {
	return func(r *Responder) { r.sender = s }
}

// WithDelayer overrides the humanized delay.
func WithDelayer(d Delayer) Option {
	return func(r *Responder) { r.delayer = d }
}

// WithDedup drops redelivered messages recorded in repo.
func WithDedup(repo store.DedupRepo) Option {
	return func(r *Responder) { r.dedup = repo }
}

// WithClock overrides the time source used for greetings.
func WithClock(now session.Clock) Option {
	return func(r *Responder) { r.now = now }
}

// New creates a Responder. history and tickets are owned by the caller so
// sweeps can be scheduled against the same instances.
func New(conn messaging.Connector, history *session.ContactHistory, tickets *session.TicketTracker, pool *responses.Pool, opts ...Option) *Responder {
	r := &Responder{
		conn:    conn,
		history: history,
		tickets: tickets,
		pool:    pool,
		delayer: HumanizeDelayer{},
		locks:   session.NewKeyedMutex(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sender == nil {
		r.sender = dispatch.NewGuard(conn)
	}
	if r.pool == nil {
		r.pool = responses.Default()
	}
	return r
}

// HandleMessage classifies msg and sends at most one reply. Trackers change
// only after a successful send, except the first-contact record, which is
// taken before the delay.
func (r *Responder) HandleMessage(ctx context.Context, msg models.InboundMessage) (Action, error) {
	return r.handleMessage(ctx, msg, r.reserve(msg))
}

// reserve takes msg's place in its conversation queue. Own messages and
// pings never touch conversation state and get no turn.
func (r *Responder) reserve(msg models.InboundMessage) *session.Turn {
	if msg.IsFromSelf || isPing(msg.Body) {
		return nil
	}
	return r.locks.Reserve(msg.Key().String())
}

func isPing(body string) bool {
	return strings.ToLower(strings.TrimSpace(body)) == PingCommand
}

// handleMessage releases turn before returning.
func (r *Responder) handleMessage(ctx context.Context, msg models.InboundMessage, turn *session.Turn) (Action, error) {
	if turn != nil {
		defer turn.Release()
	}
	if msg.IsFromSelf {
		return ActionIgnored, nil
	}

	if isPing(msg.Body) {
		slog.Debug("Responder.HandleMessage: ping received", "from", msg.From)
		if _, err := r.sender.Reply(ctx, msg.From, PongReply); err != nil {
			return ActionPong, err
		}
		return ActionPong, nil
	}

	key := msg.Key()
	if err := turn.Wait(ctx); err != nil {
		return ActionIgnored, err
	}

	active, hasActive := r.tickets.Active(key)
	if hasActive {
		if step, ok := r.tickets.Plan(active, msg.Body); ok {
			name := r.displayName(ctx, msg)
			if err := r.replyAfterDelay(ctx, msg.From, stepReply(name, step)); err != nil {
				return ActionTicketStep, err
			}
			r.tickets.Apply(step)
			return ActionTicketStep, nil
		}
		slog.Debug("Responder.HandleMessage: reply does not advance ticket", "key", key.String(), "state", active.State)
	}

	if !hasActive && session.IsTicketTrigger(msg.Body) {
		name := r.displayName(ctx, msg)
		if err := r.replyAfterDelay(ctx, msg.From, ticketOffer(name)); err != nil {
			return ActionTicketOffer, err
		}
		r.tickets.Start(key)
		return ActionTicketOffer, nil
	}

	if !msg.Mentions(r.conn.SelfID()) {
		return ActionNotMentioned, nil
	}

	first := r.history.IsFirstContactToday(key)
	name := r.displayName(ctx, msg)
	if err := r.delayer.Delay(ctx); err != nil {
		return actionFor(first), err
	}
	var body string
	if first {
		body = greeting(name, r.now(), r.pool)
	} else {
		body = closing(name, r.pool)
	}
	if _, err := r.sender.Reply(ctx, msg.From, body); err != nil {
		return actionFor(first), err
	}
	return actionFor(first), nil
}

func actionFor(first bool) Action {
	if first {
		return ActionGreeting
	}
	return ActionClosing
}

func (r *Responder) replyAfterDelay(ctx context.Context, chat, body string) error {
	if err := r.delayer.Delay(ctx); err != nil {
		return err
	}
	_, err := r.sender.Reply(ctx, chat, body)
	return err
}

// displayName prefers the push name carried by the message, then the
// connector's contact lookup, then FallbackName.
func (r *Responder) displayName(ctx context.Context, msg models.InboundMessage) string {
	if name := strings.TrimSpace(msg.PushName); name != "" {
		return name
	}
	name, err := r.conn.ResolveDisplayName(ctx, msg.Sender())
	if err != nil || strings.TrimSpace(name) == "" {
		if err != nil {
			slog.Debug("Responder.displayName: lookup failed, using fallback", "sender", msg.Sender(), "error", err)
		}
		return FallbackName
	}
	return name
}

// Start consumes the connector's event stream until ctx ends or the stream
// closes. Conversations are handled concurrently, and messages within one
// conversation in arrival order. Wait blocks until in-flight handlers return.
func (r *Responder) Start(ctx context.Context) {
	events := r.conn.Events()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		slog.Info("Responder.Start: listening for events")
		for {
			select {
			case <-ctx.Done():
				slog.Info("Responder.Start: stopping", "reason", ctx.Err())
				return
			case evt, ok := <-events:
				if !ok {
					slog.Info("Responder.Start: event stream closed")
					return
				}
				r.handleEvent(ctx, evt)
			}
		}
	}()
}

// Wait blocks until the event loop and all message handlers have returned.
func (r *Responder) Wait() {
	r.wg.Wait()
}

func (r *Responder) handleEvent(ctx context.Context, evt models.Event) {
	switch v := evt.(type) {
	case models.InboundMessage:
		if r.isDuplicate(v) {
			return
		}
		// reserved here, on the event loop, so same-conversation messages
		// are handled in arrival order
		turn := r.reserve(v)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			action, err := r.handleMessage(ctx, v, turn)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					slog.Info("Responder: reply abandoned on shutdown", "from", v.From, "action", action)
					return
				}
				slog.Error("Responder: failed to handle message", "from", v.From, "sender", v.Sender(), "action", action, "error", err)
				return
			}
			slog.Debug("Responder: message handled", "from", v.From, "sender", v.Sender(), "action", action)
		}()
	case models.InboundCall:
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleCall(ctx, v)
		}()
	case models.ConnectionEvent:
		slog.Info("Responder: connection state changed", "state", v.State, "reason", v.Reason)
	}
}

func (r *Responder) isDuplicate(msg models.InboundMessage) bool {
	if r.dedup == nil || msg.ID == "" {
		return false
	}
	fresh, err := r.dedup.RecordInbound(msg.ID, msg.From)
	if err != nil {
		slog.Warn("Responder: dedup check failed, handling message anyway", "id", msg.ID, "error", err)
		return false
	}
	if !fresh {
		slog.Debug("Responder: duplicate delivery dropped", "id", msg.ID, "from", msg.From)
	}
	return !fresh
}

// handleCall rejects an incoming call and tells the caller calls are not accepted.
func (r *Responder) handleCall(ctx context.Context, call models.InboundCall) {
	slog.Info("Responder: incoming call", "from", call.From, "video", call.IsVideo)
	if err := r.conn.RejectCall(ctx, call.From, call.CallID); err != nil {
		slog.Error("Responder: failed to reject call", "from", call.From, "error", err)
	}
	if _, err := r.sender.Reply(ctx, call.From, CallRejectedMsg); err != nil {
		slog.Error("Responder: failed to send call notice", "from", call.From, "error", err)
	}
}
