package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/messaging"
	"github.com/BTreeMap/DeskPipe/internal/models"
)

// DefaultPacing is the pause between two recipients of a batch.
const DefaultPacing = 5 * time.Second

// Send reports these alongside the full results once the batch has run.
var (
	ErrBatchFailed  = errors.New("no recipient was sent to")
	ErrBatchPartial = errors.New("some recipients were not sent to")
)

// RecipientResult is the per-recipient outcome of a batch send.
type RecipientResult struct {
	Recipient string `json:"recipient"`
	Target    string `json:"target,omitempty"`
	Result    Result `json:"result"`
	Error     string `json:"error,omitempty"`
}

// OK reports whether the recipient was sent to.
func (r RecipientResult) OK() bool {
	return r.Error == ""
}

// BatchSender fans one message out to several recipients, one at a time.
type BatchSender struct {
	guard  *Guard
	conn   messaging.Connector
	pacing time.Duration
}

// BatchOption configures a BatchSender.
type BatchOption func(*BatchSender)

// WithPacing overrides DefaultPacing. Zero disables the pause.
func WithPacing(d time.Duration) BatchOption {
	return func(b *BatchSender) {
		if d >= 0 {
			b.pacing = d
		}
	}
}

// NewBatchSender creates a BatchSender dispatching through guard.
func NewBatchSender(guard *Guard, conn messaging.Connector, opts ...BatchOption) *BatchSender {
	b := &BatchSender{guard: guard, conn: conn, pacing: DefaultPacing}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send dispatches body (and att) to each recipient in order. The chat list
// is read once per call. A failing recipient is logged and skipped. After a
// complete run the error is nil, ErrBatchPartial or ErrBatchFailed.
func (b *BatchSender) Send(ctx context.Context, recipients []string, body string, att *models.Attachment) ([]RecipientResult, error) {
	if b.conn.ConnectionState() != models.ConnectionConnected {
		return nil, ErrNotConnected
	}
	if len(recipients) == 0 {
		return nil, models.ErrEmptyRecipient
	}
	if len(recipients) > models.MaxRecipientsPerRequest {
		return nil, models.ErrTooManyRecipients
	}
	if body == "" && att == nil {
		return nil, models.ErrEmptyBody
	}

	chats, err := b.conn.ListChats(ctx)
	if err != nil {
		slog.Warn("BatchSender.Send: chat list unavailable, group recipients will fail", "error", err)
	}

	results := make([]RecipientResult, 0, len(recipients))
	for i, recipient := range recipients {
		if i > 0 && b.pacing > 0 {
			select {
			case <-time.After(b.pacing):
			case <-ctx.Done():
				slog.Warn("BatchSender.Send: cancelled", "sent", i, "total", len(recipients), "error", ctx.Err())
				return results, ctx.Err()
			}
		}

		rr := RecipientResult{Recipient: recipient}
		target, err := ResolveRecipient(recipient, chats)
		if err != nil {
			rr.Error = err.Error()
			slog.Error("BatchSender.Send: recipient skipped", "recipient", recipient, "error", err)
			results = append(results, rr)
			continue
		}
		rr.Target = target

		res, err := b.guard.Dispatch(ctx, target, body, att)
		rr.Result = res
		if err != nil {
			rr.Error = err.Error()
			slog.Error("BatchSender.Send: dispatch failed", "recipient", recipient, "target", target, "error", err)
		}
		results = append(results, rr)
	}

	failed := 0
	for _, rr := range results {
		if !rr.OK() {
			failed++
		}
	}
	slog.Info("BatchSender.Send: batch complete", "recipients", len(recipients), "failed", failed)
	switch failed {
	case 0:
		return results, nil
	case len(results):
		return results, ErrBatchFailed
	default:
		return results, ErrBatchPartial
	}
}
