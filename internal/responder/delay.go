package responder

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/util"
)

// Delayer pauses before an automated reply. Delay returns ctx.Err() when the
// context ends first.
type Delayer interface {
	Delay(ctx context.Context) error
}

// DelayFunc adapts a function to Delayer.
type DelayFunc func(ctx context.Context) error

func (f DelayFunc) Delay(ctx context.Context) error { return f(ctx) }

// HumanizeDelayer waits a uniformly random duration in [util.MinHumanizeDelay, util.MaxHumanizeDelay].
type HumanizeDelayer struct{}

func (HumanizeDelayer) Delay(ctx context.Context) error {
	d := util.HumanizeDelay()
	slog.Debug("HumanizeDelayer: waiting before reply", "delay", d)
	return Sleep(ctx, d)
}

// NoDelay replies immediately.
var NoDelay = DelayFunc(func(ctx context.Context) error { return ctx.Err() })

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
