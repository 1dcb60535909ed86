// Package dispatch sends outbound messages under a deadline.
//
// A Guard resolves media markers in the body, uploads caller attachments and
// bounds every send by a timeout. When the timeout fires the caller gets
// ErrDispatchTimeout while the underlying send keeps running detached; its
// outcome is only logged.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/BTreeMap/DeskPipe/internal/messaging"
	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/store"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds a single dispatch.
	DefaultTimeout = 20 * time.Second
	// DefaultMaxMediaBytes caps media fetched from a marker URL.
	DefaultMaxMediaBytes = 64 << 20
	// DefaultFetchTimeout bounds the HTTP fetch of marker media.
	DefaultFetchTimeout = 60 * time.Second
)

var (
	ErrDispatchTimeout = errors.New("dispatch timed out")
	ErrNotConnected    = errors.New("messaging session is not connected")
	ErrMediaFetch      = errors.New("failed to fetch media")
)

// Matcher recognizes a media marker in a message body. Pattern must capture
// the media URL in its first group.
type Matcher struct {
	Kind    models.MediaKind
	Pattern *regexp.Regexp
}

// DefaultMatchers are tried in order; the first one that matches wins.
var DefaultMatchers = []Matcher{
	{Kind: models.MediaImage, Pattern: regexp.MustCompile(`(?i)\[img\s*=\s*(https?://[^\s]+)\]`)},
	{Kind: models.MediaDocument, Pattern: regexp.MustCompile(`(?i)\[pdf\s*=\s*(https?://[^\s]+)\]`)},
}

// Kind describes how a dispatch was delivered.
type Kind string

const (
	KindText       Kind = "text"
	KindMarker     Kind = "marker"
	KindAttachment Kind = "attachment"
)

// Result is the outcome reported to the caller of Dispatch.
type Result struct {
	ID       string         `json:"id"`
	Target   string         `json:"target"`
	Kind     Kind           `json:"kind"`
	Receipt  models.Receipt `json:"receipt"`
	Duration time.Duration  `json:"duration"`
}

// Opts holds configuration for a Guard.
type Opts struct {
	Timeout       time.Duration
	HTTPClient    *http.Client
	ScratchDir    string
	Receipts      store.ReceiptRepo
	Matchers      []Matcher
	MaxMediaBytes int64
}

// Option defines a configuration option for a Guard.
type Option func(*Opts)

// WithTimeout sets the per-dispatch deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHTTPClient sets the client used to fetch marker media.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithScratchDir sets where caller attachments are staged.
func WithScratchDir(dir string) Option {
	return func(o *Opts) { o.ScratchDir = dir }
}

// WithReceiptRepo records every dispatch outcome in repo.
func WithReceiptRepo(repo store.ReceiptRepo) Option {
	return func(o *Opts) { o.Receipts = repo }
}

// WithMatchers replaces DefaultMatchers.
func WithMatchers(m []Matcher) Option {
	return func(o *Opts) { o.Matchers = m }
}

// WithMaxMediaBytes caps fetched media size.
func WithMaxMediaBytes(n int64) Option {
	return func(o *Opts) {
		if n > 0 {
			o.MaxMediaBytes = n
		}
	}
}

// Guard performs timeout-bounded sends through a Connector.
type Guard struct {
	conn messaging.Connector
	opts Opts
}

// NewGuard creates a Guard sending through conn.
func NewGuard(conn messaging.Connector, opts ...Option) *Guard {
	cfg := Opts{
		Timeout:       DefaultTimeout,
		HTTPClient:    &http.Client{Timeout: DefaultFetchTimeout},
		ScratchDir:    os.TempDir(),
		Matchers:      DefaultMatchers,
		MaxMediaBytes: DefaultMaxMediaBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Guard{conn: conn, opts: cfg}
}

// Timeout returns the configured per-dispatch deadline.
func (g *Guard) Timeout() time.Duration {
	return g.opts.Timeout
}

type outcome struct {
	kind    Kind
	receipt models.Receipt
	err     error
}

// Dispatch sends body to target. A media marker in body is sent as media
// with the marker removed from the caption; otherwise att, when non-nil, is
// sent with body as caption; otherwise body is sent as text.
func (g *Guard) Dispatch(ctx context.Context, target, body string, att *models.Attachment) (Result, error) {
	if err := validate(target, body, att); err != nil {
		return Result{Target: target}, err
	}
	return g.run(ctx, target, func(sendCtx context.Context) outcome {
		return g.send(sendCtx, target, body, att)
	})
}

// Reply sends body as plain text under the same deadline. Markers are not
// interpreted, so text echoed from inbound messages can never trigger a fetch.
func (g *Guard) Reply(ctx context.Context, target, body string) (Result, error) {
	if err := validate(target, body, nil); err != nil {
		return Result{Target: target}, err
	}
	return g.run(ctx, target, func(sendCtx context.Context) outcome {
		r, err := g.conn.SendText(sendCtx, target, body)
		return outcome{kind: KindText, receipt: r, err: err}
	})
}

func validate(target, body string, att *models.Attachment) error {
	if target == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" && att == nil {
		return models.ErrEmptyBody
	}
	if len(body) > models.MaxMessageBodyLength {
		return models.ErrBodyTooLong
	}
	return nil
}

// run executes send on a detached context and waits for it up to the
// deadline. done has room for exactly one outcome and is received from once.
func (g *Guard) run(ctx context.Context, target string, send func(context.Context) outcome) (Result, error) {
	id := uuid.NewString()
	start := time.Now()
	done := make(chan outcome, 1)

	go func() {
		done <- send(context.WithoutCancel(ctx))
	}()

	timer := time.NewTimer(g.opts.Timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		res := Result{ID: id, Target: target, Kind: o.kind, Receipt: o.receipt, Duration: time.Since(start)}
		res.Receipt.ID = id
		res.Receipt.To = target
		if res.Receipt.Time == 0 {
			res.Receipt.Time = time.Now().Unix()
		}
		if o.err != nil {
			res.Receipt.Status = models.MessageStatusFailed
			res.Receipt.Error = o.err.Error()
			slog.Error("Guard.Dispatch: send failed", "id", id, "to", target, "kind", o.kind, "error", o.err)
		} else {
			slog.Info("Guard.Dispatch: sent", "id", id, "to", target, "kind", o.kind, "duration", res.Duration)
		}
		g.record(res.Receipt)
		return res, o.err
	case <-timer.C:
		go func() {
			o := <-done
			slog.Warn("Guard.Dispatch: send finished after timeout", "id", id, "to", target, "error", o.err)
		}()
		return g.abandon(id, target, start, ErrDispatchTimeout)
	case <-ctx.Done():
		go func() {
			o := <-done
			slog.Warn("Guard.Dispatch: send finished after caller gave up", "id", id, "to", target, "error", o.err)
		}()
		return g.abandon(id, target, start, ctx.Err())
	}
}

func (g *Guard) abandon(id, target string, start time.Time, err error) (Result, error) {
	res := Result{
		ID:       id,
		Target:   target,
		Duration: time.Since(start),
		Receipt: models.Receipt{
			ID:     id,
			To:     target,
			Status: models.MessageStatusTimeout,
			Error:  err.Error(),
			Time:   time.Now().Unix(),
		},
	}
	slog.Warn("Guard.Dispatch: gave up waiting for send", "id", id, "to", target, "timeout", g.opts.Timeout, "error", err)
	g.record(res.Receipt)
	return res, err
}

func (g *Guard) record(r models.Receipt) {
	if g.opts.Receipts == nil {
		return
	}
	if err := g.opts.Receipts.AddReceipt(r); err != nil {
		slog.Error("Guard.record: failed to store receipt", "id", r.ID, "error", err)
	}
}

func (g *Guard) send(ctx context.Context, target, body string, att *models.Attachment) outcome {
	for _, m := range g.opts.Matchers {
		loc := m.Pattern.FindStringSubmatchIndex(body)
		if loc == nil {
			continue
		}
		url := body[loc[2]:loc[3]]
		caption := body[:loc[0]] + body[loc[1]:]
		media, err := g.fetchMedia(ctx, url, m.Kind)
		if err != nil {
			return outcome{kind: KindMarker, err: fmt.Errorf("%w from %s: %v", ErrMediaFetch, url, err)}
		}
		r, err := g.conn.SendMedia(ctx, target, media, caption)
		return outcome{kind: KindMarker, receipt: r, err: err}
	}

	if att != nil {
		r, err := g.sendAttachment(ctx, target, body, *att)
		return outcome{kind: KindAttachment, receipt: r, err: err}
	}

	r, err := g.conn.SendText(ctx, target, body)
	return outcome{kind: KindText, receipt: r, err: err}
}
