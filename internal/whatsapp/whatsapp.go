// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in DeskPipe.
//
// It owns the device store, the pairing (QR) flow, and the low-level send,
// upload, contact and group calls. Translation into DeskPipe events happens in
// the messaging package.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/BTreeMap/DeskPipe/internal/models"
	"github.com/BTreeMap/DeskPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/deskpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
	// GroupSuffix is the WhatsApp JID suffix for group chats
	GroupSuffix = "g.us"
)

var (
	ErrNotInitialized  = errors.New("whatsapp client not initialized")
	ErrNotLoggedIn     = errors.New("whatsapp session is not logged in")
	ErrContactNotFound = errors.New("contact has no known name")
)

// Opts holds configuration options for the WhatsApp client.
// This focuses solely on WhatsApp/whatsmeow database configuration and login settings.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR drawing
	LogLevel    string // whatsmeow log level (DEBUG, INFO, WARN, ERROR)
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to print the raw pairing code instead of a QR drawing.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogLevel sets the whatsmeow log level.
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = level
	}
}

// Client wraps the Whatsmeow client for modular use.
// The underlying client is replaced on Reset, so handlers are kept here and
// re-registered on every new whatsmeow client.
type Client struct {
	cfg       Opts
	container *sqlstore.Container

	mu       sync.RWMutex
	waClient *whatsmeow.Client
	handlers []func(evt any)
	qrCode   string
	state    models.ConnectionState
}

// NewClient opens the device store and prepares a whatsmeow client.
// It does not connect; call Connect to start the session or the pairing flow.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
		slog.Debug("WhatsApp client auto-detected PostgreSQL driver", "dsn_type", "postgresql")
	} else {
		dbDriver = "sqlite3"
		slog.Debug("WhatsApp client auto-detected SQLite driver", "dsn_type", "sqlite")

		// whatsmeow requires foreign keys on SQLite
		if !strings.Contains(dbDSN, "_foreign_keys") && !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
				"The whatsmeow library strongly recommends enabling foreign keys for data integrity. "+
				"Consider adding '?_foreign_keys=on' to your connection string.",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	slog.Debug("WhatsApp DB store initialized")

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{cfg: cfg, container: container, state: models.ConnectionDisconnected}
	c.waClient = whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true))
	c.waClient.AddEventHandler(c.dispatch)
	return c, nil
}

// Connect connects an existing session, or starts the QR pairing flow when
// the device is not registered yet. Pairing codes are consumed in the
// background; LatestQR returns the current one.
func (c *Client) Connect(ctx context.Context) error {
	cli := c.client()
	if cli == nil {
		return ErrNotInitialized
	}
	c.setState(models.ConnectionConnecting)

	if cli.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			c.setState(models.ConnectionDisconnected)
			return fmt.Errorf("failed to open WhatsApp QR channel: %w", err)
		}
		if err := cli.Connect(); err != nil {
			c.setState(models.ConnectionDisconnected)
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		go c.pair(qrChan)
		return nil
	}

	slog.Debug("WhatsApp already logged in, connecting to server")
	if err := cli.Connect(); err != nil {
		c.setState(models.ConnectionDisconnected)
		slog.Error("Failed to connect to WhatsApp server", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	return nil
}

// pair consumes pairing events until the channel closes.
func (c *Client) pair(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case whatsmeow.QRChannelEventCode:
			c.mu.Lock()
			c.qrCode = evt.Code
			c.mu.Unlock()
			slog.Debug("WhatsApp login event code received")
			c.printCode(evt.Code)
		case whatsmeow.QRChannelSuccess.Event:
			c.clearQR()
			slog.Info("WhatsApp pairing succeeded")
		default:
			c.clearQR()
			slog.Warn("WhatsApp pairing event", "event", evt.Event)
		}
	}
}

func (c *Client) printCode(code string) {
	writer := io.Writer(os.Stdout)
	if c.cfg.QRPath != "" {
		f, err := os.Create(c.cfg.QRPath)
		if err != nil {
			slog.Error("Failed to create QR file", "error", err)
			return
		}
		defer f.Close()
		writer = f
	}
	if c.cfg.NumericCode {
		fmt.Fprintln(writer, code)
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, writer)
}

func (c *Client) clearQR() {
	c.mu.Lock()
	c.qrCode = ""
	c.mu.Unlock()
}

// LatestQR returns the pairing code currently on offer, or "" when none.
func (c *Client) LatestQR() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.qrCode
}

// Reset logs the session out, discards the device and starts pairing again.
func (c *Client) Reset(ctx context.Context) error {
	cli := c.client()
	if cli == nil {
		return ErrNotInitialized
	}
	if cli.IsLoggedIn() {
		if err := cli.Logout(ctx); err != nil {
			slog.Warn("WhatsApp logout failed, discarding device anyway", "error", err)
		}
	}
	cli.Disconnect()

	device := c.container.NewDevice()
	next := whatsmeow.NewClient(device, waLog.Stdout("Client", c.cfg.LogLevel, true))
	next.AddEventHandler(c.dispatch)

	c.mu.Lock()
	c.waClient = next
	c.qrCode = ""
	c.state = models.ConnectionDisconnected
	c.mu.Unlock()

	slog.Info("WhatsApp session discarded, restarting pairing")
	return c.Connect(ctx)
}

// Disconnect closes the websocket without logging out.
func (c *Client) Disconnect() {
	if cli := c.client(); cli != nil {
		cli.Disconnect()
	}
	c.setState(models.ConnectionDisconnected)
}

// AddEventHandler registers h for every raw whatsmeow event, across resets.
func (c *Client) AddEventHandler(h func(evt any)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *Client) dispatch(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		c.setState(models.ConnectionConnected)
	case *events.Disconnected, *events.StreamReplaced:
		c.setState(models.ConnectionDisconnected)
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out", "reason", v.Reason)
		c.setState(models.ConnectionDisconnected)
	}

	c.mu.RLock()
	handlers := slices.Clone(c.handlers)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (c *Client) client() *whatsmeow.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waClient
}

func (c *Client) setState(s models.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection state.
func (c *Client) State() models.ConnectionState {
	cli := c.client()
	c.mu.RLock()
	s := c.state
	c.mu.RUnlock()
	if s == models.ConnectionConnected && (cli == nil || !cli.IsConnected() || !cli.IsLoggedIn()) {
		return models.ConnectionDisconnected
	}
	return s
}

// SelfJID returns the logged-in account's JID, or "" before pairing.
func (c *Client) SelfJID() string {
	cli := c.client()
	if cli == nil || cli.Store == nil || cli.Store.ID == nil {
		return ""
	}
	return cli.Store.ID.ToNonAD().String()
}

// SelfLID returns the logged-in account's hidden user ID, or "" when unknown.
// Group mentions may reference the account by this ID.
func (c *Client) SelfLID() string {
	cli := c.client()
	if cli == nil || cli.Store == nil || cli.Store.LID.IsEmpty() {
		return ""
	}
	return cli.Store.LID.ToNonAD().String()
}

// ParseTarget turns a JID string or a bare phone number into a JID.
func ParseTarget(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.JID{}, models.ErrEmptyRecipient
	}
	if !strings.Contains(to, "@") {
		return types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix), nil
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	return jid, nil
}

func (c *Client) ready() (*whatsmeow.Client, error) {
	cli := c.client()
	if cli == nil || cli.Store == nil {
		return nil, ErrNotInitialized
	}
	if cli.Store.ID == nil {
		return nil, ErrNotLoggedIn
	}
	return cli, nil
}

// SendText sends a plain text message and returns the platform message ID.
func (c *Client) SendText(ctx context.Context, to string, body string) (string, error) {
	cli, err := c.ready()
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", models.ErrEmptyBody
	}
	jid, err := ParseTarget(to)
	if err != nil {
		return "", err
	}

	slog.Debug("Sending WhatsApp message", "to", jid.String(), "body_length", len(body))
	resp, err := cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", jid.String())
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", jid.String(), "id", resp.ID)
	return resp.ID, nil
}

// SendMedia uploads media and sends it with an optional caption.
func (c *Client) SendMedia(ctx context.Context, to string, media models.Media, caption string) (string, error) {
	cli, err := c.ready()
	if err != nil {
		return "", err
	}
	if len(media.Data) == 0 {
		return "", fmt.Errorf("media payload is empty")
	}
	jid, err := ParseTarget(to)
	if err != nil {
		return "", err
	}

	appInfo := whatsmeow.MediaDocument
	if media.Kind == models.MediaImage {
		appInfo = whatsmeow.MediaImage
	}
	up, err := cli.Upload(ctx, media.Data, appInfo)
	if err != nil {
		return "", fmt.Errorf("failed to upload media for %s: %w", to, err)
	}

	msg := &waE2E.Message{}
	switch media.Kind {
	case models.MediaImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       optionalString(caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       optionalString(caption),
			Mimetype:      proto.String(media.MimeType),
			FileName:      optionalString(media.FileName),
			Title:         optionalString(media.FileName),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
	}

	slog.Debug("Sending WhatsApp media", "to", jid.String(), "kind", media.Kind, "size", len(media.Data))
	resp, err := cli.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Failed to send WhatsApp media", "error", err, "to", jid.String())
		return "", fmt.Errorf("failed to send media to %s: %w", to, err)
	}
	return resp.ID, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// ContactName returns the best known name for a participant.
func (c *Client) ContactName(ctx context.Context, id string) (string, error) {
	cli, err := c.ready()
	if err != nil {
		return "", err
	}
	jid, err := ParseTarget(id)
	if err != nil {
		return "", err
	}
	info, err := cli.Store.Contacts.GetContact(ctx, jid.ToNonAD())
	if err != nil {
		return "", fmt.Errorf("failed to look up contact %s: %w", id, err)
	}
	for _, name := range []string{info.FullName, info.PushName, info.FirstName, info.BusinessName} {
		if name != "" {
			return name, nil
		}
	}
	return "", ErrContactNotFound
}

// JoinedGroups lists the groups the account belongs to.
func (c *Client) JoinedGroups(ctx context.Context) ([]models.Chat, error) {
	cli, err := c.ready()
	if err != nil {
		return nil, err
	}
	groups, err := cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined groups: %w", err)
	}
	chats := make([]models.Chat, 0, len(groups))
	for _, g := range groups {
		chats = append(chats, models.Chat{ID: g.JID.String(), Name: g.Name, IsGroup: true})
	}
	return chats, nil
}

// RejectCall declines an incoming call offer.
func (c *Client) RejectCall(ctx context.Context, from, callID string) error {
	cli, err := c.ready()
	if err != nil {
		return err
	}
	jid, err := ParseTarget(from)
	if err != nil {
		return err
	}
	if err := cli.RejectCall(jid, callID); err != nil {
		return fmt.Errorf("failed to reject call %s from %s: %w", callID, from, err)
	}
	return nil
}
