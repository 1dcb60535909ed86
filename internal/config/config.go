// Package config loads DeskPipe's optional TOML configuration file and the
// canned responses file, and overlays environment variables on top.
//
// Precedence, lowest first: built-in defaults, config file, environment,
// command line flags (applied by cmd/DeskPipe).
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/BTreeMap/DeskPipe/internal/store"
	"github.com/BTreeMap/DeskPipe/internal/util"
)

const (
	// DefaultStateDir holds the lock file, the history file and the whatsmeow database.
	DefaultStateDir = "/var/lib/deskpipe"
	// DefaultAPIAddr is the HTTP control surface address.
	DefaultAPIAddr = ":3001"
	// DefaultResponsesFile is looked up relative to the working directory.
	DefaultResponsesFile = "responses.json"
	// HistoryFileName is the contact history file inside the state dir.
	HistoryFileName = "contact_history.json"
	// WhatsAppDBFileName is the whatsmeow SQLite database inside the state dir.
	WhatsAppDBFileName = "whatsmeow.db"
)

// DefaultAllowedNetworks is the origin allow-list used when none is configured.
var DefaultAllowedNetworks = []string{
	"192.168.0.0/16",
	"127.0.0.1",
	"::1",
	"38.224.195.0/24",
}

// Config is the complete runtime configuration.
type Config struct {
	StateDir  string          `toml:"state_dir"`
	API       APIConfig       `toml:"api"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Store     StoreConfig     `toml:"store"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Responder ResponderConfig `toml:"responder"`
	Logging   LoggingConfig   `toml:"logging"`
}

type APIConfig struct {
	Addr            string   `toml:"addr"`
	AllowedNetworks []string `toml:"allowed_networks"`
}

type WhatsAppConfig struct {
	DBDSN       string `toml:"db_dsn"`
	QRPath      string `toml:"qr_output"`
	NumericCode bool   `toml:"numeric_code"`
}

type StoreConfig struct {
	DSN         string `toml:"dsn"`
	HistoryFile string `toml:"history_file"`
}

type DispatchConfig struct {
	Timeout Duration `toml:"timeout"`
	Pacing  Duration `toml:"pacing"`
}

type ResponderConfig struct {
	ResponsesFile string `toml:"responses_file"`
	Humanize      bool   `toml:"humanize"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a Go duration string ("20s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StateDir: DefaultStateDir,
		API: APIConfig{
			Addr:            DefaultAPIAddr,
			AllowedNetworks: append([]string(nil), DefaultAllowedNetworks...),
		},
		Dispatch: DispatchConfig{
			Timeout: Duration{20 * time.Second},
			Pacing:  Duration{5 * time.Second},
		},
		Responder: ResponderConfig{
			ResponsesFile: DefaultResponsesFile,
			Humanize:      true,
		},
		Logging: LoggingConfig{Level: "debug"},
	}
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value; unset variables expand to "".
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

// LoadFile reads a TOML file on top of Default, expanding ${VAR} references first.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the DeskPipe environment variables onto cfg.
func ApplyEnv(cfg Config) Config {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.StateDir, "DESKPIPE_STATE_DIR")
	setString(&cfg.API.Addr, "API_ADDR")
	setString(&cfg.WhatsApp.DBDSN, "WHATSAPP_DB_DSN")
	setString(&cfg.WhatsApp.QRPath, "WHATSAPP_QR_OUTPUT")
	setString(&cfg.Store.DSN, "DATABASE_URL")
	// DATABASE_DSN wins over DATABASE_URL when both are set
	setString(&cfg.Store.DSN, "DATABASE_DSN")
	setString(&cfg.Store.HistoryFile, "HISTORY_FILE")
	setString(&cfg.Responder.ResponsesFile, "RESPONSES_FILE")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	if nets := util.SplitList(os.Getenv("ALLOWED_NETWORKS")); len(nets) > 0 {
		cfg.API.AllowedNetworks = nets
	}
	cfg.WhatsApp.NumericCode = util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", cfg.WhatsApp.NumericCode)
	cfg.Responder.Humanize = util.ParseBoolEnv("HUMANIZE_DELAY", cfg.Responder.Humanize)
	cfg.Dispatch.Timeout.Duration = util.ParseDurationEnv("DISPATCH_TIMEOUT", cfg.Dispatch.Timeout.Duration)
	cfg.Dispatch.Pacing.Duration = util.ParseDurationEnv("BATCH_PACING", cfg.Dispatch.Pacing.Duration)
	return cfg
}

// Validate checks values that would otherwise fail deep inside a constructor.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StateDir) == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	if _, err := ParseNetworks(c.API.AllowedNetworks); err != nil {
		return fmt.Errorf("api.allowed_networks: %w", err)
	}
	if c.Dispatch.Timeout.Duration <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}
	if c.Dispatch.Pacing.Duration < 0 {
		return fmt.Errorf("dispatch.pacing cannot be negative")
	}
	return nil
}

// HistoryPath returns the contact history file, defaulting to one inside StateDir.
func (c Config) HistoryPath() string {
	if c.Store.HistoryFile != "" {
		return c.Store.HistoryFile
	}
	return filepath.Join(c.StateDir, HistoryFileName)
}

// WhatsAppDSN returns the whatsmeow store DSN: explicit, else the shared
// PostgreSQL store DSN, else a SQLite file inside StateDir.
func (c Config) WhatsAppDSN() string {
	switch {
	case c.WhatsApp.DBDSN != "":
		return c.WhatsApp.DBDSN
	case c.Store.DSN != "" && store.DetectDSNType(c.Store.DSN) == "postgres":
		return c.Store.DSN
	default:
		return "file:" + filepath.Join(c.StateDir, WhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// ParseNetworks parses CIDR prefixes and bare addresses into prefixes.
// A bare address becomes a single-host prefix.
func ParseNetworks(items []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q: %w", item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", item, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
