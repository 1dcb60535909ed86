package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/BTreeMap/DeskPipe/internal/api"
	"github.com/BTreeMap/DeskPipe/internal/config"
	"github.com/BTreeMap/DeskPipe/internal/dispatch"
	"github.com/BTreeMap/DeskPipe/internal/store"
	"github.com/BTreeMap/DeskPipe/internal/util"
	"github.com/BTreeMap/DeskPipe/internal/whatsapp"
)

const banner = `
    ____            __   ____  _
   / __ \___  _____/ /__/ __ \(_)___  ___
  / / / / _ \/ ___/ //_/ /_/ / / __ \/ _ \
 / /_/ /  __(__  ) ,< / ____/ / /_/ /  __/
/_____/\___/____/_/|_/_/   /_/ .___/\___/
                            /_/
`

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	cfg, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg, err = parseCommandLineFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		slog.Error("Invalid command line configuration", "error", err)
		os.Exit(1)
	}
	initializeLogger(cfg.Logging.Level)

	if err := ensureDirectoriesExist(cfg); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	modules, err := buildModules(cfg)
	if err != nil {
		slog.Error("Failed to build module options", "error", err)
		os.Exit(1)
	}
	printBanner(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Bootstrapping DeskPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(modules.WhatsApp), "store", len(modules.Store), "dispatch", len(modules.Dispatch), "api", len(modules.API))
	if err := api.Run(ctx, modules); err != nil {
		slog.Error("DeskPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DeskPipe exited successfully")
}

// parseLogLevel maps LOG_LEVEL values to slog levels, defaulting to debug.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// initializeLogger sets up structured logging on stdout
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads the .env file, the optional TOML file named by
// $DESKPIPE_CONFIG, then overlays environment variables.
func loadEnvironmentConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	base := config.Default()
	if path := os.Getenv("DESKPIPE_CONFIG"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return base, fmt.Errorf("loading %s: %w", path, err)
		}
		slog.Debug("configuration file loaded", "path", path)
		base = loaded
	}

	cfg := config.ApplyEnv(base)
	slog.Debug("environment variables loaded",
		"DESKPIPE_STATE_DIR", cfg.StateDir,
		"WHATSAPP_DB_DSN_SET", cfg.WhatsApp.DBDSN != "",
		"DATABASE_DSN_SET", cfg.Store.DSN != "",
		"API_ADDR", cfg.API.Addr,
		"RESPONSES_FILE", cfg.Responder.ResponsesFile,
		"HUMANIZE_DELAY", cfg.Responder.Humanize,
		"DISPATCH_TIMEOUT", cfg.Dispatch.Timeout.Duration)
	return cfg, nil
}

// parseCommandLineFlags parses args into fs with cfg values as defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg config.Config) (config.Config, error) {
	stateDir := fs.String("state-dir", cfg.StateDir, "state directory for DeskPipe data (overrides $DESKPIPE_STATE_DIR)")
	dbDSN := fs.String("db-dsn", cfg.Store.DSN, "database DSN for the application store (overrides $DATABASE_DSN or $DATABASE_URL)")
	waDSN := fs.String("whatsapp-db-dsn", cfg.WhatsApp.DBDSN, "database DSN for the WhatsApp device store (overrides $WHATSAPP_DB_DSN)")
	historyFile := fs.String("history-file", cfg.Store.HistoryFile, "contact history file when no database DSN is set (overrides $HISTORY_FILE)")
	qrOutput := fs.String("qr-output", cfg.WhatsApp.QRPath, "path to write login QR code")
	numeric := fs.Bool("numeric-code", cfg.WhatsApp.NumericCode, "use numeric login code instead of QR code")
	apiAddr := fs.String("api-addr", cfg.API.Addr, "API server address (overrides $API_ADDR)")
	allowed := fs.String("allowed-networks", strings.Join(cfg.API.AllowedNetworks, ","), "comma separated networks allowed to call the API (overrides $ALLOWED_NETWORKS)")
	responsesFile := fs.String("responses-file", cfg.Responder.ResponsesFile, "canned responses file (overrides $RESPONSES_FILE)")
	humanize := fs.Bool("humanize", cfg.Responder.Humanize, "wait a random delay before automated replies (overrides $HUMANIZE_DELAY)")
	timeout := fs.Duration("dispatch-timeout", cfg.Dispatch.Timeout.Duration, "outbound send timeout (overrides $DISPATCH_TIMEOUT)")
	pacing := fs.Duration("batch-pacing", cfg.Dispatch.Pacing.Duration, "pause between batch recipients (overrides $BATCH_PACING)")
	logLevel := fs.String("log-level", cfg.Logging.Level, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.StateDir = *stateDir
	cfg.Store.DSN = *dbDSN
	cfg.WhatsApp.DBDSN = *waDSN
	cfg.Store.HistoryFile = *historyFile
	cfg.WhatsApp.QRPath = *qrOutput
	cfg.WhatsApp.NumericCode = *numeric
	cfg.API.Addr = *apiAddr
	cfg.API.AllowedNetworks = util.SplitList(*allowed)
	cfg.Responder.ResponsesFile = *responsesFile
	cfg.Responder.Humanize = *humanize
	cfg.Dispatch.Timeout.Duration = *timeout
	cfg.Dispatch.Pacing.Duration = *pacing
	cfg.Logging.Level = *logLevel

	slog.Debug("flags parsed",
		"stateDir", cfg.StateDir,
		"dbDSN_set", cfg.Store.DSN != "",
		"whatsappDSN_set", cfg.WhatsApp.DBDSN != "",
		"qrOutput", cfg.WhatsApp.QRPath,
		"numeric", cfg.WhatsApp.NumericCode,
		"apiAddr", cfg.API.Addr,
		"allowedNetworks", len(cfg.API.AllowedNetworks),
		"humanize", cfg.Responder.Humanize)

	return cfg, cfg.Validate()
}

// ensureDirectoriesExist creates the state directory and the history file's directory
func ensureDirectoriesExist(cfg config.Config) error {
	for _, dir := range []string{cfg.StateDir, filepath.Dir(cfg.HistoryPath())} {
		slog.Debug("Creating directory", "dir", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func buildModules(cfg config.Config) (api.Modules, error) {
	apiOpts, err := buildAPIOptions(cfg)
	if err != nil {
		return api.Modules{}, err
	}
	return api.Modules{
		StateDir:      cfg.StateDir,
		ResponsesFile: cfg.Responder.ResponsesFile,
		Humanize:      cfg.Responder.Humanize,
		WhatsApp:      buildWhatsAppOptions(cfg),
		Store:         buildStoreOptions(cfg),
		Dispatch:      buildDispatchOptions(cfg),
		Batch:         []dispatch.BatchOption{dispatch.WithPacing(cfg.Dispatch.Pacing.Duration)},
		API:           apiOpts,
	}, nil
}

// whatsmeowLogLevel keeps whatsmeow at INFO unless a quieter level is configured.
func whatsmeowLogLevel(level string) string {
	switch parseLogLevel(level) {
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(cfg config.Config) []whatsapp.Option {
	waOpts := []whatsapp.Option{
		whatsapp.WithDBDSN(cfg.WhatsAppDSN()),
		whatsapp.WithLogLevel(whatsmeowLogLevel(cfg.Logging.Level)),
	}
	if cfg.WhatsApp.QRPath != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QRPath))
	}
	if cfg.WhatsApp.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(cfg config.Config) []store.Option {
	storeOpts := []store.Option{store.WithFilePath(cfg.HistoryPath())}
	if cfg.Store.DSN == "" {
		slog.Debug("No database DSN provided, using file store", "path", cfg.HistoryPath())
		return storeOpts
	}
	if store.DetectDSNType(cfg.Store.DSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return append(storeOpts, store.WithPostgresDSN(cfg.Store.DSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", cfg.Store.DSN)
	return append(storeOpts, store.WithSQLiteDSN(cfg.Store.DSN))
}

func buildDispatchOptions(cfg config.Config) []dispatch.Option {
	return []dispatch.Option{dispatch.WithTimeout(cfg.Dispatch.Timeout.Duration)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(cfg config.Config) ([]api.Option, error) {
	nets, err := config.ParseNetworks(cfg.API.AllowedNetworks)
	if err != nil {
		return nil, err
	}
	return []api.Option{
		api.WithAddr(cfg.API.Addr),
		api.WithAllowedNetworks(nets),
	}, nil
}

func printBanner(cfg config.Config) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	green := color.New(color.FgGreen)
	storage := "file " + cfg.HistoryPath()
	if cfg.Store.DSN != "" {
		storage = store.DetectDSNType(cfg.Store.DSN)
	}
	green.Print("    ▶ ")
	fmt.Printf("State dir:  %s\n", cfg.StateDir)
	green.Print("    ▶ ")
	fmt.Printf("API:        %s\n", cfg.API.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Storage:    %s\n", storage)
	green.Print("    ▶ ")
	fmt.Printf("Humanize:   %v\n", cfg.Responder.Humanize)
	fmt.Println()
}
