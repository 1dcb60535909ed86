package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20*time.Second, cfg.Dispatch.Timeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.Pacing.Duration)
	assert.True(t, cfg.Responder.Humanize)
	assert.Equal(t, DefaultAllowedNetworks, cfg.API.AllowedNetworks)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DESKPIPE_TEST_PG", "postgres://u:p@db/deskpipe")
	path := writeFile(t, "deskpipe.toml", `
state_dir = "/tmp/deskpipe"

[api]
addr = "127.0.0.1:9000"
allowed_networks = ["10.0.0.0/8"]

[store]
dsn = "${DESKPIPE_TEST_PG}"

[dispatch]
timeout = "30s"

[responder]
humanize = false
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/deskpipe", cfg.StateDir)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Addr)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.API.AllowedNetworks)
	assert.Equal(t, "postgres://u:p@db/deskpipe", cfg.Store.DSN)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.Pacing.Duration, "unset keys keep defaults")
	assert.False(t, cfg.Responder.Humanize)
	assert.Equal(t, "postgres://u:p@db/deskpipe", cfg.WhatsAppDSN())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "bad.toml", "state_dir = \n"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "dur.toml", "[dispatch]\ntimeout = \"soon\"\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "net.toml", "[api]\nallowed_networks = [\"not-an-ip\"]\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DESKPIPE_STATE_DIR", "/srv/deskpipe")
	t.Setenv("API_ADDR", ":8081")
	t.Setenv("ALLOWED_NETWORKS", "10.1.0.0/16, 127.0.0.1")
	t.Setenv("DATABASE_URL", "postgres://url")
	t.Setenv("DATABASE_DSN", "postgres://dsn")
	t.Setenv("HUMANIZE_DELAY", "off")
	t.Setenv("DISPATCH_TIMEOUT", "45s")
	t.Setenv("BATCH_PACING", "garbage")

	cfg := ApplyEnv(Default())
	assert.Equal(t, "/srv/deskpipe", cfg.StateDir)
	assert.Equal(t, ":8081", cfg.API.Addr)
	assert.Equal(t, []string{"10.1.0.0/16", "127.0.0.1"}, cfg.API.AllowedNetworks)
	assert.Equal(t, "postgres://dsn", cfg.Store.DSN)
	assert.False(t, cfg.Responder.Humanize)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.Timeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.Pacing.Duration)
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/data"
	assert.Equal(t, "/data/contact_history.json", cfg.HistoryPath())
	assert.Equal(t, "file:/data/whatsmeow.db?_foreign_keys=on", cfg.WhatsAppDSN())

	cfg.Store.HistoryFile = "/elsewhere/history.json"
	cfg.Store.DSN = "/data/deskpipe.db"
	assert.Equal(t, "/elsewhere/history.json", cfg.HistoryPath())
	assert.Equal(t, "file:/data/whatsmeow.db?_foreign_keys=on", cfg.WhatsAppDSN(), "sqlite store DSN is not shared")

	cfg.WhatsApp.DBDSN = "file:/wa.db"
	assert.Equal(t, "file:/wa.db", cfg.WhatsAppDSN())
}

func TestParseNetworks(t *testing.T) {
	prefixes, err := ParseNetworks([]string{"192.168.1.7/16", "127.0.0.1", "::1", " "})
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, netip.MustParsePrefix("192.168.0.0/16"), prefixes[0])
	assert.Equal(t, netip.MustParsePrefix("127.0.0.1/32"), prefixes[1])
	assert.Equal(t, netip.MustParsePrefix("::1/128"), prefixes[2])

	_, err = ParseNetworks([]string{"300.1.1.1"})
	assert.Error(t, err)
}

func TestLoadResponses(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		path := writeFile(t, "responses.json", `{"inicio": ["Olá!"], "resposta_fim": ["Até já.", "Um instante."]}`)
		pool, err := LoadResponses(path)
		require.NoError(t, err)
		openings, closings := pool.Counts()
		assert.Equal(t, 1, openings)
		assert.Equal(t, 2, closings)
		assert.Equal(t, "Olá!", pool.Opening())
	})

	t.Run("yaml with missing list", func(t *testing.T) {
		path := writeFile(t, "responses.yaml", "inicio:\n  - Oi\n")
		pool, err := LoadResponses(path)
		require.NoError(t, err)
		openings, closings := pool.Counts()
		assert.Equal(t, 1, openings)
		assert.Equal(t, 3, closings)
	})

	t.Run("missing file falls back", func(t *testing.T) {
		pool, err := LoadResponses(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
		require.NotNil(t, pool)
		openings, closings := pool.Counts()
		assert.Equal(t, 4, openings)
		assert.Equal(t, 3, closings)
	})

	t.Run("malformed file falls back", func(t *testing.T) {
		pool, err := LoadResponses(writeFile(t, "bad.json", `{"inicio": [`))
		assert.Error(t, err)
		require.NotNil(t, pool)
		openings, _ := pool.Counts()
		assert.Equal(t, 4, openings)
	})
}
