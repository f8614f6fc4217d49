package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadProfile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultProfile("dev")
	cfg.Dapp.RootContract = "0xabc"
	require.NoError(t, Save(filepath.Join(dir, FileName), cfg))

	loaded, err := LoadProfile(dir)
	require.NoError(t, err)
	assert.Equal(t, "dev", loaded.ProfileName)
	assert.Equal(t, "0xabc", loaded.Dapp.RootContract)
	assert.Equal(t, cfg.Ledger.Sender, loaded.Ledger.Sender)
	assert.Equal(t, 10*time.Second, loaded.Ledger.CallTimeout())
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	t.Run("missing profile name", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("[ledger]\ndbPath = \"c.db\"\n"), 0o600))
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		body := `profileName = "p"
[server]
socketPath = "s.sock"
rateLimit = 5.0
[ledger]
dbPath = "c.db"
[content]
dbPath = "b.db"
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
		assert.Equal(t, int64(1<<20), cfg.Server.MaxMessageBytes)
		assert.Equal(t, 1, cfg.Server.RateBurst)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Zero(t, cfg.Ledger.CallTimeout())
	})
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("prof", "chain.db"), ResolvePath("prof", "chain.db"))
	assert.Equal(t, "/abs/chain.db", ResolvePath("prof", "/abs/chain.db"))
	assert.Equal(t, "", ResolvePath("prof", ""))
}
