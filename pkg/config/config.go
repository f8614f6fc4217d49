package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the profile configuration file inside a profile directory.
const FileName = "config.toml"

// ServerConfig defines the unix socket and websocket listeners.
type ServerConfig struct {
	SocketPath      string   `toml:"socketPath"`
	ListenAddr      string   `toml:"listenAddr"`
	WebSocketPath   string   `toml:"wsPath"`
	MetricsPath     string   `toml:"metricsPath"`
	OriginPatterns  []string `toml:"originPatterns"`
	MaxMessageBytes int64    `toml:"maxMessageBytes"`
	RateLimit       float64  `toml:"rateLimit"`
	RateBurst       int      `toml:"rateBurst"`
}

// LedgerConfig defines the dev chain backing the ledger collaborator.
type LedgerConfig struct {
	DBPath             string `toml:"dbPath"`
	Sender             string `toml:"sender"`
	Coinbase           string `toml:"coinbase"`
	GenesisBalance     string `toml:"genesisBalance"`
	CallTimeoutSeconds int    `toml:"callTimeoutSeconds"`
}

// CallTimeout returns the per-call backend timeout, zero meaning none.
func (c LedgerConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// ContentConfig defines the content-addressed block store.
type ContentConfig struct {
	DBPath string `toml:"dbPath"`
}

// DocumentConfig defines the external markdown compiler.
type DocumentConfig struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeoutSeconds"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
}

// DappConfig carries dapp-level settings exposed over RPC.
type DappConfig struct {
	RootContract string `toml:"rootContract"`
}

// ProfileConfig aggregates service configuration for a profile.
type ProfileConfig struct {
	ProfileName string         `toml:"profileName"`
	Server      ServerConfig   `toml:"server"`
	Ledger      LedgerConfig   `toml:"ledger"`
	Content     ContentConfig  `toml:"content"`
	Document    DocumentConfig `toml:"document"`
	Logging     LoggingConfig  `toml:"logging"`
	Dapp        DappConfig     `toml:"dapp"`
}

// DefaultProfile returns a profile usable for local development.
func DefaultProfile(name string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		Server: ServerConfig{
			SocketPath:      "ipc.sock",
			ListenAddr:      "127.0.0.1:8546",
			WebSocketPath:   "/ws",
			MetricsPath:     "/metrics",
			MaxMessageBytes: 1 << 20,
		},
		Ledger: LedgerConfig{
			DBPath:             "chain.db",
			Sender:             "0x00000000000000000000000000000000000000a1",
			Coinbase:           "0x00000000000000000000000000000000000000c0",
			GenesisBalance:     "0x3635c9adc5dea00000",
			CallTimeoutSeconds: 10,
		},
		Content: ContentConfig{DBPath: "blocks.db"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads the config.toml stored in profileDir.
func LoadProfile(profileDir string) (*ProfileConfig, error) {
	return Load(filepath.Join(profileDir, FileName))
}

// Save writes cfg as TOML to path.
func Save(path string, cfg *ProfileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// ResolvePath makes relative paths relative to the profile directory.
func ResolvePath(profileDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(profileDir, path)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.dbPath required")
	}
	if cfg.Content.DBPath == "" {
		return fmt.Errorf("content.dbPath required")
	}
	if cfg.Server.SocketPath == "" && cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.socketPath or server.listenAddr required")
	}
	if cfg.Server.RateLimit < 0 || cfg.Server.RateBurst < 0 {
		return fmt.Errorf("server.rateLimit and server.rateBurst must not be negative")
	}
	if cfg.Server.WebSocketPath == "" {
		cfg.Server.WebSocketPath = "/ws"
	}
	if cfg.Server.MaxMessageBytes <= 0 {
		cfg.Server.MaxMessageBytes = 1 << 20
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}
