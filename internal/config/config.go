// Package config holds operator-level configuration for a warden process.
//
// This is infrastructure config set by whoever deploys warden: data
// directory, platform URL and token, model endpoint, limits, signing key.
// Set via env vars (WARDEN_*) or config file (warden.config.yaml). The
// action catalog is a separate document (see internal/catalog) because it is
// a security artifact with its own schema and validation, not tunable knobs.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the WARDEN_ prefix
// (e.g. "hass_token" → WARDEN_HASS_TOKEN) and to a YAML field in
// warden.config.yaml.
const (
	KeyDataDir            = "data_dir"
	KeySigningKey         = "signing_key"
	KeyCatalogPath        = "catalog_path"
	KeyHassBaseURL        = "hass_base_url"
	KeyHassToken          = "hass_token"
	KeyOllamaBaseURL      = "ollama_base_url"
	KeyModel              = "model"
	KeyMaxInputChars      = "max_input_chars"
	KeyMaxHistoryTurns    = "max_history_turns"
	KeyHistoryMaxAgeDays  = "history_max_age_days"
	KeyPromptHistoryTurns = "prompt_history_turns"
	KeyMaxContextEntities = "max_context_entities"
)

// Defaults that do not involve crypto material. The signing key has no
// baked-in default — when unset we generate a deterministic per-machine
// fallback and warn loudly.
const (
	DefaultHassURL            = "http://localhost:8123"
	DefaultOllamaURL          = "http://localhost:11434"
	DefaultModel              = "qwen2.5:1.5b"
	DefaultMaxInputChars      = 1000
	DefaultMaxHistoryTurns    = 50
	DefaultHistoryMaxAgeDays  = 7
	DefaultPromptHistoryTurns = 12
	DefaultMaxContextEntities = 16
)

// Config holds resolved operator-level configuration for a warden process.
type Config struct {
	DataDir            string // Base directory for all state (~/.warden)
	SigningKey         string // HMAC-SHA256 key for audit log signing (≥32 bytes)
	CatalogPath        string // Path to catalog YAML; empty means embedded default
	HassBaseURL        string // Home-automation platform API endpoint
	HassToken          string // Bearer token for the platform API
	OllamaBaseURL      string // Model endpoint
	Model              string // Model identifier passed to the endpoint
	MaxInputChars      int    // Global sanitizer length limit
	MaxHistoryTurns    int    // History length cap (FIFO eviction beyond this)
	HistoryMaxAgeDays  int    // Age-based full clear threshold
	PromptHistoryTurns int    // Turns included in each prompt
	MaxContextEntities int    // Context snapshot entity cap

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the signing key was derived
// rather than set explicitly. Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// HistoryDBPath returns the full path to the conversation history database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// AuditLogPath returns the full path to the security event log.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataDir, "security.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when the signing key is not explicitly set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default WARDEN_SIGNING_KEY — set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.SetDefault(KeyHassBaseURL, DefaultHassURL)
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeyModel, DefaultModel)
	viper.SetDefault(KeyMaxInputChars, DefaultMaxInputChars)
	viper.SetDefault(KeyMaxHistoryTurns, DefaultMaxHistoryTurns)
	viper.SetDefault(KeyHistoryMaxAgeDays, DefaultHistoryMaxAgeDays)
	viper.SetDefault(KeyPromptHistoryTurns, DefaultPromptHistoryTurns)
	viper.SetDefault(KeyMaxContextEntities, DefaultMaxContextEntities)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:            resolveDataDir(),
		SigningKey:         viper.GetString(KeySigningKey),
		CatalogPath:        viper.GetString(KeyCatalogPath),
		HassBaseURL:        viper.GetString(KeyHassBaseURL),
		HassToken:          viper.GetString(KeyHassToken),
		OllamaBaseURL:      viper.GetString(KeyOllamaBaseURL),
		Model:              viper.GetString(KeyModel),
		MaxInputChars:      viper.GetInt(KeyMaxInputChars),
		MaxHistoryTurns:    viper.GetInt(KeyMaxHistoryTurns),
		HistoryMaxAgeDays:  viper.GetInt(KeyHistoryMaxAgeDays),
		PromptHistoryTurns: viper.GetInt(KeyPromptHistoryTurns),
		MaxContextEntities: viper.GetInt(KeyMaxContextEntities),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong — it
// exists solely so warden works out of the box while still signing the audit
// log with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("warden:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if len(c.SigningKey) < 32 {
		return fmt.Errorf("signing_key must be at least 32 bytes (got %d); set WARDEN_SIGNING_KEY", len(c.SigningKey))
	}
	if c.MaxInputChars <= 0 {
		return fmt.Errorf("max_input_chars must be positive")
	}
	if c.MaxHistoryTurns <= 0 {
		return fmt.Errorf("max_history_turns must be positive")
	}
	if c.HistoryMaxAgeDays <= 0 {
		return fmt.Errorf("history_max_age_days must be positive")
	}
	if c.PromptHistoryTurns <= 0 || c.PromptHistoryTurns > c.MaxHistoryTurns {
		return fmt.Errorf("prompt_history_turns must be in 1..%d", c.MaxHistoryTurns)
	}
	if c.MaxContextEntities <= 0 {
		return fmt.Errorf("max_context_entities must be positive")
	}
	return nil
}
