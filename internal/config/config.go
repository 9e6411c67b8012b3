// Package config implements spec.md §6 Environment: the knobs an operator
// can override at startup, loaded the way cmd/streammon/main.go loads
// DB_PATH/LISTEN_ADDR/etc — small envOr/envDuration/envInt helpers, no
// config-file framework. The admin password is hashed with argon2id
// (kept from the teacher's internal/auth/password.go) and, when an
// encryption key is configured, VLC credentials are sealed at rest with
// internal/crypto's AES-256-GCM Encryptor before being persisted under
// store.KeyConfigAdmin.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"alnorchestrator/internal/crypto"
	"alnorchestrator/internal/store"
)

// StorageType selects the persistence backend (spec.md §6 Environment
// "storage type (memory|file)").
type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageFile   StorageType = "file"
)

// Defaults match spec.md's named knobs where it gives a concrete number
// elsewhere (§4.8 maxQueueSize=100, §4.11 heartbeat timeout=30s); the rest
// are conservative operator-facing defaults.
const (
	DefaultDataDir                = "./data"
	DefaultSessionTimeoutMinutes  = 60
	DefaultMaxGMStations          = 10
	DefaultRecentTransactionCount = 100
	DefaultMaxOfflineQueueSize    = 100
	DefaultHeartbeatTimeout       = 30 * time.Second
)

// Config is the full set of startup-overridable knobs (spec.md §6
// Environment).
type Config struct {
	Storage                 StorageType
	DataDir                 string
	SessionTimeoutMinutes   int
	MaxGMStations           int
	RecentTransactionCount  int
	MaxOfflineQueueSize     int
	HeartbeatTimeout        time.Duration
	VideoPlaybackEnabled    bool
	HTTPSEnabled            bool
	ListenAddr              string

	// AdminPasswordHash is the argon2id hash of the configured admin
	// password, or "" if none was set (§7 "unavailable" paths degrade
	// rather than fail — callers should compare against DummyHash to
	// keep response timing constant when this is empty).
	AdminPasswordHash string

	// VLCHost/VLCPassword are placeholders per spec.md §6 "VLC
	// credentials" — the VLC driver itself is a Non-goal (§1), but the
	// configuration knob and its at-rest encryption are not.
	VLCHost     string
	VLCPassword string

	encryptor *crypto.Encryptor
}

// AdminConfigRecord is the shape persisted under store.KeyConfigAdmin
// (spec.md §6 Persistence keys "config:admin"). VLCPasswordSealed holds
// the base64 AES-256-GCM ciphertext when an encryption key is configured,
// the plaintext password otherwise.
type AdminConfigRecord struct {
	AdminPasswordHash  string `json:"admin_password_hash"`
	VLCHost            string `json:"vlc_host"`
	VLCPasswordSealed  string `json:"vlc_password_sealed"`
	VLCPasswordEncrypted bool `json:"vlc_password_encrypted"`
}

// Load reads every knob from the environment, falling back to defaults,
// and hashes ADMIN_PASSWORD if set. Mirrors cmd/streammon/main.go's
// envOr/os.Getenv idiom.
func Load() (*Config, error) {
	cfg := &Config{
		Storage:                StorageType(envOr("STORAGE_TYPE", string(StorageFile))),
		DataDir:                envOr("DATA_DIR", DefaultDataDir),
		SessionTimeoutMinutes:  envInt("SESSION_TIMEOUT_MINUTES", DefaultSessionTimeoutMinutes),
		MaxGMStations:          envInt("MAX_GM_STATIONS", DefaultMaxGMStations),
		RecentTransactionCount: envInt("RECENT_TRANSACTIONS_COUNT", DefaultRecentTransactionCount),
		MaxOfflineQueueSize:    envInt("MAX_OFFLINE_QUEUE_SIZE", DefaultMaxOfflineQueueSize),
		HeartbeatTimeout:       envDuration("HEARTBEAT_TIMEOUT", DefaultHeartbeatTimeout),
		VideoPlaybackEnabled:   envBool("VIDEO_PLAYBACK_ENABLED", true),
		HTTPSEnabled:           envBool("HTTPS_ENABLED", false),
		ListenAddr:             envOr("LISTEN_ADDR", ":8080"),
		VLCHost:                os.Getenv("VLC_HOST"),
		VLCPassword:            os.Getenv("VLC_PASSWORD"),
	}

	if cfg.Storage != StorageMemory && cfg.Storage != StorageFile {
		return nil, fmt.Errorf("invalid STORAGE_TYPE %q: must be %q or %q", cfg.Storage, StorageMemory, StorageFile)
	}

	if key := os.Getenv("CONFIG_ENCRYPTION_KEY"); key != "" {
		enc, err := crypto.NewEncryptor(key)
		if err != nil {
			return nil, fmt.Errorf("invalid CONFIG_ENCRYPTION_KEY: %w", err)
		}
		cfg.encryptor = enc
	}

	if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" {
		if err := ValidatePassword(pw); err != nil {
			return nil, fmt.Errorf("ADMIN_PASSWORD: %w", err)
		}
		hash, err := HashPassword(pw)
		if err != nil {
			return nil, fmt.Errorf("hashing admin password: %w", err)
		}
		cfg.AdminPasswordHash = hash
	}

	return cfg, nil
}

// VerifyAdminPassword compares password against the configured hash,
// falling back to DummyHash when no admin password is configured so the
// response timing doesn't leak whether one is set.
func (c *Config) VerifyAdminPassword(password string) (bool, error) {
	hash := c.AdminPasswordHash
	if hash == "" {
		hash = DummyHash
	}
	ok, err := VerifyPassword(password, hash)
	if err != nil {
		return false, err
	}
	return ok && c.AdminPasswordHash != "", nil
}

// Persist saves the admin-facing configuration blob under
// store.KeyConfigAdmin, sealing VLCPassword with the configured encryptor
// if one is set (spec.md §6 Persistence keys "config:admin").
func (c *Config) Persist(ctx context.Context, st store.Store) error {
	rec := AdminConfigRecord{
		AdminPasswordHash: c.AdminPasswordHash,
		VLCHost:           c.VLCHost,
	}
	if c.encryptor != nil && c.VLCPassword != "" {
		sealed, err := c.encryptor.Encrypt(c.VLCPassword)
		if err != nil {
			return fmt.Errorf("sealing vlc password: %w", err)
		}
		rec.VLCPasswordSealed = sealed
		rec.VLCPasswordEncrypted = true
	} else {
		rec.VLCPasswordSealed = c.VLCPassword
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling admin config: %w", err)
	}
	return st.Save(ctx, store.KeyConfigAdmin, blob)
}

// RestoreVLCPassword reads the sealed VLC password back out of rec,
// decrypting it if it was stored encrypted.
func (c *Config) RestoreVLCPassword(rec AdminConfigRecord) (string, error) {
	if !rec.VLCPasswordEncrypted {
		return rec.VLCPasswordSealed, nil
	}
	if c.encryptor == nil {
		return "", fmt.Errorf("vlc password is sealed but no CONFIG_ENCRYPTION_KEY is configured")
	}
	return c.encryptor.Decrypt(rec.VLCPasswordSealed)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
