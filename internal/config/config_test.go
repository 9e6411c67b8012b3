package config

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"alnorchestrator/internal/store"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STORAGE_TYPE", "DATA_DIR", "SESSION_TIMEOUT_MINUTES", "MAX_GM_STATIONS",
		"RECENT_TRANSACTIONS_COUNT", "MAX_OFFLINE_QUEUE_SIZE", "HEARTBEAT_TIMEOUT",
		"VIDEO_PLAYBACK_ENABLED", "HTTPS_ENABLED", "LISTEN_ADDR", "VLC_HOST",
		"VLC_PASSWORD", "CONFIG_ENCRYPTION_KEY", "ADMIN_PASSWORD",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorageFile, cfg.Storage)
	require.Equal(t, DefaultDataDir, cfg.DataDir)
	require.Equal(t, DefaultSessionTimeoutMinutes, cfg.SessionTimeoutMinutes)
	require.Equal(t, DefaultMaxOfflineQueueSize, cfg.MaxOfflineQueueSize)
	require.True(t, cfg.VideoPlaybackEnabled)
	require.Empty(t, cfg.AdminPasswordHash)
}

func TestLoad_InvalidStorageType(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_TYPE", "bogus")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_AdminPasswordHashed(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_PASSWORD", "correct horse battery staple")
	cfg, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.AdminPasswordHash)

	ok, err := cfg.VerifyAdminPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cfg.VerifyAdminPassword("wrong password")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoad_AdminPasswordTooShort(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADMIN_PASSWORD", "short")
	_, err := Load()
	require.Error(t, err)
}

func TestVerifyAdminPassword_UnsetConfigStillComparesAgainstDummyHash(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	ok, err := cfg.VerifyAdminPassword("anything")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPersist_RoundTripsPlaintextWithoutEncryptionKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("VLC_HOST", "vlc.local:8080")
	t.Setenv("VLC_PASSWORD", "vlcpass")
	cfg, err := Load()
	require.NoError(t, err)

	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, cfg.Persist(ctx, st))

	blob, err := st.Load(ctx, store.KeyConfigAdmin)
	require.NoError(t, err)
	require.NotNil(t, blob)

	var rec AdminConfigRecord
	require.NoError(t, json.Unmarshal(blob, &rec))
	require.False(t, rec.VLCPasswordEncrypted)

	got, err := cfg.RestoreVLCPassword(rec)
	require.NoError(t, err)
	require.Equal(t, "vlcpass", got)
}

func TestPersist_SealsVLCPasswordWithEncryptionKey(t *testing.T) {
	clearEnv(t)
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	t.Setenv("CONFIG_ENCRYPTION_KEY", key)
	t.Setenv("VLC_PASSWORD", "vlcpass")
	cfg, err := Load()
	require.NoError(t, err)

	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, cfg.Persist(ctx, st))

	blob, err := st.Load(ctx, store.KeyConfigAdmin)
	require.NoError(t, err)

	var rec AdminConfigRecord
	require.NoError(t, json.Unmarshal(blob, &rec))
	require.True(t, rec.VLCPasswordEncrypted)
	require.NotEqual(t, "vlcpass", rec.VLCPasswordSealed)

	got, err := cfg.RestoreVLCPassword(rec)
	require.NoError(t, err)
	require.Equal(t, "vlcpass", got)
}

func TestRestoreVLCPassword_MissingKeyErrors(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	_, err = cfg.RestoreVLCPassword(AdminConfigRecord{VLCPasswordSealed: "x", VLCPasswordEncrypted: true})
	require.Error(t, err)
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	ok, err := VerifyPassword("hunter2hunter2", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)
}
