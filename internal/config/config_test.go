package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFileOrEnv(t *testing.T) {
	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "./uploads", cfg.UploadDir)
	require.Equal(t, ModeStandalone, cfg.Mode)
	require.Equal(t, 60*time.Second, cfg.CheckInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("uploadDir: /from/file\n"), 0o644))

	t.Setenv("UPLOAD_DIR", "/from/env")

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.UploadDir, "environment must win over file")
}

func TestLoad_FileOverridesDefaultsWhenEnvUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("outputDir: /from/file\n"), 0o644))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "/from/file", cfg.OutputDir)
}

func TestValidate_FollowerModeRequiresLeaderURL(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeFollower
	require.Error(t, Validate(cfg))

	cfg.LeaderURL = "http://leader:8080"
	require.NoError(t, Validate(cfg))
}

func TestValidate_RejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = InstanceMode("bogus")
	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	require.Error(t, Validate(cfg))
}

func TestLoad_LogLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	loader := NewLoader("")
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestHolder_ReloadSwapsConfigAndNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("uploadDir: /v1\n"), 0o644))

	loader := NewLoader(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader)
	ch := make(chan Config, 1)
	holder.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("uploadDir: /v2\n"), 0o644))
	require.NoError(t, holder.Reload(context.Background()))

	require.Equal(t, "/v2", holder.Current().UploadDir)
	select {
	case got := <-ch:
		require.Equal(t, "/v2", got.UploadDir)
	default:
		t.Fatal("listener was not notified of reload")
	}
}

func TestHolder_ReloadKeepsOldConfigOnValidationFailure(t *testing.T) {
	loader := NewLoader("")
	initial := Defaults()
	holder := NewHolder(initial, loader)

	t.Setenv("INSTANCE_MODE", "follower")
	t.Setenv("LEADER_URL", "")

	err := holder.Reload(context.Background())
	require.Error(t, err)
	require.Equal(t, ModeStandalone, holder.Current().Mode, "invalid reload must not replace the active config")
}

func TestSaveYAML_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults()
	cfg.UploadDir = "/saved/uploads"
	require.NoError(t, SaveYAML(path, cfg))

	loader := NewLoader(path)
	got, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "/saved/uploads", got.UploadDir)
}
