package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadUsesDefaultsWithoutFlags(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, ".", cfg.WorkspaceDir)
}

func TestLoadBindsRegisteredFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=debug", "--workspace-dir=/tmp/vault", "--filesystem-roots=/a,/b"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "/tmp/vault", cfg.WorkspaceDir)
	require.Equal(t, []string{"/a", "/b"}, cfg.FilesystemRoots)
}

func TestLoadHonoursEnvironmentOverride(t *testing.T) {
	t.Setenv("AETHERVAULT_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}
