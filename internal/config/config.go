// Package config reads ambient, outside-the-capsule startup options:
// filesystem-root overrides, the workspace directory, and the default log
// level. This is distinct from the in-capsule
// aethervault://config/* key-value store, which internal/pipeline and
// vault.go read and write as ordinary frames.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Ambient holds the startup options resolvable from flags or environment
// variables, flags taking precedence. No config file is read.
type Ambient struct {
	LogLevel     string
	WorkspaceDir string
	FilesystemRoots []string
}

// Defaults returns the built-in fallback values before flags/env are
// layered on.
func Defaults() Ambient {
	return Ambient{
		LogLevel:     "info",
		WorkspaceDir: ".",
	}
}

// Load binds flags registered on fs to viper, layers in AETHERVAULT_*
// environment variables, and returns the resolved Ambient config.
func Load(fs *pflag.FlagSet) (Ambient, error) {
	v := viper.New()
	v.SetEnvPrefix("aethervault")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := Defaults()
	v.SetDefault("log-level", def.LogLevel)
	v.SetDefault("workspace-dir", def.WorkspaceDir)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Ambient{}, err
		}
	}

	return Ambient{
		LogLevel:        v.GetString("log-level"),
		WorkspaceDir:    v.GetString("workspace-dir"),
		FilesystemRoots: v.GetStringSlice("filesystem-roots"),
	}, nil
}

// RegisterFlags adds the ambient config's flags to fs, for cmd/aethervault's
// root command to call before parsing.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("workspace-dir", ".", "default directory for relative capsule paths")
	fs.StringSlice("filesystem-roots", nil, "additional filesystem roots the agent loop may reference")
}
