package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/crudkit/internal/handlers"
	"github.com/mesh-intelligence/crudkit/internal/paths"
	"github.com/mesh-intelligence/crudkit/internal/principal"
	"github.com/mesh-intelligence/crudkit/internal/seed"
	"github.com/mesh-intelligence/crudkit/pkg/store"
	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// Config keys, as written in config.yaml.
const (
	cfgKeyBackend         = "backend"
	cfgKeyDataDir         = "data_dir"
	cfgKeyDSN             = "dsn"
	cfgKeyListen          = "listen"
	cfgKeySysUser         = "sys_user"
	cfgKeyPrincipalHeader = "principal_header"
	cfgKeyLogLevel        = "log_level"
	cfgKeyLogFormat       = "log_format"
	cfgKeySeed            = "seed"
)

// envPrefix prefixes the environment variable of every config key, as in
// CRUDKIT_LISTEN.
const envPrefix = "CRUDKIT"

const defaultListen = ":8080"

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	cfgKeyBackend:         "backend",
	cfgKeyDSN:             "dsn",
	cfgKeyListen:          "listen",
	cfgKeySysUser:         "sys-user",
	cfgKeyPrincipalHeader: "principal-header",
	cfgKeyLogLevel:        "log-level",
	cfgKeyLogFormat:       "log-format",
	cfgKeySeed:            "seed",
}

// settings is the merged configuration: flags over environment over
// config.yaml over defaults. DataDir follows paths.ResolveDataDir instead.
type settings struct {
	Backend         string `mapstructure:"backend"`
	DataDir         string `mapstructure:"data_dir"`
	DSN             string `mapstructure:"dsn"`
	Listen          string `mapstructure:"listen"`
	SysUser         string `mapstructure:"sys_user"`
	PrincipalHeader string `mapstructure:"principal_header"`
	LogLevel        string `mapstructure:"log_level"`
	LogFormat       string `mapstructure:"log_format"`
	Seed            bool   `mapstructure:"seed"`

	ConfigDir string `mapstructure:"-"`
}

func (s *settings) storeConfig() types.Config {
	return types.Config{Backend: s.Backend, DataDir: s.DataDir, DSN: s.DSN}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyListen, defaultListen)
	v.SetDefault(cfgKeySysUser, seed.DefaultUser)
	v.SetDefault(cfgKeyPrincipalHeader, principal.DefaultHeader)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyLogFormat, "text")
	v.SetDefault(cfgKeySeed, true)

	// data_dir has its own precedence in paths.ResolveDataDir.
	v.SetEnvPrefix(envPrefix)
	for key := range flagKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// load merges the configuration for cmd and installs the logger in its
// context.
func (a *app) load(cmd *cobra.Command) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysErr(fmt.Errorf("resolve config dir: %w", err))
	}

	v := newViper()
	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	v.SetConfigFile(paths.ConfigFile(configDir))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	s.ConfigDir = configDir
	s.DataDir, err = paths.ResolveDataDir(a.flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return sysErr(fmt.Errorf("resolve data dir: %w", err))
	}

	logger, err := newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)
	if err != nil {
		return err
	}
	a.settings = &s
	cmd.SetContext(clog.WithLogger(cmd.Context(), logger))
	return nil
}

// newLogger builds the process logger. format is "text" or "json".
func newLogger(w io.Writer, level, format string) (*clog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return clog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return clog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: want text or json", format)
	}
}

// attach registers the entity models and opens the configured backend,
// optionally inserting the built-in rows into empty tables. The caller
// must Detach the backend.
func (a *app) attach(ctx context.Context, seedDefaults bool) (*store.Backend, error) {
	cfg := a.settings.storeConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := handlers.RegisterModels(); err != nil {
		return nil, err
	}

	b := store.NewBackend()
	if err := b.Attach(cfg); err != nil {
		return nil, sysErr(fmt.Errorf("attach backend: %w", err))
	}
	clog.FromContext(ctx).DebugContext(ctx, "backend attached", "backend", cfg.Backend, "data_dir", cfg.DataDir)

	if seedDefaults {
		if _, err := seed.Defaults(ctx, b); err != nil {
			b.Detach()
			return nil, sysErr(err)
		}
	}
	return b, nil
}
