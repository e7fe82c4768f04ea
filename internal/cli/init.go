package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/crudkit/internal/paths"
)

// configFile holds the structure written to config.yaml.
type configFile struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
	SysUser string `yaml:"sys_user,omitempty"`
}

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize crudkit configuration and storage",
		Long:  "Create the configuration directory and config.yaml if missing, create the\ntables and insert the built-in rows into empty ones.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInit(cmd)
		},
	}
	cmd.Flags().Bool("seed", true, "insert the built-in rows into empty tables")
	return cmd
}

func (a *app) runInit(cmd *cobra.Command) error {
	s := a.settings
	if err := os.MkdirAll(s.ConfigDir, 0o755); err != nil {
		return sysErr(fmt.Errorf("create config directory: %w", err))
	}
	path := paths.ConfigFile(s.ConfigDir)
	if err := writeConfigIfMissing(path, configFile{
		Backend: s.Backend,
		DataDir: s.DataDir,
		DSN:     s.DSN,
		Listen:  s.Listen,
		SysUser: s.SysUser,
	}); err != nil {
		return sysErr(fmt.Errorf("write config: %w", err))
	}

	b, err := a.attach(cmd.Context(), s.Seed)
	if err != nil {
		return err
	}
	if err := b.Detach(); err != nil {
		return sysErr(fmt.Errorf("finalize storage: %w", err))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "crudkit initialized")
	fmt.Fprintf(out, "config: %s\n", path)
	fmt.Fprintf(out, "data:   %s\n", s.DataDir)
	return nil
}

// writeConfigIfMissing creates config.yaml from cfg if the file does not
// exist. An existing file is left untouched.
func writeConfigIfMissing(path string, cfg configFile) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
