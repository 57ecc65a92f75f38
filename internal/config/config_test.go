package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
)

func writeConfigFile(t *testing.T, values map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(values)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "netwall.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newBoundCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	config.BindFlags(cmd, v)
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	newBoundCommand(v)

	cfg, err := config.Load(v, writeConfigFile(t, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.WebPort)
	assert.Equal(t, 5514, cfg.SyslogPort)
	assert.Equal(t, config.YearModeAuto, cfg.YearMode)
	assert.Equal(t, config.PrecedenceZoneFirst, cfg.ClassificationPrecedence)
	assert.Equal(t, "0.0.0.0:8090", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	v := viper.New()
	newBoundCommand(v)

	path := writeConfigFile(t, map[string]any{
		"web_port":  9999,
		"year_mode": "previous",
	})
	cfg, err := config.Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.WebPort)
	assert.Equal(t, config.YearModePrevious, cfg.YearMode)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("NETWALL_WEB_PORT", "7070")

	v := viper.New()
	newBoundCommand(v)

	cfg, err := config.Load(v, writeConfigFile(t, map[string]any{"web_port": 9999}))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.WebPort)
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	t.Setenv("NETWALL_WEB_PORT", "7070")

	v := viper.New()
	cmd := newBoundCommand(v)
	require.NoError(t, cmd.Flags().Set("web-port", "6060"))

	cfg, err := config.Load(v, writeConfigFile(t, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.WebPort)
}
