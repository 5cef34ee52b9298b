package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/selection"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("project", "p", "project.yaml", "")
	fs.StringP("mode", "m", "", "")
	fs.Int("broken-modules-limit", selection.DefaultBrokenModulesLimit, "")
	fs.Bool("dry-run", false, "")
	fs.Int("port", 8080, "")
	fs.CountP("verbose", "v", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)

	assert.Equal(t, "project.yaml", cfg.Project)
	assert.Equal(t, ".ttcn-selector/state.db", cfg.State)
	assert.Equal(t, string(selection.ModeBrokenReferencesInverted), cfg.Mode)
	assert.Equal(t, string(selection.IdentityName), cfg.Identity)
	assert.Equal(t, selection.DefaultBrokenModulesLimit, cfg.BrokenModulesLimit)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.DryRun)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Layers(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
project = "suite.yaml"
mode = "original"
broken_modules_limit = 40
port = 9000
`), 0o644))

	t.Setenv("TTCN_SELECTOR_PORT", "9100")
	t.Setenv("TTCN_SELECTOR_DOT_OUT", "graph.dot")

	cfg, err := LoadFile(path, flags(t, "--broken-modules-limit=10", "-vv"))
	require.NoError(t, err)

	assert.Equal(t, "suite.yaml", cfg.Project, "unchanged flags keep the file value")
	assert.Equal(t, "original", cfg.Mode)
	assert.Equal(t, 10, cfg.BrokenModulesLimit, "flags win over the file")
	assert.Equal(t, 9100, cfg.Port, "env wins over the file")
	assert.Equal(t, "graph.dot", cfg.DotOut)
	assert.Equal(t, 2, cfg.VerboseCnt)
}

func TestLoad_DashedFlag(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), flags(t, "--dry-run", "--mode", "original"))
	require.NoError(t, err)

	assert.True(t, cfg.DryRun)
	assert.Equal(t, "original", cfg.Mode)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Project: "p.yaml", Mode: "original", BrokenModulesLimit: 100, Port: 8080}
	}

	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown mode", func(c *Config) { c.Mode = "fast" }, false},
		{"id identity", func(c *Config) { c.Identity = "id" }, true},
		{"unknown identity", func(c *Config) { c.Identity = "hash" }, false},
		{"negative limit", func(c *Config) { c.BrokenModulesLimit = -1 }, false},
		{"limit above 100", func(c *Config) { c.BrokenModulesLimit = 150 }, true},
		{"empty project", func(c *Config) { c.Project = "" }, false},
		{"bad port without web", func(c *Config) { c.Port = 0 }, true},
		{"bad port with web", func(c *Config) { c.Port = 0; c.WebMode = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestValidate_WrapsModeError(t *testing.T) {
	cfg := &Config{Project: "p.yaml", Mode: "fast"}
	assert.ErrorIs(t, cfg.Validate(), selection.ErrUnknownMode)

	cfg = &Config{Project: "p.yaml", Mode: "original", Identity: "hash"}
	assert.ErrorIs(t, cfg.Validate(), selection.ErrUnknownIdentity)
}

func TestSelection(t *testing.T) {
	cfg := &Config{Mode: "original", BrokenModulesLimit: 30, Identity: "id", Debug: true}

	sel := cfg.Selection()

	assert.Equal(t, selection.ModeOriginal, sel.Mode)
	assert.Equal(t, 30, sel.BrokenModulesLimit)
	assert.True(t, sel.Debug)
	assert.Nil(t, sel.Classify)
	require.NotNil(t, sel.Index)
	assert.IsType(t, &infection.IDIndex{}, sel.Index())

	cfg.Identity = ""
	assert.IsType(t, infection.NameIndex{}, cfg.Selection().Index())
}
