package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/ttcn-selector/pkg/selection"
)

const (
	// FileName is the optional config file read from the working directory
	FileName = "ttcn-selector.toml"
	// EnvPrefix prefixes environment overrides, e.g. TTCN_SELECTOR_PORT=9090
	EnvPrefix = "TTCN_SELECTOR_"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application
type Config struct {
	Project            string `koanf:"project"`
	State              string `koanf:"state"`
	Mode               string `koanf:"mode"`
	Identity           string `koanf:"identity"`
	BrokenModulesLimit int    `koanf:"broken_modules_limit"`
	Debug              bool   `koanf:"debug"`
	DebugOut           string `koanf:"debug_out"`
	DotOut             string `koanf:"dot_out"`
	DryRun             bool   `koanf:"dry_run"`
	WebMode            bool   `koanf:"web"`
	Port               int    `koanf:"port"`
	Watch              bool   `koanf:"watch"`
	Verbosity          string `koanf:"verbosity"`
	VerboseCnt         int    `koanf:"verbose"`
	JSONLogs           bool   `koanf:"json_logs"`
}

// Defaults returns the lowest-priority configuration layer
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"project":              "project.yaml",
		"state":                ".ttcn-selector/state.db",
		"mode":                 string(selection.ModeBrokenReferencesInverted),
		"identity":             string(selection.IdentityName),
		"broken_modules_limit": selection.DefaultBrokenModulesLimit,
		"debug":                false,
		"debug_out":            "",
		"dot_out":              "",
		"dry_run":              false,
		"web":                  false,
		"port":                 8080,
		"watch":                false,
		"verbosity":            "",
		"verbose":              0,
		"json_logs":            false,
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFile(FileName, f)
}

// LoadFile is Load with an explicit config file path
func LoadFile(path string, f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// The file might not exist
	_ = k.Load(file.Provider(path), toml.Parser())

	// Keys use underscores, so env names map onto them directly
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, ".", k, flagKey(f)), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// flagKey maps dashed flag names onto config keys. Flags left at their default
// do not override lower layers.
func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, interface{}) {
	return func(fl *pflag.Flag) (string, interface{}) {
		if !fl.Changed {
			return "", nil
		}
		return strings.ReplaceAll(fl.Name, "-", "_"), posflag.FlagVal(fs, fl)
	}
}

// Validate checks values that koanf cannot
func (c *Config) Validate() error {
	if _, err := selection.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := selection.IndexFor(selection.Identity(c.Identity)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.BrokenModulesLimit < 0 {
		return fmt.Errorf("%w: broken_modules_limit must not be negative, got %d", ErrInvalidConfig, c.BrokenModulesLimit)
	}
	if c.Project == "" {
		return fmt.Errorf("%w: project snapshot path is empty", ErrInvalidConfig)
	}
	if c.WebMode && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return nil
}

// Selection returns the selector configuration. Classify is left unset so the
// caller can plug in a resolver; an invalid identity falls back to names.
func (c *Config) Selection() selection.Config {
	index, _ := selection.IndexFor(selection.Identity(c.Identity))
	return selection.Config{
		Mode:               selection.Mode(c.Mode),
		BrokenModulesLimit: c.BrokenModulesLimit,
		Index:              index,
		Debug:              c.Debug,
	}
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
