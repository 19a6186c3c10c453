// Package config loads and saves the tool's project-level settings, stored
// as a TOML file conventionally named stm8dce.toml. A string flag overrides
// the loaded config only when its value differs from the flag's default;
// boolean options are on when either the flag or the config turns them on,
// and config exclusion lists are combined with the flag ones rather than
// replaced. The config exists so a project can pin its segment names and
// exclusion lists once instead of repeating them on every invocation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds every setting the driver can source from a project file.
type Config struct {
	// DCE settings mirror the command-line surface directly, so that a
	// config file and flags can be merged field-by-field.
	DCE struct {
		Entry        string `toml:"entry"`
		CodeSegment  string `toml:"code_segment"`
		ConstSegment string `toml:"const_segment"`
		OptIRQ       bool   `toml:"opt_irq"`
		Verbose      bool   `toml:"verbose"`
		Debug        bool   `toml:"debug"`
	} `toml:"dce"`

	// Exclude lists use the same NAME or FILE.asm:NAME syntax as the
	// repeatable -exclude-function/-exclude-constant flags.
	Exclude struct {
		Functions []string `toml:"functions"`
		Constants []string `toml:"constants"`
	} `toml:"exclude"`
}

// DefaultConfig returns a configuration matching the command-line defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.DCE.Entry = "_main"
	cfg.DCE.CodeSegment = "CODE"
	cfg.DCE.ConstSegment = "CONST"
	cfg.DCE.OptIRQ = false
	cfg.DCE.Verbose = false
	cfg.DCE.Debug = false
	return cfg
}

// GetConfigPath returns the platform-specific default config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "stm8dce")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "stm8dce.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "stm8dce")

	default:
		return "stm8dce.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "stm8dce.toml"
	}

	return filepath.Join(configDir, "stm8dce.toml")
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file. A missing file is
// not an error: the tool works without a project config, and the caller
// gets defaults to merge flags over.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file.
func (c *Config) SaveTo(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
