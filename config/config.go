// Package config loads the §6 configuration surface (scp_variant,
// security_level, diversification, key_set) plus the ambient logging
// knobs, the way the pack's HSM-facing repo loads its own config: viper,
// layered over defaults, a config file, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"gpsc/gp"
)

var (
	configData Config
	v          *viper.Viper
)

// Config holds the full configuration surface for one secure-channel
// session.
type Config struct {
	SCP struct {
		Variant         string
		SecurityLevel   []string
		Diversification string
		KeySet          int
		Gemalto         bool
	}
	Log struct {
		Level  string
		Format string
	}
}

// Initialize sets up the configuration system: defaults, then an optional
// config file, then environment variables (GPSC_-prefixed), in that
// precedence order.
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.gpsc")
	v.AddConfigPath("/etc/gpsc/")

	setDefaults()

	v.SetEnvPrefix("GPSC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := ensureConfig(); err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(&configData); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}
	return nil
}

func setDefaults() {
	v.SetDefault("scp.variant", "any")
	v.SetDefault("scp.securitylevel", []string{"MAC"})
	v.SetDefault("scp.diversification", "none")
	v.SetDefault("scp.keyset", 0)
	v.SetDefault("scp.gemalto", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

func ensureConfig() error {
	dir := filepath.Join(os.Getenv("HOME"), ".gpsc")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		defaultConfig := `# GlobalPlatform secure-channel engine configuration
scp:
  variant: any
  securitylevel: ["MAC"]
  diversification: none
  keyset: 0
  gemalto: false

log:
  level: info
  format: human
`
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current configuration.
func Get() *Config { return &configData }

// GetViper returns the underlying viper instance, for callers that want
// direct access (e.g. to re-bind a flag).
func GetViper() *viper.Viper { return v }

var variantNames = map[string]gp.Variant{
	"any":      gp.Any,
	"scp01_05": gp.SCP01_05,
	"scp01_15": gp.SCP01_15,
	"scp02_04": gp.SCP02_04,
	"scp02_05": gp.SCP02_05,
	"scp02_0a": gp.SCP02_0A,
	"scp02_0b": gp.SCP02_0B,
	"scp02_14": gp.SCP02_14,
	"scp02_15": gp.SCP02_15,
	"scp02_1a": gp.SCP02_1A,
	"scp02_1b": gp.SCP02_1B,
}

// Variant resolves the configured scp_variant string to a gp.Variant.
func (c *Config) Variant() (gp.Variant, error) {
	v, ok := variantNames[strings.ToLower(c.SCP.Variant)]
	if !ok {
		return gp.Any, fmt.Errorf("unknown scp variant %q", c.SCP.Variant)
	}
	return v, nil
}

// SecurityLevel resolves the configured security_level names ("MAC",
// "ENC", "RMAC") to a gp.SecurityLevel bitmask.
func (c *Config) SecurityLevel() (gp.SecurityLevel, error) {
	var level gp.SecurityLevel
	for _, name := range c.SCP.SecurityLevel {
		switch strings.ToUpper(name) {
		case "MAC":
			level |= gp.LevelMAC
		case "ENC":
			level |= gp.LevelENC
		case "RMAC":
			level |= gp.LevelRMAC
		default:
			return 0, fmt.Errorf("unknown security level %q", name)
		}
	}
	return level, nil
}

// Diversification resolves the configured diversification string to a
// gp.DiversificationMode.
func (c *Config) Diversification() (gp.DiversificationMode, error) {
	switch strings.ToLower(c.SCP.Diversification) {
	case "none", "":
		return gp.DivNone, nil
	case "visa2":
		return gp.DivVISA2, nil
	case "emv":
		return gp.DivEMV, nil
	default:
		return gp.DivNone, fmt.Errorf("unknown diversification mode %q", c.SCP.Diversification)
	}
}

// KeySetID resolves and range-checks the configured key_set id (0..127,
// or 255 for the legacy "same as 0" alias, §9).
func (c *Config) KeySetID() (byte, error) {
	if c.SCP.KeySet < 0 || (c.SCP.KeySet > 127 && c.SCP.KeySet != 255) {
		return 0, fmt.Errorf("key_set %d out of range 0..127 (or 255)", c.SCP.KeySet)
	}
	return byte(c.SCP.KeySet), nil
}
