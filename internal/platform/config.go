package platform

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. NOTESYNC_ADAPTER.
const EnvPrefix = "NOTESYNC_"

// Config is the file and environment form of the client options.
type Config struct {
	Adapter     string        `yaml:"adapter"`
	URI         string        `yaml:"uri"`
	Username    string        `yaml:"username"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	ReadOnly    bool          `yaml:"read_only"`
	PurgeAfter  time.Duration `yaml:"purge_after"`
	Probe       ProbeConfig   `yaml:"probe"`
	FS          FSConfig      `yaml:"fs"`
}

// ProbeConfig configures the reachability probe.
type ProbeConfig struct {
	Address  string        `yaml:"address"`
	Interval time.Duration `yaml:"interval"`
}

// FSConfig configures the fs adapter.
type FSConfig struct {
	AutoInit   bool   `yaml:"auto_init"`
	Versioning *bool  `yaml:"versioning"`
	SystemDir  string `yaml:"system_dir"`
}

// LoadConfig reads a YAML config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from NOTESYNC_* variables found by lookup
// (usually os.LookupEnv).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("ADAPTER", &c.Adapter)
	str("URI", &c.URI)
	str("USERNAME", &c.Username)
	str("PROBE_ADDRESS", &c.Probe.Address)
	str("SYSTEM_DIR", &c.FS.SystemDir)

	if v, ok := lookup(EnvPrefix + "READ_ONLY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sREAD_ONLY: %w", EnvPrefix, err)
		}
		c.ReadOnly = b
	}
	return errors.Join(
		dur("CALL_TIMEOUT", &c.CallTimeout),
		dur("PURGE_AFTER", &c.PurgeAfter),
		dur("PROBE_INTERVAL", &c.Probe.Interval),
	)
}

// Options converts the configuration into client options. Zero fields
// keep the defaults.
func (c Config) Options() []Option {
	var opts []Option
	if c.Adapter != "" {
		opts = append(opts, WithAdapter(c.Adapter))
	}
	if c.Username != "" {
		opts = append(opts, WithUsername(c.Username))
	}
	if c.CallTimeout != 0 {
		opts = append(opts, WithCallTimeout(c.CallTimeout))
	}
	if c.ReadOnly {
		opts = append(opts, WithReadOnly(true))
	}
	if c.PurgeAfter > 0 {
		opts = append(opts, WithPurgeAfter(c.PurgeAfter))
	}
	if c.Probe.Address != "" {
		opts = append(opts, WithProbe(c.Probe.Address, c.Probe.Interval))
	}
	if c.FS.AutoInit {
		opts = append(opts, WithAutoInit(true))
	}
	if c.FS.Versioning != nil {
		opts = append(opts, WithVersioning(*c.FS.Versioning))
	}
	if c.FS.SystemDir != "" {
		opts = append(opts, WithSystemDir(c.FS.SystemDir))
	}
	return opts
}
