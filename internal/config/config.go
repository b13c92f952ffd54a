// Package config loads the daemon's durable tunables from a YAML file
// and applies command-line overrides (SPEC_FULL.md §9.3), mirroring
// cmd/samoyed-appserver's pflag-driven flag parsing plus the pack's
// yaml.v3-based config loaders.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bluetalk/hfpd/internal/hfpstate"
	"github.com/bluetalk/hfpd/internal/slc"
)

// HF_FEAT_CODEC/AG_FEAT_CODEC share one bit per spec.md §6.
const codecNegotiationFeature = 0x200

// Config is the full set of tunables read from file and flags. Field
// names match the YAML keys; `fields` named after spec.md's
// `config.hfp.*` dotted keys are flattened here since this is one
// daemon's config, not a multi-subsystem one.
type Config struct {
	Device string `yaml:"device"`

	FeaturesRFCOMMAG uint32 `yaml:"features_rfcomm_ag"`
	FeaturesRFCOMMHF uint32 `yaml:"features_rfcomm_hf"`
	EnableMSBC       bool   `yaml:"enable_msbc"`

	SLCRetries int           `yaml:"slc_retries"`
	SLCTimeout time.Duration `yaml:"slc_timeout"`

	Role string `yaml:"role"`

	Indicator   IndicatorConfig   `yaml:"indicator"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Devicewatch DevicewatchConfig `yaml:"devicewatch"`

	LogLevel string `yaml:"log_level"`

	// TimestampFormat, when set, is a strftime format string
	// prefixing Debug-level AT frame traffic logs (teacher's
	// kissutil.go --timestamp-format/-T flag, carried over verbatim
	// but backed by a real strftime implementation this time).
	TimestampFormat string `yaml:"timestamp_format"`
}

// IndicatorConfig controls the optional GPIO call-indicator (spec.md
// §10, internal/indicator).
type IndicatorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Chip    string `yaml:"chip"`
	Line    int    `yaml:"line"`
}

// DiscoveryConfig controls the optional mDNS status endpoint
// (internal/discovery).
type DiscoveryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	InstanceID string `yaml:"instance_id"`
	Port       int    `yaml:"port"`
}

// DevicewatchConfig controls the optional udev device-appearance
// watcher (internal/devicewatch).
type DevicewatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in defaults (spec.md §6: SLC_RETRIES=10,
// SLC_TIMEOUT=10000ms).
func Default() Config {
	return Config{
		FeaturesRFCOMMAG: codecNegotiationFeature,
		FeaturesRFCOMMHF: codecNegotiationFeature,
		EnableMSBC:       true,
		SLCRetries:       slc.DefaultRetries,
		SLCTimeout:       slc.DefaultTimeout,
		Role:             "ag",
		Discovery:        DiscoveryConfig{InstanceID: "hfpd", Port: 7878},
		Devicewatch:      DevicewatchConfig{Enabled: true},
		LogLevel:         "info",
	}
}

// Load reads a YAML file over the built-in defaults. A missing path
// is not an error: the defaults are returned unchanged, matching
// cmd/samoyed-appserver's "flags alone are a valid invocation" style.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Flags holds the pflag overrides RegisterFlags declares on a FlagSet
// (cmd/hfpd passes pflag.CommandLine), in the same StringP/BoolP style
// as cmd/samoyed-appserver's --hostname/--port/--help.
type Flags struct {
	Device          *string
	Role            *string
	MSBC            *bool
	SLCRetries      *int
	SLCTimeout      *time.Duration
	LogLevel        *string
	TimestampFormat *string
}

// RegisterFlags declares the override flags on fs without binding
// them to defaults yet — Apply only overwrites a Config field
// when the corresponding flag was actually set on the command line,
// so file values still win over unset flags.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	return &Flags{
		Device:     fs.StringP("device", "d", "", "RFCOMM device path, e.g. /dev/rfcomm0"),
		Role:       fs.StringP("role", "r", "", "HFP role: ag or hf"),
		MSBC:       fs.Bool("msbc", false, "enable mSBC codec negotiation"),
		SLCRetries: fs.Int("slc-retries", 0, "override SLC_RETRIES"),
		SLCTimeout: fs.Duration("slc-timeout", 0, "override SLC_TIMEOUT"),
		LogLevel:   fs.String("log-level", "", "debug|info|warn|error"),
		TimestampFormat: fs.StringP("timestamp-format", "T", "",
			"Precede logged AT frames with a 'strftime' format time stamp."),
	}
}

// Apply overlays fs's explicitly-set flags onto cfg, flags winning
// over file values winning over built-in defaults (SPEC_FULL.md
// §9.3).
func (f *Flags) Apply(fs *pflag.FlagSet, cfg Config) Config {
	if fs.Changed("device") {
		cfg.Device = *f.Device
	}
	if fs.Changed("role") {
		cfg.Role = *f.Role
	}
	if fs.Changed("msbc") {
		cfg.EnableMSBC = *f.MSBC
	}
	if fs.Changed("slc-retries") {
		cfg.SLCRetries = *f.SLCRetries
	}
	if fs.Changed("slc-timeout") {
		cfg.SLCTimeout = *f.SLCTimeout
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *f.LogLevel
	}
	if fs.Changed("timestamp-format") {
		cfg.TimestampFormat = *f.TimestampFormat
	}
	return cfg
}

// HFPRole parses the configured role string.
func (c Config) HFPRole() (hfpstate.Role, error) {
	switch c.Role {
	case "hf":
		return hfpstate.HandsFree, nil
	case "ag", "":
		return hfpstate.AudioGateway, nil
	default:
		return 0, fmt.Errorf("config: unknown role %q (want ag or hf)", c.Role)
	}
}

// LocalFeatures returns this engine's own BRSF feature bitmask for the
// configured role, with the codec-negotiation bit masked out when
// mSBC support is disabled at this build/config (ENABLE_MSBC,
// spec.md §6).
func (c Config) LocalFeatures(role hfpstate.Role) uint32 {
	var feat uint32
	if role == hfpstate.HandsFree {
		feat = c.FeaturesRFCOMMHF
	} else {
		feat = c.FeaturesRFCOMMAG
	}
	if !c.EnableMSBC {
		feat &^= codecNegotiationFeature
	}
	return feat
}
