// Package config loads, repairs, and persists the per-installation Configuration,
// backed by viper reading and writing TOML under $HOME/.airloom.
//
// Adapted from ijakenorton-Roundtable/cmd/config/config.go (the viper.SetDefault +
// viper.ReadInConfig shape) generalized from that file's single global config to a
// per-config-id Configuration value the caller owns, matching
// original_source/src/utils/configuration.rs's read_config/update_config/
// defaults-repair-on-load semantics (migration from a legacy unhidden config
// directory, minimum SSDP interval, bits-per-sample validation, and so on).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/brackenhollow/airloom/pkg/streamformat"
)

const (
	legacyDirName = "airloom"
	hiddenDirName = ".airloom"
)

// Configuration is the full set of persisted settings for one installation. Fields
// mirror original_source/src/utils/configuration.rs::Configuration; the mapstructure
// tags give each field's TOML key.
type Configuration struct {
	ServerPort       int    `mapstructure:"server_port"`
	AutoResume       bool   `mapstructure:"auto_resume"`
	SoundSource      string `mapstructure:"sound_source"`
	SoundSourceIndex int    `mapstructure:"sound_source_index"`
	LogLevel         string `mapstructure:"log_level"`
	SSDPIntervalMins float64 `mapstructure:"ssdp_interval_mins"`
	AutoReconnect    bool    `mapstructure:"auto_reconnect"`

	LPCMStreamSize string `mapstructure:"lpcm_stream_size"`
	WAVStreamSize  string `mapstructure:"wav_stream_size"`
	RF64StreamSize string `mapstructure:"rf64_stream_size"`
	FLACStreamSize string `mapstructure:"flac_stream_size"`

	UseWaveFormat   bool   `mapstructure:"use_wave_format"`
	BitsPerSample   int    `mapstructure:"bits_per_sample"`
	StreamingFormat string `mapstructure:"streaming_format"`
	MonitorRMS      bool   `mapstructure:"monitor_rms"`
	CaptureTimeout  int    `mapstructure:"capture_timeout"` // milliseconds
	InjectSilence   bool   `mapstructure:"inject_silence"`

	LastRenderer string `mapstructure:"last_renderer"`
	LastNetwork  string `mapstructure:"last_network"`
	ConfigID     string `mapstructure:"config_id"`

	BufferingDelayMsec int `mapstructure:"buffering_delay_msec"`

	configDir      string
	configFileName string // empty means derive from ConfigID via fileName; set by LoadFrom for an explicit path
}

// StreamingFormatValue parses the persisted streaming format string, defaulting to LPCM on
// any parse failure (an empty or corrupted field should never prevent startup).
func (c *Configuration) StreamingFormatValue() streamformat.Format {
	f, err := streamformat.ParseFormat(c.StreamingFormat)
	if err != nil {
		return streamformat.FormatLPCM
	}
	return f
}

func defaults() *Configuration {
	return &Configuration{
		ServerPort:         5901,
		AutoResume:         false,
		SoundSource:        "None",
		SoundSourceIndex:   0,
		LogLevel:           "info",
		SSDPIntervalMins:   10.0,
		AutoReconnect:      false,
		LPCMStreamSize:     streamformat.U64MaxNotChunked.String(),
		WAVStreamSize:      streamformat.U64MaxNotChunked.String(),
		RF64StreamSize:     streamformat.U64MaxNotChunked.String(),
		FLACStreamSize:     streamformat.U64MaxNotChunked.String(),
		UseWaveFormat:      false,
		BitsPerSample:      16,
		StreamingFormat:    streamformat.FormatLPCM.String(),
		MonitorRMS:         false,
		CaptureTimeout:     2000,
		InjectSilence:      false,
		LastRenderer:       "None",
		LastNetwork:        "None",
		ConfigID:           "",
		BufferingDelayMsec: 0,
	}
}

// Dir returns $HOME/.airloom, migrating from the legacy unhidden $HOME/airloom
// directory (and its config.ini, if present) the first time it's called after an
// upgrade. Creates the directory if neither exists.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	legacyDir := filepath.Join(home, legacyDirName)
	dir := filepath.Join(home, hiddenDirName)

	if _, err := os.Stat(legacyDir); err == nil {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create config directory: %w", err)
			}
			oldINI := filepath.Join(legacyDir, "config.ini")
			if _, statErr := os.Stat(oldINI); statErr == nil {
				if err := migrateLegacyINI(oldINI, filepath.Join(dir, "config.toml")); err != nil {
					return "", err
				}
			}
			if err := os.RemoveAll(legacyDir); err != nil {
				return "", fmt.Errorf("remove legacy config directory: %w", err)
			}
			return dir, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// fileName returns "config.toml" or "config<id>.toml" when a configuration id (from
// the -c/--configuration flag, used to run multiple instances side by side) is set.
func fileName(configID string) string {
	if configID == "" {
		return "config.toml"
	}
	return "config" + configID + ".toml"
}

// Load reads the configuration identified by configID from its TOML file, creating
// one from defaults if it doesn't exist, then repairs any individually missing or
// invalid field back to its default (mirrors read_config's force_update pass). A file
// that exists but cannot be read or parsed is left on disk as it is, and the defaults
// are used for this run.
func Load(configID string) (*Configuration, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fileName(configID))

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	d := defaults()
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("auto_resume", d.AutoResume)
	v.SetDefault("sound_source", d.SoundSource)
	v.SetDefault("sound_source_index", d.SoundSourceIndex)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("ssdp_interval_mins", d.SSDPIntervalMins)
	v.SetDefault("auto_reconnect", d.AutoReconnect)
	v.SetDefault("lpcm_stream_size", d.LPCMStreamSize)
	v.SetDefault("wav_stream_size", d.WAVStreamSize)
	v.SetDefault("rf64_stream_size", d.RF64StreamSize)
	v.SetDefault("flac_stream_size", d.FLACStreamSize)
	v.SetDefault("use_wave_format", d.UseWaveFormat)
	v.SetDefault("bits_per_sample", d.BitsPerSample)
	v.SetDefault("streaming_format", d.StreamingFormat)
	v.SetDefault("monitor_rms", d.MonitorRMS)
	v.SetDefault("capture_timeout", d.CaptureTimeout)
	v.SetDefault("inject_silence", d.InjectSilence)
	v.SetDefault("last_renderer", d.LastRenderer)
	v.SetDefault("last_network", d.LastNetwork)
	v.SetDefault("config_id", configID)
	v.SetDefault("buffering_delay_msec", d.BufferingDelayMsec)

	needsWrite := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			needsWrite = true
		}
		// Any other read error (a corrupt or unreadable file) leaves viper with only
		// the defaults set above, and the file is not rewritten.
	}

	cfg := &Configuration{configDir: dir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	cfg.configDir = dir

	if repairDefaults(cfg, d) {
		needsWrite = true
	}
	if needsWrite {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFrom reads the configuration from an explicit TOML file path instead of the
// default $HOME/.airloom location, for the -C/--config-path flag that lets multiple
// instances or test runs point at a config file anywhere on disk. Creation and
// repair behave exactly as Load.
func LoadFrom(path, configID string) (*Configuration, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory %q: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	d := defaults()
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("auto_resume", d.AutoResume)
	v.SetDefault("sound_source", d.SoundSource)
	v.SetDefault("sound_source_index", d.SoundSourceIndex)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("ssdp_interval_mins", d.SSDPIntervalMins)
	v.SetDefault("auto_reconnect", d.AutoReconnect)
	v.SetDefault("lpcm_stream_size", d.LPCMStreamSize)
	v.SetDefault("wav_stream_size", d.WAVStreamSize)
	v.SetDefault("rf64_stream_size", d.RF64StreamSize)
	v.SetDefault("flac_stream_size", d.FLACStreamSize)
	v.SetDefault("use_wave_format", d.UseWaveFormat)
	v.SetDefault("bits_per_sample", d.BitsPerSample)
	v.SetDefault("streaming_format", d.StreamingFormat)
	v.SetDefault("monitor_rms", d.MonitorRMS)
	v.SetDefault("capture_timeout", d.CaptureTimeout)
	v.SetDefault("inject_silence", d.InjectSilence)
	v.SetDefault("last_renderer", d.LastRenderer)
	v.SetDefault("last_network", d.LastNetwork)
	v.SetDefault("config_id", configID)
	v.SetDefault("buffering_delay_msec", d.BufferingDelayMsec)

	needsWrite := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			needsWrite = true
		}
		// Any other read error (a corrupt or unreadable file) leaves viper with only
		// the defaults set above, and the file is not rewritten.
	}

	cfg := &Configuration{configDir: dir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	cfg.configDir = dir
	cfg.configFileName = filepath.Base(path)

	if repairDefaults(cfg, d) {
		needsWrite = true
	}
	if needsWrite {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// repairDefaults fills in any individually-invalid field with its default value, the
// same per-field repair pass read_config performs after deserializing an old or
// hand-edited config file. Returns true if anything was changed.
func repairDefaults(cfg, d *Configuration) bool {
	changed := false
	// 0 disables discovery and is kept; any other value below 0.5 is raised to 0.5.
	if cfg.SSDPIntervalMins != 0 && cfg.SSDPIntervalMins < 0.5 {
		cfg.SSDPIntervalMins = 0.5
		changed = true
	}
	if cfg.ServerPort <= 0 {
		cfg.ServerPort = d.ServerPort
		changed = true
	}
	if cfg.BitsPerSample != 16 && cfg.BitsPerSample != 24 {
		cfg.BitsPerSample = 16
		changed = true
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = d.CaptureTimeout
		changed = true
	}
	return changed
}

// Save writes cfg back to its TOML file, the update_config equivalent.
func (c *Configuration) Save() error {
	name := c.configFileName
	if name == "" {
		name = fileName(c.ConfigID)
	}
	path := filepath.Join(c.configDir, name)
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.Set("server_port", c.ServerPort)
	v.Set("auto_resume", c.AutoResume)
	v.Set("sound_source", c.SoundSource)
	v.Set("sound_source_index", c.SoundSourceIndex)
	v.Set("log_level", c.LogLevel)
	v.Set("ssdp_interval_mins", c.SSDPIntervalMins)
	v.Set("auto_reconnect", c.AutoReconnect)
	v.Set("lpcm_stream_size", c.LPCMStreamSize)
	v.Set("wav_stream_size", c.WAVStreamSize)
	v.Set("rf64_stream_size", c.RF64StreamSize)
	v.Set("flac_stream_size", c.FLACStreamSize)
	v.Set("use_wave_format", c.UseWaveFormat)
	v.Set("bits_per_sample", c.BitsPerSample)
	v.Set("streaming_format", c.StreamingFormat)
	v.Set("monitor_rms", c.MonitorRMS)
	v.Set("capture_timeout", c.CaptureTimeout)
	v.Set("inject_silence", c.InjectSilence)
	v.Set("last_renderer", c.LastRenderer)
	v.Set("last_network", c.LastNetwork)
	v.Set("config_id", c.ConfigID)
	v.Set("buffering_delay_msec", c.BufferingDelayMsec)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config file %q: %w", path, err)
	}
	return nil
}

// Store publishes Configuration snapshots atomically: writers build a new value and
// Store it, readers Load a fully consistent snapshot without taking a lock. Matches
// the "global configuration as an atomically replaceable snapshot handle, not a
// mutable singleton" design note every long-lived component (HTTP server, renderer
// controller, orchestrator) reads configuration through.
type Store struct {
	ptr atomic.Pointer[Configuration]
}

func NewStore(initial *Configuration) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

func (s *Store) Load() *Configuration { return s.ptr.Load() }

func (s *Store) Store(cfg *Configuration) { s.ptr.Store(cfg) }

// migrateLegacyINI converts a legacy key=value config.ini into the new TOML layout,
// quoting the string-valued keys the old .ini format left bare. Grounded on
// migrate_config_to_toml's NEEDS_QUOTE key set.
func migrateLegacyINI(oldPath, newPath string) error {
	data, err := os.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("read legacy config %q: %w", oldPath, err)
	}
	needsQuote := map[string]bool{
		"SoundCard": true, "LogLevel": true, "LastRenderer": true,
		"LastNetwork": true, "ConfigDir": true,
	}
	var out strings.Builder
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if i := strings.IndexByte(line, '='); i >= 0 {
			key := line[:i]
			if needsQuote[key] {
				line = line[:i+1] + `"` + line[i+1:] + `"`
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := os.WriteFile(newPath, []byte(out.String()), 0o644); err != nil {
		return fmt.Errorf("write migrated config %q: %w", newPath, err)
	}
	return nil
}
