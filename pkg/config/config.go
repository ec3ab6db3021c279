// Package config loads and validates the node configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (CLOUDMAN_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/supernifty/cloudman/internal/bytesize"
)

// Config is the full node configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics configures the Prometheus metrics server
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the REST API server
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Manager configures the reconciliation loop
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`

	// NFS configures the export table shared by all filesystems
	NFS NFSConfig `mapstructure:"nfs" yaml:"nfs"`

	// Filesystems lists the NFS-exported filesystems to manage. Order
	// matters: services start in list order and stop in reverse.
	Filesystems []FilesystemConfig `mapstructure:"filesystems" yaml:"filesystems" validate:"dive"`

	// Applications lists the managed applications, started after the
	// filesystems they depend on.
	Applications []AppConfig `mapstructure:"applications" yaml:"applications" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	// Enabled controls whether tracing is enabled. Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint. Default: localhost:4317
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector. Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate, 0.0 to 1.0. Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether profiling is enabled. Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL. Default: http://localhost:4040
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server. When
// Enabled is false no metrics are collected at all.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics HTTP port. Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// APIConfig configures the REST API server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the API HTTP port. Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// RequestTimeout bounds each API request. Default: 30s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ManagerConfig configures the reconciliation loop.
type ManagerConfig struct {
	// ReconcileInterval is the period between status cycles. Default: 30s
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"required,gt=0" yaml:"reconcile_interval"`

	// ShutdownTimeout bounds graceful teardown. Default: 2m
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// NFSConfig configures the NFS export table.
type NFSConfig struct {
	// ExportsFile is the exports(5) file. Default: /etc/exports
	ExportsFile string `mapstructure:"exports_file" yaml:"exports_file"`

	// Options is the export clause for managed entries. Empty selects the
	// default world-mountable read-write clause.
	Options string `mapstructure:"options" yaml:"options,omitempty"`
}

// ArchiveConfig locates a seed archive for a filesystem.
type ArchiveConfig struct {
	// URL is the archive location (http, https or s3)
	URL string `mapstructure:"url" validate:"required" yaml:"url"`

	// MD5 is the expected hex digest; empty skips verification
	MD5 string `mapstructure:"md5" validate:"omitempty,len=32,hexadecimal" yaml:"md5,omitempty"`
}

// FilesystemConfig describes one NFS-exported filesystem.
type FilesystemConfig struct {
	// Name is the unique service name, e.g. "galaxyData"
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// MountPoint is the exported directory, e.g. "/mnt/galaxyData"
	MountPoint string `mapstructure:"mount_point" validate:"required" yaml:"mount_point"`

	// Owner is the system user owning the directory tree
	Owner string `mapstructure:"owner" yaml:"owner,omitempty"`

	// Device is the ephemeral block device to format and mount, if any
	Device string `mapstructure:"device" yaml:"device,omitempty"`

	// DeviceMount is where Device gets mounted. Default: /mnt
	DeviceMount string `mapstructure:"device_mount" yaml:"device_mount,omitempty"`

	// FSType is the filesystem created on Device. Default: xfs
	FSType string `mapstructure:"fstype" yaml:"fstype,omitempty"`

	// Archive optionally seeds the filesystem contents
	Archive *ArchiveConfig `mapstructure:"archive" yaml:"archive,omitempty"`

	// MinFreeSpace triggers low-space warnings, e.g. "1Gi". Zero disables.
	MinFreeSpace bytesize.ByteSize `mapstructure:"min_free_space" yaml:"min_free_space,omitempty"`
}

// AppConfig describes one managed application.
type AppConfig struct {
	// Name is the unique service name, e.g. "galaxy"
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// User is the system account the application runs as
	User string `mapstructure:"user" yaml:"user,omitempty"`

	// BaseDir is the installation directory holding the control scripts
	BaseDir string `mapstructure:"base_dir" validate:"required" yaml:"base_dir"`

	// Port is the TCP port the application serves on, for status reporting
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port,omitempty"`

	// SourceURL locates the application distribution archive
	SourceURL string `mapstructure:"source_url" yaml:"source_url,omitempty"`

	// MD5 is the expected digest of the distribution archive
	MD5 string `mapstructure:"md5" validate:"omitempty,len=32,hexadecimal" yaml:"md5,omitempty"`

	// DataDirs are additional directories created before first start
	DataDirs []string `mapstructure:"data_dirs" yaml:"data_dirs,omitempty"`

	// Roles advertises the application's capabilities. Default: web_app
	Roles []string `mapstructure:"roles" yaml:"roles,omitempty"`

	// DependsOn lists roles that must be Running before start
	DependsOn []string `mapstructure:"depends_on" yaml:"depends_on,omitempty"`

	// NotRunningMarker overrides the down marker in state.sh output
	NotRunningMarker string `mapstructure:"not_running_marker" yaml:"not_running_marker,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath selects the default location under the user config
// directory; a missing file yields the default configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and turns a missing file into a
// user-friendly error with init instructions.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  cloudman init\n\n"+
				"Or specify a custom config file:\n"+
				"  cloudman <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  cloudman init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: CLOUDMAN_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CLOUDMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks converts human-readable byte sizes and durations.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/cloudman, falling back to
// ~/.config/cloudman, or the current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cloudman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cloudman")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
