package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default values applied where the configuration is silent.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultTelemetryEndpoint = "localhost:4317"
	DefaultProfilingEndpoint = "http://localhost:4040"

	DefaultMetricsPort = 9090
	DefaultAPIPort     = 8080

	DefaultReconcileInterval = 30 * time.Second
	DefaultShutdownTimeout   = 2 * time.Minute
	DefaultRequestTimeout    = 30 * time.Second

	DefaultExportsFile = "/etc/exports"
)

// GetDefaultConfig returns the configuration used when no file exists:
// ambient stack defaults and no managed services.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = DefaultTelemetryEndpoint
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.Profiling.Endpoint == "" {
		cfg.Telemetry.Profiling.Endpoint = DefaultProfilingEndpoint
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		cfg.Telemetry.Profiling.ProfileTypes = []string{
			"cpu", "alloc_objects", "alloc_space",
			"inuse_objects", "inuse_space", "goroutines",
		}
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultAPIPort
	}
	if cfg.API.RequestTimeout == 0 {
		cfg.API.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Manager.ReconcileInterval == 0 {
		cfg.Manager.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.Manager.ShutdownTimeout == 0 {
		cfg.Manager.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.NFS.ExportsFile == "" {
		cfg.NFS.ExportsFile = DefaultExportsFile
	}
}

// Validate checks the configuration against its struct tags plus the
// cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	names := make(map[string]struct{})
	for _, fs := range cfg.Filesystems {
		if _, dup := names[fs.Name]; dup {
			return fmt.Errorf("duplicate service name %q", fs.Name)
		}
		names[fs.Name] = struct{}{}
	}
	for _, app := range cfg.Applications {
		if _, dup := names[app.Name]; dup {
			return fmt.Errorf("duplicate service name %q", app.Name)
		}
		names[app.Name] = struct{}{}
	}

	return nil
}
