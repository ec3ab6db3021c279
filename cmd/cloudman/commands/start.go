package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/supernifty/cloudman/internal/logger"
	"github.com/supernifty/cloudman/internal/telemetry"
	"github.com/supernifty/cloudman/pkg/api"
	"github.com/supernifty/cloudman/pkg/config"
	"github.com/supernifty/cloudman/pkg/manager"
	"github.com/supernifty/cloudman/pkg/metrics"
	"github.com/supernifty/cloudman/pkg/platform/mounts"
	"github.com/supernifty/cloudman/pkg/platform/nfsexport"
	"github.com/supernifty/cloudman/pkg/service"
	"github.com/supernifty/cloudman/pkg/service/filesystem"
	"github.com/supernifty/cloudman/pkg/service/webapp"
	"github.com/supernifty/cloudman/pkg/shell"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node service manager",
	Long: `Start the CloudMan node service manager.

The manager brings up every configured service in dependency order,
reconciles declared state against observed system state on a fixed
interval, and tears services down in reverse order on shutdown.

Examples:
  # Start with default config location
  cloudman start

  # Start with custom config
  cloudman start --config /etc/cloudman/config.yaml

  # Override the log level for one run
  CLOUDMAN_LOGGING_LEVEL=DEBUG cloudman start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the manager PID to this file")
}

func runStart(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	cfg, err := config.MustLoad(configFile)
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "cloudman",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "cloudman",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", "error", err)
		}
	}()

	logger.Info("CloudMan node manager starting",
		"version", Version,
		"config", getConfigSource(configFile),
		"log_level", cfg.Logging.Level)

	// Metrics collection must be enabled before any service is built so
	// that the service constructors see an active registry.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}
	svcMetrics := metrics.NewServiceMetrics()

	// Reload logging settings when the config file changes on disk.
	watchPath := configFile
	if watchPath == "" {
		watchPath = config.GetDefaultConfigPath()
	}
	if err := config.Watch(ctx, watchPath); err != nil {
		logger.Warn("Config watch unavailable", "error", err)
	}

	registry, err := buildRegistry(cfg, svcMetrics)
	if err != nil {
		return err
	}
	logger.Info("Services registered",
		"filesystems", len(cfg.Filesystems),
		"applications", len(cfg.Applications))

	mgr := manager.New(registry, manager.Config{
		ReconcileInterval: cfg.Manager.ReconcileInterval,
		ShutdownTimeout:   cfg.Manager.ShutdownTimeout,
	}, svcMetrics)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, registry)
		logger.Info("API server enabled", "port", apiServer.Port())
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server error", "error", err)
			}
		}()
	} else {
		logger.Info("API server disabled")
	}

	// Run the manager in the background so we can race it against the
	// shutdown signal.
	managerDone := make(chan error, 1)
	go func() {
		managerDone <- mgr.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Node manager is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-managerDone; err != nil {
			logger.Error("Manager shutdown error", "error", err)
			return err
		}
		logger.Info("Node manager stopped gracefully")

	case err := <-managerDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Manager error", "error", err)
			return err
		}
		logger.Info("Node manager stopped")
	}

	return nil
}

// buildRegistry constructs every configured service and registers them in
// config order: filesystems first, then the applications that depend on
// them, so one start pass brings the node up.
func buildRegistry(cfg *config.Config, svcMetrics *metrics.ServiceMetrics) (*service.Registry, error) {
	runner := shell.NewRunner()
	prober := mounts.NewProber()
	exports := nfsexport.NewTable(cfg.NFS.ExportsFile, cfg.NFS.Options, runner)

	registry := service.NewRegistry()

	for _, fs := range cfg.Filesystems {
		fsCfg := filesystem.Config{
			Name:         fs.Name,
			MountPoint:   fs.MountPoint,
			Owner:        fs.Owner,
			Device:       fs.Device,
			DeviceMount:  fs.DeviceMount,
			FSType:       fs.FSType,
			MinFreeSpace: fs.MinFreeSpace,
		}
		if fs.Archive != nil {
			fsCfg.Archive = filesystem.ArchiveConfig{
				URL: fs.Archive.URL,
				MD5: fs.Archive.MD5,
			}
		}

		svc, err := filesystem.NewService(fsCfg, runner, prober, exports, svcMetrics)
		if err != nil {
			return nil, fmt.Errorf("filesystem %q: %w", fs.Name, err)
		}
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	for _, app := range cfg.Applications {
		roles, err := parseRoles(app.Roles)
		if err != nil {
			return nil, fmt.Errorf("application %q: %w", app.Name, err)
		}
		dependsOn, err := parseRoles(app.DependsOn)
		if err != nil {
			return nil, fmt.Errorf("application %q: %w", app.Name, err)
		}

		svc, err := webapp.NewService(webapp.Config{
			Name:             app.Name,
			User:             app.User,
			BaseDir:          app.BaseDir,
			Port:             app.Port,
			SourceURL:        app.SourceURL,
			MD5:              app.MD5,
			DataDirs:         app.DataDirs,
			Roles:            roles,
			DependsOn:        dependsOn,
			NotRunningMarker: app.NotRunningMarker,
		}, runner, registry, svcMetrics)
		if err != nil {
			return nil, fmt.Errorf("application %q: %w", app.Name, err)
		}
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func parseRoles(names []string) ([]service.Role, error) {
	roles := make([]service.Role, 0, len(names))
	for _, name := range names {
		role, err := service.ParseRole(name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}
