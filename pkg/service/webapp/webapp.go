// Package webapp implements the externally distributed application
// service. The application ships as an archive containing its control
// scripts (start.sh, stop.sh, state.sh); the service installs it under a
// shared filesystem, runs the scripts as the owning user, and probes
// liveness by scanning state.sh output for the "NOT running" marker.
package webapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/supernifty/cloudman/internal/logger"
	"github.com/supernifty/cloudman/pkg/metrics"
	"github.com/supernifty/cloudman/pkg/provision"
	"github.com/supernifty/cloudman/pkg/service"
	"github.com/supernifty/cloudman/pkg/shell"
)

// Control script names expected inside the application distribution.
const (
	startScript = "start.sh"
	stopScript  = "stop.sh"
	stateScript = "state.sh"
)

// DefaultNotRunningMarker is the substring in state.sh output that means
// the application is down.
const DefaultNotRunningMarker = "NOT running"

// ProbeResult classifies one liveness probe.
type ProbeResult int

const (
	// ProbeRunning means state.sh reported a live application.
	ProbeRunning ProbeResult = iota
	// ProbeNotRunning means state.sh output carried the down marker.
	ProbeNotRunning
	// ProbeError means state.sh itself could not be executed.
	ProbeError
)

// Config describes one managed application.
type Config struct {
	// Name is the unique service name, e.g. "galaxy".
	Name string

	// User is the system account the application runs as.
	User string

	// BaseDir is the installation directory holding the control scripts,
	// e.g. "/mnt/galaxyTools/galaxy".
	BaseDir string

	// Port is the TCP port the application serves on, reported alongside
	// its status. Liveness still goes through the state script, not the
	// socket. Zero means unknown.
	Port int

	// SourceURL locates the application distribution archive. Empty means
	// the application is pre-installed.
	SourceURL string

	// MD5 is the expected digest of the distribution archive.
	MD5 string

	// DataDirs are additional directories created and handed to User
	// before first start.
	DataDirs []string

	// Roles advertises the capabilities this application provides.
	// Defaults to the web application role.
	Roles []service.Role

	// DependsOn lists roles that must be Running before start.
	DependsOn []service.Role

	// NotRunningMarker overrides the down marker in state.sh output.
	NotRunningMarker string
}

// Service is an externally distributed application with a managed
// lifecycle.
type Service struct {
	service.StateTracker

	cfg      Config
	runner   shell.Runner
	resolver service.Resolver
	metrics  *metrics.ServiceMetrics
}

// NewService creates the application service. metrics may be nil.
func NewService(cfg Config, runner shell.Runner, resolver service.Resolver, m *metrics.ServiceMetrics) (*Service, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("application service requires a name")
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("application %q requires a base directory", cfg.Name)
	}
	if runner == nil || resolver == nil {
		return nil, fmt.Errorf("application %q requires a runner and resolver", cfg.Name)
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = []service.Role{service.RoleWebApp}
	}
	if cfg.NotRunningMarker == "" {
		cfg.NotRunningMarker = DefaultNotRunningMarker
	}

	return &Service{
		StateTracker: service.NewStateTracker(cfg.Name),
		cfg:          cfg,
		runner:       runner,
		resolver:     resolver,
		metrics:      m,
	}, nil
}

// Name implements service.Service.
func (s *Service) Name() string {
	return s.cfg.Name
}

// Roles implements service.Service.
func (s *Service) Roles() []service.Role {
	return s.cfg.Roles
}

// Port returns the application's configured service port, zero when
// unknown.
func (s *Service) Port() int {
	return s.cfg.Port
}

// Dependencies implements service.Service.
func (s *Service) Dependencies() []service.Dependency {
	deps := make([]service.Dependency, 0, len(s.cfg.DependsOn))
	for _, role := range s.cfg.DependsOn {
		deps = append(deps, service.Dependency{Owner: s.cfg.Name, Requires: role})
	}
	return deps
}

// Start implements service.Service. An unsatisfied dependency fails fast
// and leaves the service Unstarted so a later reconciliation cycle retries
// once the dependency comes up.
func (s *Service) Start(ctx context.Context) error {
	if st := s.State(); st != service.StateUnstarted {
		logger.Debug("Start skipped, application not in Unstarted",
			"service", s.cfg.Name, "state", st.String())
		return nil
	}

	if err := s.resolver.CanStart(s); err != nil {
		logger.Info("Application start deferred",
			"service", s.cfg.Name, "reason", err)
		return err
	}

	if err := s.Transition(service.StateStarting); err != nil {
		return err
	}

	if err := s.configure(ctx); err != nil {
		s.Fail(fmt.Errorf("%w: %w", service.ErrConfigurationFailed, err))
		return err
	}

	if err := s.runner.Run(ctx, shell.Command{
		Path:  "./" + startScript,
		Dir:   s.cfg.BaseDir,
		RunAs: s.cfg.User,
	}); err != nil {
		s.Fail(err)
		return err
	}

	if err := s.Transition(service.StateRunning); err != nil {
		return err
	}
	logger.Info("Application started",
		"service", s.cfg.Name, "base_dir", s.cfg.BaseDir)
	return nil
}

// configure installs the application distribution on first start: fetch
// and extract the archive, mark the control scripts executable, and create
// the backing directories for the owning user.
func (s *Service) configure(ctx context.Context) error {
	if s.installed() {
		logger.Debug("Application already installed",
			"service", s.cfg.Name, "base_dir", s.cfg.BaseDir)
		return nil
	}
	if s.cfg.SourceURL == "" {
		return fmt.Errorf("%s missing from %s and no source URL configured",
			startScript, s.cfg.BaseDir)
	}

	fetcher, err := provision.NewFetcher(ctx, s.cfg.SourceURL)
	if err != nil {
		return err
	}
	task := provision.NewTask(s.cfg.SourceURL, s.cfg.MD5, s.cfg.BaseDir,
		fetcher, metrics.NewProvisionMetrics())
	if err := task.Run(ctx); err != nil {
		return err
	}

	for _, script := range []string{startScript, stopScript, stateScript} {
		if err := s.runner.Run(ctx, shell.Command{
			Path: "chmod",
			Args: []string{"+x", filepath.Join(s.cfg.BaseDir, script)},
		}); err != nil {
			return err
		}
	}

	for _, dir := range s.cfg.DataDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if s.cfg.User != "" {
		targets := append([]string{s.cfg.BaseDir}, s.cfg.DataDirs...)
		for _, dir := range targets {
			if err := s.runner.Run(ctx, shell.Command{
				Path: "chown",
				Args: []string{"-R", s.cfg.User, dir},
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) installed() bool {
	_, err := os.Stat(filepath.Join(s.cfg.BaseDir, startScript))
	return err == nil
}

// Remove implements service.Service.
func (s *Service) Remove(ctx context.Context) error {
	if st := s.State(); st != service.StateRunning {
		logger.Debug("Remove skipped, application not running",
			"service", s.cfg.Name, "state", st.String())
		return nil
	}

	if err := s.Transition(service.StateShuttingDown); err != nil {
		return err
	}

	if err := s.runner.Run(ctx, shell.Command{
		Path:  "./" + stopScript,
		Dir:   s.cfg.BaseDir,
		RunAs: s.cfg.User,
	}); err != nil {
		s.Fail(err)
		return err
	}

	if err := s.Transition(service.StateShutDown); err != nil {
		return err
	}
	logger.Info("Application removed", "service", s.cfg.Name)
	return nil
}

// Status implements service.Service: it runs state.sh as the owning user
// and reconciles on the result.
func (s *Service) Status(ctx context.Context) {
	if st := s.State(); st.Quiescent() {
		return
	}

	switch result, cause := s.Probe(ctx); result {
	case ProbeRunning:
		s.Reconcile(service.StateRunning, nil)
	case ProbeNotRunning:
		s.Reconcile(service.StateError,
			fmt.Errorf("%w: application reports it is not running", service.ErrStateInconsistent))
	case ProbeError:
		s.Reconcile(service.StateError,
			fmt.Errorf("%w: %w", service.ErrProbeFailed, cause))
	}
}

// Probe executes the state script and classifies its output.
func (s *Service) Probe(ctx context.Context) (ProbeResult, error) {
	out, err := s.runner.Output(ctx, shell.Command{
		Path:  "./" + stateScript,
		Dir:   s.cfg.BaseDir,
		RunAs: s.cfg.User,
	})
	if err != nil {
		return ProbeError, err
	}
	if strings.Contains(out, s.cfg.NotRunningMarker) {
		return ProbeNotRunning, nil
	}
	return ProbeRunning, nil
}
