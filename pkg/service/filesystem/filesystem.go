// Package filesystem implements the NFS-exported transient storage service.
//
// The service owns a directory (typically on the node's ephemeral disk),
// optionally seeds it from a remote archive, and publishes it to the
// cluster through the kernel NFS export table. Its reconciliation compares
// the declared lifecycle state against the directory and export table and
// corrects drift in either direction.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/supernifty/cloudman/internal/bytesize"
	"github.com/supernifty/cloudman/internal/logger"
	"github.com/supernifty/cloudman/pkg/metrics"
	"github.com/supernifty/cloudman/pkg/platform/mounts"
	"github.com/supernifty/cloudman/pkg/provision"
	"github.com/supernifty/cloudman/pkg/service"
	"github.com/supernifty/cloudman/pkg/shell"
)

// Exporter manages NFS export table entries for a path.
type Exporter interface {
	// Find returns the line index of the path's export entry, or -1.
	Find(path string) (int, error)

	// Add appends an export entry for the path and reloads the exports.
	Add(ctx context.Context, path string) error

	// Remove deletes the path's export entry and reloads the exports.
	Remove(ctx context.Context, path string) error
}

// ArchiveConfig describes an optional seed archive for the filesystem.
type ArchiveConfig struct {
	// URL locates the gzip tarball (http, https or s3 scheme).
	URL string

	// MD5 is the expected hex digest of the archive. Empty skips
	// verification.
	MD5 string
}

// Config describes one managed filesystem.
type Config struct {
	// Name is the unique service name, e.g. "galaxyData".
	Name string

	// MountPoint is the exported directory, e.g. "/mnt/galaxyData".
	MountPoint string

	// Owner is the system user that owns the directory tree.
	Owner string

	// Device is the ephemeral block device to format and mount when the
	// node provides one, e.g. "/dev/xvdb". Empty disables device handling.
	Device string

	// DeviceMount is where Device gets mounted. Defaults to "/mnt".
	DeviceMount string

	// FSType is the filesystem created on Device. Defaults to "xfs".
	FSType string

	// Archive optionally seeds the directory contents.
	Archive ArchiveConfig

	// MinFreeSpace triggers a low-space warning during reconciliation
	// when available bytes drop below it. Zero disables the check.
	MinFreeSpace bytesize.ByteSize
}

// Service is an NFS-exported directory with a managed lifecycle.
type Service struct {
	service.StateTracker

	cfg      Config
	runner   shell.Runner
	prober   mounts.Prober
	exporter Exporter
	metrics  *metrics.ServiceMetrics

	mu         sync.Mutex
	usage      mounts.Usage
	device     string
	persistent bool
}

// NewService creates the filesystem service. metrics may be nil.
func NewService(cfg Config, runner shell.Runner, prober mounts.Prober, exporter Exporter, m *metrics.ServiceMetrics) (*Service, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("filesystem service requires a name")
	}
	if cfg.MountPoint == "" {
		return nil, fmt.Errorf("filesystem %q requires a mount point", cfg.Name)
	}
	if runner == nil || prober == nil || exporter == nil {
		return nil, fmt.Errorf("filesystem %q requires a runner, prober and exporter", cfg.Name)
	}
	if cfg.DeviceMount == "" {
		cfg.DeviceMount = "/mnt"
	}
	if cfg.FSType == "" {
		cfg.FSType = "xfs"
	}

	return &Service{
		StateTracker: service.NewStateTracker(cfg.Name),
		cfg:          cfg,
		runner:       runner,
		prober:       prober,
		exporter:     exporter,
		metrics:      m,
	}, nil
}

// Name implements service.Service.
func (s *Service) Name() string {
	return s.cfg.Name
}

// Roles implements service.Service.
func (s *Service) Roles() []service.Role {
	return []service.Role{service.RoleTransientNFS}
}

// Dependencies implements service.Service. Storage starts first and
// depends on nothing.
func (s *Service) Dependencies() []service.Dependency {
	return nil
}

// Usage returns the most recently observed capacity figures.
func (s *Service) Usage() mounts.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Device returns the block device observed to back the mount point.
func (s *Service) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Persistent reports whether the filesystem carries provisioned data that
// outlives the node. It is marked the moment archive seeding is
// dispatched, not when it completes: a half-seeded filesystem must never
// be mistaken for disposable scratch space.
func (s *Service) Persistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistent
}

// Start implements service.Service. With no archive configured the service
// exports the directory and reaches Running synchronously. With an archive
// it enters Configuring, dispatches the provisioning task, and the task's
// completion callback finishes the climb to Running.
func (s *Service) Start(ctx context.Context) error {
	if st := s.State(); st != service.StateUnstarted {
		logger.Debug("Start skipped, filesystem not in Unstarted",
			"service", s.cfg.Name, "state", st.String())
		return nil
	}

	if err := s.ensureDevice(ctx); err != nil {
		s.Fail(err)
		return err
	}
	if err := s.ensureMountPoint(ctx); err != nil {
		s.Fail(err)
		return err
	}
	s.recordDevice()

	if s.cfg.Archive.URL != "" {
		return s.startProvisioned(ctx)
	}

	if err := s.Transition(service.StateStarting); err != nil {
		return err
	}
	if err := s.export(ctx); err != nil {
		s.Fail(err)
		return err
	}
	if err := s.Transition(service.StateRunning); err != nil {
		return err
	}
	logger.Info("Filesystem service started",
		"service", s.cfg.Name, "mount_point", s.cfg.MountPoint)
	return nil
}

func (s *Service) startProvisioned(ctx context.Context) error {
	s.mu.Lock()
	s.persistent = true
	s.mu.Unlock()

	if err := s.Transition(service.StateConfiguring); err != nil {
		return err
	}

	fetcher, err := provision.NewFetcher(ctx, s.cfg.Archive.URL)
	if err != nil {
		s.Fail(err)
		return err
	}

	task := provision.NewTask(s.cfg.Archive.URL, s.cfg.Archive.MD5,
		s.cfg.MountPoint, fetcher, metrics.NewProvisionMetrics())
	if err := task.Start(ctx, s.provisionDone(ctx)); err != nil {
		s.Fail(err)
		return err
	}

	logger.Info("Filesystem provisioning dispatched",
		"service", s.cfg.Name, "task_id", task.ID, "url", s.cfg.Archive.URL)
	return nil
}

// provisionDone runs on the provisioning task's goroutine. The result is
// applied only while the service is still Configuring: a service torn
// down mid-task discards success and failure alike, checked and applied
// under a single tracker lock so a concurrent Remove cannot slip between
// the check and the transition.
func (s *Service) provisionDone(ctx context.Context) func(error) {
	return func(err error) {
		if err != nil {
			cause := fmt.Errorf("%w: %w", service.ErrConfigurationFailed, err)
			if !s.FailFrom(service.StateConfiguring, cause) {
				logger.Warn("Provisioning finished after teardown, discarding",
					"service", s.cfg.Name, "state", s.State().String())
			}
			return
		}

		if err := s.TransitionFrom(service.StateConfiguring, service.StateStarting); err != nil {
			logger.Warn("Provisioning finished after teardown, discarding",
				"service", s.cfg.Name, "state", s.State().String())
			return
		}
		if err := s.chownTree(ctx); err != nil {
			s.Fail(err)
			return
		}
		if err := s.export(ctx); err != nil {
			s.Fail(err)
			return
		}
		if err := s.Transition(service.StateRunning); err != nil {
			return
		}
		logger.Info("Filesystem service started from archive",
			"service", s.cfg.Name, "mount_point", s.cfg.MountPoint)
	}
}

// Remove implements service.Service.
func (s *Service) Remove(ctx context.Context) error {
	switch st := s.State(); st {
	case service.StateRunning:
		// Fall through to the teardown below.
	case service.StateConfiguring:
		// Abandon the in-flight provisioning; its callback will see the
		// state has moved on and discard the result.
		logger.Warn("Removing filesystem with provisioning in flight",
			"service", s.cfg.Name)
		s.Reconcile(service.StateShutDown, nil)
		return nil
	default:
		logger.Debug("Remove skipped, filesystem not running",
			"service", s.cfg.Name, "state", st.String())
		return nil
	}

	if err := s.Transition(service.StateShuttingDown); err != nil {
		return err
	}

	if err := s.exporter.Remove(ctx, s.cfg.MountPoint); err != nil {
		s.Fail(err)
		return err
	}

	if err := s.Transition(service.StateShutDown); err != nil {
		return err
	}
	logger.Info("Filesystem service removed",
		"service", s.cfg.Name, "mount_point", s.cfg.MountPoint)
	return nil
}

// Status implements service.Service. It compares the declared state
// against the directory and the export table:
//
//   - directory missing: the backing disk is gone, reconcile to Unstarted
//     so a later cycle rebuilds it
//   - export entry present: reconcile to Running and refresh usage
//   - export entry absent: the filesystem claims Running but is not
//     published, reconcile to Error
func (s *Service) Status(ctx context.Context) {
	if st := s.State(); st.Quiescent() {
		return
	}

	if _, err := os.Stat(s.cfg.MountPoint); err != nil {
		if os.IsNotExist(err) {
			s.Reconcile(service.StateUnstarted, nil)
			return
		}
		s.Reconcile(service.StateError,
			fmt.Errorf("%w: stat %s: %v", service.ErrProbeFailed, s.cfg.MountPoint, err))
		return
	}

	idx, err := s.exporter.Find(s.cfg.MountPoint)
	if err != nil {
		s.Reconcile(service.StateError,
			fmt.Errorf("%w: reading export table: %v", service.ErrProbeFailed, err))
		return
	}
	if idx < 0 {
		s.Reconcile(service.StateError,
			fmt.Errorf("%w: %s not in export table", service.ErrStateInconsistent, s.cfg.MountPoint))
		return
	}

	s.Reconcile(service.StateRunning, nil)
	s.refreshUsage()
}

// ensureDevice formats and mounts the ephemeral block device when one is
// configured and not yet mounted. A missing device is logged and skipped:
// not every instance type provides ephemeral storage.
func (s *Service) ensureDevice(ctx context.Context) error {
	if s.cfg.Device == "" {
		return nil
	}

	if _, err := os.Stat(s.cfg.Device); err != nil {
		logger.Warn("Ephemeral device not present, using root volume",
			"service", s.cfg.Name, "device", s.cfg.Device)
		return nil
	}

	mounted, err := s.prober.IsMountPoint(s.cfg.DeviceMount)
	if err != nil {
		return fmt.Errorf("failed to check mount %s: %w", s.cfg.DeviceMount, err)
	}
	if mounted {
		return nil
	}

	logger.Info("Formatting ephemeral device",
		"service", s.cfg.Name, "device", s.cfg.Device, "fstype", s.cfg.FSType)
	if err := s.runner.Run(ctx, shell.Command{
		Path: "mkfs." + s.cfg.FSType,
		Args: []string{s.cfg.Device},
	}); err != nil {
		return fmt.Errorf("failed to format %s: %w", s.cfg.Device, err)
	}

	if err := os.MkdirAll(s.cfg.DeviceMount, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.cfg.DeviceMount, err)
	}
	if err := s.runner.Run(ctx, shell.Command{
		Path: "mount",
		Args: []string{"-o", "discard", s.cfg.Device, s.cfg.DeviceMount},
	}); err != nil {
		return fmt.Errorf("failed to mount %s on %s: %w", s.cfg.Device, s.cfg.DeviceMount, err)
	}
	return nil
}

func (s *Service) ensureMountPoint(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.MountPoint, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.cfg.MountPoint, err)
	}
	if s.cfg.Owner != "" {
		if err := s.runner.Run(ctx, shell.Command{
			Path: "chown",
			Args: []string{s.cfg.Owner, s.cfg.MountPoint},
		}); err != nil {
			return fmt.Errorf("failed to chown %s: %w", s.cfg.MountPoint, err)
		}
	}
	return nil
}

// chownTree hands extracted archive contents to the owning user.
func (s *Service) chownTree(ctx context.Context) error {
	if s.cfg.Owner == "" {
		return nil
	}
	if err := s.runner.Run(ctx, shell.Command{
		Path: "chown",
		Args: []string{"-R", s.cfg.Owner, s.cfg.MountPoint},
	}); err != nil {
		return fmt.Errorf("failed to chown %s: %w", s.cfg.MountPoint, err)
	}
	return nil
}

func (s *Service) export(ctx context.Context) error {
	idx, err := s.exporter.Find(s.cfg.MountPoint)
	if err != nil {
		return fmt.Errorf("failed to read export table: %w", err)
	}
	if idx >= 0 {
		logger.Debug("Export entry already present",
			"service", s.cfg.Name, "mount_point", s.cfg.MountPoint)
		return nil
	}
	if err := s.exporter.Add(ctx, s.cfg.MountPoint); err != nil {
		return fmt.Errorf("failed to export %s: %w", s.cfg.MountPoint, err)
	}
	return nil
}

// recordDevice resolves the block device backing the mount point from the
// mount table and remembers it.
func (s *Service) recordDevice() {
	device, err := s.prober.ResolveDevice(s.cfg.MountPoint)
	if err != nil {
		logger.Debug("Failed to resolve backing device",
			"service", s.cfg.Name, "mount_point", s.cfg.MountPoint, "error", err)
		return
	}

	s.mu.Lock()
	s.device = device
	s.mu.Unlock()
}

func (s *Service) refreshUsage() {
	usage, err := s.prober.Usage(s.cfg.MountPoint)
	if err != nil {
		logger.Warn("Failed to read filesystem usage",
			"service", s.cfg.Name, "mount_point", s.cfg.MountPoint, "error", err)
		return
	}
	s.recordDevice()

	s.mu.Lock()
	s.usage = usage
	s.mu.Unlock()

	s.metrics.RecordFilesystemUsage(s.cfg.MountPoint, usage.Total, usage.Used, usage.Available)

	if s.cfg.MinFreeSpace > 0 && usage.Available < s.cfg.MinFreeSpace.Uint64() {
		logger.Warn("Filesystem low on space",
			"service", s.cfg.Name, "mount_point", s.cfg.MountPoint,
			"available", bytesize.ByteSize(usage.Available).String(),
			"threshold", s.cfg.MinFreeSpace.String())
	}
}
