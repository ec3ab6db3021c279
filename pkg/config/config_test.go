package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supernifty/cloudman/internal/bytesize"
)

const sampleConfig = `
logging:
  level: DEBUG
  format: json
  output: stderr

manager:
  reconcile_interval: 15s
  shutdown_timeout: 1m

metrics:
  enabled: true
  port: 9191

nfs:
  exports_file: /tmp/exports

filesystems:
  - name: galaxyData
    mount_point: /mnt/galaxyData
    owner: galaxy
    device: /dev/xvdb
    min_free_space: 1Gi
  - name: galaxyIndices
    mount_point: /mnt/galaxyIndices
    archive:
      url: https://example.org/indices.tar.gz
      md5: 0123456789abcdef0123456789abcdef

applications:
  - name: galaxy
    user: galaxy
    base_dir: /mnt/galaxyTools/galaxy
    port: 8085
    depends_on: [transient_nfs]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 15*time.Second, cfg.Manager.ReconcileInterval)
	assert.Equal(t, time.Minute, cfg.Manager.ShutdownTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "/tmp/exports", cfg.NFS.ExportsFile)

	require.Len(t, cfg.Filesystems, 2)
	assert.Equal(t, "galaxyData", cfg.Filesystems[0].Name)
	assert.Equal(t, "/dev/xvdb", cfg.Filesystems[0].Device)
	assert.Equal(t, bytesize.GiB, cfg.Filesystems[0].MinFreeSpace)
	require.NotNil(t, cfg.Filesystems[1].Archive)
	assert.Equal(t, "https://example.org/indices.tar.gz", cfg.Filesystems[1].Archive.URL)

	require.Len(t, cfg.Applications, 1)
	assert.Equal(t, 8085, cfg.Applications[0].Port)
	assert.Equal(t, []string{"transient_nfs"}, cfg.Applications[0].DependsOn)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "filesystems:\n  - name: galaxyData\n    mount_point: /mnt/galaxyData\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, DefaultReconcileInterval, cfg.Manager.ReconcileInterval)
	assert.Equal(t, DefaultExportsFile, cfg.NFS.ExportsFile)
	assert.Equal(t, DefaultAPIPort, cfg.API.Port)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Empty(t, cfg.Filesystems)
}

func TestLoadRejectsInvalidLevel(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  level: LOUD\n"))
	assert.Error(t, err)
}

func TestLoadRejectsFilesystemWithoutMountPoint(t *testing.T) {
	_, err := Load(writeConfig(t, "filesystems:\n  - name: galaxyData\n"))
	assert.Error(t, err)
}

func TestLoadRejectsBadChecksum(t *testing.T) {
	_, err := Load(writeConfig(t, `
filesystems:
  - name: galaxyData
    mount_point: /mnt/galaxyData
    archive:
      url: https://example.org/a.tar.gz
      md5: nothex
`))
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Filesystems = []FilesystemConfig{
		{Name: "galaxy", MountPoint: "/mnt/a"},
	}
	cfg.Applications = []AppConfig{
		{Name: "galaxy", BaseDir: "/mnt/galaxy"},
	}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate service name")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CLOUDMAN_LOGGING_LEVEL", "WARN")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Filesystems = []FilesystemConfig{
		{Name: "galaxyData", MountPoint: "/mnt/galaxyData", Owner: "galaxy"},
	}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Filesystems, 1)
	assert.Equal(t, "galaxyData", loaded.Filesystems[0].Name)
	assert.Equal(t, cfg.Manager.ReconcileInterval, loaded.Manager.ReconcileInterval)
}

func TestMustLoadMissingExplicitFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloudman init")
}
