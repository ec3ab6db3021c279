package webapp

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supernifty/cloudman/pkg/service"
	"github.com/supernifty/cloudman/pkg/shell"
)

type fakeResolver struct {
	err       error
	satisfied map[service.Role]bool
}

func (f *fakeResolver) CanStart(service.Service) error {
	return f.err
}

func (f *fakeResolver) Satisfied(role service.Role) bool {
	return f.satisfied[role]
}

func installScripts(t *testing.T, baseDir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(baseDir, 0o755))
	for _, script := range []string{"start.sh", "stop.sh", "state.sh"} {
		require.NoError(t, os.WriteFile(filepath.Join(baseDir, script), []byte("#!/bin/sh\n"), 0o755))
	}
}

func newTestService(t *testing.T, cfg Config, resolver *fakeResolver) (*Service, *shell.Fake) {
	t.Helper()
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	runner := shell.NewFake()
	svc, err := NewService(cfg, runner, resolver, nil)
	require.NoError(t, err)
	return svc, runner
}

func TestStartRunsStartScriptAsUser(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{
		Name:    "galaxy",
		User:    "galaxy",
		BaseDir: baseDir,
	}, nil)

	require.NoError(t, svc.Start(context.Background()))

	assert.Equal(t, service.StateRunning, svc.State())
	assert.True(t, runner.Ran(`su - galaxy -c "cd `+baseDir+`; ./start.sh"`))
}

func TestStartDeferredWhenDependencyNotRunning(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	resolver := &fakeResolver{
		err: fmt.Errorf("galaxy requires transient_nfs: %w", service.ErrDependencyNotRunning),
	}
	svc, runner := newTestService(t, Config{
		Name:      "galaxy",
		BaseDir:   baseDir,
		DependsOn: []service.Role{service.RoleTransientNFS},
	}, resolver)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrDependencyNotRunning))

	// The service stays Unstarted for a later retry and nothing ran.
	assert.Equal(t, service.StateUnstarted, svc.State())
	assert.False(t, runner.Ran("start.sh"))
}

func TestStartInstallsDistribution(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, script := range []string{"start.sh", "stop.sh", "state.sh"} {
		content := "#!/bin/sh\n"
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: script, Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	baseDir := filepath.Join(dir, "galaxy")
	dataDir := filepath.Join(dir, "galaxyData", "files")

	svc, runner := newTestService(t, Config{
		Name:      "galaxy",
		User:      "galaxy",
		BaseDir:   baseDir,
		SourceURL: srv.URL + "/galaxy-dist.tar.gz",
		DataDirs:  []string{dataDir},
	}, nil)

	require.NoError(t, svc.Start(context.Background()))

	assert.Equal(t, service.StateRunning, svc.State())
	_, err := os.Stat(filepath.Join(baseDir, "start.sh"))
	assert.NoError(t, err)
	_, err = os.Stat(dataDir)
	assert.NoError(t, err)
	assert.True(t, runner.Ran("chmod +x"))
	assert.True(t, runner.Ran("chown -R galaxy"))
}

func TestStartFailsWithoutInstallSource(t *testing.T) {
	svc, _ := newTestService(t, Config{
		Name:    "galaxy",
		BaseDir: filepath.Join(t.TempDir(), "galaxy"),
	}, nil)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, service.StateError, svc.State())
	assert.True(t, errors.Is(svc.LastError(), service.ErrConfigurationFailed))
}

func TestStartScriptFailureEntersError(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)
	runner.Fail["start.sh"] = errors.New("exit status 1")

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, service.StateError, svc.State())
}

func TestRemoveRunsStopScript(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", User: "galaxy", BaseDir: baseDir}, nil)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Remove(context.Background()))
	assert.Equal(t, service.StateShutDown, svc.State())
	assert.True(t, runner.Ran("stop.sh"))
}

func TestRemoveSkippedWhenNotRunning(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)
	require.NoError(t, svc.Remove(context.Background()))

	assert.Equal(t, service.StateUnstarted, svc.State())
	assert.False(t, runner.Ran("stop.sh"))
}

func TestStatusHealthyKeepsRunning(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)
	require.NoError(t, svc.Start(context.Background()))

	runner.Outputs["state.sh"] = "Galaxy is running (pid 4242)"
	svc.Status(context.Background())
	assert.Equal(t, service.StateRunning, svc.State())
}

func TestStatusDownMarkerReconcilesToError(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)
	require.NoError(t, svc.Start(context.Background()))

	runner.Outputs["state.sh"] = "Galaxy is NOT running"
	svc.Status(context.Background())

	assert.Equal(t, service.StateError, svc.State())
	assert.True(t, errors.Is(svc.LastError(), service.ErrStateInconsistent))
}

func TestStatusProbeFailureReconcilesToError(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)
	require.NoError(t, svc.Start(context.Background()))

	runner.Fail["state.sh"] = errors.New("su: command failed")
	svc.Status(context.Background())

	assert.Equal(t, service.StateError, svc.State())
	assert.True(t, errors.Is(svc.LastError(), service.ErrProbeFailed))
}

func TestStatusSkipsQuiescentStates(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)
	svc.Status(context.Background())

	assert.Equal(t, service.StateUnstarted, svc.State())
	assert.False(t, runner.Ran("state.sh"))
}

func TestPortReported(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, _ := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir, Port: 8085}, nil)
	assert.Equal(t, 8085, svc.Port())

	svc, _ = newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)
	assert.Zero(t, svc.Port())
}

func TestProbeClassification(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "galaxy")
	installScripts(t, baseDir)

	svc, runner := newTestService(t, Config{Name: "galaxy", BaseDir: baseDir}, nil)

	runner.Outputs["state.sh"] = "running"
	result, err := svc.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProbeRunning, result)

	runner.Outputs["state.sh"] = "service NOT running"
	result, err = svc.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProbeNotRunning, result)

	runner.Fail["state.sh"] = errors.New("boom")
	result, err = svc.Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, ProbeError, result)
}
