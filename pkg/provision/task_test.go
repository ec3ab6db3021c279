package provision

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supernifty/cloudman/pkg/service"
)

// makeTarGz builds a gzip tarball containing the given name to content
// mapping.
func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func serveArchive(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestTaskProvisionsArchive(t *testing.T) {
	archive := makeTarGz(t, map[string]string{
		"galaxy/config.yml": "id: main\n",
		"galaxy/data/seed":  "payload",
	})
	srv := serveArchive(t, archive)
	dest := t.TempDir()

	task := NewTask(srv.URL+"/bundle.tar.gz", md5Hex(archive), dest, NewHTTPFetcher(), nil)
	require.NoError(t, task.Run(context.Background()))

	got, err := os.ReadFile(filepath.Join(dest, "galaxy", "config.yml"))
	require.NoError(t, err)
	assert.Equal(t, "id: main\n", string(got))

	got, err = os.ReadFile(filepath.Join(dest, "galaxy", "data", "seed"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestTaskChecksumMismatchLeavesDestUntouched(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"galaxy/config.yml": "id: main\n"})
	srv := serveArchive(t, archive)
	dest := t.TempDir()

	task := NewTask(srv.URL+"/bundle.tar.gz", "deadbeefdeadbeefdeadbeefdeadbeef", dest, NewHTTPFetcher(), nil)
	err := task.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrChecksumMismatch))

	// Nothing may be extracted on a bad checksum.
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTaskSkipsVerificationWithoutChecksum(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"readme": "hello"})
	srv := serveArchive(t, archive)
	dest := t.TempDir()

	task := NewTask(srv.URL+"/bundle.tar.gz", "", dest, NewHTTPFetcher(), nil)
	require.NoError(t, task.Run(context.Background()))

	_, err := os.Stat(filepath.Join(dest, "readme"))
	assert.NoError(t, err)
}

func TestTaskRunsOnlyOnce(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"readme": "hello"})
	srv := serveArchive(t, archive)
	dest := t.TempDir()

	task := NewTask(srv.URL+"/bundle.tar.gz", md5Hex(archive), dest, NewHTTPFetcher(), nil)
	require.NoError(t, task.Run(context.Background()))

	err := task.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrProvisionInFlight))
}

func TestTaskStartInvokesCallback(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"readme": "hello"})
	srv := serveArchive(t, archive)
	dest := t.TempDir()

	done := make(chan error, 1)
	task := NewTask(srv.URL+"/bundle.tar.gz", md5Hex(archive), dest, NewHTTPFetcher(), nil)
	require.NoError(t, task.Start(context.Background(), func(err error) { done <- err }))

	require.NoError(t, <-done)
	_, err := os.Stat(filepath.Join(dest, "readme"))
	assert.NoError(t, err)
}

func TestTaskFetchErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	task := NewTask(srv.URL+"/missing.tar.gz", "", t.TempDir(), NewHTTPFetcher(), nil)
	err := task.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestExtractTarGzRejectsTraversal(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"../escape": "nope"})
	err := ExtractTarGz(context.Background(), bytes.NewReader(archive), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}

func TestNewFetcherSelectsByScheme(t *testing.T) {
	f, err := NewFetcher(context.Background(), "https://example.org/a.tar.gz")
	require.NoError(t, err)
	assert.IsType(t, &HTTPFetcher{}, f)

	_, err = NewFetcher(context.Background(), "ftp://example.org/a.tar.gz")
	require.Error(t, err)
}
