package provision

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/supernifty/cloudman/internal/logger"
	"github.com/supernifty/cloudman/internal/telemetry"
	"github.com/supernifty/cloudman/pkg/metrics"
	"github.com/supernifty/cloudman/pkg/service"
)

// Task result labels reported to metrics.
const (
	ResultSuccess          = "success"
	ResultChecksumMismatch = "checksum_mismatch"
	ResultFetchError       = "fetch_error"
	ResultExtractError     = "extract_error"
)

// Task provisions a destination directory from a remote archive. The
// archive is staged to a temporary file, checksummed, and extracted only
// when the checksum matches. A task runs at most once.
type Task struct {
	// ID identifies the task in logs and traces.
	ID uuid.UUID

	archiveURL string
	md5sum     string
	dest       string
	fetcher    Fetcher
	metrics    *metrics.ProvisionMetrics

	started atomic.Bool
}

// NewTask creates a provisioning task. md5sum is the expected hex digest of
// the archive; when empty, verification is skipped. A nil metrics handle
// disables instrumentation.
func NewTask(archiveURL, md5sum, dest string, fetcher Fetcher, m *metrics.ProvisionMetrics) *Task {
	return &Task{
		ID:         uuid.New(),
		archiveURL: archiveURL,
		md5sum:     strings.ToLower(strings.TrimSpace(md5sum)),
		dest:       dest,
		fetcher:    fetcher,
		metrics:    m,
	}
}

// Start runs the task on its own goroutine and invokes onComplete with the
// outcome. A task that was already started returns ErrProvisionInFlight
// and does not run again.
func (t *Task) Start(ctx context.Context, onComplete func(error)) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("task %s for %q: %w", t.ID, t.dest, service.ErrProvisionInFlight)
	}

	go func() {
		err := t.run(ctx)
		if onComplete != nil {
			onComplete(err)
		}
	}()
	return nil
}

// Run executes the task synchronously. Like Start, it refuses to run twice.
func (t *Task) Run(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("task %s for %q: %w", t.ID, t.dest, service.ErrProvisionInFlight)
	}
	return t.run(ctx)
}

func (t *Task) run(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "provision.task")
	defer span.End()
	telemetry.SetAttributes(ctx,
		attribute.String("provision.task_id", t.ID.String()),
		attribute.String("provision.url", t.archiveURL),
		attribute.String("provision.dest", t.dest),
	)

	start := time.Now()
	logger.Info("Provisioning from archive",
		"task_id", t.ID, "url", t.archiveURL, "dest", t.dest)

	staging, err := os.CreateTemp("", "cloudman-archive-*")
	if err != nil {
		t.finish(ctx, ResultFetchError, start, err)
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	stagingPath := staging.Name()
	defer func() { _ = os.Remove(stagingPath) }()

	n, err := t.fetch(ctx, staging)
	if cerr := staging.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close staging file: %w", cerr)
	}
	if err != nil {
		t.finish(ctx, ResultFetchError, start, err)
		return err
	}
	t.metrics.RecordBytesFetched(n)

	if err := t.verify(ctx, stagingPath); err != nil {
		t.finish(ctx, ResultChecksumMismatch, start, err)
		return err
	}

	if err := t.extract(ctx, stagingPath); err != nil {
		t.finish(ctx, ResultExtractError, start, err)
		return err
	}

	t.metrics.RecordTask(ResultSuccess, time.Since(start))
	logger.Info("Provisioning complete",
		"task_id", t.ID, "dest", t.dest,
		"bytes", n, "duration", time.Since(start))
	return nil
}

func (t *Task) fetch(ctx context.Context, staging *os.File) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "provision.fetch")
	defer span.End()

	n, err := t.fetcher.Fetch(ctx, t.archiveURL, staging)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return n, err
	}
	telemetry.SetAttributes(ctx, attribute.Int64("provision.bytes", n))
	return n, nil
}

// verify checks the staged archive against the expected MD5 digest. The
// archive must never be extracted when the digest does not match.
func (t *Task) verify(ctx context.Context, stagingPath string) error {
	if t.md5sum == "" {
		logger.Debug("No checksum configured, skipping verification",
			"task_id", t.ID, "url", t.archiveURL)
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "provision.verify")
	defer span.End()

	got, err := fileMD5(stagingPath)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("failed to checksum archive: %w", err)
	}

	if got != t.md5sum {
		err := fmt.Errorf("archive %q: expected md5 %s, got %s: %w",
			t.archiveURL, t.md5sum, got, service.ErrChecksumMismatch)
		telemetry.RecordError(ctx, err)
		return err
	}
	return nil
}

func (t *Task) extract(ctx context.Context, stagingPath string) error {
	ctx, span := telemetry.StartSpan(ctx, "provision.extract")
	defer span.End()

	f, err := os.Open(stagingPath)
	if err != nil {
		return fmt.Errorf("failed to reopen staged archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := os.MkdirAll(t.dest, 0o755); err != nil {
		return fmt.Errorf("failed to create destination %q: %w", t.dest, err)
	}

	if err := ExtractTarGz(ctx, f, t.dest); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("failed to extract archive into %q: %w", t.dest, err)
	}
	return nil
}

func (t *Task) finish(ctx context.Context, result string, start time.Time, err error) {
	t.metrics.RecordTask(result, time.Since(start))
	telemetry.RecordError(ctx, err)
	logger.Error("Provisioning failed",
		"task_id", t.ID, "url", t.archiveURL, "result", result, "error", err)
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
