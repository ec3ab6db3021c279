// Package nfsexport manages the node's NFS export table. Entries are kept
// in /etc/exports and applied to the kernel NFS server with exportfs.
// This is the persistence layer for exported filesystems: the service core
// owns no export state of its own, it only reconciles against this table.
package nfsexport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/supernifty/cloudman/internal/logger"
	"github.com/supernifty/cloudman/pkg/shell"
)

// DefaultOptions is the export clause applied to newly exported paths:
// world-mountable read-write with synchronous writes, matching what a
// single-tenant cluster's worker nodes expect.
const DefaultOptions = "*(rw,sync,no_root_squash,no_subtree_check)"

// Table manipulates an exports(5) file and reloads the NFS server after
// changes. All mutations are serialized.
type Table struct {
	mu      sync.Mutex
	path    string
	options string
	runner  shell.Runner
}

// NewTable returns a Table over the given exports file. Empty path selects
// /etc/exports; empty options selects DefaultOptions.
func NewTable(path, options string, runner shell.Runner) *Table {
	if path == "" {
		path = "/etc/exports"
	}
	if options == "" {
		options = DefaultOptions
	}
	return &Table{path: path, options: options, runner: runner}
}

// lines reads the exports file, tolerating a missing file (empty table).
func (t *Table) lines() ([]string, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read exports file %s: %w", t.path, err)
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil, nil
	}
	return strings.Split(content, "\n"), nil
}

func (t *Table) write(lines []string) error {
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(t.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write exports file %s: %w", t.path, err)
	}
	return nil
}

// entryFor reports whether an exports line exports the given path.
func entryFor(line, path string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return false
	}
	fields := strings.Fields(trimmed)
	return len(fields) > 0 && filepath.Clean(fields[0]) == filepath.Clean(path)
}

// Find returns the line index of the export entry for path, or -1 when the
// path is not exported.
func (t *Table) Find(path string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines, err := t.lines()
	if err != nil {
		return -1, err
	}
	for i, line := range lines {
		if entryFor(line, path) {
			return i, nil
		}
	}
	return -1, nil
}

// Add exports the path, appending an entry if one is not already present,
// and reloads the NFS server.
func (t *Table) Add(ctx context.Context, path string) error {
	t.mu.Lock()

	lines, err := t.lines()
	if err != nil {
		t.mu.Unlock()
		return err
	}

	present := false
	for _, line := range lines {
		if entryFor(line, path) {
			present = true
			break
		}
	}

	if !present {
		lines = append(lines, fmt.Sprintf("%s\t%s", filepath.Clean(path), t.options))
		if err := t.write(lines); err != nil {
			t.mu.Unlock()
			return err
		}
		logger.Debug("Added NFS export entry", "path", path, "file", t.path)
	}
	t.mu.Unlock()

	return t.reload(ctx)
}

// Remove revokes the export for the path and reloads the NFS server.
// Removing an absent entry is a no-op.
func (t *Table) Remove(ctx context.Context, path string) error {
	t.mu.Lock()

	lines, err := t.lines()
	if err != nil {
		t.mu.Unlock()
		return err
	}

	kept := lines[:0]
	removed := false
	for _, line := range lines {
		if entryFor(line, path) {
			removed = true
			continue
		}
		kept = append(kept, line)
	}

	if removed {
		if err := t.write(kept); err != nil {
			t.mu.Unlock()
			return err
		}
		logger.Debug("Removed NFS export entry", "path", path, "file", t.path)
	}
	t.mu.Unlock()

	if !removed {
		return nil
	}
	return t.reload(ctx)
}

// reload re-exports all entries on the running NFS server.
func (t *Table) reload(ctx context.Context) error {
	err := t.runner.Run(ctx, shell.Command{Path: "exportfs", Args: []string{"-ra"}})
	if err != nil {
		return fmt.Errorf("failed to reload NFS exports: %w", err)
	}
	return nil
}
