// Package mounts observes mount-table facts: whether a path is a mount
// point, which block device backs it, and how much space it has. The
// filesystem service reconciles its declared state against these facts.
package mounts

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Usage reports filesystem capacity for a mount, in bytes.
type Usage struct {
	Total     uint64 `json:"total"`
	Used      uint64 `json:"used"`
	Available uint64 `json:"available"`
}

// Prober answers mount-table queries.
type Prober interface {
	// IsMountPoint reports whether the path appears in the mount table.
	IsMountPoint(path string) (bool, error)

	// ResolveDevice returns the block device identifier backing the mount
	// at the given path.
	ResolveDevice(path string) (string, error)

	// Usage returns capacity figures for the filesystem containing path.
	Usage(path string) (Usage, error)
}

// SystemProber reads the kernel mount table and statfs. mountsFile defaults
// to /proc/mounts and is overridable for tests.
type SystemProber struct {
	mountsFile string
}

// NewProber returns a Prober backed by /proc/mounts.
func NewProber() *SystemProber {
	return &SystemProber{mountsFile: "/proc/mounts"}
}

// NewProberWithTable returns a Prober reading the given mounts file.
func NewProberWithTable(mountsFile string) *SystemProber {
	return &SystemProber{mountsFile: mountsFile}
}

// entries parses the mounts file into (device, mountPoint) pairs.
func (p *SystemProber) entries() ([][2]string, error) {
	f, err := os.Open(p.mountsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	defer f.Close()

	var out [][2]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		out = append(out, [2]string{fields[0], unescapeMount(fields[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan mount table: %w", err)
	}
	return out, nil
}

// IsMountPoint reports whether the cleaned path has its own mount entry.
func (p *SystemProber) IsMountPoint(path string) (bool, error) {
	entries, err := p.entries()
	if err != nil {
		return false, err
	}

	clean := filepath.Clean(path)
	for _, e := range entries {
		if e[1] == clean {
			return true, nil
		}
	}
	return false, nil
}

// ResolveDevice returns the device of the mount entry whose mount point is
// the longest prefix of path, mirroring what df reports for the path.
func (p *SystemProber) ResolveDevice(path string) (string, error) {
	entries, err := p.entries()
	if err != nil {
		return "", err
	}

	clean := filepath.Clean(path)
	var device string
	longest := -1
	for _, e := range entries {
		mp := e[1]
		if mp == clean || strings.HasPrefix(clean+"/", mp+"/") || mp == "/" {
			if len(mp) > longest {
				longest = len(mp)
				device = e[0]
			}
		}
	}
	if device == "" {
		return "", fmt.Errorf("no mount entry found for %s", path)
	}
	return device, nil
}

// Usage returns capacity figures via statfs.
func (p *SystemProber) Usage(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bfree * bsize
	return Usage{
		Total:     total,
		Used:      total - free,
		Available: st.Bavail * bsize,
	}, nil
}

// unescapeMount decodes the octal escapes /proc/mounts uses for spaces and
// other special characters in mount points.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			var c byte
			ok := true
			for j := 1; j <= 3; j++ {
				d := s[i+j]
				if d < '0' || d > '7' {
					ok = false
					break
				}
				c = c<<3 | (d - '0')
			}
			if ok {
				b.WriteByte(c)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
