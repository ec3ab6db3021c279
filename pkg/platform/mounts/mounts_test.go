package mounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `/dev/root / ext4 rw,relatime 0 0
/dev/xvdb /mnt xfs rw,discard 0 0
/dev/xvdc /mnt/galaxy\040data xfs rw 0 0
tmpfs /run tmpfs rw 0 0
`

func writeTable(t *testing.T, content string) *SystemProber {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return NewProberWithTable(path)
}

func TestIsMountPoint(t *testing.T) {
	p := writeTable(t, sampleTable)

	mounted, err := p.IsMountPoint("/mnt")
	require.NoError(t, err)
	assert.True(t, mounted)

	mounted, err = p.IsMountPoint("/mnt/galaxyData")
	require.NoError(t, err)
	assert.False(t, mounted)

	// Trailing slashes are cleaned before matching.
	mounted, err = p.IsMountPoint("/mnt/")
	require.NoError(t, err)
	assert.True(t, mounted)
}

func TestResolveDevicePicksLongestPrefix(t *testing.T) {
	p := writeTable(t, sampleTable)

	dev, err := p.ResolveDevice("/mnt/galaxyData/files")
	require.NoError(t, err)
	assert.Equal(t, "/dev/xvdb", dev)

	dev, err = p.ResolveDevice("/home/ubuntu")
	require.NoError(t, err)
	assert.Equal(t, "/dev/root", dev)

	dev, err = p.ResolveDevice("/mnt")
	require.NoError(t, err)
	assert.Equal(t, "/dev/xvdb", dev)
}

func TestResolveDeviceDecodesOctalEscapes(t *testing.T) {
	p := writeTable(t, sampleTable)

	dev, err := p.ResolveDevice("/mnt/galaxy data/seed")
	require.NoError(t, err)
	assert.Equal(t, "/dev/xvdc", dev)
}

func TestMissingMountTable(t *testing.T) {
	p := NewProberWithTable(filepath.Join(t.TempDir(), "absent"))

	_, err := p.IsMountPoint("/mnt")
	assert.Error(t, err)

	_, err = p.ResolveDevice("/mnt")
	assert.Error(t, err)
}

func TestUsageReportsCapacity(t *testing.T) {
	p := NewProber()

	usage, err := p.Usage(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, usage.Total, uint64(0))
	assert.LessOrEqual(t, usage.Available, usage.Total)
}
