package vfs

import (
	"io"
	"path/filepath"
	"testing"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/stretchr/testify/require"
)

func TestMemFSLookup(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.Create("/bin/init", []byte("image-bytes")))

	ino, err := fs.Lookup("/bin/init")
	require.NoError(t, err)
	require.Equal(t, "init", ino.Name())
	require.Equal(t, int64(11), ino.Metadata().Size)

	// Paths are cleaned before resolution.
	ino2, err := fs.Lookup("/bin/../bin/init")
	require.NoError(t, err)
	require.Equal(t, ino, ino2)
}

func TestMemFSNotFound(t *testing.T) {
	fs := NewMemFS()
	_, err := fs.Lookup("/bin/missing")
	require.True(t, cerrdefs.IsNotFound(err), "want not-found, got %v", err)
}

func TestRelativePathRejected(t *testing.T) {
	fs := NewMemFS()
	_, err := fs.Lookup("bin/init")
	require.True(t, cerrdefs.IsInvalidArgument(err), "want invalid-argument, got %v", err)
}

func TestInodeReadAt(t *testing.T) {
	fs := NewMemFS()
	require.NoError(t, fs.Create("/data", []byte("0123456789")))
	ino, err := fs.Lookup("/data")
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := ino.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "0123", string(buf))

	n, err = ino.ReadAt(buf, 8)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 2, n)
	require.Equal(t, "89", string(buf[:n]))

	_, err = ino.ReadAt(buf, 100)
	require.Equal(t, io.EOF, err)
}

func TestInodeContentsImmutableAfterCreate(t *testing.T) {
	fs := NewMemFS()
	data := []byte("original")
	require.NoError(t, fs.Create("/f", data))
	data[0] = 'X'

	ino, err := fs.Lookup("/f")
	require.NoError(t, err)
	buf := make([]byte, 8)
	_, err = ino.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "original", string(buf))
}

func TestBoltFSRoundTrip(t *testing.T) {
	img := filepath.Join(t.TempDir(), "boot.img")

	fs, err := OpenBolt(img)
	require.NoError(t, err)
	require.NoError(t, fs.Create("/bin/init", []byte("init-image")))
	require.NoError(t, fs.Create("/bin/echo", []byte("echo-image")))
	require.NoError(t, fs.Close())

	fs, err = OpenBolt(img)
	require.NoError(t, err)
	defer fs.Close()

	ino, err := fs.Lookup("/bin/echo")
	require.NoError(t, err)
	buf := make([]byte, ino.Metadata().Size)
	_, err = ino.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "echo-image", string(buf))

	paths, err := fs.List()
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/echo", "/bin/init"}, paths)

	_, err = fs.Lookup("/bin/missing")
	require.True(t, cerrdefs.IsNotFound(err), "want not-found, got %v", err)
}

func TestBoltFSEmptyImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "empty.img")
	fs, err := OpenBolt(img)
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.Lookup("/anything")
	require.True(t, cerrdefs.IsNotFound(err))

	paths, err := fs.List()
	require.NoError(t, err)
	require.Empty(t, paths)
}
