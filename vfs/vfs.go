// Package vfs defines the filesystem surface the kernel loads
// executables through: an in-memory tree for tests and early boot, and
// a bbolt-backed image for persistent roots built by mizzen-mkfs.
package vfs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
)

// Metadata describes an inode.
type Metadata struct {
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// Inode is a resolved filesystem object. Contents are immutable once
// resolved; concurrent readers need no coordination.
type Inode interface {
	Name() string
	Metadata() Metadata
	io.ReaderAt
}

// FileSystem resolves absolute paths to inodes. Relative-path handling
// belongs to the caller, which knows the working directory.
type FileSystem interface {
	Lookup(path string) (Inode, error)
}

func errNotFound(path string) error {
	return fmt.Errorf("lookup %s: %w", path, cerrdefs.ErrNotFound)
}

func checkPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q not absolute: %w", path, cerrdefs.ErrInvalidArgument)
	}
	return nil
}

// inode is the shared immutable implementation behind both filesystems.
type inode struct {
	name    string
	data    []byte
	modTime time.Time
}

func (i *inode) Name() string { return i.name }

func (i *inode) Metadata() Metadata {
	return Metadata{
		Size:    int64(len(i.data)),
		Mode:    0o755,
		ModTime: i.modTime,
	}
}

func (i *inode) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %w", cerrdefs.ErrInvalidArgument)
	}
	if off >= int64(len(i.data)) {
		return 0, io.EOF
	}
	n := copy(p, i.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
