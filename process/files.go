package process

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/vfs"
)

// File is a refcounted open-file handle. Fork shares handles between
// tables, so the read offset is shared too; the handle closes when the
// last reference drops.
type File struct {
	mu   sync.Mutex
	ino  vfs.Inode
	pos  int64
	refs int
}

func newFile(ino vfs.Inode) *File {
	return &File{ino: ino, refs: 1}
}

// Retain takes an additional reference.
func (f *File) Retain() *File {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return f
}

// Close drops one reference.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs <= 0 {
		return errors.Wrap(abi.EBADF, "close of closed file")
	}
	f.refs--
	return nil
}

// Read reads from the shared offset.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs <= 0 {
		return 0, errors.Wrap(abi.EBADF, "read of closed file")
	}
	n, err := f.ino.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Inode returns the handle's inode.
func (f *File) Inode() vfs.Inode { return f.ino }

func (f *File) refcount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs
}

// FileTable is a process's fd space. Fork copies the mapping while
// sharing the handles; exec leaves the table alone; exit closes
// everything.
type FileTable struct {
	mu    sync.Mutex
	files map[int]*File
}

// NewFileTable returns an empty table.
func NewFileTable() *FileTable {
	return &FileTable{files: make(map[int]*File)}
}

// Open installs a handle for ino at the lowest free fd.
func (ft *FileTable) Open(ino vfs.Inode) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	fd := 0
	for {
		if _, ok := ft.files[fd]; !ok {
			break
		}
		fd++
	}
	ft.files[fd] = newFile(ino)
	return fd
}

// Get resolves an fd.
func (ft *FileTable) Get(fd int) (*File, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	f, ok := ft.files[fd]
	if !ok {
		return nil, errors.Wrapf(abi.EBADF, "fd %d", fd)
	}
	return f, nil
}

// Close removes an fd and drops its reference.
func (ft *FileTable) Close(fd int) error {
	ft.mu.Lock()
	f, ok := ft.files[fd]
	if ok {
		delete(ft.files, fd)
	}
	ft.mu.Unlock()
	if !ok {
		return errors.Wrapf(abi.EBADF, "fd %d", fd)
	}
	return f.Close()
}

// Fork returns a table with the same fd numbering sharing every handle.
func (ft *FileTable) Fork() *FileTable {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	child := &FileTable{files: make(map[int]*File, len(ft.files))}
	for fd, f := range ft.files {
		child.files[fd] = f.Retain()
	}
	return child
}

// CloseAll drops every fd. Close failures on individual handles do not
// stop the sweep. Idempotent.
func (ft *FileTable) CloseAll() {
	ft.mu.Lock()
	files := ft.files
	ft.files = make(map[int]*File)
	ft.mu.Unlock()
	for _, f := range files {
		_ = f.Close()
	}
}

// Len returns the number of open fds.
func (ft *FileTable) Len() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.files)
}

// FDs returns the open fd numbers, sorted.
func (ft *FileTable) FDs() []int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	fds := make([]int, 0, len(ft.files))
	for fd := range ft.files {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	return fds
}
