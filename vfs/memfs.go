package vfs

import (
	"path"
	"sync"
	"time"
)

// MemFS is a flat in-memory filesystem keyed by absolute path. It backs
// tests and the default boot root.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]*inode
}

// NewMemFS returns an empty filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*inode)}
}

// Create adds or replaces the file at an absolute path.
func (fs *MemFS) Create(p string, data []byte) error {
	if err := checkPath(p); err != nil {
		return err
	}
	p = path.Clean(p)
	buf := make([]byte, len(data))
	copy(buf, data)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[p] = &inode{name: path.Base(p), data: buf, modTime: time.Now()}
	return nil
}

// Lookup resolves an absolute path.
func (fs *MemFS) Lookup(p string) (Inode, error) {
	if err := checkPath(p); err != nil {
		return nil, err
	}
	p = path.Clean(p)

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	ino, ok := fs.files[p]
	if !ok {
		return nil, errNotFound(p)
	}
	return ino, nil
}
