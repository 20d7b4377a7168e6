package vfs

import (
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var filesBucket = []byte("files")

// BoltFS serves a boot image from a single bbolt database file. Images
// are built offline by mizzen-mkfs and read-mostly at run time.
type BoltFS struct {
	db      *bolt.DB
	modTime time.Time
}

// OpenBolt opens or creates the image at p.
func OpenBolt(p string) (*BoltFS, error) {
	db, err := bolt.Open(p, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", p)
	}
	modTime := time.Now()
	if fi, err := os.Stat(p); err == nil {
		modTime = fi.ModTime()
	}
	return &BoltFS{db: db, modTime: modTime}, nil
}

// Close releases the underlying database.
func (fs *BoltFS) Close() error {
	return fs.db.Close()
}

// Create adds or replaces the file at an absolute path.
func (fs *BoltFS) Create(p string, data []byte) error {
	if err := checkPath(p); err != nil {
		return err
	}
	p = path.Clean(p)
	return fs.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(filesBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(p), data)
	})
}

// Lookup resolves an absolute path. Contents are copied out of the
// transaction so the inode stays valid after it closes.
func (fs *BoltFS) Lookup(p string) (Inode, error) {
	if err := checkPath(p); err != nil {
		return nil, err
	}
	p = path.Clean(p)

	var data []byte
	err := fs.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)
		if b == nil {
			return errNotFound(p)
		}
		v := b.Get([]byte(p))
		if v == nil {
			return errNotFound(p)
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inode{name: path.Base(p), data: data, modTime: fs.modTime}, nil
}

// List returns every path in the image, in key order.
func (fs *BoltFS) List() ([]string, error) {
	var out []string
	err := fs.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(filesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
