// Package filemanager is the OS file manager collaborator (spec §6):
// open-for-append, open-for-read, length, delete, atomic replace and
// synchronize, behind a narrow interface so the engine never touches
// *os.File directly. The File interface itself is grounded on
// dacapoday/smol's smol.File (io.ReaderAt + io.WriterAt + io.Closer +
// Truncate + Sync) from the example pack, trimmed to what an append-only
// tree file needs (no WriterAt, no Truncate).
package filemanager

import (
	"io"
	"os"

	"github.com/segmentio/ksuid"
	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// Identity tags a file's on-disk generation. It changes whenever a
// compaction atomically replaces the underlying file, which is how a
// TreeState detects that a cached handle has gone stale (spec §4.7, §3).
type Identity = ksuid.KSUID

// File is the minimal handle the engine needs: append-oriented writes plus
// random-access reads and an explicit sync.
type File interface {
	io.ReaderAt
	io.Writer
	io.Closer
	Sync() error
}

// Manager is the external file-manager collaborator the engine consumes.
type Manager interface {
	// OpenAppend opens path for append, creating it if absent, and returns
	// the handle positioned at the current end of file along with its
	// length and current identity.
	OpenAppend(path string) (File, int64, Identity, error)
	// OpenRead opens path read-only.
	OpenRead(path string) (File, error)
	// Length returns the current size of path, or 0 if it doesn't exist.
	Length(path string) (int64, error)
	// Exists reports whether path is present.
	Exists(path string) bool
	// Delete removes path if present; absent is not an error.
	Delete(path string) error
	// ReplaceWith atomically replaces oldPath's contents with newPath's
	// (spec §4.7 step 7), returning the fresh identity assigned to the
	// replaced file.
	ReplaceWith(oldPath, newPath string) (Identity, error)
}

// OSManager is the default Manager backed by the local filesystem.
type OSManager struct{}

// NewOSManager returns the default OS-backed file manager.
func NewOSManager() *OSManager { return &OSManager{} }

func (m *OSManager) OpenAppend(path string) (File, int64, Identity, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, 0, Identity{}, rootserr.Wrap(rootserr.IO, err, "open %s for append", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, Identity{}, rootserr.Wrap(rootserr.IO, err, "stat %s", path)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, 0, Identity{}, rootserr.Wrap(rootserr.IO, err, "seek to end of %s", path)
	}
	return f, info.Size(), ksuid.New(), nil
}

func (m *OSManager) OpenRead(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rootserr.Wrap(rootserr.IO, err, "open %s for read", path)
	}
	return f, nil
}

func (m *OSManager) Length(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, rootserr.Wrap(rootserr.IO, err, "stat %s", path)
	}
	return info.Size(), nil
}

func (m *OSManager) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *OSManager) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return rootserr.Wrap(rootserr.IO, err, "delete %s", path)
	}
	return nil
}

func (m *OSManager) ReplaceWith(oldPath, newPath string) (Identity, error) {
	if err := os.Rename(newPath, oldPath); err != nil {
		return Identity{}, rootserr.Wrap(rootserr.IO, err, "replace %s with %s", oldPath, newPath)
	}
	return ksuid.New(), nil
}
