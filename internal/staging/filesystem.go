package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fileSystemStore keeps staged content on disk.
//
// Directory structure:
//
//	<staging_dir>/
//	  files/
//	    <sha256>    (staged content)
type fileSystemStore struct {
	filesDir string
}

var _ stagingStore = (*fileSystemStore)(nil)

// NewFileSystemStagingArea creates a staging area backed by stagingDir.
// Content left over from an interrupted run is discarded.
// maxSize is the maximum total size in bytes; must be positive.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (*StagingArea, error) {
	filesDir := filepath.Join(stagingDir, "files")
	if err := os.MkdirAll(filesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	store := &fileSystemStore{filesDir: filesDir}
	if err := store.Clear(); err != nil {
		return nil, err
	}
	return newStagingArea(store, maxSize), nil
}

// StoreContent streams r into a temp file while hashing, then renames it
// into place.
func (f *fileSystemStore) StoreContent(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(f.filesDir, ".tmp-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, fmt.Errorf("writing content: %w", err)
	}

	checksum := hex.EncodeToString(h.Sum(nil))
	dst := filepath.Join(f.filesDir, checksum)
	if _, err := os.Stat(dst); err == nil {
		return checksum, size, nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("storing content: %w", err)
	}
	return checksum, size, nil
}

func (f *fileSystemStore) RemoveContent(checksum string) {
	os.Remove(filepath.Join(f.filesDir, checksum))
}

func (f *fileSystemStore) OpenContent(checksum string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(f.filesDir, checksum))
	if err != nil {
		return nil, fmt.Errorf("content not found: %s", checksum)
	}
	return file, nil
}

func (f *fileSystemStore) ContentSize() (int64, error) {
	entries, err := os.ReadDir(f.filesDir)
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}

func (f *fileSystemStore) Clear() error {
	entries, err := os.ReadDir(f.filesDir)
	if err != nil {
		return fmt.Errorf("reading staging directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.filesDir, e.Name())); err != nil {
			return fmt.Errorf("clearing staging directory: %w", err)
		}
	}
	return nil
}
