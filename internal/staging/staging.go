package staging

import (
	"fmt"
	"io"
	"sync"

	"snipsync/internal/snip"
)

// StagingArea implements snip.StagingArea using a pluggable stagingStore
// for the storage mechanics. It maps file names to content checksums.
type StagingArea struct {
	store   stagingStore
	maxSize int64
	names   map[string]string // file name -> checksum
	mu      sync.Mutex
}

var _ snip.StagingArea = (*StagingArea)(nil)

func newStagingArea(store stagingStore, maxSize int64) *StagingArea {
	return &StagingArea{store: store, maxSize: maxSize, names: make(map[string]string)}
}

// Put stores the content of r under name, replacing earlier content.
func (s *StagingArea) Put(name string, r io.Reader) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checksum, size, err := s.store.StoreContent(r)
	if err != nil {
		return "", 0, fmt.Errorf("storing content: %w", err)
	}

	contentSize, err := s.store.ContentSize()
	if err != nil {
		s.release(checksum, name)
		return "", 0, fmt.Errorf("getting current size: %w", err)
	}
	if contentSize > s.maxSize {
		s.release(checksum, name)
		return "", 0, fmt.Errorf("staging area full: would exceed max size of %d bytes", s.maxSize)
	}

	prev, had := s.names[name]
	s.names[name] = checksum
	if had && prev != checksum {
		s.releaseUnused(prev)
	}
	return checksum, size, nil
}

// release drops content just stored for name unless another name uses it.
func (s *StagingArea) release(checksum, name string) {
	for n, c := range s.names {
		if c == checksum && n != name {
			return
		}
	}
	if s.names[name] == checksum {
		return
	}
	s.store.RemoveContent(checksum)
}

func (s *StagingArea) releaseUnused(checksum string) {
	for _, c := range s.names {
		if c == checksum {
			return
		}
	}
	s.store.RemoveContent(checksum)
}

// Open returns a reader for the content staged under name.
func (s *StagingArea) Open(name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	checksum, ok := s.names[name]
	if !ok {
		return nil, fmt.Errorf("nothing staged for %s", name)
	}
	return s.store.OpenContent(checksum)
}

// Size returns the total size of staged content in bytes.
func (s *StagingArea) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ContentSize()
}

// Count returns the number of staged names.
func (s *StagingArea) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Reset discards everything staged.
func (s *StagingArea) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = make(map[string]string)
	return s.store.Clear()
}
