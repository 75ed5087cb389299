package snip

import "io"

// StagingArea holds the fetched content of one revision until it is applied
// to the working tree. Content is keyed by file name.
type StagingArea interface {
	// Put stores content under name, replacing any previous content.
	// It returns the SHA-256 checksum and size of the stored bytes.
	Put(name string, r io.Reader) (checksum string, size int64, err error)

	// Open returns a reader for staged content.
	Open(name string) (io.ReadCloser, error)

	// Size returns the total number of staged bytes.
	Size() (int64, error)

	// Reset discards all staged content.
	Reset() error
}
