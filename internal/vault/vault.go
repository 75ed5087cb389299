package vault

import (
	"errors"
	"io"
)

// ErrNotFound is returned when no item has been stored under the requested owner and name.
var ErrNotFound = errors.New("vault item not found")

// Vault is off-site storage for ledger snapshots.
//
// Items are addressed by an owner (the host ID of the machine running syncs) and a name
// such as "ledger". Each item carries a version so a stale local ledger can be
// detected before it overwrites a newer snapshot.
type Vault interface {
	// PutMetadata stores an item. size is the number of bytes that will be read from r.
	PutMetadata(owner string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata writes a stored item to w.
	GetMetadata(owner string, name string, w io.Writer) error

	// GetMetadataVersion returns an item's version, or 0 if it was never stored.
	GetMetadataVersion(owner string, name string) (int64, error)

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup() error
}
