package encryption

import "io"

// Encryptor protects ledger snapshots before they leave the machine.
// Encryption uses the public key only; decryption needs the passphrase
// that unlocks the private key.
type Encryptor interface {
	// Setup generates a key pair and encrypts the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context that can decrypt snapshots.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the keys needed by Encrypt exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
