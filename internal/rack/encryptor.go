package rack

import "io"

// Encryptor adds an optional encryption layer over compressed payloads.
// Encryption uses the public key only and needs no user intervention.
// Decryption requires a passphrase to unlock the private key, producing a
// DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation. Called by `rack keys init`.
	// Generates a key pair, stores the public key in plaintext, and encrypts
	// the private key with the provided passphrase.
	Setup(passphrase string) error

	// EncryptWriter returns a writer that encrypts everything written to it into w.
	// The caller must Close the returned writer to flush the final block.
	EncryptWriter(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key using the passphrase and returns a
	// DecryptionContext for the duration of a restore.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the duration
// of a restore. The unlocked key is never written to disk.
type DecryptionContext interface {
	// DecryptReader returns a reader yielding the plaintext of r.
	DecryptReader(r io.Reader) (io.Reader, error)
}
