package encryption

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"rack-go/internal/config"
	"rack-go/internal/rack"
)

// ErrWrongPassphrase is returned by Unlock when the passphrase does not
// open the private key.
var ErrWrongPassphrase = errors.New("incorrect passphrase")

// AgeEncryptor encrypts commit payloads to a project X25519 key pair.
//
// The recipient file holds the public key in plaintext so stores never
// prompt. The identity file holds the private key wrapped with an
// scrypt passphrase; dumps of encrypted commits must Unlock it first.
type AgeEncryptor struct {
	recipientPath string
	identityPath  string

	recipient age.Recipient
}

var _ rack.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor. Key paths must already be absolute.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

// Setup generates the key pair. Existing key files are never replaced:
// commits encrypted to them would become unreadable.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Lstat(p); err == nil {
			return fmt.Errorf("key file already exists at %s", p)
		}
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	wrap, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("deriving passphrase key: %w", err)
	}

	// Private key first: a public key never exists without its identity.
	err = writeKeyFile(e.identityPath, 0600, func(w io.Writer) error {
		aw, err := age.Encrypt(w, wrap)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(aw, identity.String()); err != nil {
			return err
		}
		return aw.Close()
	})
	if err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	err = writeKeyFile(e.recipientPath, 0644, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, identity.Recipient().String())
		return err
	})
	if err != nil {
		os.Remove(e.identityPath)
		return fmt.Errorf("writing public key: %w", err)
	}

	e.recipient = identity.Recipient()
	return nil
}

// EncryptWriter returns a writer that encrypts to the project's public key.
func (e *AgeEncryptor) EncryptWriter(w io.Writer) (io.WriteCloser, error) {
	if e.recipient == nil {
		r, err := readRecipient(e.recipientPath)
		if err != nil {
			return nil, err
		}
		e.recipient = r
	}

	aw, err := age.Encrypt(w, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("starting age stream: %w", err)
	}
	return aw, nil
}

// Unlock opens the private key with passphrase. A passphrase that does not
// match yields ErrWrongPassphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (rack.DecryptionContext, error) {
	f, err := os.Open(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	defer f.Close()

	unwrap, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	plain, err := age.Decrypt(f, unwrap)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) || errors.Is(err, age.ErrIncorrectIdentity) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("private key file %s holds no identity", e.identityPath)
	}
	return &AgeDecryptionContext{identity: identities[0]}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// readRecipient parses the first recipient line of path, skipping blank
// lines and comments.
func readRecipient(path string) (age.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening public key: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := age.ParseX25519Recipient(line)
		if err != nil {
			return nil, fmt.Errorf("parsing public key %s: %w", path, err)
		}
		return r, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	return nil, fmt.Errorf("public key file %s holds no recipient", path)
}

// writeKeyFile creates path exclusively with perm and fills it with write.
// A failed write removes the partial file.
func writeKeyFile(path string, perm os.FileMode, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// AgeDecryptionContext holds an unlocked age identity.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ rack.DecryptionContext = (*AgeDecryptionContext)(nil)

// DecryptReader returns a reader yielding the plaintext of the age stream r.
func (c *AgeDecryptionContext) DecryptReader(r io.Reader) (io.Reader, error) {
	plain, err := age.Decrypt(r, c.identity)
	if err != nil {
		return nil, fmt.Errorf("opening age stream: %w", err)
	}
	return plain, nil
}
