package encryption

import (
	"bytes"
	"fmt"
	"io"

	"rack-go/internal/rack"
)

// testHeader is prepended to data by TestEncryptor to make encrypted output
// clearly different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("RACKENC\x00")

// TestEncryptor is a simple, deterministic encryptor for testing.
// It prepends a fixed 8-byte header during encryption and strips it during
// decryption. Unlock fails for any passphrase other than the one given to
// Setup, when Setup was called with a non-empty one.
type TestEncryptor struct {
	setupCalled bool
	passphrase  string
}

var _ rack.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) EncryptWriter(w io.Writer) (io.WriteCloser, error) {
	return &testWriter{w: w}, nil
}

func (e *TestEncryptor) Unlock(passphrase string) (rack.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("decrypting private key: incorrect passphrase")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// testWriter emits the header before the first byte, or on Close when
// nothing was written, so empty input still produces a valid stream.
type testWriter struct {
	w       io.Writer
	started bool
}

func (t *testWriter) start() error {
	if t.started {
		return nil
	}
	t.started = true
	if _, err := t.w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	return nil
}

func (t *testWriter) Write(p []byte) (int, error) {
	if err := t.start(); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}

func (t *testWriter) Close() error {
	return t.start()
}

// TestDecryptionContext strips the test header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ rack.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) DecryptReader(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return r, nil
}
