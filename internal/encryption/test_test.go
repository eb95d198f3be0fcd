package encryption

import (
	"bytes"
	"io"
	"testing"

	"rack-go/internal/rack"
)

// encryptAll runs data through e.EncryptWriter.
func encryptAll(t *testing.T, e rack.Encryptor, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := e.EncryptWriter(&out)
	if err != nil {
		t.Fatalf("EncryptWriter() error = %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return out.Bytes()
}

// decryptAll reads the full plaintext of data through ctx.
func decryptAll(t *testing.T, ctx rack.DecryptionContext, data []byte) []byte {
	t.Helper()
	r, err := ctx.DecryptReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecryptReader() error = %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading plaintext: %v", err)
	}
	return out
}

func TestTestEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup("any-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.setupCalled {
		t.Error("Setup() did not record that it was called")
	}
}

func TestTestEncryptor_IsConfigured(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}
}

func TestTestEncryptor_EncryptDecrypt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()
			encrypted := encryptAll(t, e, tt.input)

			if !bytes.HasPrefix(encrypted, testHeader) {
				t.Error("encrypted output does not start with test header")
			}

			ctx, err := e.Unlock("any-passphrase")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}

			decrypted := decryptAll(t, ctx, encrypted)
			if !bytes.Equal(decrypted, tt.input) {
				t.Errorf("round-trip failed: got %q, want %q", decrypted, tt.input)
			}
		})
	}
}

func TestTestEncryptor_Deterministic(t *testing.T) {
	t.Parallel()

	input := []byte("deterministic test")
	e := NewTestEncryptor()

	if !bytes.Equal(encryptAll(t, e, input), encryptAll(t, e, input)) {
		t.Error("same input produced different encrypted output")
	}
}

func TestTestEncryptor_UnlockChecksPassphrase(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	if err := e.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("wrong"); err == nil {
		t.Error("Unlock() with wrong passphrase should return error")
	}
	if _, err := e.Unlock("secret"); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
}

func TestTestDecryptionContext_InvalidHeader(t *testing.T) {
	t.Parallel()

	ctx := &TestDecryptionContext{}
	if _, err := ctx.DecryptReader(bytes.NewReader([]byte("NOT_VALID_HEADER_data"))); err == nil {
		t.Error("DecryptReader() with invalid header should return error")
	}
}

func TestTestDecryptionContext_TruncatedHeader(t *testing.T) {
	t.Parallel()

	ctx := &TestDecryptionContext{}
	if _, err := ctx.DecryptReader(bytes.NewReader([]byte("RA"))); err == nil {
		t.Error("DecryptReader() with truncated data should return error")
	}
	if _, err := ctx.DecryptReader(bytes.NewReader(nil)); err == nil {
		t.Error("DecryptReader() with empty input should return error")
	}
}
