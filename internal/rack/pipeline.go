package rack

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rack-go/internal/codec"
)

// EncryptedSuffix marks payloads that were encrypted after compression.
const EncryptedSuffix = ".age"

// payloadSuffix is appended to every payload written by this service.
func (s *Service) payloadSuffix() string {
	if s.encryptor != nil {
		return s.codec.Suffix() + EncryptedSuffix
	}
	return s.codec.Suffix()
}

// parsePayloadName splits a stored file name into the original name, the codec
// that wrote it and whether it is encrypted. ok is false for unrecognized files.
func parsePayloadName(name string) (base string, c codec.Codec, encrypted bool, ok bool) {
	if trimmed, found := strings.CutSuffix(name, EncryptedSuffix); found {
		name, encrypted = trimmed, true
	}
	c, base, ok = codec.ForPath(name)
	return base, c, encrypted, ok
}

// writePayload compresses src into a new file at dst, encrypting the
// compressed stream when an encryptor is configured. dst must not exist.
// Returns the size of the file on disk.
func (s *Service) writePayload(dst string, src io.Reader, level int) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("creating directory for %s: %w", filepath.Base(dst), err)
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%w: %s written twice", ErrStorageConflict, filepath.Base(dst))
		}
		return 0, ioError("creating payload", err)
	}

	var sink io.Writer = f
	var enc io.WriteCloser
	if s.encryptor != nil {
		enc, err = s.encryptor.EncryptWriter(f)
		if err != nil {
			f.Close()
			return 0, ioError("starting encryption", err)
		}
		sink = enc
	}

	if _, err := codec.Compress(s.codec, sink, src, level); err != nil {
		f.Close()
		return 0, ioError("compressing "+filepath.Base(dst), err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			f.Close()
			return 0, ioError("finalizing encryption", err)
		}
	}
	if err := f.Close(); err != nil {
		return 0, ioError("closing payload", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, ioError("stat payload", err)
	}
	return info.Size(), nil
}

// compressFile is writePayload reading from the file at src.
func (s *Service) compressFile(dst, src string, level int) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, ioError("opening source file", err)
	}
	defer f.Close()
	return s.writePayload(dst, f, level)
}

// readPayload decodes the stored file src into dst, truncating dst.
// dctx is required when the payload is encrypted.
func readPayload(dst, src string, c codec.Codec, encrypted bool, dctx DecryptionContext) error {
	in, err := os.Open(src)
	if err != nil {
		return ioError("opening payload", err)
	}
	defer in.Close()

	var compressed io.Reader = in
	if encrypted {
		if dctx == nil {
			return fmt.Errorf("%w: %s is encrypted and no key was unlocked", ErrConfig, filepath.Base(src))
		}
		compressed, err = dctx.DecryptReader(in)
		if err != nil {
			return ioError("decrypting "+filepath.Base(src), err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return ioError("creating restore directory", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return ioError("creating restored file", err)
	}
	if _, err := codec.Decompress(c, out, compressed); err != nil {
		out.Close()
		return ioError("decompressing "+filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		return ioError("closing restored file", err)
	}
	return nil
}
