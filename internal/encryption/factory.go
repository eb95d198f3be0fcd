package encryption

import (
	"fmt"

	"rack-go/internal/config"
	"rack-go/internal/rack"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// It returns nil for "none" or an empty type: commits are stored unencrypted.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (rack.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("%w: unknown encryption type: %q", rack.ErrConfig, cfg.Type)
	}
}
