package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"rack-go/internal/codec"
	"rack-go/internal/rack"
)

// Defaults for a freshly initialized project.
const (
	DefaultInputDir     = "logs-debug"
	DefaultCompressMode = rack.ModeFiles
)

// DefaultCompressionEffort is the effort of the default codec.
var DefaultCompressionEffort = codec.Zstd{}.DefaultLevel()

// Config represents the per-project configuration stored in .rack/rack.toml.
// Relative paths are resolved against the project root.
type Config struct {
	StoreID           string           `toml:"store_id"`
	InputDir          string           `toml:"input_dir"`
	Exclude           []string         `toml:"exclude"`
	PreserveStructure bool             `toml:"preserve_structure"`
	CompressMode      string           `toml:"compress_mode"` // "files" or "folder"
	CompressionEffort int              `toml:"compression_effort"`
	Codec             string           `toml:"codec"` // "zstd" (default) or "lz4"
	Encryption        EncryptionConfig `toml:"encryption"`
	History           HistoryConfig    `toml:"history"`
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// Enabled reports whether commits are encrypted.
func (c EncryptionConfig) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

// HistoryConfig controls the operation journal.
type HistoryConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewConfig returns the default configuration with a fresh store ID.
func NewConfig() *Config {
	cfg := defaults()
	cfg.StoreID = uuid.NewString()
	return cfg
}

func defaults() *Config {
	return &Config{
		InputDir:          DefaultInputDir,
		Exclude:           []string{"*.tmp", "./debug/*"},
		PreserveStructure: true,
		CompressMode:      DefaultCompressMode,
		CompressionEffort: DefaultCompressionEffort,
		Codec:             codec.Default,
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(".rack", "keys", "rack.pub"),
			PrivateKeyPath: filepath.Join(".rack", "keys", "rack.key"),
		},
		History: HistoryConfig{Enabled: true},
	}
}

// Validate checks option values. Every failure wraps rack.ErrConfig.
func (c *Config) Validate() error {
	switch c.CompressMode {
	case rack.ModeFiles, rack.ModeFolder:
	default:
		return fmt.Errorf("%w: compress_mode must be %q or %q, got %q", rack.ErrConfig, rack.ModeFiles, rack.ModeFolder, c.CompressMode)
	}

	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return fmt.Errorf("%w: %w", rack.ErrConfig, err)
	}
	if err := codec.ValidateLevel(cd, c.CompressionEffort); err != nil {
		return fmt.Errorf("%w: compression_effort: %w", rack.ErrConfig, err)
	}

	switch c.Encryption.Type {
	case "", "none", "test":
	case "age":
		if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
			return fmt.Errorf("%w: age encryption requires public_key_path and private_key_path", rack.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown encryption type %q", rack.ErrConfig, c.Encryption.Type)
	}

	if c.InputDir == "" {
		return fmt.Errorf("%w: input_dir must not be empty", rack.ErrConfig)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Keys missing from the
// document keep their default values. A missing compression_effort takes
// the configured codec's default level.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	cfg := defaults()
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %w", rack.ErrConfig, err)
	}
	if !md.IsDefined("compression_effort") {
		// An unknown codec is left for Validate to report.
		if cd, err := codec.ByName(cfg.Codec); err == nil {
			cfg.CompressionEffort = cd.DefaultLevel()
		}
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
