package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UpdaterConfig holds the settings of the self-update client.
type UpdaterConfig struct {
	// ServerURL is the public origin of the release server.
	ServerURL string `yaml:"server_url"`
	// PublicKey is the base64 Ed25519 key every manifest must be signed with.
	PublicKey string `yaml:"public_key"`
	// Executable is the file name to extract from the release archive.
	Executable string `yaml:"executable"`
	// TargetPath is the binary to replace. Empty means the running executable.
	TargetPath string `yaml:"target_path"`
	// Platform overrides the detected "{os}-{arch}" key.
	Platform string `yaml:"platform,omitempty"`
	// Timeout bounds every HTTP request.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultUpdaterConfigFilename is the default filename for updater settings.
const DefaultUpdaterConfigFilename = "release-updater.yaml"

var (
	// errServerURLRequired is returned when the updater does not know the server.
	errServerURLRequired = errors.New("server url must be provided")
	// errPublicKeyRequired is returned when the updater cannot verify manifests.
	errPublicKeyRequired = errors.New("public key must be provided")
	// errExecutableRequired is returned when the archive member is unknown.
	errExecutableRequired = errors.New("executable name must be provided")
)

// LoadUpdater reads updater settings from the provided path and validates them.
func LoadUpdater(path string) (*UpdaterConfig, error) {
	if path == "" {
		path = DefaultUpdaterConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg UpdaterConfig
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = ValidateUpdater(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveUpdater writes updater settings to the provided path.
func SaveUpdater(path string, cfg *UpdaterConfig) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultUpdaterConfigFilename
	}

	if err := ValidateUpdater(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ValidateUpdater checks the updater settings and fills defaults.
func ValidateUpdater(cfg *UpdaterConfig) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ServerURL == "" {
		return errServerURLRequired
	}

	if _, err := url.ParseRequestURI(cfg.ServerURL); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if cfg.PublicKey == "" {
		return errPublicKeyRequired
	}

	if cfg.Executable == "" {
		return errExecutableRequired
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return nil
}
