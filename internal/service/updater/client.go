package updater

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/sign"
	"github.com/oshokin/release-server/internal/validation"
	"github.com/oshokin/release-server/internal/version"
)

const (
	// UserAgentName identifies the updater in server logs.
	UserAgentName = "release-updater"

	// DefaultFileMode is applied to the replaced binary.
	DefaultFileMode os.FileMode = 0o755

	// manifestPath is the public manifest route.
	manifestPath = "/latest.json"

	// maxManifestSize bounds the latest.json body.
	maxManifestSize int64 = 1 << 20
)

var (
	// ErrSignatureMismatch is returned when the manifest signature does not verify.
	ErrSignatureMismatch = errors.New("manifest signature verification failed")
	// ErrChecksumMismatch is returned when a downloaded artifact does not match its digest.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")
	// ErrPlatformMissing is returned when the latest release has no artifact for this platform.
	ErrPlatformMissing = errors.New("no artifact for platform")

	errBadHTTPStatus = errors.New("unexpected http status")
	errTooLarge      = errors.New("response exceeds size limit")
)

// Updater talks to one release server.
type Updater struct {
	cfg      *config.UpdaterConfig
	http     *http.Client
	current  string
	platform string
	maxSize  int64
}

// Option configures an Updater.
type Option func(*Updater)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(u *Updater) {
		if client != nil {
			u.http = client
		}
	}
}

// WithCurrentVersion overrides the version the running binary reports.
func WithCurrentVersion(v string) Option {
	return func(u *Updater) {
		u.current = v
	}
}

// Result describes a finished update run.
type Result struct {
	// Current is the version that was running.
	Current string
	// Latest is the newest active version on the server.
	Latest string
	// Available reports whether Latest is newer than Current.
	Available bool
	// Applied reports whether the target binary was replaced.
	Applied bool
}

// New creates an updater from validated settings.
func New(cfg *config.UpdaterConfig, opts ...Option) *Updater {
	u := &Updater{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		current:  version.Short(),
		platform: cfg.Platform,
		maxSize:  validation.DefaultMaxFileSize,
	}

	if u.platform == "" {
		u.platform = DetectPlatform(runtime.GOOS, runtime.GOARCH)
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// DetectPlatform renders the platform key the server publishes for goos and goarch.
func DetectPlatform(goos, goarch string) string {
	if goarch == "amd64" {
		goarch = "x64"
	}

	return release.PlatformKey(goos, goarch)
}

// Platform returns the platform key artifacts are selected by.
func (u *Updater) Platform() string {
	return u.platform
}

// Latest downloads latest.json and verifies its signature.
func (u *Updater) Latest(ctx context.Context) (*release.Manifest, error) {
	body, err := u.get(ctx, u.cfg.ServerURL+manifestPath, maxManifestSize)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	var manifest release.Manifest
	if err = json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	if err = VerifyManifest(&manifest, u.cfg.PublicKey); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// VerifyManifest checks the manifest signature against publicKey.
func VerifyManifest(m *release.Manifest, publicKey string) error {
	message := sign.CanonicalManifest(m.Version, m.PubDate, m.Digests())

	ok, err := sign.VerifyDetailed(message, m.Signature, publicKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}

	if !ok {
		return fmt.Errorf("%w: version %s", ErrSignatureMismatch, m.Version)
	}

	return nil
}

// Download fetches the artifact of the updater platform and checks its digest.
func (u *Updater) Download(ctx context.Context, m *release.Manifest) ([]byte, error) {
	entry, ok := m.Platforms[u.platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrPlatformMissing, u.platform, m.Version)
	}

	artifactURL, err := u.resolve(entry.URL)
	if err != nil {
		return nil, err
	}

	data, err := u.get(ctx, artifactURL, u.maxSize)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}

	if got := sign.SHA256Hex(data); got != entry.SHA256 {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, entry.SHA256, got)
	}

	return data, nil
}

// Update checks for a newer release and, unless checkOnly is set, installs it.
func (u *Updater) Update(ctx context.Context, checkOnly bool) (*Result, error) {
	manifest, err := u.Latest(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Current:   u.current,
		Latest:    manifest.Version,
		Available: release.Compare(manifest.Version, u.current) > 0,
	}

	if !result.Available {
		logger.InfoKV(ctx, "Already up to date", "current", u.current, "latest", manifest.Version)
		return result, nil
	}

	logger.InfoKV(ctx, "Update available", "current", u.current, "latest", manifest.Version, "platform", u.platform)

	if checkOnly {
		return result, nil
	}

	archive, err := u.Download(ctx, manifest)
	if err != nil {
		return nil, err
	}

	binary, err := ExtractExecutable(archive, u.cfg.Executable, u.maxSize)
	if err != nil {
		return nil, err
	}

	target, err := u.targetPath()
	if err != nil {
		return nil, err
	}

	if err = Apply(ctx, target, binary); err != nil {
		return nil, err
	}

	result.Applied = true

	return result, nil
}

// Apply atomically replaces target with binary using a sha256 checksum.
func Apply(ctx context.Context, target string, binary []byte) error {
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		file, createErr := os.Create(filepath.Clean(target))
		if createErr != nil {
			return createErr
		}

		_ = file.Close()
	}

	sum := sha256.Sum256(binary)

	logger.InfoKV(ctx, "Applying update", "target", target, "sha256", hex.EncodeToString(sum[:]))

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultFileMode,
		Checksum:   sum[:],
		Hash:       crypto.SHA256,
	}

	if err := goupdate.Apply(bytes.NewReader(binary), options); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	oldFileName := target + ".old"
	if _, err := os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

func (u *Updater) targetPath() (string, error) {
	if u.cfg.TargetPath != "" {
		return u.cfg.TargetPath, nil
	}

	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate running executable: %w", err)
	}

	return filepath.EvalSymlinks(executable)
}

// resolve turns a possibly relative artifact URL into an absolute one on the server origin.
func (u *Updater) resolve(raw string) (string, error) {
	base, err := url.Parse(u.cfg.ServerURL + "/")
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse artifact url: %w", err)
	}

	return base.ResolveReference(ref).String(), nil
}

func (u *Updater) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", version.UserAgent(UserAgentName))

	response, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s, %s: %w", target, response.Status, errBadHTTPStatus)
	}

	return readLimited(response.Body, limit)
}
