package validation

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/oshokin/release-server/internal/domain/release"
)

const (
	// DefaultMaxFileSize is the per-artifact ceiling.
	DefaultMaxFileSize int64 = 50 << 20
	// DefaultMaxFiles is the per-release ceiling: three platforms by two architectures.
	DefaultMaxFiles = 6

	bytesPerMiB = 1024 * 1024
)

var (
	filenamePattern = regexp.MustCompile(`^[\w-]+-(?:darwin|linux)-(?:arm64|x64)\.tar\.gz$`)
	platformPattern = regexp.MustCompile(`(darwin|linux)-(arm64|x64)\.tar\.gz$`)
	gzipMagic       = []byte{0x1f, 0x8b}
)

// Validator holds the upload limits.
type Validator struct {
	// MaxFileSize is the largest accepted artifact in bytes.
	MaxFileSize int64
	// MaxFiles is the largest accepted number of artifacts per release.
	MaxFiles int
}

// New returns a validator with the default limits.
func New() *Validator {
	return &Validator{
		MaxFileSize: DefaultMaxFileSize,
		MaxFiles:    DefaultMaxFiles,
	}
}

// Filename checks the "{name}-{os}-{arch}.tar.gz" pattern.
func (v *Validator) Filename(name string) error {
	if !filenamePattern.MatchString(name) {
		return release.Errorf(release.ErrMalformed,
			"Invalid filename pattern: %q. Expected: {name}-{darwin|linux}-{arm64|x64}.tar.gz", name)
	}

	return nil
}

// Size checks the artifact ceiling and reports the actual size on failure.
func (v *Validator) Size(size int64) error {
	if size > v.MaxFileSize {
		return release.Errorf(release.ErrMalformed, "File too large: %.1fMB. Maximum: %dMB",
			float64(size)/bytesPerMiB, v.MaxFileSize/bytesPerMiB)
	}

	return nil
}

// GzipMagic checks the first two bytes of the artifact.
func (v *Validator) GzipMagic(header []byte) error {
	if len(header) < len(gzipMagic) || !bytes.Equal(header[:len(gzipMagic)], gzipMagic) {
		return release.Errorf(release.ErrMalformed, "Not a valid gzip file (magic bytes mismatch)")
	}

	return nil
}

// FileCount rejects empty releases and releases above the ceiling.
func (v *Validator) FileCount(count int) error {
	switch {
	case count == 0:
		return release.Errorf(release.ErrMalformed, "No files uploaded")
	case count > v.MaxFiles:
		return release.Errorf(release.ErrMalformed, "Too many files: %d. Maximum: %d", count, v.MaxFiles)
	default:
		return nil
	}
}

// Semver checks the full semantic version grammar.
func (v *Validator) Semver(version string) error {
	_, err := release.ParseVersion(version)

	return err
}

// Eligibility enforces immutability and strictly increasing versions.
// manifestExists tells whether a manifest is already stored for version.
func (v *Validator) Eligibility(version string, manifestExists bool, index release.Index) error {
	if err := v.Semver(version); err != nil {
		return err
	}

	if manifestExists {
		return release.Errorf(release.ErrConflict, "Version %s already exists. Releases are immutable.", version)
	}

	active := index.ActiveByPrecedence()
	if len(active) > 0 && release.Compare(version, active[0].Version) <= 0 {
		return release.Errorf(release.ErrConflict,
			"Version %s must be newer than existing version %s", version, active[0].Version)
	}

	return nil
}

// Artifact runs the filename, size and magic checks and returns the platform key.
func (v *Validator) Artifact(name string, data []byte) (string, error) {
	if err := v.Filename(name); err != nil {
		return "", err
	}

	if err := v.Size(int64(len(data))); err != nil {
		return "", err
	}

	if err := v.GzipMagic(data); err != nil {
		return "", release.Errorf(release.ErrMalformed, "%s: %s", name, release.Message(err))
	}

	platform, ok := PlatformFromFilename(name)
	if !ok {
		return "", v.Filename(name)
	}

	return platform, nil
}

// PlatformFromFilename extracts the "{os}-{arch}" key from an artifact filename.
func PlatformFromFilename(name string) (string, bool) {
	match := platformPattern.FindStringSubmatch(name)
	if match == nil {
		return "", false
	}

	return release.PlatformKey(match[1], match[2]), true
}

// String describes the limits for logs.
func (v *Validator) String() string {
	return fmt.Sprintf("max_file_size=%d max_files=%d", v.MaxFileSize, v.MaxFiles)
}
