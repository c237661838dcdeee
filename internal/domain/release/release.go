package release

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Status is the visibility state of a release.
type Status string

const (
	// StatusActive releases are offered to clients.
	StatusActive Status = "active"
	// StatusDeprecated releases are hidden from latest and refuse downloads.
	StatusDeprecated Status = "deprecated"
)

// TimestampLayout is the UTC millisecond layout of pub_date and created_at.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ArtifactSuffix is the only accepted artifact extension.
const ArtifactSuffix = ".tar.gz"

// PlatformRelease describes one uploaded artifact.
type PlatformRelease struct {
	// URL is derived from the base URL and is not authoritative.
	URL string `json:"url"`
	// SHA256 is the lowercase hex digest of the stored bytes.
	SHA256 string `json:"sha256"`
	// Size is the byte length of the stored artifact.
	Size int64 `json:"size"`
}

// Release is one immutable published version.
type Release struct {
	Version       string                     `json:"version"`
	Notes         string                     `json:"notes"`
	PubDate       string                     `json:"pub_date"`
	Platforms     map[string]PlatformRelease `json:"platforms"`
	Signature     string                     `json:"signature"`
	Status        Status                     `json:"status"`
	CreatedAt     string                     `json:"created_at"`
	DownloadCount int64                      `json:"download_count"`
}

// IsActive reports whether the release is visible to clients.
func (r *Release) IsActive() bool {
	return r != nil && r.Status == StatusActive
}

// PlatformKeys returns the platform keys in lexicographic order.
func (r *Release) PlatformKeys() []string {
	return slices.Sorted(maps.Keys(r.Platforms))
}

// Digests returns the platform to sha256 mapping signed by the publisher.
func (r *Release) Digests() map[string]string {
	out := make(map[string]string, len(r.Platforms))
	for platform, artifact := range r.Platforms {
		out[platform] = artifact.SHA256
	}

	return out
}

// Clone returns a deep copy of the release.
func (r *Release) Clone() *Release {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.Platforms = maps.Clone(r.Platforms)

	return &cloned
}

// Index maps a version string to its release. It is persisted as one JSON document.
type Index map[string]*Release

// Clone returns a deep copy of the index.
func (i Index) Clone() Index {
	out := make(Index, len(i))
	for version, r := range i {
		out[version] = r.Clone()
	}

	return out
}

// ActiveVersions returns the versions whose status is active, in no particular order.
func (i Index) ActiveVersions() []string {
	versions := make([]string, 0, len(i))

	for version, r := range i {
		if r.IsActive() {
			versions = append(versions, version)
		}
	}

	return versions
}

// ActiveByPrecedence returns active releases sorted by semantic version, newest first.
func (i Index) ActiveByPrecedence() []*Release {
	active := make([]*Release, 0, len(i))

	for _, r := range i {
		if r.IsActive() {
			active = append(active, r)
		}
	}

	slices.SortStableFunc(active, func(a, b *Release) int {
		return CompareFull(b.Version, a.Version)
	})

	return active
}

// ByCreation returns every release sorted by creation time, newest first.
func (i Index) ByCreation() []*Release {
	list := slices.Collect(maps.Values(i))

	slices.SortStableFunc(list, func(a, b *Release) int {
		if c := strings.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(b.Version, a.Version)
	})

	return list
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// PlatformKey joins an operating system and an architecture.
func PlatformKey(goos, arch string) string {
	return goos + "-" + arch
}

// ArtifactKey is the storage key of a platform artifact.
func ArtifactKey(version, platform string) string {
	return "releases/" + version + "/" + platform + ArtifactSuffix
}

// ManifestKey is the storage key of the standalone per-version manifest.
func ManifestKey(version string) string {
	return "releases/" + version + "/manifest.json"
}

// ArtifactURL is the public download URL of a platform artifact.
func ArtifactURL(baseURL, version, platform string) string {
	return strings.TrimRight(baseURL, "/") + "/" + ArtifactKey(version, platform)
}

// Storage keys of the singleton metadata documents.
const (
	IndexKey  = "meta/releases.json"
	StatsKey  = "meta/stats.json"
	AuditKey  = "meta/audit.json"
	ServerKey = "meta/server.json"
)
