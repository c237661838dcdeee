package release

import (
	"cmp"
	"strings"

	"github.com/blang/semver"
)

// ParseVersion parses a full semantic version, pre-release and build metadata included.
func ParseVersion(version string) (semver.Version, error) {
	v, err := semver.Parse(version)
	if err != nil {
		return semver.Version{}, Errorf(ErrMalformed, "Invalid semver version: %q", version)
	}

	return v, nil
}

// Compare orders two versions by (major, minor, patch) only.
// Unparsable versions sort as 0.0.0.
func Compare(a, b string) int {
	va, _ := semver.Parse(a)
	vb, _ := semver.Parse(b)

	return compareCore(va, vb)
}

// CompareFull orders by (major, minor, patch) and breaks ties with full
// semver precedence, then the raw string, so sorting is deterministic.
func CompareFull(a, b string) int {
	va, errA := semver.Parse(a)
	vb, errB := semver.Parse(b)

	if c := compareCore(va, vb); c != 0 {
		return c
	}

	if errA == nil && errB == nil {
		if c := va.Compare(vb); c != 0 {
			return c
		}
	}

	return strings.Compare(a, b)
}

func compareCore(a, b semver.Version) int {
	if c := cmp.Compare(a.Major, b.Major); c != 0 {
		return c
	}

	if c := cmp.Compare(a.Minor, b.Minor); c != 0 {
		return c
	}

	return cmp.Compare(a.Patch, b.Patch)
}
