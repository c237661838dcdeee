package release

// ManifestPlatform is the public view of one artifact.
type ManifestPlatform struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Manifest is the public latest.json document consumed by updaters.
type Manifest struct {
	Version   string                      `json:"version"`
	Notes     string                      `json:"notes"`
	PubDate   string                      `json:"pub_date"`
	Platforms map[string]ManifestPlatform `json:"platforms"`
	Signature string                      `json:"signature"`
}

// NewManifest projects a release into its public manifest.
// URLs are rebuilt from baseURL so a changed origin is picked up without rewriting the index.
func NewManifest(r *Release, baseURL string) *Manifest {
	m := &Manifest{
		Version:   r.Version,
		Notes:     r.Notes,
		PubDate:   r.PubDate,
		Platforms: make(map[string]ManifestPlatform, len(r.Platforms)),
		Signature: r.Signature,
	}

	for platform, artifact := range r.Platforms {
		m.Platforms[platform] = ManifestPlatform{
			URL:    ArtifactURL(baseURL, r.Version, platform),
			SHA256: artifact.SHA256,
		}
	}

	return m
}

// Digests returns the platform to sha256 mapping covered by the signature.
func (m *Manifest) Digests() map[string]string {
	out := make(map[string]string, len(m.Platforms))
	for platform, p := range m.Platforms {
		out[platform] = p.SHA256
	}

	return out
}
