package releases

import (
	"context"
	"fmt"
	"slices"
	"strings"

	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/sign"
	"github.com/oshokin/release-server/internal/storage"
)

// Upload is one submitted artifact, fully drained.
type Upload struct {
	Filename string
	Data     []byte
	// Size is the declared length when the transport refused to drain an
	// oversized part. Zero means len(Data).
	Size int64
}

// PublishRequest is a release submission.
type PublishRequest struct {
	Version   string
	Notes     string
	Signature string
	Files     []Upload
}

// PublishResult confirms a publication without echoing the full signature.
type PublishResult struct {
	Version   string
	Platforms []string
	Signature string
}

// artifact is a validated upload bound to its platform.
type artifact struct {
	platform string
	data     []byte
	sha256   string
}

// Publish validates, verifies and stores a new release.
// Nothing is written unless every check and the signature verification pass.
func (s *Service) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	ctx = logger.WithKV(ctx, "version", req.Version)

	if req.Version == "" {
		return nil, domain.Errorf(domain.ErrMalformed, "Missing version")
	}

	if req.Signature == "" {
		return nil, domain.Errorf(domain.ErrMalformed, "Missing signature")
	}

	// Held until the index and manifest are written so a concurrent publish of
	// the same version cannot overwrite artifacts after the other one committed.
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if err := s.checkEligible(ctx, req.Version); err != nil {
		return nil, err
	}

	artifacts, err := s.validateFiles(req.Files)
	if err != nil {
		return nil, err
	}

	pubDate := domain.FormatTimestamp(s.now())
	rel := &domain.Release{
		Version:   req.Version,
		Notes:     req.Notes,
		PubDate:   pubDate,
		Platforms: make(map[string]domain.PlatformRelease, len(artifacts)),
		Signature: req.Signature,
		Status:    domain.StatusActive,
	}

	for _, a := range artifacts {
		rel.Platforms[a.platform] = domain.PlatformRelease{
			URL:    domain.ArtifactURL(s.baseURL, req.Version, a.platform),
			SHA256: a.sha256,
			Size:   int64(len(a.data)),
		}
	}

	canonical := sign.CanonicalManifest(rel.Version, rel.PubDate, rel.Digests())
	if err = s.verify(ctx, canonical, req.Signature); err != nil {
		return nil, err
	}

	for _, a := range artifacts {
		err = s.store.Put(ctx, domain.ArtifactKey(rel.Version, a.platform), a.data, map[string]string{
			storage.MetadataContentType: ContentTypeGzip,
		})
		if err != nil {
			return nil, fmt.Errorf("store artifact %s: %w", a.platform, err)
		}
	}

	rel.CreatedAt = domain.FormatTimestamp(s.now())

	_, err = s.index.Update(ctx, func(idx domain.Index) error {
		if _, exists := idx[rel.Version]; exists {
			return domain.Errorf(domain.ErrConflict, "Version %s already exists. Releases are immutable.", rel.Version)
		}

		idx[rel.Version] = rel.Clone()

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err = s.index.PutManifest(ctx, rel); err != nil {
		return nil, err
	}

	platforms := rel.PlatformKeys()
	logger.InfoKV(ctx, "Release published", "platforms", platforms)

	return &PublishResult{
		Version:   rel.Version,
		Platforms: platforms,
		Signature: previewSignature(req.Signature),
	}, nil
}

func (s *Service) checkEligible(ctx context.Context, version string) error {
	if err := s.validator.Semver(version); err != nil {
		return err
	}

	exists, err := s.index.ManifestExists(ctx, version)
	if err != nil {
		return err
	}

	idx, err := s.index.Load(ctx)
	if err != nil {
		return err
	}

	return s.validator.Eligibility(version, exists, idx)
}

func (s *Service) validateFiles(files []Upload) ([]artifact, error) {
	if err := s.validator.FileCount(len(files)); err != nil {
		return nil, err
	}

	artifacts := make([]artifact, 0, len(files))
	seen := make(map[string]struct{}, len(files))

	for _, f := range files {
		if f.Size > int64(len(f.Data)) {
			if err := s.validator.Filename(f.Filename); err != nil {
				return nil, err
			}

			if err := s.validator.Size(f.Size); err != nil {
				return nil, err
			}
		}

		platform, err := s.validator.Artifact(f.Filename, f.Data)
		if err != nil {
			return nil, err
		}

		if _, dup := seen[platform]; dup {
			return nil, domain.Errorf(domain.ErrMalformed, "Duplicate platform: %s", platform)
		}

		seen[platform] = struct{}{}

		artifacts = append(artifacts, artifact{
			platform: platform,
			data:     f.Data,
			sha256:   sign.SHA256Hex(f.Data),
		})
	}

	slices.SortFunc(artifacts, func(a, b artifact) int {
		return strings.Compare(a.platform, b.platform)
	})

	return artifacts, nil
}

// verify checks the signature against the registered key. Without a key the
// server runs in insecure mode and accepts any signature.
func (s *Service) verify(ctx context.Context, canonical, signature string) error {
	publicKey, err := s.keys.PublicKey(ctx)
	if err != nil {
		return fmt.Errorf("resolve public key: %w", err)
	}

	if publicKey == "" {
		logger.Warn(ctx, "signature verification skipped: no public key configured")

		return nil
	}

	ok, err := sign.VerifyDetailed(canonical, signature, publicKey)
	if !ok {
		logger.WarnKV(ctx, "signature rejected", "error", err)

		return domain.Errorf(domain.ErrForbidden,
			"Invalid Ed25519 signature. Manifest was not signed with the registered public key.")
	}

	logger.Debug(ctx, "signature verified")

	return nil
}

func previewSignature(signature string) string {
	if len(signature) <= signaturePreviewLength {
		return signature + "..."
	}

	return signature[:signaturePreviewLength] + "..."
}
