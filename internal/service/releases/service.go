package releases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/repository/index"
	"github.com/oshokin/release-server/internal/sign"
	"github.com/oshokin/release-server/internal/storage"
	"github.com/oshokin/release-server/internal/validation"
)

const (
	// ContentTypeGzip is served for ".tar.gz" artifacts.
	ContentTypeGzip = "application/gzip"
	// ContentTypeBinary is served for every other file.
	ContentTypeBinary = "application/octet-stream"

	// signaturePreviewLength is how much of the signature a publish response echoes.
	signaturePreviewLength = 16
)

// KeySource resolves the registered verification key.
type KeySource interface {
	PublicKey(ctx context.Context) (string, error)
}

// StatsRecorder appends download records.
type StatsRecorder interface {
	Append(ctx context.Context, stat domain.DownloadStat) error
}

// Options wires the service dependencies.
type Options struct {
	Index     *index.Repository
	Store     storage.Backend
	Stats     StatsRecorder
	Keys      KeySource
	Validator *validation.Validator
	// BaseURL is the public origin artifact URLs are derived from.
	BaseURL string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service implements the release operations.
type Service struct {
	index     *index.Repository
	store     storage.Backend
	stats     StatsRecorder
	keys      KeySource
	validator *validation.Validator
	baseURL   string
	now       func() time.Time
	// publishMu serialises publications from the eligibility check to the index write.
	publishMu sync.Mutex
}

// NewService builds a Service with defaults for the optional options.
func NewService(opts *Options) *Service {
	s := &Service{
		index:     opts.Index,
		store:     opts.Store,
		stats:     opts.Stats,
		keys:      opts.Keys,
		validator: opts.Validator,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		now:       opts.Now,
	}

	if s.validator == nil {
		s.validator = validation.New()
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// List returns every release, newest created first.
func (s *Service) List(ctx context.Context) ([]*domain.Release, error) {
	idx, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}

	return idx.ByCreation(), nil
}

// Deprecate hides a release from the latest manifest and refuses new downloads.
// Artifacts stay in storage.
func (s *Service) Deprecate(ctx context.Context, version string) error {
	_, err := s.index.Update(ctx, func(idx domain.Index) error {
		rel, ok := idx[version]
		if !ok {
			return domain.Errorf(domain.ErrNotFound, "Release not found")
		}

		if !rel.IsActive() {
			return domain.Errorf(domain.ErrMalformed, "Release already deprecated")
		}

		rel.Status = domain.StatusDeprecated

		return nil
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Release deprecated", "version", version)

	return nil
}

// Latest resolves the newest active release and its entity tag.
func (s *Service) Latest(ctx context.Context) (*domain.Manifest, string, error) {
	idx, err := s.index.Load(ctx)
	if err != nil {
		return nil, "", err
	}

	if len(idx) == 0 {
		return nil, "", domain.Errorf(domain.ErrNotFound, "No releases found")
	}

	active := idx.ActiveByPrecedence()
	if len(active) == 0 {
		return nil, "", domain.Errorf(domain.ErrNotFound, "No active releases")
	}

	manifest := domain.NewManifest(active[0], s.baseURL)

	etag, err := entityTag(manifest)
	if err != nil {
		return nil, "", err
	}

	return manifest, etag, nil
}

// entityTag is the quoted JCS digest of the manifest.
func entityTag(manifest *domain.Manifest) (string, error) {
	raw, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	digest, err := sign.DigestJCS(raw)
	if err != nil {
		return "", err
	}

	return `"` + digest + `"`, nil
}
