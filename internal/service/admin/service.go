package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/oshokin/release-server/internal/domain/audit"
	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/sign"
)

// MetaStore reads and updates the server record.
type MetaStore interface {
	Get(ctx context.Context) (*domain.ServerMeta, error)
	Update(ctx context.Context, now time.Time, mutate func(*domain.ServerMeta)) (*domain.ServerMeta, error)
}

// AuditStore pages the audit log.
type AuditStore interface {
	Page(ctx context.Context, limit, offset int) (audit.Page, error)
}

// StatsStore lists download records.
type StatsStore interface {
	List(ctx context.Context) ([]domain.DownloadStat, error)
}

// Options wires the service dependencies.
type Options struct {
	Meta  MetaStore
	Audit AuditStore
	Stats StatsStore
	// APIKey is the raw bootstrap key from the configuration.
	APIKey string
	// PublicKey is the base64 Ed25519 key from the configuration.
	PublicKey string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Rotation is the outcome of a key rotation. NewKey is shown exactly once.
type Rotation struct {
	NewKey     string
	NewKeyHash string
}

// Service implements key resolution and the administration operations.
type Service struct {
	meta          MetaStore
	audit         AuditStore
	stats         StatsStore
	configKeyHash string
	configPubKey  string
	now           func() time.Time
}

// NewService builds a Service. The configured API key is hashed immediately
// and never kept in memory.
func NewService(opts *Options) *Service {
	s := &Service{
		meta:         opts.Meta,
		audit:        opts.Audit,
		stats:        opts.Stats,
		configPubKey: opts.PublicKey,
		now:          opts.Now,
	}

	if opts.APIKey != "" {
		s.configKeyHash = sign.HashAPIKey(opts.APIKey)
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// APIKeyHash returns the digest callers must match, or "" when none is configured.
func (s *Service) APIKeyHash(ctx context.Context) (string, error) {
	meta, err := s.meta.Get(ctx)
	if err != nil {
		return "", err
	}

	if meta != nil && meta.APIKeyHash != "" {
		return meta.APIKeyHash, nil
	}

	return s.configKeyHash, nil
}

// PublicKey returns the registered verification key, or "" when none is configured.
func (s *Service) PublicKey(ctx context.Context) (string, error) {
	meta, err := s.meta.Get(ctx)
	if err != nil {
		return "", err
	}

	if meta != nil && meta.PublicKey != "" {
		return meta.PublicKey, nil
	}

	return s.configPubKey, nil
}

// Authenticate checks a bearer token and returns the fingerprint of its key.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	keyHash, err := s.APIKeyHash(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve api key: %w", err)
	}

	if keyHash == "" {
		return "", domain.Errorf(domain.ErrMisconfigured, "Server API key not configured")
	}

	if token == "" {
		return "", domain.Errorf(domain.ErrUnauthorized, "Missing or invalid Authorization header")
	}

	if !sign.VerifyAPIKey(token, keyHash) {
		return "", domain.Errorf(domain.ErrUnauthorized, "Invalid API key")
	}

	return sign.Fingerprint(keyHash), nil
}

// RotateKey generates a new API key and stores its digest. The previous key stops working.
func (s *Service) RotateKey(ctx context.Context) (*Rotation, error) {
	key, keyHash, err := sign.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	_, err = s.meta.Update(ctx, s.now(), func(meta *domain.ServerMeta) {
		meta.APIKeyHash = keyHash
	})
	if err != nil {
		return nil, fmt.Errorf("store api key: %w", err)
	}

	logger.InfoKV(ctx, "API key rotated", "fingerprint", sign.Fingerprint(keyHash))

	return &Rotation{
		NewKey:     key,
		NewKeyHash: keyHash,
	}, nil
}

// UpdatePublicKey registers a new base64 Ed25519 verification key.
func (s *Service) UpdatePublicKey(ctx context.Context, publicKey string) error {
	if publicKey == "" {
		return domain.Errorf(domain.ErrMalformed, "Missing publicKey")
	}

	if _, err := sign.ParsePublicKeyBase64(publicKey); err != nil {
		return domain.Errorf(domain.ErrMalformed, "Invalid publicKey: expected base64 Ed25519 public key")
	}

	_, err := s.meta.Update(ctx, s.now(), func(meta *domain.ServerMeta) {
		meta.PublicKey = publicKey
	})
	if err != nil {
		return fmt.Errorf("store public key: %w", err)
	}

	logger.Info(ctx, "Public key updated")

	return nil
}

// AuditPage returns one window of the audit log.
func (s *Service) AuditPage(ctx context.Context, limit, offset int) (audit.Page, error) {
	page, err := s.audit.Page(ctx, limit, offset)
	if err != nil {
		return audit.Page{}, fmt.Errorf("page audit log: %w", err)
	}

	return page, nil
}

// Stats aggregates the retained download records.
func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	records, err := s.stats.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list download stats: %w", err)
	}

	return domain.Aggregate(records), nil
}
