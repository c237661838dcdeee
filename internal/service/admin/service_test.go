package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-server/internal/domain/audit"
	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/repository/auditlog"
	"github.com/oshokin/release-server/internal/repository/servermeta"
	"github.com/oshokin/release-server/internal/repository/stats"
	"github.com/oshokin/release-server/internal/sign"
	"github.com/oshokin/release-server/internal/storage"
)

func newService(t *testing.T, apiKey, publicKey string) (*Service, storage.Backend) {
	t.Helper()

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	svc := NewService(&Options{
		Meta:      servermeta.NewRepository(store),
		Audit:     auditlog.NewRepository(store),
		Stats:     stats.NewRepository(store),
		APIKey:    apiKey,
		PublicKey: publicKey,
		Now: func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		},
	})

	return svc, store
}

// TestAuthenticate_ConfiguredKey accepts the configured key and rejects others.
func TestAuthenticate_ConfiguredKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newService(t, "secret", "")

	fingerprint, err := svc.Authenticate(ctx, "secret")
	require.NoError(t, err)
	require.Equal(t, sign.HashAPIKey("secret")[:8], fingerprint)

	_, err = svc.Authenticate(ctx, "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, "Invalid API key", domain.Message(err))

	_, err = svc.Authenticate(ctx, "")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

// TestAuthenticate_NoKeyConfigured reports a misconfigured server.
func TestAuthenticate_NoKeyConfigured(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, "", "")

	_, err := svc.Authenticate(context.Background(), "anything")
	require.ErrorIs(t, err, domain.ErrMisconfigured)
	require.Equal(t, "Server API key not configured", domain.Message(err))
}

// TestRotateKey_ReplacesConfiguredKey makes the stored key win over the configured one.
func TestRotateKey_ReplacesConfiguredKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newService(t, "bootstrap", "")

	rotation, err := svc.RotateKey(ctx)
	require.NoError(t, err)
	require.Len(t, rotation.NewKey, 64)
	require.Equal(t, sign.HashAPIKey(rotation.NewKey), rotation.NewKeyHash)

	_, err = svc.Authenticate(ctx, "bootstrap")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Authenticate(ctx, rotation.NewKey)
	require.NoError(t, err)
}

// TestUpdatePublicKey validates and stores the verification key.
func TestUpdatePublicKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newService(t, "k", "configured")

	pk, err := svc.PublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "configured", pk)

	err = svc.UpdatePublicKey(ctx, "")
	require.ErrorIs(t, err, domain.ErrMalformed)
	require.Equal(t, "Missing publicKey", domain.Message(err))

	err = svc.UpdatePublicKey(ctx, "bm90LWEta2V5")
	require.ErrorIs(t, err, domain.ErrMalformed)

	pair, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	encoded := sign.EncodePublicKey(pair.Public)
	require.NoError(t, svc.UpdatePublicKey(ctx, encoded))

	pk, err = svc.PublicKey(ctx)
	require.NoError(t, err)
	require.Equal(t, encoded, pk)
}

// TestStatsAndAudit reads back what the repositories hold.
func TestStatsAndAudit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, store := newService(t, "k", "")

	day := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	statsRepo := stats.NewRepository(store)
	require.NoError(t, statsRepo.Append(ctx, domain.DownloadStat{Version: "1.0.0", Platform: "linux-x64", Timestamp: day}))
	require.NoError(t, statsRepo.Append(ctx, domain.DownloadStat{Version: "1.0.0", Platform: "darwin-arm64", Timestamp: day}))

	aggregated, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, aggregated.Total)
	require.Equal(t, 2, aggregated.ByVersion["1.0.0"])
	require.Equal(t, 2, aggregated.ByDay["2024-05-01"])

	require.NoError(t, auditlog.NewRepository(store).Append(ctx, audit.Entry{Action: audit.ActionKeyRotate}))

	page, err := svc.AuditPage(ctx, 50, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, audit.ActionKeyRotate, page.Entries[0].Action)
}

type failingMeta struct{}

func (failingMeta) Get(context.Context) (*domain.ServerMeta, error) {
	return nil, errors.New("disk on fire")
}

func (failingMeta) Update(context.Context, time.Time, func(*domain.ServerMeta)) (*domain.ServerMeta, error) {
	return nil, errors.New("disk on fire")
}

// TestAuthenticate_MetaFailure surfaces storage errors as non-domain failures.
func TestAuthenticate_MetaFailure(t *testing.T) {
	t.Parallel()

	svc := NewService(&Options{Meta: failingMeta{}, APIKey: "k"})

	_, err := svc.Authenticate(context.Background(), "k")
	require.Error(t, err)
	require.Empty(t, domain.Message(err))
}
