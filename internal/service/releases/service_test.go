package releases

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/repository/index"
	"github.com/oshokin/release-server/internal/repository/stats"
	"github.com/oshokin/release-server/internal/sign"
	"github.com/oshokin/release-server/internal/storage"
	"github.com/oshokin/release-server/internal/validation"
)

const baseURL = "https://releases.example.com"

var fixedNow = time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)

type staticKey string

func (k staticKey) PublicKey(context.Context) (string, error) {
	return string(k), nil
}

type fixture struct {
	svc   *Service
	store storage.Backend
	index *index.Repository
	stats *stats.Repository
	keys  sign.KeyPair
}

func newFixture(t *testing.T, secure bool) *fixture {
	t.Helper()

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	repo, err := index.NewRepository(store)
	require.NoError(t, err)

	pair, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	key := staticKey("")
	if secure {
		key = staticKey(sign.EncodePublicKey(pair.Public))
	}

	statsRepo := stats.NewRepository(store)

	return &fixture{
		svc: NewService(&Options{
			Index:   repo,
			Store:   store,
			Stats:   statsRepo,
			Keys:    key,
			BaseURL: baseURL + "/",
			Now: func() time.Time {
				return fixedNow
			},
		}),
		store: store,
		index: repo,
		stats: statsRepo,
		keys:  pair,
	}
}

func gzipBytes(t *testing.T, payload string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// request builds a submission signed over the digests of files at fixedNow.
func (f *fixture) request(version string, files ...Upload) *PublishRequest {
	digests := make(map[string]string, len(files))
	for _, file := range files {
		platform, _ := validation.PlatformFromFilename(file.Filename)
		digests[platform] = sign.SHA256Hex(file.Data)
	}

	canonical := sign.CanonicalManifest(version, domain.FormatTimestamp(fixedNow), digests)

	return &PublishRequest{
		Version:   version,
		Notes:     "fix",
		Signature: sign.Sign(f.keys.Private, canonical),
		Files:     files,
	}
}

// TestPublish_StoresVerifiedRelease publishes and reads back every persisted piece.
func TestPublish_StoresVerifiedRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)

	linux := Upload{Filename: "app-linux-x64.tar.gz", Data: gzipBytes(t, "linux build")}
	darwin := Upload{Filename: "app-darwin-arm64.tar.gz", Data: gzipBytes(t, "darwin build")}
	req := f.request("2.0.0", linux, darwin)

	result, err := f.svc.Publish(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "2.0.0", result.Version)
	require.Equal(t, []string{"darwin-arm64", "linux-x64"}, result.Platforms)
	require.Equal(t, req.Signature[:16]+"...", result.Signature)

	obj, err := f.store.Get(ctx, "releases/2.0.0/linux-x64.tar.gz")
	require.NoError(t, err)
	require.Equal(t, linux.Data, obj.Data)
	require.Equal(t, ContentTypeGzip, obj.Metadata[storage.MetadataContentType])

	idx, err := f.index.Load(ctx)
	require.NoError(t, err)

	rel := idx["2.0.0"]
	require.Equal(t, domain.StatusActive, rel.Status)
	require.Equal(t, "2024-06-01T10:30:00.000Z", rel.PubDate)
	require.Equal(t, sign.SHA256Hex(obj.Data), rel.Platforms["linux-x64"].SHA256)
	require.Equal(t, int64(len(linux.Data)), rel.Platforms["linux-x64"].Size)
	require.Equal(t, baseURL+"/releases/2.0.0/linux-x64.tar.gz", rel.Platforms["linux-x64"].URL)
	require.Zero(t, rel.DownloadCount)

	manifest, err := f.index.GetManifest(ctx, "2.0.0")
	require.NoError(t, err)
	require.Equal(t, rel, manifest)

	latest, etag, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "2.0.0", latest.Version)
	require.Equal(t, rel.Platforms["linux-x64"].SHA256, latest.Platforms["linux-x64"].SHA256)
	require.NotEmpty(t, etag)
	require.True(t, sign.Verify(
		sign.CanonicalManifest(latest.Version, latest.PubDate, latest.Digests()),
		latest.Signature,
		sign.EncodePublicKey(f.keys.Public),
	))
}

// TestPublish_BadSignatureWritesNothing rejects a forged signature before any write.
func TestPublish_BadSignatureWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)

	req := f.request("1.0.0", Upload{Filename: "app-linux-x64.tar.gz", Data: gzipBytes(t, "a")})
	req.Files[0].Data = gzipBytes(t, "tampered")

	_, err := f.svc.Publish(ctx, req)
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.Equal(t,
		"Invalid Ed25519 signature. Manifest was not signed with the registered public key.",
		domain.Message(err))

	keys, err := f.store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

// TestPublish_InsecureModeSkipsVerification accepts any signature without a key.
func TestPublish_InsecureModeSkipsVerification(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)

	result, err := f.svc.Publish(context.Background(), &PublishRequest{
		Version:   "1.0.0",
		Signature: "not-a-signature",
		Files:     []Upload{{Filename: "app-linux-x64.tar.gz", Data: gzipBytes(t, "a")}},
	})
	require.NoError(t, err)
	require.Equal(t, "not-a-signature...", result.Signature)
}

// gatedStore blocks the Put of one payload until release is closed.
type gatedStore struct {
	storage.Backend

	payload []byte
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if bytes.Equal(data, g.payload) {
		close(g.entered)
		<-g.release
	}

	return g.Backend.Put(ctx, key, data, metadata)
}

// TestPublish_ConcurrentSameVersionKeepsArtifactsConsistent lets exactly one publication of a version win
// and leaves the stored bytes matching the indexed digest.
func TestPublish_ConcurrentSameVersionKeepsArtifactsConsistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	first := gzipBytes(t, "first build")
	second := gzipBytes(t, "second build")

	store := &gatedStore{
		Backend: local,
		payload: first,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	repo, err := index.NewRepository(store)
	require.NoError(t, err)

	svc := NewService(&Options{
		Index: repo,
		Store: store,
		Stats: stats.NewRepository(store),
		Keys:  staticKey(""),
		Now: func() time.Time {
			return fixedNow
		},
	})

	publish := func(data []byte) error {
		_, publishErr := svc.Publish(ctx, &PublishRequest{
			Version:   "1.0.0",
			Signature: "s",
			Files:     []Upload{{Filename: "app-linux-x64.tar.gz", Data: data}},
		})

		return publishErr
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- publish(first)
	}()

	<-store.entered

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- publish(second)
	}()

	select {
	case err = <-secondDone:
		t.Fatalf("second publication finished while the first was storing artifacts: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(store.release)

	require.NoError(t, <-firstDone)

	err = <-secondDone
	require.ErrorIs(t, err, domain.ErrConflict)

	obj, err := local.Get(ctx, domain.ArtifactKey("1.0.0", "linux-x64"))
	require.NoError(t, err)
	require.Equal(t, first, obj.Data)

	idx, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, sign.SHA256Hex(obj.Data), idx["1.0.0"].Platforms["linux-x64"].SHA256)
}

// TestPublish_VersionRules enforces immutability and strictly increasing versions.
func TestPublish_VersionRules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)
	file := Upload{Filename: "app-linux-x64.tar.gz", Data: gzipBytes(t, "a")}

	_, err := f.svc.Publish(ctx, f.request("1.2.0", file))
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, f.request("1.2.0", file))
	require.ErrorIs(t, err, domain.ErrConflict)
	require.Equal(t, "Version 1.2.0 already exists. Releases are immutable.", domain.Message(err))

	_, err = f.svc.Publish(ctx, f.request("1.1.9", file))
	require.ErrorIs(t, err, domain.ErrConflict)
	require.Equal(t, "Version 1.1.9 must be newer than existing version 1.2.0", domain.Message(err))

	_, err = f.svc.Publish(ctx, f.request("1.2.0-rc.1", file))
	require.ErrorIs(t, err, domain.ErrConflict)
}

// TestPublish_RejectsMalformedSubmissions covers the synchronous validation failures.
func TestPublish_RejectsMalformedSubmissions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	valid := gzipBytes(t, "a")

	tests := []struct {
		name    string
		req     *PublishRequest
		message string
	}{
		{
			name:    "missing version",
			req:     &PublishRequest{Signature: "s"},
			message: "Missing version",
		},
		{
			name:    "missing signature",
			req:     &PublishRequest{Version: "1.0.0"},
			message: "Missing signature",
		},
		{
			name:    "bad semver",
			req:     &PublishRequest{Version: "1.0", Signature: "s"},
			message: `Invalid semver version: "1.0"`,
		},
		{
			name:    "no files",
			req:     &PublishRequest{Version: "1.0.0", Signature: "s"},
			message: "No files uploaded",
		},
		{
			name: "not gzip",
			req: &PublishRequest{Version: "1.0.0", Signature: "s", Files: []Upload{
				{Filename: "app-linux-x64.tar.gz", Data: []byte("plain")},
			}},
			message: "app-linux-x64.tar.gz: Not a valid gzip file (magic bytes mismatch)",
		},
		{
			name: "declared too large",
			req: &PublishRequest{Version: "1.0.0", Signature: "s", Files: []Upload{
				{Filename: "app-linux-x64.tar.gz", Size: 60 << 20},
			}},
			message: "File too large: 60.0MB. Maximum: 50MB",
		},
		{
			name: "duplicate platform",
			req: &PublishRequest{Version: "1.0.0", Signature: "s", Files: []Upload{
				{Filename: "a-linux-x64.tar.gz", Data: valid},
				{Filename: "b-linux-x64.tar.gz", Data: valid},
			}},
			message: "Duplicate platform: linux-x64",
		},
		{
			name: "too many files",
			req: &PublishRequest{Version: "1.0.0", Signature: "s", Files: []Upload{
				{Filename: "a-linux-x64.tar.gz", Data: valid},
				{Filename: "b-linux-x64.tar.gz", Data: valid},
				{Filename: "c-linux-x64.tar.gz", Data: valid},
				{Filename: "d-linux-x64.tar.gz", Data: valid},
				{Filename: "e-linux-x64.tar.gz", Data: valid},
				{Filename: "f-linux-x64.tar.gz", Data: valid},
				{Filename: "g-linux-x64.tar.gz", Data: valid},
			}},
			message: "Too many files: 7. Maximum: 6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := f.svc.Publish(context.Background(), tt.req)
			require.ErrorIs(t, err, domain.ErrMalformed)
			require.Equal(t, tt.message, domain.Message(err))
		})
	}
}

func seed(t *testing.T, f *fixture, releases ...*domain.Release) {
	t.Helper()

	_, err := f.index.Update(context.Background(), func(idx domain.Index) error {
		for _, rel := range releases {
			idx[rel.Version] = rel
		}

		return nil
	})
	require.NoError(t, err)
}

func stubRelease(version string, status domain.Status) *domain.Release {
	return &domain.Release{
		Version: version,
		PubDate: "2024-01-01T00:00:00.000Z",
		Platforms: map[string]domain.PlatformRelease{
			"linux-x64": {
				URL:    "http://old/releases/" + version + "/linux-x64.tar.gz",
				SHA256: sign.SHA256Hex([]byte(version)),
				Size:   1,
			},
		},
		Signature: "sig",
		Status:    status,
		CreatedAt: "2024-01-01T00:00:00.000Z",
	}
}

// TestLatest_PicksHighestActive ignores deprecated versions even when higher.
func TestLatest_PicksHighestActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, false)

	_, _, err := f.svc.Latest(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, "No releases found", domain.Message(err))

	seed(t, f,
		stubRelease("1.0.0", domain.StatusActive),
		stubRelease("1.2.0", domain.StatusDeprecated),
		stubRelease("1.1.0", domain.StatusActive),
	)

	latest, etag, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", latest.Version)
	require.Equal(t, baseURL+"/releases/1.1.0/linux-x64.tar.gz", latest.Platforms["linux-x64"].URL)

	again, etagAgain, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, latest, again)
	require.Equal(t, etag, etagAgain)
}

// TestLatest_AllDeprecated reports that no active release exists.
func TestLatest_AllDeprecated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	seed(t, f, stubRelease("1.0.0", domain.StatusDeprecated))

	_, _, err := f.svc.Latest(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, "No active releases", domain.Message(err))
}

// TestDeprecate_HidesReleaseKeepsFiles removes a release from clients but not from storage.
func TestDeprecate_HidesReleaseKeepsFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)

	_, err := f.svc.Publish(ctx, f.request("1.0.0", Upload{Filename: "app-linux-x64.tar.gz", Data: gzipBytes(t, "a")}))
	require.NoError(t, err)

	err = f.svc.Deprecate(ctx, "9.9.9")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, "Release not found", domain.Message(err))

	require.NoError(t, f.svc.Deprecate(ctx, "1.0.0"))

	err = f.svc.Deprecate(ctx, "1.0.0")
	require.ErrorIs(t, err, domain.ErrMalformed)
	require.Equal(t, "Release already deprecated", domain.Message(err))

	_, err = f.svc.OpenDownload(ctx, "1.0.0", "linux-x64.tar.gz")
	require.ErrorIs(t, err, domain.ErrGone)

	_, _, err = f.svc.Latest(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	exists, err := f.store.Exists(ctx, "releases/1.0.0/linux-x64.tar.gz")
	require.NoError(t, err)
	require.True(t, exists)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, domain.StatusDeprecated, list[0].Status)
}

// TestOpenDownload_ServesAndRecords serves an artifact and records the download.
func TestOpenDownload_ServesAndRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, true)
	data := gzipBytes(t, "payload")

	_, err := f.svc.Publish(ctx, f.request("1.0.0", Upload{Filename: "app-linux-x64.tar.gz", Data: data}))
	require.NoError(t, err)

	download, err := f.svc.OpenDownload(ctx, "1.0.0", "linux-x64.tar.gz")
	require.NoError(t, err)
	require.Equal(t, data, download.Data)
	require.Equal(t, int64(len(data)), download.Size)
	require.Equal(t, ContentTypeGzip, download.ContentType)

	manifest, err := f.svc.OpenDownload(ctx, "1.0.0", "manifest.json")
	require.NoError(t, err)
	require.Equal(t, ContentTypeBinary, manifest.ContentType)

	_, err = f.svc.OpenDownload(ctx, "1.0.0", "darwin-arm64.tar.gz")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, "File not found", domain.Message(err))

	_, err = f.svc.OpenDownload(ctx, "1.0.0", "..")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.OpenDownload(ctx, "3.0.0", "linux-x64.tar.gz")
	require.Equal(t, "Release not found", domain.Message(err))

	require.NoError(t, f.svc.RecordDownload(ctx, "1.0.0", "linux-x64.tar.gz"))

	records, err := f.stats.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "linux-x64", records[0].Platform)
	require.Equal(t, fixedNow, records[0].Timestamp)
}
