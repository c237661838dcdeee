package updater

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-server/internal/config"
	"github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/sign"
)

const (
	testPlatform   = "linux-x64"
	testExecutable = "app"
	testPubDate    = "2026-01-02T03:04:05.000Z"
)

type fixture struct {
	server   *httptest.Server
	keys     sign.KeyPair
	archive  []byte
	manifest *release.Manifest
	cfg      *config.UpdaterConfig
}

// tarGz packs files into an in-memory tar.gz archive.
func tarGz(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}))

		_, err := tw.Write(data)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// newFixture serves a signed 1.1.0 release whose archive carries binary.
func newFixture(t *testing.T, binary []byte) *fixture {
	t.Helper()

	keys, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	f := &fixture{
		keys:    keys,
		archive: tarGz(t, map[string][]byte{"dist/" + testExecutable: binary, "README": []byte("docs")}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /latest.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			http.Error(w, "missing user agent", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.manifest)
	})
	mux.HandleFunc("GET /releases/1.1.0/linux-x64.tar.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(f.archive)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.manifest = &release.Manifest{
		Version: "1.1.0",
		Notes:   "fixes",
		PubDate: testPubDate,
		Platforms: map[string]release.ManifestPlatform{
			testPlatform: {
				URL:    release.ArtifactURL(f.server.URL, "1.1.0", testPlatform),
				SHA256: sign.SHA256Hex(f.archive),
			},
		},
	}
	f.resign(keys)

	target := filepath.Join(t.TempDir(), testExecutable)
	require.NoError(t, os.WriteFile(target, []byte("old binary"), DefaultFileMode))

	f.cfg = &config.UpdaterConfig{
		ServerURL:  f.server.URL,
		PublicKey:  sign.EncodePublicKey(keys.Public),
		Executable: testExecutable,
		TargetPath: target,
		Platform:   testPlatform,
		Timeout:    5 * time.Second,
	}

	return f
}

// resign signs the current manifest digests with keys.
func (f *fixture) resign(keys sign.KeyPair) {
	message := sign.CanonicalManifest(f.manifest.Version, f.manifest.PubDate, f.manifest.Digests())
	f.manifest.Signature = sign.Sign(keys.Private, message)
}

// TestDetectPlatform checks the Go architecture mapping onto published platform keys.
func TestDetectPlatform(t *testing.T) {
	t.Parallel()

	require.Equal(t, "linux-x64", DetectPlatform("linux", "amd64"))
	require.Equal(t, "darwin-arm64", DetectPlatform("darwin", "arm64"))
}

// TestUpdate_AppliesNewerRelease replaces the target binary with the archived executable.
func TestUpdate_AppliesNewerRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))
	u := New(f.cfg, WithCurrentVersion("1.0.0"))

	result, err := u.Update(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, &Result{Current: "1.0.0", Latest: "1.1.0", Available: true, Applied: true}, result)

	got, err := os.ReadFile(f.cfg.TargetPath)
	require.NoError(t, err)
	require.Equal(t, "new binary", string(got))

	_, err = os.Stat(f.cfg.TargetPath + ".old")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestUpdate_UpToDate leaves the binary alone when the server has nothing newer.
func TestUpdate_UpToDate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))

	for _, current := range []string{"1.1.0", "1.1.0-rc.1", "2.0.0"} {
		result, err := New(f.cfg, WithCurrentVersion(current)).Update(context.Background(), false)
		require.NoError(t, err)
		require.False(t, result.Available, current)
		require.False(t, result.Applied, current)
	}

	got, err := os.ReadFile(f.cfg.TargetPath)
	require.NoError(t, err)
	require.Equal(t, "old binary", string(got))
}

// TestUpdate_CheckOnly reports availability without touching the target.
func TestUpdate_CheckOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))

	result, err := New(f.cfg, WithCurrentVersion("1.0.0")).Update(context.Background(), true)
	require.NoError(t, err)
	require.True(t, result.Available)
	require.False(t, result.Applied)

	got, err := os.ReadFile(f.cfg.TargetPath)
	require.NoError(t, err)
	require.Equal(t, "old binary", string(got))
}

// TestLatest_RejectsForgedSignature fails closed on a manifest signed by another key.
func TestLatest_RejectsForgedSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))

	other, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	f.resign(other)

	_, err = New(f.cfg).Latest(context.Background())
	require.ErrorIs(t, err, ErrSignatureMismatch)

	f.manifest.Signature = "%%%"

	_, err = New(f.cfg).Latest(context.Background())
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

// TestLatest_RejectsTamperedDigest notices a digest swapped after signing.
func TestLatest_RejectsTamperedDigest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))

	entry := f.manifest.Platforms[testPlatform]
	entry.SHA256 = sign.SHA256Hex([]byte("evil"))
	f.manifest.Platforms[testPlatform] = entry

	_, err := New(f.cfg, WithCurrentVersion("1.0.0")).Update(context.Background(), false)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

// TestDownload_ChecksumMismatch refuses an artifact that differs from the signed digest.
func TestDownload_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))
	f.archive = tarGz(t, map[string][]byte{testExecutable: []byte("swapped")})

	_, err := New(f.cfg, WithCurrentVersion("1.0.0")).Update(context.Background(), false)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	got, err := os.ReadFile(f.cfg.TargetPath)
	require.NoError(t, err)
	require.Equal(t, "old binary", string(got))
}

// TestDownload_PlatformMissing reports a release without an artifact for this machine.
func TestDownload_PlatformMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))
	f.cfg.Platform = "darwin-arm64"

	_, err := New(f.cfg, WithCurrentVersion("1.0.0")).Update(context.Background(), false)
	require.ErrorIs(t, err, ErrPlatformMissing)
}

// TestLatest_BadStatus surfaces server errors.
func TestLatest_BadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"No releases found"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(&config.UpdaterConfig{ServerURL: srv.URL, PublicKey: "x", Executable: "app"}).
		Latest(context.Background())
	require.ErrorIs(t, err, errBadHTTPStatus)
}

// TestExtractExecutable finds the named member at any depth and rejects oversized or absent ones.
func TestExtractExecutable(t *testing.T) {
	t.Parallel()

	archive := tarGz(t, map[string][]byte{"bin/app": []byte("payload"), "app.txt": []byte("note")})

	data, err := ExtractExecutable(archive, "app", 1024)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	_, err = ExtractExecutable(archive, "missing", 1024)
	require.ErrorIs(t, err, errExecutableMissing)

	_, err = ExtractExecutable(archive, "app", 3)
	require.ErrorIs(t, err, errTooLarge)

	_, err = ExtractExecutable([]byte("not gzip"), "app", 1024)
	require.Error(t, err)
}

// TestRun_CheckOnly loads settings from disk and checks without applying.
func TestRun_CheckOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []byte("new binary"))

	path := filepath.Join(t.TempDir(), config.DefaultUpdaterConfigFilename)
	require.NoError(t, config.SaveUpdater(path, f.cfg))

	result, err := Run(context.Background(), &Options{ConfigPath: path, CheckOnly: true})
	require.NoError(t, err)
	require.Equal(t, "1.1.0", result.Latest)
	require.False(t, result.Applied)
}
