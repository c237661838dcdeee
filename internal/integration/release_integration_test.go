package integration

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-server/internal/config"
	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/service/updater"
	"github.com/oshokin/release-server/internal/sign"
)

// TestRelease_PublishUpdateDeprecate publishes two releases, updates a client binary
// from the newest one and retires it again.
//
//nolint:funlen // End-to-end scenario needs the whole lifecycle in one place.
func TestRelease_PublishUpdateDeprecate(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	base := s.server.URL

	first := map[string][]byte{"app-linux-x64.tar.gz": tarGz(t, "app", []byte("binary 1.0.0"))}
	code, body := publish(t, base, "1.0.0", s.signRelease("1.0.0", first), first)
	require.Equal(t, http.StatusCreated, code, body)

	second := map[string][]byte{
		"app-linux-x64.tar.gz":    tarGz(t, "app", []byte("binary 1.1.0")),
		"app-darwin-arm64.tar.gz": tarGz(t, "app", []byte("binary 1.1.0 darwin")),
	}
	code, body = publish(t, base, "1.1.0", s.signRelease("1.1.0", second), second)
	require.Equal(t, http.StatusCreated, code, body)
	require.Equal(t, []any{"darwin-arm64", "linux-x64"}, body["platforms"])

	// Republishing or going backwards is refused.
	code, _ = publish(t, base, "1.1.0", s.signRelease("1.1.0", second), second)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = publish(t, base, "1.0.5", s.signRelease("1.0.5", first), first)
	require.Equal(t, http.StatusBadRequest, code)

	// The updater installs 1.1.0 over the 1.0.0 binary.
	target := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(target, []byte("binary 1.0.0"), updater.DefaultFileMode))

	client := updater.New(&config.UpdaterConfig{
		ServerURL:  base,
		PublicKey:  sign.EncodePublicKey(s.keys.Public),
		Executable: "app",
		TargetPath: target,
		Platform:   "linux-x64",
		Timeout:    5 * time.Second,
	}, updater.WithCurrentVersion("1.0.0"))

	result, err := client.Update(context.Background(), false)
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, "1.1.0", result.Latest)

	installed, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "binary 1.1.0", string(installed))

	s.router.Wait()

	code, body = request(t, http.MethodGet, base+"/api/stats")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["total"])
	require.Equal(t, map[string]any{"linux-x64": float64(1)}, body["byPlatform"])

	// Deprecation hides 1.1.0 from the manifest and blocks new downloads.
	code, body = request(t, http.MethodDelete, base+"/api/releases/1.1.0")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "deprecated", body["status"])

	manifest, err := client.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.0.0", manifest.Version)

	code, body = request(t, http.MethodGet, base+"/releases/1.1.0/linux-x64.tar.gz")
	require.Equal(t, http.StatusGone, code)
	require.Equal(t, "Release has been deprecated", body["error"])

	exists, err := s.store.Exists(context.Background(), domain.ArtifactKey("1.1.0", "linux-x64"))
	require.NoError(t, err)
	require.True(t, exists)

	// A client already on 1.1.0 is not downgraded.
	result, err = updater.New(&config.UpdaterConfig{
		ServerURL:  base,
		PublicKey:  sign.EncodePublicKey(s.keys.Public),
		Executable: "app",
		TargetPath: target,
		Platform:   "linux-x64",
		Timeout:    5 * time.Second,
	}, updater.WithCurrentVersion("1.1.0")).Update(context.Background(), false)
	require.NoError(t, err)
	require.False(t, result.Available)

	s.router.Wait()

	code, body = request(t, http.MethodGet, base+"/api/audit")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["entries"])
}

// TestRelease_ForgedSignatureStoresNothing rejects an upload signed by an unknown key.
func TestRelease_ForgedSignatureStoresNothing(t *testing.T) {
	t.Parallel()

	s := newStack(t)

	other, err := sign.GenerateKeyPair()
	require.NoError(t, err)

	archives := map[string][]byte{"app-linux-x64.tar.gz": tarGz(t, "app", []byte("evil"))}
	digest := sign.SHA256Hex(archives["app-linux-x64.tar.gz"])
	forged := sign.Sign(other.Private, sign.CanonicalManifest("1.0.0",
		domain.FormatTimestamp(publishedAt), map[string]string{"linux-x64": digest}))

	code, body := publish(t, s.server.URL, "1.0.0", forged, archives)
	require.Equal(t, http.StatusForbidden, code)
	require.Contains(t, body["error"], "Invalid Ed25519 signature")

	exists, err := s.store.Exists(context.Background(), domain.ArtifactKey("1.0.0", "linux-x64"))
	require.NoError(t, err)
	require.False(t, exists)

	code, _ = request(t, http.MethodGet, s.server.URL+"/latest.json")
	require.Equal(t, http.StatusNotFound, code)
}
