package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-server/internal/config"
)

func testSettings(t *testing.T) *config.Config {
	t.Helper()

	settings := config.Default()
	settings.Storage.DataDir = t.TempDir()
	settings.APIKey = "key"
	require.NoError(t, config.Validate(settings))

	return settings
}

// TestNewApp_ServesRoutes wires the whole server against local storage.
func TestNewApp_ServesRoutes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	a, err := newApp(ctx, testSettings(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, a.close())
	})

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/latest.json", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/releases", nil)
	req.Header.Set("Authorization", "Bearer key")

	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"releases":[]}`, rec.Body.String())

	require.Len(t, a.scheduler.Entries(), 1)
}

// TestNewApp_UnreachableRedis fails fast when the shared limiter store is down.
func TestNewApp_UnreachableRedis(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	settings.RateLimit.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := newApp(ctx, settings)
	require.Error(t, err)
}

// TestRun_StopsOnCancel starts both listeners and shuts down cleanly.
func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "release-server.yaml")
	contents := "listen_addr: 127.0.0.1:0\n" +
		"grpc_listen_addr: 127.0.0.1:0\n" +
		"storage:\n  backend: local\n  data_dir: " + filepath.Join(dir, "data") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), config.DefaultFilePermissions))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, &Options{ConfigPath: path})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

// TestLoadSettings_Overrides applies command-line addresses and validates them.
func TestLoadSettings_Overrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "release-server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: :8080\n"), config.DefaultFilePermissions))

	settings, err := loadSettings(&Options{ConfigPath: path, ListenAddress: ":9090", GRPCListenAddress: ":9091"})
	require.NoError(t, err)
	require.Equal(t, ":9090", settings.ListenAddress)
	require.Equal(t, ":9091", settings.GRPCListenAddress)

	_, err = loadSettings(&Options{ConfigPath: path, ListenAddress: "no-port"})
	require.Error(t, err)

	_, err = loadSettings(&Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

// TestLoadSettings_WithoutConfigFile starts from defaults when no path is given and no file exists.
func TestLoadSettings_WithoutConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	settings, err := loadSettings(&Options{ConfigPath: "", ListenAddress: ":9090"})
	require.NoError(t, err)
	require.Equal(t, ":9090", settings.ListenAddress)
	require.Equal(t, config.BackendLocal, settings.Storage.Backend)
}

// TestResolveListenAddress prefers overrides.
func TestResolveListenAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, ":8080", resolveListenAddress(":8080", ""))
	require.Equal(t, ":9090", resolveListenAddress(":8080", ":9090"))
	require.Empty(t, resolveListenAddress("", ""))
}
