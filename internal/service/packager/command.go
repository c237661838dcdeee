package packager

import (
	"archive/tar"
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/oshokin/release-server/internal/api/grpc/health"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/service/common"
	"github.com/oshokin/release-server/internal/sign"
	"github.com/oshokin/release-server/internal/validation"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// Name is the application name used as the archive prefix.
	Name string
	// Executable is the file name stored inside each archive. Defaults to Name.
	Executable string
	// Binaries maps "{os}-{arch}" platform keys to built executables, as "linux-x64=./dist/app".
	Binaries []string
	// OutputDir receives the archives.
	OutputDir string
	// HealthAddress optionally names a gRPC health endpoint to probe before packing.
	HealthAddress string
	// Timeout bounds the health probe.
	Timeout time.Duration
}

// Artifact describes one produced archive.
type Artifact struct {
	// Platform is the "{os}-{arch}" key.
	Platform string
	// Filename is the archive file name expected by the upload form.
	Filename string
	// Path is where the archive was written.
	Path string
	// SHA256 is the hex digest the manifest signature covers.
	SHA256 string
	// Size is the archive length in bytes.
	Size int64
}

var (
	errNameRequired      = errors.New("application name must be provided")
	errNoBinaries        = errors.New("at least one binary must be provided")
	errBadBinarySpec     = errors.New("binary must be given as {os}-{arch}=path")
	errDuplicatePlatform = errors.New("platform given more than once")
)

// Run packs every binary and returns the produced artifacts sorted by platform.
func Run(ctx context.Context, opts *Options) ([]Artifact, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "release-packager")

	if opts.HealthAddress != "" {
		if err := ensureServerReachable(ctx, opts.HealthAddress, opts.Timeout); err != nil {
			return nil, err
		}
	}

	artifacts, err := Pack(validation.New(), opts)
	if err != nil {
		return nil, fmt.Errorf("packager failed: %w", err)
	}

	printNextSteps(ctx, artifacts)

	return artifacts, nil
}

// Pack writes one archive per binary into opts.OutputDir.
func Pack(v *validation.Validator, opts *Options) ([]Artifact, error) {
	if opts.Name == "" {
		return nil, errNameRequired
	}

	if len(opts.Binaries) == 0 {
		return nil, errNoBinaries
	}

	executable := cmp.Or(opts.Executable, opts.Name)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	seen := make(map[string]struct{}, len(opts.Binaries))
	artifacts := make([]Artifact, 0, len(opts.Binaries))

	for _, spec := range opts.Binaries {
		platform, binaryPath, ok := strings.Cut(spec, "=")
		if !ok || platform == "" || binaryPath == "" {
			return nil, fmt.Errorf("%w: %q", errBadBinarySpec, spec)
		}

		if _, dup := seen[platform]; dup {
			return nil, fmt.Errorf("%w: %s", errDuplicatePlatform, platform)
		}

		seen[platform] = struct{}{}

		artifact, err := packOne(v, opts.Name+"-"+platform+".tar.gz", executable, binaryPath, opts.OutputDir)
		if err != nil {
			return nil, err
		}

		artifacts = append(artifacts, artifact)
	}

	slices.SortFunc(artifacts, func(a, b Artifact) int {
		return strings.Compare(a.Platform, b.Platform)
	})

	return artifacts, nil
}

// packOne archives one binary and checks the result the way the server will.
func packOne(v *validation.Validator, filename, executable, binaryPath, outputDir string) (Artifact, error) {
	if err := v.Filename(filename); err != nil {
		return Artifact{}, err
	}

	binary, err := os.ReadFile(filepath.Clean(binaryPath))
	if err != nil {
		return Artifact{}, fmt.Errorf("read binary: %w", err)
	}

	archive, err := archiveExecutable(executable, binary)
	if err != nil {
		return Artifact{}, err
	}

	platform, err := v.Artifact(filename, archive)
	if err != nil {
		return Artifact{}, err
	}

	target := filepath.Join(outputDir, filename)
	if err = os.WriteFile(target, archive, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write archive: %w", err)
	}

	return Artifact{
		Platform: platform,
		Filename: filename,
		Path:     target,
		SHA256:   sign.SHA256Hex(archive),
		Size:     int64(len(archive)),
	}, nil
}

// archiveExecutable renders a tar.gz holding a single executable file.
func archiveExecutable(name string, binary []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)

	header := &tar.Header{
		Name:     name,
		Mode:     0o755,
		Size:     int64(len(binary)),
		ModTime:  time.Now().UTC(),
		Typeflag: tar.TypeReg,
	}

	if err := tw.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}

	if _, err := tw.Write(binary); err != nil {
		return nil, fmt.Errorf("write tar body: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar stream: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip stream: %w", err)
	}

	return buf.Bytes(), nil
}

// printNextSteps logs the archives to upload and the digests to sign.
func printNextSteps(ctx context.Context, artifacts []Artifact) {
	var builder strings.Builder

	builder.WriteString("Upload the following files as file_0..file_N of POST /api/releases:\n")

	for _, a := range artifacts {
		fmt.Fprintf(&builder, "%s (%d bytes)\n", a.Path, a.Size)
	}

	builder.WriteString("\nSign \"{version}|{pub_date}|\" followed by these entries joined with \"|\":\n")

	for i, a := range artifacts {
		if i > 0 {
			builder.WriteString("|")
		}

		builder.WriteString(a.Platform + ":" + a.SHA256)
	}

	logger.Info(ctx, builder.String())
}

// ensureServerReachable verifies that the release server is serving before packing.
func ensureServerReachable(ctx context.Context, address string, timeout time.Duration) error {
	client, err := common.Dial(ctx, address, common.WithCallTimeout(timeout))
	if err != nil {
		return err
	}

	// Best-effort cleanup.
	defer func() {
		_ = client.Close()
	}()

	if err = client.Probe(ctx, health.ServiceName); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Verified connection to release server", "health_address", address)

	return nil
}
