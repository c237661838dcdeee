package updater

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/gzip"
)

// errExecutableMissing is returned when the archive has no member with the configured name.
var errExecutableMissing = errors.New("executable not found in archive")

// ExtractExecutable returns the contents of the regular file called name from a tar.gz archive.
// Directory prefixes inside the archive are ignored.
func ExtractExecutable(archive []byte, name string, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}

	defer func() {
		_ = zr.Close()
	}()

	tr := tar.NewReader(zr)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", errExecutableMissing, name)
		}

		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		if header.Typeflag != tar.TypeReg || path.Base(header.Name) != name {
			continue
		}

		return readLimited(tr, limit)
	}
}

// readLimited reads r fully and fails once it yields more than limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", errTooLarge, limit)
	}

	return data, nil
}
