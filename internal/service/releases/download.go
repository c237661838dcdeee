package releases

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/oshokin/release-server/internal/domain/release"
)

// Download is an artifact ready to be served.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

// OpenDownload loads a file of an active release.
func (s *Service) OpenDownload(ctx context.Context, version, file string) (*Download, error) {
	idx, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}

	rel, ok := idx[version]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "Release not found")
	}

	if !rel.IsActive() {
		return nil, domain.Errorf(domain.ErrGone, "Release has been deprecated")
	}

	if file == "" || strings.ContainsAny(file, `/\`) || strings.HasPrefix(file, ".") {
		return nil, domain.Errorf(domain.ErrNotFound, "File not found")
	}

	obj, err := s.store.Get(ctx, "releases/"+version+"/"+file)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	if obj == nil {
		return nil, domain.Errorf(domain.ErrNotFound, "File not found")
	}

	contentType := ContentTypeBinary
	if strings.HasSuffix(file, domain.ArtifactSuffix) {
		contentType = ContentTypeGzip
	}

	return &Download{
		Filename:    file,
		ContentType: contentType,
		Data:        obj.Data,
		Size:        obj.Size,
	}, nil
}

// RecordDownload appends a download record for a served file.
func (s *Service) RecordDownload(ctx context.Context, version, file string) error {
	stat := domain.DownloadStat{
		Version:   version,
		Platform:  strings.Replace(file, domain.ArtifactSuffix, "", 1),
		Timestamp: s.now().UTC(),
	}

	if err := s.stats.Append(ctx, stat); err != nil {
		return fmt.Errorf("record download of %s/%s: %w", version, file, err)
	}

	return nil
}
