package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/logger"
)

const (
	latestCacheControl   = "public, max-age=300"
	artifactCacheControl = "public, max-age=86400, immutable"
)

func (r *Router) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   r.version,
		"timestamp": domain.FormatTimestamp(r.now()),
	})
}

func (r *Router) latest(c *gin.Context) {
	manifest, etag, err := r.releases.Latest(c.Request.Context())
	if err != nil {
		respondError(c, err)

		return
	}

	c.Header("Cache-Control", latestCacheControl)
	c.Header("ETag", etag)

	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)

		return
	}

	c.JSON(http.StatusOK, manifest)
}

func (r *Router) download(c *gin.Context) {
	version, file := c.Param("version"), c.Param("file")

	dl, err := r.releases.OpenDownload(c.Request.Context(), version, file)
	if err != nil {
		respondError(c, err)

		return
	}

	ctx := context.WithoutCancel(c.Request.Context())

	r.pending.Go(func() {
		if err := r.releases.RecordDownload(ctx, version, file); err != nil {
			logger.ErrorKV(ctx, "Failed to record download", "error", err)
		}
	})

	c.Header("Content-Length", strconv.FormatInt(dl.Size, 10))
	c.Header("Content-Disposition", `attachment; filename="`+dl.Filename+`"`)
	c.Header("Cache-Control", artifactCacheControl)
	c.Data(http.StatusOK, dl.ContentType, dl.Data)
}
