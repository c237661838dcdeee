package rest

import (
	"errors"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oshokin/release-server/internal/service/releases"
	"github.com/oshokin/release-server/internal/storage"
)

const (
	// filePartPrefix marks multipart parts carrying artifacts.
	filePartPrefix = "file_"
	// multipartMemory is kept in memory while parsing; the rest spills to disk.
	multipartMemory = 32 << 20
	// formOverhead leaves room for the text fields of a publish form.
	formOverhead = 1 << 20

	defaultAuditLimit = 50
)

func (r *Router) listReleases(c *gin.Context) {
	list, err := r.releases.List(c.Request.Context())
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"releases": list})
}

func (r *Router) publish(c *gin.Context) {
	maxBody := int64(r.validator.MaxFiles+1)*r.validator.MaxFileSize + formOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid multipart form: "+err.Error())

		return
	}

	defer func() {
		_ = c.Request.MultipartForm.RemoveAll()
	}()

	files, err := r.readUploads(c.Request.MultipartForm)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid upload: "+err.Error())

		return
	}

	result, err := r.releases.Publish(c.Request.Context(), &releases.PublishRequest{
		Version:   strings.TrimSpace(c.PostForm("version")),
		Notes:     c.PostForm("notes"),
		Signature: strings.TrimSpace(c.PostForm("signature")),
		Files:     files,
	})
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":    "published",
		"version":   result.Version,
		"platforms": result.Platforms,
		"signature": result.Signature,
	})
}

// readUploads drains every "file_*" part. Parts above the size ceiling are
// not read; their declared size is passed on for validation.
func (r *Router) readUploads(form *multipart.Form) ([]releases.Upload, error) {
	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		if strings.HasPrefix(field, filePartPrefix) {
			fields = append(fields, field)
		}
	}

	slices.Sort(fields)

	var uploads []releases.Upload

	for _, field := range fields {
		for _, header := range form.File[field] {
			upload, err := r.readUpload(header)
			if err != nil {
				return nil, err
			}

			uploads = append(uploads, upload)
		}
	}

	return uploads, nil
}

func (r *Router) readUpload(header *multipart.FileHeader) (releases.Upload, error) {
	upload := releases.Upload{Filename: header.Filename}

	if header.Size > r.validator.MaxFileSize {
		upload.Size = header.Size

		return upload, nil
	}

	src, err := header.Open()
	if err != nil {
		return upload, err
	}

	defer func() {
		_ = src.Close()
	}()

	upload.Data, err = storage.ReadAllLimited(src, r.validator.MaxFileSize)

	switch {
	case errors.Is(err, storage.ErrTooLarge):
		upload.Data = nil
		upload.Size = r.validator.MaxFileSize + 1
	case err != nil:
		return upload, err
	}

	return upload, nil
}

func (r *Router) deprecate(c *gin.Context) {
	version := c.Param("version")

	if err := r.releases.Deprecate(c.Request.Context(), version); err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deprecated",
		"version": version,
		"message": "Release hidden from latest.json. Files preserved for existing users.",
	})
}

func (r *Router) auditLog(c *gin.Context) {
	limit := queryInt(c, "limit", defaultAuditLimit)
	offset := queryInt(c, "offset", 0)

	page, err := r.admin.AuditPage(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, page)
}

func (r *Router) stats(c *gin.Context) {
	stats, err := r.admin.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, stats)
}

func (r *Router) rotateKey(c *gin.Context) {
	rotation, err := r.admin.RotateKey(c.Request.Context())
	if err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "API key rotated. Update your environment variable.",
		"newKey":     rotation.NewKey,
		"newKeyHash": rotation.NewKeyHash,
	})
}

type publicKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

func (r *Router) updatePublicKey(c *gin.Context) {
	var body publicKeyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondMessage(c, http.StatusBadRequest, "Missing publicKey")

		return
	}

	publicKey := strings.TrimSpace(body.PublicKey)

	if err := r.admin.UpdatePublicKey(c.Request.Context(), publicKey); err != nil {
		respondError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Public key updated",
		"publicKey": publicKey,
	})
}

// queryInt reads an integer query parameter, falling back on absence or junk.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw, ok := c.GetQuery(name)
	if !ok {
		return fallback
	}

	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}

	return value
}
