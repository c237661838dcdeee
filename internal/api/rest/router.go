package rest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oshokin/release-server/internal/domain/audit"
	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/ratelimit"
	"github.com/oshokin/release-server/internal/service/admin"
	"github.com/oshokin/release-server/internal/service/releases"
	"github.com/oshokin/release-server/internal/validation"
)

// ReleaseService is the release lifecycle the routes depend on.
type ReleaseService interface {
	List(ctx context.Context) ([]*domain.Release, error)
	Publish(ctx context.Context, req *releases.PublishRequest) (*releases.PublishResult, error)
	Deprecate(ctx context.Context, version string) error
	Latest(ctx context.Context) (*domain.Manifest, string, error)
	OpenDownload(ctx context.Context, version, file string) (*releases.Download, error)
	RecordDownload(ctx context.Context, version, file string) error
}

// AdminService is the administration surface the routes depend on.
type AdminService interface {
	Authenticator
	RotateKey(ctx context.Context) (*admin.Rotation, error)
	UpdatePublicKey(ctx context.Context, publicKey string) error
	AuditPage(ctx context.Context, limit, offset int) (audit.Page, error)
	Stats(ctx context.Context) (*domain.Stats, error)
}

// Options wires the router dependencies.
type Options struct {
	Releases ReleaseService
	Admin    AdminService
	Audit    AuditRecorder
	Limiter  *ratelimit.Limiter
	// Validator supplies the upload limits enforced while parsing multipart bodies.
	Validator *validation.Validator
	// AuditIPSalt is mixed into client addresses before hashing.
	AuditIPSalt string
	// TrustedProxies lists the peers (IPs or CIDRs) whose client address headers are honoured.
	TrustedProxies []string
	// Version is reported by /health.
	Version string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Router serves the HTTP API.
type Router struct {
	engine    *gin.Engine
	releases  ReleaseService
	admin     AdminService
	validator *validation.Validator
	version   string
	now       func() time.Time
	// pending tracks background bookkeeping writes.
	pending sync.WaitGroup
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(opts *Options) *Router {
	r := &Router{
		engine:    gin.New(),
		releases:  opts.Releases,
		admin:     opts.Admin,
		validator: opts.Validator,
		version:   opts.Version,
		now:       opts.Now,
	}

	if r.validator == nil {
		r.validator = validation.New()
	}

	if r.now == nil {
		r.now = time.Now
	}

	if err := ratelimit.TrustProxies(r.engine, opts.TrustedProxies); err != nil {
		logger.ErrorKV(context.Background(), "Ignoring trusted proxies", "error", err)

		_ = ratelimit.TrustProxies(r.engine, nil)
	}

	r.engine.Use(gin.Recovery(), requestID(), requestLogger())

	r.engine.GET("/health", r.health)
	r.engine.GET("/latest.json", opts.Limiter.Middleware(ratelimit.LatestRule), r.latest)
	r.engine.GET("/releases/:version/:file", opts.Limiter.Middleware(ratelimit.DownloadRule), r.download)

	apiRule := ratelimit.APIRule
	apiRule.Key = fingerprintOrIP

	api := r.engine.Group("/api",
		authenticate(opts.Admin),
		opts.Limiter.Middleware(apiRule),
		auditTrail(opts.Audit, opts.AuditIPSalt, r.now, &r.pending),
	)

	api.GET("/releases", r.listReleases)
	api.POST("/releases", r.publish)
	api.DELETE("/releases/:version", r.deprecate)
	api.GET("/audit", r.auditLog)
	api.GET("/stats", r.stats)
	api.POST("/keys/rotate", r.rotateKey)
	api.PUT("/settings/public-key", r.updatePublicKey)

	r.engine.NoRoute(func(c *gin.Context) {
		respondMessage(c, http.StatusNotFound, "Not found")
	})

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// Wait blocks until background bookkeeping writes finish.
func (r *Router) Wait() {
	r.pending.Wait()
}
