package rest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oshokin/release-server/internal/domain/audit"
	"github.com/oshokin/release-server/internal/logger"
	"github.com/oshokin/release-server/internal/ratelimit"
)

const (
	// HeaderRequestID carries the request correlation ID.
	HeaderRequestID = "X-Request-Id"

	// fingerprintKey holds the authenticated key fingerprint in the gin context.
	fingerprintKey = "apiKeyFingerprint"
	// requestIDKey holds the request ID in the gin context.
	requestIDKey = "requestId"

	bearerPrefix = "Bearer "
)

// requestID assigns a request ID, reusing a well-formed incoming one, and
// binds a logger carrying it to the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logger.WithKV(c.Request.Context(), "request_id", id))

		c.Next()
	}
}

// requestLogger logs one line per completed request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.InfoKV(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
		)
	}
}

// Authenticator checks bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// authenticate rejects requests without a valid bearer API key and stores
// the key fingerprint for the limiter and the audit trail.
func authenticate(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, bearerPrefix) {
			token = strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		}

		fingerprint, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)

			return
		}

		c.Set(fingerprintKey, fingerprint)
		c.Request = c.Request.WithContext(logger.WithKV(c.Request.Context(), "fingerprint", fingerprint))

		c.Next()
	}
}

// fingerprintOrIP keys API rate limits by key fingerprint, else by client address.
func fingerprintOrIP(c *gin.Context) string {
	if fingerprint := c.GetString(fingerprintKey); fingerprint != "" {
		return fingerprint
	}

	return ratelimit.ClientIP(c)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Append(ctx context.Context, entry audit.Entry) error
}

// auditTrail records the outcome of every mutating request in the background.
// Persistence failures are logged and never reach the client.
func auditTrail(recorder AuditRecorder, salt string, now func() time.Time, pending *sync.WaitGroup) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !audit.IsAudited(c.Request.Method) {
			return
		}

		entry := audit.New(
			now(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			audit.HashIP(salt, ratelimit.ClientIP(c)),
			c.GetString(fingerprintKey),
		)
		entry.RequestID = c.GetString(requestIDKey)

		ctx := context.WithoutCancel(c.Request.Context())

		pending.Go(func() {
			if err := recorder.Append(ctx, entry); err != nil {
				logger.ErrorKV(ctx, "Failed to write audit log", "action", entry.Action, "error", err)
			}
		})
	}
}
