package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oshokin/release-server/internal/logger"
)

// Response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// KeyFunc derives the counter key of a request.
type KeyFunc func(c *gin.Context) string

// Rule limits one route group.
type Rule struct {
	// Name prefixes counter keys so groups do not share windows.
	Name string
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of a fixed window.
	Window time.Duration
	// Key derives the counter key. Nil means ClientIP.
	Key KeyFunc
}

// Default rules of the public and administrative routes.
var (
	LatestRule   = Rule{Name: "latest", Max: 60, Window: time.Minute}
	DownloadRule = Rule{Name: "releases", Max: 30, Window: time.Minute}
	APIRule      = Rule{Name: "api", Max: 100, Window: time.Hour}
)

// Limiter applies rules against a store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// NewLimiter binds a limiter to store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{
		store: store,
		now:   time.Now,
	}
}

// Middleware enforces rule. Store failures let the request through.
func (l *Limiter) Middleware(rule Rule) gin.HandlerFunc {
	keyFunc := rule.Key
	if keyFunc == nil {
		keyFunc = ClientIP
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := rule.Name + ":" + keyFunc(c)

		w, err := l.store.Hit(ctx, key, rule.Window)
		if err != nil {
			logger.ErrorKV(ctx, "Rate limiter unavailable", "rule", rule.Name, "error", err)
			c.Next()

			return
		}

		c.Header(HeaderLimit, strconv.Itoa(rule.Max))
		c.Header(HeaderRemaining, strconv.Itoa(max(0, rule.Max-w.Count)))

		if w.Count > rule.Max {
			retryAfter := RetryAfterSeconds(w.ResetAt.Sub(l.now()))

			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": retryAfter,
			})

			return
		}

		c.Next()
	}
}

// RetryAfterSeconds rounds the remaining window up to whole seconds, at least one.
func RetryAfterSeconds(remaining time.Duration) int {
	return max(1, int(math.Ceil(remaining.Seconds())))
}

// ProxyHeaders are the client address headers honoured from trusted proxies, in order.
var ProxyHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// TrustProxies makes engine read ProxyHeaders only from peers within proxies
// (IPs or CIDRs). With no proxies every header is ignored and the peer address is used.
func TrustProxies(engine *gin.Engine, proxies []string) error {
	engine.ForwardedByClientIP = true
	engine.RemoteIPHeaders = ProxyHeaders

	if err := engine.SetTrustedProxies(proxies); err != nil {
		return fmt.Errorf("set trusted proxies: %w", err)
	}

	return nil
}

// ClientIP returns the caller address resolved by gin from the peer address and,
// for trusted proxies, ProxyHeaders.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}

	return "unknown"
}
