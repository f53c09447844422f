package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inodb/pharmguard/internal/config"
	"github.com/inodb/pharmguard/internal/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestID assigns a request ID, keeping one supplied by the client.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// auditLogger writes one structured line per request.
func auditLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.Int("response_size", c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}

// httpMetrics records request counts and latency by route template.
func httpMetrics(m *metrics.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordHTTPRequest(endpoint, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// requestTimeout bounds the request context. Handlers observe it through
// c.Request.Context().
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func limitBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// clientBuckets are the token buckets for one client address.
type clientBuckets struct {
	hourly   *rate.Limiter
	daily    *rate.Limiter
	analyze  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter enforces per-client hourly and daily request budgets and
// a stricter budget for analyses.
type clientLimiter struct {
	limits config.LimitsConfig

	mu        sync.Mutex
	clients   map[string]*clientBuckets
	lastSweep time.Time
	now       func() time.Time
}

// idleTTL is how long an unused client's buckets are kept.
const idleTTL = 24 * time.Hour

func newClientLimiter(limits config.LimitsConfig) *clientLimiter {
	return &clientLimiter{
		limits:  limits,
		clients: make(map[string]*clientBuckets),
		now:     time.Now,
	}
}

func perPeriod(n int, period time.Duration) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(period/time.Duration(n)), n)
}

func (l *clientLimiter) buckets(key string, now time.Time) *clientBuckets {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > time.Hour {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[key]
	if !ok {
		b = &clientBuckets{
			hourly:  perPeriod(l.limits.GlobalPerHour, time.Hour),
			daily:   perPeriod(l.limits.GlobalPerDay, 24*time.Hour),
			analyze: perPeriod(l.limits.AnalyzePerHour, time.Hour),
		}
		l.clients[key] = b
	}
	b.lastSeen = now
	return b
}

// take reserves one token from every limiter, or none. It returns the
// wait until the request would be admitted when denied.
func take(now time.Time, limiters ...*rate.Limiter) (bool, time.Duration) {
	reserved := make([]*rate.Reservation, 0, len(limiters))
	for _, lim := range limiters {
		r := lim.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			delay := r.DelayFrom(now)
			r.CancelAt(now)
			for _, prev := range reserved {
				prev.CancelAt(now)
			}
			return false, delay
		}
		reserved = append(reserved, r)
	}
	return true, 0
}

func (l *clientLimiter) global() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := l.now()
		b := l.buckets(c.ClientIP(), now)
		if ok, wait := take(now, b.hourly, b.daily); !ok {
			tooManyRequests(c, wait)
			return
		}
		c.Next()
	}
}

func (l *clientLimiter) analyze() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := l.now()
		b := l.buckets(c.ClientIP(), now)
		if ok, wait := take(now, b.analyze); !ok {
			tooManyRequests(c, wait)
			return
		}
		c.Next()
	}
}

func tooManyRequests(c *gin.Context, wait time.Duration) {
	if wait > 0 && wait != rate.InfDuration {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	abortWithError(c, &APIError{Status: http.StatusTooManyRequests, Message: "Rate limit exceeded"})
}
