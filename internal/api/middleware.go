// ABOUTME: HTTP middleware: per-IP rate limiting, request logging, body size caps
// ABOUTME: The rate limiter is a token bucket per client IP with idle-bucket expiry

package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxRequestBody caps request bodies; auth payloads are tiny.
	maxRequestBody = 1 << 20

	// bucketTTL is how long an idle client keeps its rate bucket.
	bucketTTL = 5 * time.Minute

	// bucketSweepInterval is how often idle buckets are dropped.
	bucketSweepInterval = time.Minute
)

// rateLimiter applies a token bucket per client IP. Buckets for idle
// clients expire so the map stays bounded under address churn.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond int
	burst     int
	stop      chan struct{}
	stopOnce  sync.Once
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter allowing perSecond requests with the
// given burst per client IP, and starts the idle-bucket janitor.
func newRateLimiter(perSecond, burst int) *rateLimiter {
	rl := &rateLimiter{
		buckets:   make(map[string]*bucket),
		perSecond: perSecond,
		burst:     burst,
		stop:      make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// allow reports whether the client may proceed, creating its bucket on
// first sight.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.lim.Allow()
}

// middleware rejects clients over their budget with 429.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		if !rl.allow(ip) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// janitor drops buckets idle past bucketTTL until Close is called.
func (rl *rateLimiter) janitor() {
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

// sweep removes buckets whose owners have been idle past bucketTTL.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketTTL {
			delete(rl.buckets, ip)
		}
	}
}

// Close stops the janitor goroutine. Safe to call more than once.
func (rl *rateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// clientIP extracts the originating client address, preferring the first
// X-Forwarded-For entry when a proxy is in front.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusWriter captures the response status for the request log.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// requestLog logs method, path, status, and duration for every request.
func requestLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.code,
			"duration", time.Since(start),
		)
	})
}

// maxBodyBytes caps request body size; oversized bodies fail on read.
func maxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}
