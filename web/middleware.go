package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Rate limit tiers. The general surface is generous; the federation
// inboxes are stricter because a single remote peer can hammer them with
// deliveries. Activity bodies are capped well above anything a legitimate
// Note needs.
const (
	generalRate  = rate.Limit(10)
	generalBurst = 20

	inboxRate  = rate.Limit(5)
	inboxBurst = 10

	maxActivityBytes = 1 << 20

	limiterIdleCutoff = 10 * time.Minute
)

// ipLimiter hands out one token bucket per client IP and forgets buckets
// that have been idle past the cutoff.
type ipLimiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	buckets map[string]*ipBucket
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(r rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		rate:    r,
		burst:   burst,
		buckets: make(map[string]*ipBucket),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// prune drops buckets idle past the cutoff so the map does not grow with
// every IP that ever touched the node.
func (l *ipLimiter) prune(cutoff time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, b := range l.buckets {
		if time.Since(b.lastSeen) > cutoff {
			delete(l.buckets, ip)
			removed++
		}
	}
	return removed
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	go func() {
		ticker := time.NewTicker(limiterIdleCutoff)
		defer ticker.Stop()
		for range ticker.C {
			l.prune(limiterIdleCutoff)
		}
	}()

	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GeneralRateLimit covers the whole HTTP surface.
func GeneralRateLimit() gin.HandlerFunc {
	return newIPLimiter(generalRate, generalBurst).middleware()
}

// InboxRateLimit covers the ActivityPub inbox endpoints. One handler is
// shared across the per-actor and node-wide inboxes so a peer cannot
// double its budget by alternating between them.
func InboxRateLimit() gin.HandlerFunc {
	return newIPLimiter(inboxRate, inboxBurst).middleware()
}

// ActivityBodyLimit rejects oversized activity bodies before parsing.
func ActivityBodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxActivityBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxActivityBytes)
		c.Next()
	}
}
