package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/errors"
	"github.com/teilomillet/campusgate/server/metrics"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client. Clients are identified by API key when
// one is sent, by remote IP otherwise. Buckets idle for longer than the TTL are dropped.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

// NewRateLimiter creates a limiter from cfg. m may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RateLimiter{
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		ttl:      ttl,
		metrics:  m,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Middleware rejects requests over the client's rate with 429 and a Retry-After header.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, client := clientID(r)
		now := l.now()
		res := l.get(client, now).ReserveN(now, 1)
		if !res.OK() || res.DelayFrom(now) > 0 {
			wait := time.Duration(math.MaxInt64)
			if res.OK() {
				wait = res.DelayFrom(now)
				res.CancelAt(now)
			}
			retryAfter := retrySeconds(wait, l.limit)
			if l.metrics != nil {
				l.metrics.RateLimitHits.WithLabelValues(kind).Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			errors.WriteError(w, errors.NewRateLimitError(GetRequestID(r.Context()), retryAfter))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) get(client string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.ttl {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.visitors, id)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Len returns the number of clients currently tracked.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// clientID keys the bucket by API key only when Authentication verified it, so an
// unchecked header cannot buy a fresh bucket. Everything else is keyed by IP.
func clientID(r *http.Request) (kind, id string) {
	if key := AuthenticatedKey(r.Context()); key != "" {
		return "api_key", "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip", "ip:" + host
}

func retrySeconds(wait time.Duration, limit rate.Limit) int {
	if wait == time.Duration(math.MaxInt64) {
		if limit > 0 {
			wait = time.Duration(float64(time.Second) / float64(limit))
		} else {
			wait = time.Minute
		}
	}
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
