package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/server/metrics"
)

func newTestLimiter(m *metrics.Metrics, now *time.Time) *RateLimiter {
	l := NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             2,
		TTL:               time.Minute,
	}, m)
	l.now = func() time.Time { return *now }
	return l
}

func hit(h http.Handler, remoteAddr, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.RemoteAddr = remoteAddr
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	m := metrics.NewMetrics()
	now := time.Unix(1_700_000_000, 0)
	h := newTestLimiter(m, &now).Middleware(ok)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234", "").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:5678", "").Code)

	rec := hit(h, "10.0.0.1:1234", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"rate_limit_error"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits.WithLabelValues("ip")))

	// Other clients have their own buckets.
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234", "").Code)
	authed := Authentication([]string{"student-key"})(h)
	assert.Equal(t, http.StatusOK, hit(authed, "10.0.0.1:1234", "student-key").Code)

	// A rejected request does not consume a token.
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1234", "").Code)
}

func TestRateLimitKeyedByAPIKey(t *testing.T) {
	m := metrics.NewMetrics()
	now := time.Unix(1_700_000_000, 0)
	h := Authentication([]string{"shared"})(newTestLimiter(m, &now).Middleware(ok))

	hit(h, "10.0.0.1:1", "shared")
	hit(h, "10.0.0.2:1", "shared")
	rec := hit(h, "10.0.0.3:1", "shared")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits.WithLabelValues("api_key")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RateLimitHits.WithLabelValues("ip")))
}

func TestRateLimitIgnoresUnverifiedKeys(t *testing.T) {
	m := metrics.NewMetrics()
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}, m)
	l.now = func() time.Time { return now }

	// Authentication with no keys configured passes every request through.
	h := Authentication(nil)(l.Middleware(ok))

	admitted := 0
	for i := 0; i < 50; i++ {
		if hit(h, "10.0.0.1:1234", "junk-"+strconv.Itoa(i)).Code == http.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, float64(49), testutil.ToFloat64(m.RateLimitHits.WithLabelValues("ip")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RateLimitHits.WithLabelValues("api_key")))
}

func TestRateLimitForgetsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(nil, &now)
	h := l.Middleware(ok)

	hit(h, "10.0.0.1:1", "")
	hit(h, "10.0.0.2:1", "")
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	hit(h, "10.0.0.3:1", "")
	assert.Equal(t, 1, l.Len())
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(10*time.Millisecond, 1))
	assert.Equal(t, 3, retrySeconds(2500*time.Millisecond, 1))
}
