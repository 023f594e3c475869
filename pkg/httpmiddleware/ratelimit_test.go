package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func limitedGet(t *testing.T, handler http.Handler, remoteAddr string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := limitedGet(t, handler, "192.168.1.1:12345", nil)

		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		w := limitedGet(t, handler, "10.0.0.1:9999", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := limitedGet(t, handler, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, limitedGet(t, handler, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, limitedGet(t, handler, "10.0.0.2:1234", nil).Code)

	// Same IP from a different port still counts against the same key.
	assert.Equal(t, http.StatusTooManyRequests, limitedGet(t, handler, "10.0.0.1:5678", nil).Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	cfg := RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-API-Key")
		},
	}
	handler := RateLimit(cfg)(okHandler())

	assert.Equal(t, http.StatusOK, limitedGet(t, handler, "1.1.1.1:1", map[string]string{"X-API-Key": "key-a"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, limitedGet(t, handler, "2.2.2.2:2", map[string]string{"X-API-Key": "key-a"}).Code)
	assert.Equal(t, http.StatusOK, limitedGet(t, handler, "1.1.1.1:1", map[string]string{"X-API-Key": "key-b"}).Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		hdr        map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.168.1.1:4444",
			want:       "192.168.1.1",
		},
		{
			name:       "x-forwarded-for first hop wins",
			remoteAddr: "192.168.1.1:4444",
			hdr:        map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"},
			want:       "203.0.113.50",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "192.168.1.1:4444",
			hdr:        map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
		{
			name:       "unparseable remote addr passed through",
			remoteAddr: "not-an-addr",
			want:       "not-an-addr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.hdr {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
	xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}

	assert.Equal(t, http.StatusOK, limitedGet(t, handler, "192.168.1.1:4444", xff).Code)

	// Different connection, same forwarded client: still the same key.
	assert.Equal(t, http.StatusTooManyRequests, limitedGet(t, handler, "192.168.1.2:5555", xff).Code)
}

func TestBucket_SlidingWeight(t *testing.T) {
	window := time.Minute
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	b := &bucket{prev: 10, prevStart: start.Add(-window), curr: 2, currStart: start}

	// Halfway through the current window half the previous count still weighs in.
	assert.InDelta(t, 7.0, b.weighted(start.Add(30*time.Second), window), 0.001)

	// At the window boundary the previous count is fully discounted.
	assert.InDelta(t, 2.0, b.weighted(start.Add(window), window), 0.001)

	// Rotating two windows later drops everything.
	b.rotate(start.Add(2*window), window)
	assert.Zero(t, b.prev)
	assert.Zero(t, b.curr)
}
