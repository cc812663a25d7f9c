package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/api/health")(okHandler)

	tests := []struct {
		name   string
		path   string
		header [2]string
		want   int
	}{
		{"missing", "/api/status", [2]string{}, http.StatusUnauthorized},
		{"bearer", "/api/status", [2]string{"Authorization", "Bearer s3cret"}, http.StatusOK},
		{"api key header", "/api/status", [2]string{"X-API-Key", "s3cret"}, http.StatusOK},
		{"wrong key", "/api/status", [2]string{"X-API-Key", "nope"}, http.StatusUnauthorized},
		{"public path", "/api/health", [2]string{}, http.StatusOK},
		{"query token", "/ws?token=s3cret", [2]string{}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header[0] != "" {
				r.Header.Set(tt.header[0], tt.header[1])
			}
			assert.Equal(t, tt.want, serve(h, r).Code)
		})
	}
}

func TestAuth_DisabledWithoutKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, serve(Auth("")(okHandler), r).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example.com"})(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Origin", "https://dash.example.com")
	rec := serve(h, r)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec = serve(h, r)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	assert.Equal(t, http.StatusNoContent, serve(h, r).Code)
}

func TestLogging_SetsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set(RequestIDHeader, "abc")
	rec = serve(h, r)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func TestRateLimiter_PerClient(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst exhausted")
	assert.True(t, l.Allow("b"), "other clients unaffected")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"), "refilled")
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(2 * idleTTL)
	l.Allow("b")

	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.clients["a"]
	assert.False(t, ok)
	require.Len(t, l.clients, 1)
}

func TestRateLimit_Middleware(t *testing.T) {
	h := RateLimit(NewRateLimiter(0.001, 1), nil)(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, serve(h, r).Code)
	rec := serve(h, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(RateLimit(nil, nil)(okHandler), r).Code)
}

func TestRateLimit_IgnoresSpoofedForwardedFor(t *testing.T) {
	h := RateLimit(NewRateLimiter(0.001, 1), nil)(okHandler)

	codes := make([]int, 0, 3)
	for _, xff := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		r.RemoteAddr = "192.0.2.50:4000"
		r.Header.Set("X-Forwarded-For", xff)
		codes = append(codes, serve(h, r).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_KeysOnClientBehindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	h := RateLimit(NewRateLimiter(0.001, 1), proxies)(okHandler)

	req := func(xff string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		r.RemoteAddr = "10.0.0.2:4000"
		r.Header.Set("X-Forwarded-For", xff)
		return r
	}
	assert.Equal(t, http.StatusOK, serve(h, req("203.0.113.1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, req("203.0.113.2")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, req("203.0.113.1")).Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("X-Real-IP", "198.51.100.7")
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", ClientIP(r))
	assert.Equal(t, "192.0.2.1", TrustedProxies(nil).ClientIP(r), "headers from untrusted peers are ignored")

	r.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", ClientIP(r))
}

func TestTrustedProxies_ClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"untrusted peer", "198.51.100.1:80", "203.0.113.9", "", "198.51.100.1"},
		{"single proxy", "10.0.0.1:80", "203.0.113.9", "", "203.0.113.9"},
		{"client-supplied prefix is skipped", "10.0.0.1:80", "1.2.3.4, 203.0.113.9", "", "203.0.113.9"},
		{"chain of proxies", "192.0.2.1:80", "203.0.113.9, 10.1.1.1, 10.2.2.2", "", "203.0.113.9"},
		{"real ip header", "10.0.0.1:80", "", "203.0.113.7", "203.0.113.7"},
		{"all hops trusted", "10.0.0.1:80", "10.3.3.3", "", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, proxies.ClientIP(r))
		})
	}
}

func TestParseTrustedProxies_ReportsInvalid(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "nope", " ", "::1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Len(t, proxies, 2)
}
