package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeLimiter(t *testing.T, m *MemoryLimiter) {
	t.Helper()
	require.NoError(t, m.Close())
}

func TestMemoryLimiterAllowUnderBurst(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	defer closeLimiter(t, m)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be within burst", i)
	}
}

func TestMemoryLimiterDenyAfterBurst(t *testing.T) {
	m := NewMemoryLimiter(10, 3)
	defer closeLimiter(t, m)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "request after burst exhausted should be denied")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer closeLimiter(t, m)

	ctx := context.Background()
	ok, err := m.Allow(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "second key has its own bucket")
}

func TestMemoryLimiterTokenRefill(t *testing.T) {
	m := NewMemoryLimiter(1000, 1)
	defer closeLimiter(t, m)

	ctx := context.Background()
	ok, err := m.Allow(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Allow(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)

	// At 1000 rps a token returns within a few milliseconds.
	time.Sleep(10 * time.Millisecond)
	ok, err = m.Allow(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok, "bucket should refill after waiting")
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l Limiter = NoopLimiter{}
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, l.Close())
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer closeLimiter(t, m)

	handler := Middleware(m, IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4242"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "REQUEST_LIMIT_EXCEEDED")
}

func TestIPKeyFuncStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:51234"
	assert.Equal(t, "192.168.1.7", IPKeyFunc(req))
}
