package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterStorePerActor(t *testing.T) {
	store := NewLocalLimiterStore(1, 2)
	ctx := context.Background()

	// Burst of 2, then the bucket is dry.
	for i := 0; i < 2; i++ {
		ok, err := store.Allow(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := store.Allow(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	// Another actor has its own bucket.
	ok, err = store.Allow(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t, WithLimiter(NewLocalLimiterStore(1, 1)))
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	// A different client IP is not throttled.
	other := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitKeysOnAuthenticatedSubject(t *testing.T) {
	srv, _, _ := newTestServer(t, WithAuth(testSecret), WithLimiter(NewLocalLimiterStore(1, 1)))
	h := srv.Handler()

	// Two subjects behind the same proxy address get separate buckets.
	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("Authorization", "Bearer "+signToken(t, subject, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alice@example.com"))
	assert.Equal(t, http.StatusOK, send("bob@example.com"))

	// Same subject again exhausts its own bucket.
	assert.Equal(t, http.StatusTooManyRequests, send("alice@example.com"))
}

// failingStore simulates a lost limiter backend.
type failingStore struct{}

func (failingStore) Allow(context.Context, string) (bool, error) {
	return false, assert.AnError
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	srv, _, _ := newTestServer(t, WithLimiter(failingStore{}))
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/state", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
