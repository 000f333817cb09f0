package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore abstracts the per-actor rate limiting backend so the
// server can run with a process-local token bucket or a shared Redis
// bucket without the handlers caring which.
type LimiterStore interface {
	// Allow reports whether the actor may proceed with one request.
	Allow(ctx context.Context, actorID string) (bool, error)
}

// LocalLimiterStore keeps one token bucket per actor in memory.
type LocalLimiterStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiterStore creates a local store allowing a sustained rps
// with the given burst per actor. Stale actor buckets are reaped in
// the background.
func NewLocalLimiterStore(rps float64, burst int) *LocalLimiterStore {
	s := &LocalLimiterStore{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go s.reap()
	return s
}

// Allow implements LimiterStore. It never returns an error.
func (s *LocalLimiterStore) Allow(_ context.Context, actorID string) (bool, error) {
	s.mu.Lock()
	v, ok := s.visitors[actorID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.visitors[actorID] = v
	}
	v.lastSeen = time.Now()
	limiter := v.limiter
	s.mu.Unlock()

	return limiter.Allow(), nil
}

// reap removes buckets idle for more than three minutes.
func (s *LocalLimiterStore) reap() {
	for {
		time.Sleep(time.Minute)
		s.mu.Lock()
		for id, v := range s.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(s.visitors, id)
			}
		}
		s.mu.Unlock()
	}
}

// actorID identifies the caller for rate limiting: the authenticated
// subject when auth is on, the client IP otherwise.
func actorID(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok && p.Subject != "" {
		return p.Subject
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}

// rateLimitMiddleware enforces the store's verdict. A store error
// fails open: losing the limiter backend must not take the API down.
func rateLimitMiddleware(store LimiterStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := store.Allow(r.Context(), actorID(r))
			if err == nil && !allowed {
				writeTooManyRequests(w, r, 5)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
