package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"argus/metrics"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// rateLimitMiddleware applies a token bucket per client IP
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		a.rateLimitersMu.Lock()
		entry, exists := a.rateLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{
				limiter:  rate.NewLimiter(rate.Limit(a.config.API.RateLimit.RequestsPerSecond), a.config.API.RateLimit.Burst),
				lastSeen: time.Now(),
			}
			a.rateLimiters[ip] = entry
		} else {
			entry.lastSeen = time.Now()
		}
		// Capture limiter reference while holding lock
		limiter := entry.limiter
		a.rateLimitersMu.Unlock()

		if !limiter.Allow() {
			metrics.APIRateLimited.Inc()
			a.logger.Debugw("Request rate limited", "client_ip", ip, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "Too many requests", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupRateLimiters periodically removes inactive rate limiters
func (a *API) cleanupRateLimiters() {
	a.cleanupActive.Store(true)
	defer a.cleanupActive.Store(false)
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := a.pruneRateLimiters(time.Now().Add(-rateLimiterIdle)); n > 0 {
				a.logger.Debugw("Pruned idle rate limiters", "count", n)
			}
		case <-a.stopCh:
			return
		}
	}
}

// pruneRateLimiters drops limiters not seen since cutoff
func (a *API) pruneRateLimiters(cutoff time.Time) int {
	a.rateLimitersMu.Lock()
	defer a.rateLimitersMu.Unlock()
	removed := 0
	for ip, entry := range a.rateLimiters {
		if entry.lastSeen.Before(cutoff) {
			delete(a.rateLimiters, ip)
			removed++
		}
	}
	return removed
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and latency per route template
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.APIRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// clientIP returns the direct peer address. Forwarded headers are not trusted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
