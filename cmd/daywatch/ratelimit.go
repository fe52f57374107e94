// Daywatch
// Copyright (c) 2016, 2025, DCSO GmbH

package main

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// IPLimiter applies a token bucket per client address.
type IPLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// MakeIPLimiter returns a limiter allowing r requests per second with the
// given burst for every client address.
func MakeIPLimiter(r rate.Limit, b int) *IPLimiter {
	return &IPLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

func (l *IPLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// Middleware rejects requests exceeding the client's budget. A nil limiter
// lets everything through.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Unable to determine client address")
			return
		}
		if !l.getLimiter(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
