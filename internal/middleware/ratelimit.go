package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

type window struct {
	hits    int
	resetAt time.Time
}

// RateLimit enforces a fixed-window per-client cap keyed on ClientIP.
// Expired windows are reaped opportunistically so the map does not
// grow by one entry per address forever.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		clients = make(map[string]*window)
		sweepAt = time.Now().Add(per)
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			key := ClientIP(r)

			mu.Lock()
			if now.After(sweepAt) {
				for k, win := range clients {
					if now.After(win.resetAt) {
						delete(clients, k)
					}
				}
				sweepAt = now.Add(per)
			}
			win, ok := clients[key]
			if !ok || now.After(win.resetAt) {
				win = &window{resetAt: now.Add(per)}
				clients[key] = win
			}
			win.hits++
			over := win.hits > limit
			resetAt := win.resetAt
			mu.Unlock()

			if over {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
