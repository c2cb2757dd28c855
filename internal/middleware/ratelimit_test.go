package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func countingHandler(served *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*served++
		w.WriteHeader(http.StatusNoContent)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitCapsPerClient(t *testing.T) {
	var served int
	h := RateLimit(2, time.Minute)(countingHandler(&served))

	for i := 0; i < 2; i++ {
		if rec := doRequest(h, "203.0.113.7:1000"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusNoContent)
		}
	}

	rec := doRequest(h, "203.0.113.7:1000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on rejected request")
	}
	if served != 2 {
		t.Fatalf("handler served %d requests, want 2", served)
	}
}

func TestRateLimitIsolatesClients(t *testing.T) {
	var served int
	h := RateLimit(1, time.Minute)(countingHandler(&served))

	if rec := doRequest(h, "203.0.113.7:1000"); rec.Code != http.StatusNoContent {
		t.Fatalf("first client: status = %d", rec.Code)
	}
	if rec := doRequest(h, "203.0.113.7:1000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second hit: status = %d, want 429", rec.Code)
	}
	if rec := doRequest(h, "198.51.100.9:1000"); rec.Code != http.StatusNoContent {
		t.Fatalf("second client: status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestRateLimitResetsAfterWindow(t *testing.T) {
	var served int
	h := RateLimit(1, 20*time.Millisecond)(countingHandler(&served))

	if rec := doRequest(h, "203.0.113.7:1000"); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := doRequest(h, "203.0.113.7:1000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	time.Sleep(40 * time.Millisecond)

	if rec := doRequest(h, "203.0.113.7:1000"); rec.Code != http.StatusNoContent {
		t.Fatalf("after window: status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if served != 2 {
		t.Fatalf("handler served %d requests, want 2", served)
	}
}
