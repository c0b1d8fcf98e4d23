package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"pod-optimizer/internal/feed"
	"pod-optimizer/internal/handlers"
	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/kv"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/middleware"
	"pod-optimizer/internal/test"
)

func TestRouterRoutes(t *testing.T) {
	store := kv.NewMemoryStore()
	h := handlers.New(
		&test.MockTaskEnqueuer{},
		jobs.NewLedger(store, time.Hour),
		locks.NewManager(store),
		nil,
		nil,
		nil,
		feed.NewCache(store, time.Hour),
		t.TempDir(),
	)
	router := newRouter(h, middleware.NewRateLimiterMiddleware(rate.Limit(100), 100))

	cases := []struct {
		method string
		target string
		status int
	}{
		{"GET", "/api/health", http.StatusOK},
		{"GET", "/api/jobs", http.StatusOK},
		{"GET", "/api/jobs/unknown", http.StatusNotFound},
		{"POST", "/api/process", http.StatusBadRequest},
		{"GET", "/feed", http.StatusBadRequest},
		{"PUT", "/api/jobs", http.StatusMethodNotAllowed},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.target)
	}
}
