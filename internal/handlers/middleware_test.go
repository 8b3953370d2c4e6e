package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/store"
)

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	st, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	defer st.Close()

	cfg := &config.Config{
		BaseURL:            "https://bridge.example.com",
		SessionTTL:         time.Hour,
		RateLimit:          2,
		RateWindow:         time.Minute,
		EloquaClientID:     "client-id",
		EloquaClientSecret: "client-secret",
		EloquaAuthorizeURL: "https://login.eloqua.example/auth/oauth2/authorize",
		EloquaTokenURL:     "http://127.0.0.1:0/token",
		EloquaLoginBase:    "http://127.0.0.1:0",
	}
	e := newRouterEnvWith(t, st, cfg)

	for i := 0; i < 2; i++ {
		w := e.do(httptest.NewRequest("GET", "/health", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := e.do(httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiterTracksClientsSeparately(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest("GET", "/", nil)
	first.RemoteAddr = "198.51.100.1:4000"
	second := httptest.NewRequest("GET", "/", nil)
	second.RemoteAddr = "198.51.100.2:4000"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	assert.Equal(t, http.StatusOK, w.Code, "a second client has its own budget")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiterConcurrentRequestsCountExactly(t *testing.T) {
	const limit = 40
	limiter := NewRateLimiter(limit, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	const requests = 50
	codes := make(chan int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = "198.51.100.9:4000"
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	allowed, rejected := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			rejected++
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	assert.Equal(t, limit, allowed)
	assert.Equal(t, requests-limit, rejected)
}

func TestRecovererConvertsPanic(t *testing.T) {
	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	s := NewSessionStore(time.Hour)
	token := s.Create("install-1")

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	installID, ok := s.InstallID(r)
	require.True(t, ok)
	assert.Equal(t, "install-1", installID)

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: "forged"})
	_, ok = s.InstallID(r)
	assert.False(t, ok)
}
