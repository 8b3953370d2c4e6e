package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig(tokenURL, loginBase string) *config.Config {
	return &config.Config{
		BaseURL:            "https://bridge.example.com",
		EloquaClientID:     "client-id",
		EloquaClientSecret: "client-secret",
		EloquaAuthorizeURL: loginBase + "/auth/oauth2/authorize",
		EloquaTokenURL:     tokenURL,
		EloquaLoginBase:    loginBase,
	}
}

func grantJSON(access, refresh string, expiresIn int) string {
	b, _ := json.Marshal(TokenGrant{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
	})
	return string(b)
}

func TestAuthorizeURLCarriesStateAndRedirect(t *testing.T) {
	m := NewManager(testConfig("http://token", "http://login"), newTestStore(t))
	u := m.AuthorizeURL("install-1")
	assert.Contains(t, u, "state=install-1")
	assert.Contains(t, u, "response_type=code")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "oauth%2Fcallback%2Finstall-1")
}

func TestExchangeCodePersistsGrant(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertInstall("install-1", "site-1", "Acme")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Contains(t, r.Form.Get("redirect_uri"), "/eloqua/app/oauth/callback/install-1")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, grantJSON("access-1", "refresh-1", 28800))
	}))
	defer server.Close()

	m := NewManager(testConfig(server.URL, server.URL), st)
	grant, err := m.ExchangeCode(context.Background(), "the-code", "install-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", grant.AccessToken)

	creds, err := st.Credentials("install-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", creds.OauthToken)
	assert.Equal(t, "refresh-1", creds.OauthRefreshToken)
	require.NotNil(t, creds.TokenExpiresAt)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), *creds.TokenExpiresAt, time.Minute)
}

func TestRefreshTenantCoalescesConcurrentCallers(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertInstall("install-1", "site-1", "Acme")
	require.NoError(t, err)
	require.NoError(t, st.SaveTokens("install-1", "stale", "refresh-1", time.Now().Add(time.Minute)))

	var refreshes int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&refreshes, 1)
		time.Sleep(250 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, grantJSON("fresh", "refresh-2", 28800))
	}))
	defer server.Close()

	m := NewManager(testConfig(server.URL, server.URL), st)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := m.RefreshTenant(context.Background(), "install-1")
			assert.NoError(t, err)
			assert.Equal(t, "fresh", creds.OauthToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&refreshes), "concurrent refreshes must share one token request")
}

func TestRefreshTenantRejectionSurfacesReauth(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertInstall("install-1", "site-1", "Acme")
	require.NoError(t, err)
	require.NoError(t, st.SaveTokens("install-1", "stale", "revoked", time.Now().Add(time.Minute)))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	m := NewManager(testConfig(server.URL, server.URL), st)
	_, err = m.RefreshTenant(context.Background(), "install-1")
	re, ok := IsReauthRequired(err)
	require.True(t, ok)
	assert.Equal(t, "install-1", re.InstallID)
	assert.Contains(t, re.ReauthURL, "/eloqua/app/authorize?installId=install-1")
}

func TestRefreshTenantWithoutRefreshTokenRequiresReauth(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertInstall("install-1", "site-1", "Acme")
	require.NoError(t, err)

	m := NewManager(testConfig("http://unused", "http://unused"), st)
	_, err = m.RefreshTenant(context.Background(), "install-1")
	_, ok := IsReauthRequired(err)
	assert.True(t, ok)
}

func TestBindClientDiscoversAndCachesBaseURL(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertInstall("install-1", "site-1", "Acme")
	require.NoError(t, err)
	require.NoError(t, st.SaveTokens("install-1", "access-1", "refresh-1", time.Now().Add(time.Hour)))

	var idCalls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/id", r.URL.Path)
		atomic.AddInt64(&idCalls, 1)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"urls":{"base":"https://secure.p03.eloqua.com"}}`)
	}))
	defer server.Close()

	m := NewManager(testConfig(server.URL+"/token", server.URL), st)

	client, err := m.BindClient(context.Background(), "install-1")
	require.NoError(t, err)
	assert.Equal(t, "https://secure.p03.eloqua.com", client.BaseURL)

	_, err = m.BindClient(context.Background(), "install-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&idCalls), "discovery is cached for the token lifetime")
}

func TestBindClientRefreshesExpiringToken(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertInstall("install-1", "site-1", "Acme")
	require.NoError(t, err)
	// Expires inside the refresh skew window.
	require.NoError(t, st.SaveTokens("install-1", "stale", "refresh-1", time.Now().Add(time.Minute)))

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, grantJSON("fresh", "refresh-2", 28800))
	})
	mux.HandleFunc("/id", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"urls":{"base":"https://secure.p03.eloqua.com"}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	m := NewManager(testConfig(server.URL+"/token", server.URL), st)
	client, err := m.BindClient(context.Background(), "install-1")
	require.NoError(t, err)

	creds, err := st.Credentials("install-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", creds.OauthToken)
	assert.Equal(t, "fresh", client.Token)
}
