package auth

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/store"
)

// expirySkew is the window before token expiry inside which a refresh is
// forced before binding a client.
const expirySkew = 5 * time.Minute

// TokenGrant is the token endpoint response shape.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type idResponse struct {
	Urls struct {
		Base string `json:"base"`
	} `json:"urls"`
}

// Manager owns the OAuth lifecycle for every tenant: obtain, refresh, revoke,
// and the per-install single-flight that coalesces concurrent refreshes.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	http    *resty.Client
	group   singleflight.Group
	baseURL *cache.Cache // install id -> region API base URL, TTL tied to token life
}

// NewManager creates a token manager bound to the tenant store.
func NewManager(cfg *config.Config, st *store.Store) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		http:    resty.New().SetTimeout(30 * time.Second),
		baseURL: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// redirectURI embeds the install id as a path segment. Eloqua requires the
// redirect URI registered at authorization to match byte-for-byte at
// exchange, so both flows derive it from here.
func (m *Manager) redirectURI(installID string) string {
	return fmt.Sprintf("%s/eloqua/app/oauth/callback/%s", m.cfg.BaseURL, installID)
}

// AuthorizeURL builds the Eloqua authorize redirect for an install.
func (m *Manager) AuthorizeURL(installID string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.cfg.EloquaClientID)
	q.Set("redirect_uri", m.redirectURI(installID))
	q.Set("state", installID)
	return m.cfg.EloquaAuthorizeURL + "?" + q.Encode()
}

// ReauthURL is the in-app entry point that restarts the authorize flow.
func (m *Manager) ReauthURL(installID string) string {
	return fmt.Sprintf("%s/eloqua/app/authorize?installId=%s", m.cfg.BaseURL, url.QueryEscape(installID))
}

// ExchangeCode trades an authorization code for tokens and persists them.
func (m *Manager) ExchangeCode(ctx context.Context, code, installID string) (*TokenGrant, error) {
	grant, err := m.tokenRequest(ctx, map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": m.redirectURI(installID),
	})
	if err != nil {
		return nil, fmt.Errorf("authorization code exchange failed: %w", err)
	}
	if err := m.persistGrant(installID, grant); err != nil {
		return nil, err
	}
	log.Info().Str("installID", installID).Msg("OAuth code exchanged and tokens stored")
	return grant, nil
}

// Refresh performs a raw refresh-token grant. If the response omits a new
// refresh token the caller keeps the old one; persistGrant handles that.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	return m.tokenRequest(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
}

// Revoke invalidates a token at the platform.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	resp, err := m.http.R().
		SetContext(ctx).
		SetBasicAuth(m.cfg.EloquaClientID, m.cfg.EloquaClientSecret).
		SetFormData(map[string]string{"token": token}).
		Post(m.cfg.EloquaLoginBase + "/auth/oauth2/revoke")
	if err != nil {
		return fmt.Errorf("token revocation request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("token revocation error: status %s", resp.Status())
	}
	return nil
}

func (m *Manager) tokenRequest(ctx context.Context, form map[string]string) (*TokenGrant, error) {
	var grant TokenGrant
	resp, err := m.http.R().
		SetContext(ctx).
		SetBasicAuth(m.cfg.EloquaClientID, m.cfg.EloquaClientSecret).
		SetFormData(form).
		SetResult(&grant).
		Post(m.cfg.EloquaTokenURL)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token endpoint error: status %s, body: %s", resp.Status(), resp.String())
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &grant, nil
}

func (m *Manager) persistGrant(installID string, grant *TokenGrant) error {
	expiresAt := time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if err := m.store.SaveTokens(installID, grant.AccessToken, grant.RefreshToken, expiresAt); err != nil {
		return fmt.Errorf("failed to persist tokens for install %s: %w", installID, err)
	}
	// Region discovery is only valid for the token that produced it.
	m.baseURL.Delete(installID)
	return nil
}

// RefreshTenant refreshes the stored grant for an install. Concurrent callers
// for the same install share one network refresh; on failure every waiter
// receives ReauthRequiredError.
func (m *Manager) RefreshTenant(ctx context.Context, installID string) (models.Credentials, error) {
	v, err, shared := m.group.Do(installID, func() (interface{}, error) {
		creds, err := m.store.Credentials(installID)
		if err != nil {
			return nil, err
		}
		if creds.OauthRefreshToken == "" {
			return nil, &ReauthRequiredError{InstallID: installID, ReauthURL: m.ReauthURL(installID)}
		}
		grant, err := m.Refresh(ctx, creds.OauthRefreshToken)
		if err != nil {
			log.Warn().Err(err).Str("installID", installID).Msg("Token refresh rejected by platform")
			return nil, &ReauthRequiredError{InstallID: installID, ReauthURL: m.ReauthURL(installID)}
		}
		if err := m.persistGrant(installID, grant); err != nil {
			return nil, err
		}
		return m.store.Credentials(installID)
	})
	if err != nil {
		return models.Credentials{}, err
	}
	if shared {
		log.Debug().Str("installID", installID).Msg("Token refresh coalesced with in-flight refresh")
	}
	return v.(models.Credentials), nil
}

// BindClient returns a resty client authenticated for the tenant, with the
// region-specific API base URL resolved. A token expiring inside the skew
// window is refreshed first; an unusable grant surfaces ReauthRequiredError.
func (m *Manager) BindClient(ctx context.Context, installID string) (*resty.Client, error) {
	creds, err := m.store.Credentials(installID)
	if err != nil {
		return nil, err
	}
	if creds.TokenExpiresWithin(expirySkew) {
		creds, err = m.RefreshTenant(ctx, installID)
		if err != nil {
			return nil, err
		}
	}

	base, err := m.discoverBaseURL(ctx, installID, creds)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetBaseURL(base).
		SetAuthToken(creds.OauthToken).
		SetTimeout(30 * time.Second)
	return client, nil
}

// discoverBaseURL fetches /id from the login host to learn the tenant's
// region API base. Cached per install for the token's lifetime.
func (m *Manager) discoverBaseURL(ctx context.Context, installID string, creds models.Credentials) (string, error) {
	if v, found := m.baseURL.Get(installID); found {
		return v.(string), nil
	}

	var id idResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetAuthToken(creds.OauthToken).
		SetResult(&id).
		Get(m.cfg.EloquaLoginBase + "/id")
	if err != nil {
		return "", fmt.Errorf("base URL discovery request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("base URL discovery error: status %s, body: %s", resp.Status(), resp.String())
	}
	if id.Urls.Base == "" {
		return "", fmt.Errorf("base URL discovery returned no urls.base")
	}

	ttl := cache.DefaultExpiration
	if creds.TokenExpiresAt != nil {
		ttl = time.Until(*creds.TokenExpiresAt)
	}
	m.baseURL.Set(installID, id.Urls.Base, ttl)
	log.Debug().Str("installID", installID).Str("base", id.Urls.Base).Msg("Resolved Eloqua API base URL")
	return id.Urls.Base, nil
}
