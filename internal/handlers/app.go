package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"eloqua-sms-bridge/config"
	"eloqua-sms-bridge/internal/adapters/eloqua"
	"eloqua-sms-bridge/internal/auth"
	"eloqua-sms-bridge/internal/models"
	"eloqua-sms-bridge/internal/services"
	"eloqua-sms-bridge/internal/store"
)

// Handlers carries the HTTP layer's collaborators.
type Handlers struct {
	cfg       *config.Config
	store     *store.Store
	tokens    *auth.Manager
	platform  *eloqua.Client
	evaluator *services.Evaluator
	inbound   *services.Correlator
	sessions  *SessionStore
}

func NewHandlers(cfg *config.Config, st *store.Store, tokens *auth.Manager, platform *eloqua.Client, evaluator *services.Evaluator, inbound *services.Correlator) *Handlers {
	return &Handlers{
		cfg:       cfg,
		store:     st,
		tokens:    tokens,
		platform:  platform,
		evaluator: evaluator,
		inbound:   inbound,
		sessions:  NewSessionStore(cfg.SessionTTL),
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// wantsJSON distinguishes the config page's AJAX calls from browser
// navigation for reauth responses.
func wantsJSON(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// respondReauth reports an expired grant. AJAX callers get a machine-readable
// payload; browsers get a short countdown page that restarts the authorize
// flow.
func (h *Handlers) respondReauth(w http.ResponseWriter, r *http.Request, re *auth.ReauthRequiredError) {
	if wantsJSON(r) {
		respondJSON(w, http.StatusUnauthorized, map[string]string{
			"code":      "REAUTH_REQUIRED",
			"reAuthUrl": re.ReauthURL,
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, reauthPage, re.ReauthURL, re.ReauthURL)
}

const reauthPage = `<!DOCTYPE html>
<html>
<head>
<title>Re-authorization required</title>
<meta http-equiv="refresh" content="5;url=%s">
</head>
<body>
<p>Your Eloqua authorization has expired. Redirecting to sign-in in <span id="n">5</span> seconds&hellip;</p>
<p><a href="%s">Continue now</a></p>
<script>
var n = 5;
setInterval(function () { if (n > 0) { n--; document.getElementById("n").textContent = n; } }, 1000);
</script>
</body>
</html>
`

// Install registers the tenant and bounces the admin into the OAuth consent
// flow. GET /eloqua/app/install
func (h *Handlers) Install(w http.ResponseWriter, r *http.Request) {
	installID := r.URL.Query().Get("installId")
	siteID := r.URL.Query().Get("siteId")
	siteName := r.URL.Query().Get("siteName")
	if installID == "" || siteID == "" {
		respondError(w, http.StatusBadRequest, "installId and siteId are required")
		return
	}

	if _, err := h.store.UpsertInstall(installID, siteID, siteName); err != nil {
		log.Error().Err(err).Str("installID", installID).Msg("Install registration failed")
		respondError(w, http.StatusInternalServerError, "could not register installation")
		return
	}
	http.Redirect(w, r, h.tokens.AuthorizeURL(installID), http.StatusFound)
}

// Authorize restarts the consent flow for an existing install.
// GET /eloqua/app/authorize?installId=
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	installID := r.URL.Query().Get("installId")
	if installID == "" {
		respondError(w, http.StatusBadRequest, "installId is required")
		return
	}
	if _, err := h.store.TenantByInstall(installID); err != nil {
		respondError(w, http.StatusNotFound, "unknown installation")
		return
	}
	http.Redirect(w, r, h.tokens.AuthorizeURL(installID), http.StatusFound)
}

// OauthCallback completes the code exchange and opens a config session.
// GET /eloqua/app/oauth/callback/{installId}?code=&state=
func (h *Handlers) OauthCallback(w http.ResponseWriter, r *http.Request) {
	installID := mux.Vars(r)["installId"]
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		respondError(w, http.StatusBadRequest, "missing authorization code")
		return
	}
	if state != installID {
		log.Warn().Str("installID", installID).Str("state", state).Msg("OAuth state mismatch")
		respondError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	if _, err := h.tokens.ExchangeCode(r.Context(), code, installID); err != nil {
		log.Error().Err(err).Str("installID", installID).Msg("OAuth code exchange failed")
		respondError(w, http.StatusBadGateway, "authorization exchange failed")
		return
	}

	h.sessions.SetCookie(w, h.sessions.Create(installID))
	http.Redirect(w, r, "/eloqua/app/config?installId="+installID, http.StatusFound)
}

// Uninstall deactivates the tenant and revokes its grant.
// POST /eloqua/app/uninstall?installId=
func (h *Handlers) Uninstall(w http.ResponseWriter, r *http.Request) {
	installID := r.URL.Query().Get("installId")
	if installID == "" {
		respondError(w, http.StatusBadRequest, "installId is required")
		return
	}

	if creds, err := h.store.Credentials(installID); err == nil && creds.OauthToken != "" {
		if err := h.tokens.Revoke(r.Context(), creds.OauthToken); err != nil {
			log.Warn().Err(err).Str("installID", installID).Msg("Token revocation failed at uninstall")
		}
	}
	if err := h.store.Deactivate(installID); err != nil {
		if err == store.ErrNotFound {
			respondError(w, http.StatusNotFound, "unknown installation")
			return
		}
		log.Error().Err(err).Str("installID", installID).Msg("Uninstall failed")
		respondError(w, http.StatusInternalServerError, "could not deactivate installation")
		return
	}
	log.Info().Str("installID", installID).Msg("Installation deactivated")
	w.WriteHeader(http.StatusOK)
}

// sessionInstall authorizes a config-page request. The session cookie set at
// the OAuth callback wins; its install id must match the query parameter when
// one is present.
func (h *Handlers) sessionInstall(w http.ResponseWriter, r *http.Request) (string, bool) {
	installID, ok := h.sessions.InstallID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "session expired, reopen the app from Eloqua")
		return "", false
	}
	if q := r.URL.Query().Get("installId"); q != "" && q != installID {
		respondError(w, http.StatusForbidden, "session does not match installation")
		return "", false
	}
	return installID, true
}

type configView struct {
	InstallID      string          `json:"installId"`
	SiteName       string          `json:"siteName"`
	DefaultCountry string          `json:"defaultCountry"`
	GatewaySet     bool            `json:"gatewayConfigured"`
	FieldMappings  models.Mappings `json:"fieldMappings"`
	ContactFields  interface{}     `json:"contactFields,omitempty"`
	CustomObjects  interface{}     `json:"customObjects,omitempty"`
}

// GetConfig returns the tenant configuration for the app config page,
// together with the contact fields and custom objects needed to build
// mapping pickers. GET /eloqua/app/config
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	installID, ok := h.sessionInstall(w, r)
	if !ok {
		return
	}

	tenant, err := h.store.TenantByInstall(installID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown installation")
		return
	}
	creds, err := h.store.Credentials(installID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown installation")
		return
	}

	view := configView{
		InstallID:      tenant.InstallID,
		SiteName:       tenant.SiteName,
		DefaultCountry: tenant.DefaultCountry,
		GatewaySet:     creds.GatewayAPIKey != "",
		FieldMappings:  tenant.FieldMappings,
	}

	if fields, err := h.platform.GetContactFields(r.Context(), installID); err == nil {
		view.ContactFields = fields.Elements
	} else if re, ok := auth.IsReauthRequired(err); ok {
		h.respondReauth(w, r, re)
		return
	} else {
		log.Warn().Err(err).Str("installID", installID).Msg("Failed to load contact fields for config page")
	}
	if objects, err := h.platform.GetCustomObjects(r.Context(), installID); err == nil {
		view.CustomObjects = objects.Elements
	}

	respondJSON(w, http.StatusOK, view)
}

type configUpdate struct {
	GatewayAPIKey    string          `json:"gatewayApiKey"`
	GatewayAPISecret string          `json:"gatewayApiSecret"`
	DefaultCountry   string          `json:"defaultCountry"`
	FieldMappings    models.Mappings `json:"fieldMappings"`
}

// SaveConfig stores gateway credentials and field mappings.
// POST /eloqua/app/config
func (h *Handlers) SaveConfig(w http.ResponseWriter, r *http.Request) {
	installID, ok := h.sessionInstall(w, r)
	if !ok {
		return
	}

	var update configUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if update.GatewayAPIKey != "" {
		if update.GatewayAPISecret == "" {
			respondError(w, http.StatusBadRequest, "gateway API secret is required with an API key")
			return
		}
		if err := h.store.SaveGatewayCredentials(installID, update.GatewayAPIKey, update.GatewayAPISecret, update.DefaultCountry); err != nil {
			log.Error().Err(err).Str("installID", installID).Msg("Failed to save gateway credentials")
			respondError(w, http.StatusInternalServerError, "could not save gateway credentials")
			return
		}
	}
	if err := h.store.SaveMappings(installID, update.FieldMappings); err != nil {
		log.Error().Err(err).Str("installID", installID).Msg("Failed to save field mappings")
		respondError(w, http.StatusInternalServerError, "could not save field mappings")
		return
	}

	log.Info().Str("installID", installID).Msg("Tenant configuration saved")
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

type statusView struct {
	InstallID        string  `json:"installId"`
	SiteName         string  `json:"siteName"`
	Active           bool    `json:"active"`
	Configured       bool    `json:"configured"`
	LastSyncedAt     *string `json:"lastSyncedAt"`
	PendingJobs      int64   `json:"pendingJobs"`
	PendingDecisions int64   `json:"pendingDecisions"`
}

// Status reports tenant health for the status page.
// GET /eloqua/app/status?installId=
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	installID, ok := h.sessionInstall(w, r)
	if !ok {
		return
	}

	tenant, err := h.store.TenantByInstall(installID)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown installation")
		return
	}

	view := statusView{
		InstallID:  tenant.InstallID,
		SiteName:   tenant.SiteName,
		Active:     tenant.Active,
		Configured: tenant.ConfiguredAt != nil,
	}
	if tenant.LastSyncedAt != nil {
		s := tenant.LastSyncedAt.UTC().Format("2006-01-02T15:04:05Z")
		view.LastSyncedAt = &s
	}
	if n, err := h.store.PendingJobCount(installID); err == nil {
		view.PendingJobs = n
	}
	if n, err := h.store.PendingDecisionCount(installID); err == nil {
		view.PendingDecisions = n
	}

	respondJSON(w, http.StatusOK, view)
}

// Health is the unauthenticated liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
