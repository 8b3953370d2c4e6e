package store

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"eloqua-sms-bridge/internal/models"
)

// tenantColumns is the default projection for tenant reads. Credential
// columns are excluded; they must be requested through Credentials.
var tenantColumns = []string{
	"id", "install_id", "site_id", "site_name", "default_country",
	"field_mappings", "active", "configured_at", "last_synced_at",
	"created_at", "updated_at",
}

// UpsertInstall creates a tenant at install time, or reactivates the existing
// record when the same site re-installs. The install id is rebound on
// reinstall because Eloqua may issue a fresh one.
func (s *Store) UpsertInstall(installID, siteID, siteName string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.Where("site_id = ?", siteID).First(&tenant).Error
	if err == nil {
		updates := map[string]interface{}{
			"install_id": installID,
			"site_name":  siteName,
			"active":     true,
		}
		if err := s.db.Model(&tenant).Updates(updates).Error; err != nil {
			return nil, err
		}
		log.Info().Str("siteID", siteID).Str("installID", installID).Msg("Reactivated existing tenant")
		tenant.InstallID = installID
		tenant.SiteName = siteName
		tenant.Active = true
		return scrub(&tenant), nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	tenant = models.Tenant{
		InstallID: installID,
		SiteID:    siteID,
		SiteName:  siteName,
		Active:    true,
	}
	if err := s.db.Create(&tenant).Error; err != nil {
		return nil, err
	}
	log.Info().Str("siteID", siteID).Str("installID", installID).Msg("Created tenant")
	return scrub(&tenant), nil
}

// TenantByInstall returns the active tenant for an install id, without
// credential fields.
func (s *Store) TenantByInstall(installID string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.Select(tenantColumns).
		Where("install_id = ? AND active = ?", installID, true).
		First(&tenant).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &tenant, nil
}

// Credentials returns the secrets for a tenant. This is the only read path
// that loads tokens and gateway keys.
func (s *Store) Credentials(installID string) (models.Credentials, error) {
	var tenant models.Tenant
	err := s.db.Where("install_id = ? AND active = ?", installID, true).First(&tenant).Error
	if err != nil {
		return models.Credentials{}, wrapNotFound(err)
	}
	return models.Credentials{
		InstallID:         tenant.InstallID,
		OauthToken:        tenant.OauthToken,
		OauthRefreshToken: tenant.OauthRefreshToken,
		TokenExpiresAt:    tenant.TokenExpiresAt,
		GatewayAPIKey:     tenant.GatewayAPIKey,
		GatewayAPISecret:  tenant.GatewayAPISecret,
	}, nil
}

// SaveTokens persists a token grant. An empty refresh token keeps the stored
// one, matching the OAuth contract where refresh responses may omit it.
func (s *Store) SaveTokens(installID, access, refresh string, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"oauth_token":      access,
		"token_expires_at": expiresAt,
	}
	if refresh != "" {
		updates["oauth_refresh_token"] = refresh
	}
	res := s.db.Model(&models.Tenant{}).Where("install_id = ?", installID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveGatewayCredentials stores the SMS provider key pair and default country.
func (s *Store) SaveGatewayCredentials(installID, apiKey, apiSecret, country string) error {
	now := time.Now()
	res := s.db.Model(&models.Tenant{}).Where("install_id = ?", installID).Updates(map[string]interface{}{
		"gateway_api_key":    apiKey,
		"gateway_api_secret": apiSecret,
		"default_country":    country,
		"configured_at":      now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMappings stores the per-action field mappings.
func (s *Store) SaveMappings(installID string, mappings models.Mappings) error {
	res := s.db.Model(&models.Tenant{}).Where("install_id = ?", installID).
		Update("field_mappings", mappings)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate zeroes the tenant's tokens and clears the active flag at
// uninstall. The row is retained for reinstall reactivation, and owned
// instances are disabled.
func (s *Store) Deactivate(installID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Tenant{}).Where("install_id = ?", installID).Updates(map[string]interface{}{
			"active":              false,
			"oauth_token":         "",
			"oauth_refresh_token": "",
			"token_expires_at":    nil,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		for _, m := range []interface{}{&models.ActionInstance{}, &models.DecisionInstance{}, &models.FeederInstance{}} {
			if err := tx.Model(m).Where("install_id = ?", installID).Update("is_deleted", true).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// TouchSynced records a successful platform sync for the status page.
func (s *Store) TouchSynced(installID string) {
	if err := s.db.Model(&models.Tenant{}).Where("install_id = ?", installID).
		Update("last_synced_at", time.Now()).Error; err != nil {
		log.Warn().Err(err).Str("installID", installID).Msg("Failed to update last_synced_at")
	}
}

func scrub(t *models.Tenant) *models.Tenant {
	t.OauthToken = ""
	t.OauthRefreshToken = ""
	t.TokenExpiresAt = nil
	t.GatewayAPIKey = ""
	t.GatewayAPISecret = ""
	return t
}
