package models

import (
	"time"
)

// FieldMapping maps logical message fields (mobile, email, title, response, url,
// original-url, link-hits, virtual-number, outgoing, notification) to opaque
// Eloqua custom-object field ids.
type FieldMapping map[string]string

// Mappings holds the per-action field mappings a tenant configured.
type Mappings struct {
	Send        FieldMapping `json:"send,omitempty"`
	Receive     FieldMapping `json:"receive,omitempty"`
	Inbound     FieldMapping `json:"inbound,omitempty"`
	TrackedLink FieldMapping `json:"trackedLink,omitempty"`
}

// Tenant is one installation of the app within one Eloqua site.
// Stored in the "consumers" collection. OAuth tokens live in the same row but
// are never loaded by the default tenant queries; they must be requested
// explicitly through the store's Credentials method.
type Tenant struct {
	ID        uint   `gorm:"primaryKey"`
	InstallID string `gorm:"uniqueIndex;comment:Eloqua AppCloud install id, may be reissued by the platform"`
	SiteID    string `gorm:"index;comment:stable Eloqua site id"`
	SiteName  string

	OauthToken        string     `gorm:"column:oauth_token" json:"-"`
	OauthRefreshToken string     `gorm:"column:oauth_refresh_token" json:"-"`
	TokenExpiresAt    *time.Time `json:"-"`

	GatewayAPIKey    string `json:"-"`
	GatewayAPISecret string `json:"-"`
	DefaultCountry   string

	FieldMappings Mappings `gorm:"serializer:json"`

	Active       bool `gorm:"index"`
	ConfiguredAt *time.Time
	LastSyncedAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Tenant) TableName() string { return "consumers" }

// Credentials is the access-controlled view of a tenant's secrets.
type Credentials struct {
	InstallID         string
	OauthToken        string
	OauthRefreshToken string
	TokenExpiresAt    *time.Time
	GatewayAPIKey     string
	GatewayAPISecret  string
}

// TokenExpiresWithin reports whether the access token is missing or expires
// inside the given skew window.
func (c Credentials) TokenExpiresWithin(skew time.Duration) bool {
	if c.OauthToken == "" || c.TokenExpiresAt == nil {
		return true
	}
	return time.Now().Add(skew).After(*c.TokenExpiresAt)
}
