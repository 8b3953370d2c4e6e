package models

import (
	"strings"
	"time"
)

// Match modes for decision instances.
const (
	MatchAnything = "Anything"
	MatchKeyword  = "Keyword"
)

// ActionInstance is a user-placed SMS send step in a campaign canvas.
type ActionInstance struct {
	ID         uint   `gorm:"primaryKey"`
	InstanceID string `gorm:"uniqueIndex"`
	InstallID  string `gorm:"index"`
	SiteID     string `gorm:"index"`

	Message        string `gorm:"type:text;comment:message template with [field] merge placeholders"`
	FromID         string
	CustomObjectID string
	FieldMapping   FieldMapping `gorm:"serializer:json"`

	RequiresConfiguration bool
	IsDeleted             bool `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ActionInstance) TableName() string { return "actioninstances" }

// DecisionInstance is a user-placed yes/no reply-evaluation step.
type DecisionInstance struct {
	ID         uint   `gorm:"primaryKey"`
	InstanceID string `gorm:"uniqueIndex"`
	InstallID  string `gorm:"index"`
	SiteID     string `gorm:"index"`

	// EvaluationWindowHours is 1..168, or -1 for unbounded (one year).
	EvaluationWindowHours int
	MatchMode             string
	Keywords              string `gorm:"comment:comma-separated, case-insensitive contains"`

	CustomObjectID string
	FieldMapping   FieldMapping `gorm:"serializer:json"`

	RequiresConfiguration bool
	IsDeleted             bool `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (DecisionInstance) TableName() string { return "decisioninstances" }

// Window returns the effective evaluation window. The unbounded sentinel (-1)
// maps to a one-year horizon.
func (d *DecisionInstance) Window() time.Duration {
	if d.EvaluationWindowHours == -1 {
		return 365 * 24 * time.Hour
	}
	return time.Duration(d.EvaluationWindowHours) * time.Hour
}

// KeywordList returns the lowercased, trimmed keywords with empty entries
// removed.
func (d *DecisionInstance) KeywordList() []string {
	var out []string
	for _, k := range strings.Split(d.Keywords, ",") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Matches evaluates a reply against the instance criterion.
func (d *DecisionInstance) Matches(reply string) bool {
	reply = strings.ToLower(strings.TrimSpace(reply))
	switch d.MatchMode {
	case MatchKeyword:
		for _, k := range d.KeywordList() {
			if strings.Contains(reply, k) {
				return true
			}
		}
		return false
	default: // MatchAnything
		return reply != ""
	}
}

// FeederInstance injects contacts into the campaign from inbound SMS and
// tracked-link events.
type FeederInstance struct {
	ID         uint   `gorm:"primaryKey"`
	InstanceID string `gorm:"uniqueIndex"`
	InstallID  string `gorm:"index"`
	SiteID     string `gorm:"index"`

	SenderIDs      string `gorm:"comment:comma-separated virtual numbers this feeder listens on"`
	Keyword        string
	Source         string `gorm:"comment:inbound or linkhit"`
	CustomObjectID string
	FieldMapping   FieldMapping `gorm:"serializer:json"`

	RequiresConfiguration bool
	IsDeleted             bool `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (FeederInstance) TableName() string { return "feederinstances" }

// ListensTo reports whether the feeder owns events received on the given
// virtual number. An empty SenderIDs list listens on every number.
func (f *FeederInstance) ListensTo(mobile string) bool {
	ids := strings.TrimSpace(f.SenderIDs)
	if ids == "" {
		return true
	}
	mobile = strings.TrimSpace(mobile)
	for _, id := range strings.Split(ids, ",") {
		if strings.TrimSpace(id) == mobile {
			return true
		}
	}
	return false
}
