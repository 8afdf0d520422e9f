package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// IssueCategory is one selectable category on the resident submission form.
type IssueCategory struct {
	Code       string `yaml:"code" json:"code"`
	Label      string `yaml:"label" json:"label"`
	Department string `yaml:"department,omitempty" json:"department,omitempty"`
}

// Open311Config points status webhooks at a regional Open311 endpoint.
type Open311Config struct {
	EndpointURL    string `yaml:"endpointUrl" json:"endpointUrl"`
	JurisdictionID string `yaml:"jurisdictionId" json:"jurisdictionId"`
}

// NotificationConfig tunes webhook and subscriber notification delivery.
type NotificationConfig struct {
	WebhookTimeout     time.Duration `yaml:"webhookTimeout" json:"webhookTimeout"`
	WebhookMaxAttempts int           `yaml:"webhookMaxAttempts" json:"webhookMaxAttempts"`
	FromEmail          string        `yaml:"fromEmail" json:"fromEmail"`
}

// FeatureFlags gates optional portal features.
type FeatureFlags struct {
	PublicTimeline    bool `yaml:"publicTimeline" json:"publicTimeline"`
	SubscriberUpdates bool `yaml:"subscriberUpdates" json:"subscriberUpdates"`
}

// TownshipConfig is the full township-specific configuration, loaded once at
// startup and passed into components by the composition root.
type TownshipConfig struct {
	Name            string          `yaml:"name" json:"name"`
	Timezone        string          `yaml:"timezone" json:"timezone"`
	IssueCategories []IssueCategory `yaml:"issueCategories" json:"issueCategories"`

	Open311      *Open311Config     `yaml:"open311,omitempty" json:"open311,omitempty"`
	Notification NotificationConfig `yaml:"notification" json:"notification"`
	FeatureFlags FeatureFlags       `yaml:"featureFlags" json:"featureFlags"`

	categoryCodes map[string]struct{}
}

// DefaultConfig returns the configuration used when no YAML file is present.
func DefaultConfig() *TownshipConfig {
	cfg := &TownshipConfig{
		Name:     "West Windsor Township",
		Timezone: "America/New_York",
		IssueCategories: []IssueCategory{
			{Code: "pothole", Label: "Pothole", Department: "Public Works"},
			{Code: "streetlight", Label: "Street Light Outage", Department: "Public Works"},
			{Code: "graffiti", Label: "Graffiti", Department: "Code Enforcement"},
			{Code: "trash", Label: "Missed Trash Pickup", Department: "Sanitation"},
			{Code: "other", Label: "Other", Department: ""},
		},
		Notification: NotificationConfig{
			WebhookTimeout:     10 * time.Second,
			WebhookMaxAttempts: 3,
			FromEmail:          "no-reply@example.gov",
		},
		FeatureFlags: FeatureFlags{
			PublicTimeline:    true,
			SubscriberUpdates: true,
		},
	}
	cfg.buildIndexes()
	return cfg
}

// Load reads the township configuration from a YAML file.
// If the file does not exist, defaults are returned.
func Load(path string) (*TownshipConfig, error) {
	if path == "" {
		path = "config/township.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse township config, using defaults", "path", path, "error", err)
		return DefaultConfig(), nil
	}

	if cfg.Notification.WebhookTimeout <= 0 {
		cfg.Notification.WebhookTimeout = 10 * time.Second
	}
	if cfg.Notification.WebhookMaxAttempts <= 0 {
		cfg.Notification.WebhookMaxAttempts = 3
	}

	cfg.buildIndexes()
	return cfg, nil
}

func (c *TownshipConfig) buildIndexes() {
	c.categoryCodes = make(map[string]struct{}, len(c.IssueCategories))
	for _, cat := range c.IssueCategories {
		c.categoryCodes[cat.Code] = struct{}{}
	}
}

// IsValidCategory reports whether code is a configured issue category.
func (c *TownshipConfig) IsValidCategory(code string) bool {
	_, ok := c.categoryCodes[code]
	return ok
}

// DepartmentFor returns the configured department for a category code.
func (c *TownshipConfig) DepartmentFor(code string) string {
	for _, cat := range c.IssueCategories {
		if cat.Code == code {
			return cat.Department
		}
	}
	return ""
}

// Open311EndpointURL returns the configured Open311 endpoint, preferring the
// OPEN311_ENDPOINT_URL environment variable over the YAML value.
func (c *TownshipConfig) Open311EndpointURL() string {
	if url := os.Getenv("OPEN311_ENDPOINT_URL"); url != "" {
		return url
	}
	if c.Open311 != nil {
		return c.Open311.EndpointURL
	}
	return ""
}

// JurisdictionID returns the Open311 jurisdiction identifier, if configured.
func (c *TownshipConfig) JurisdictionID() string {
	if c.Open311 != nil {
		return c.Open311.JurisdictionID
	}
	return ""
}
