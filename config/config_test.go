package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Load_MissingFileReturnsDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "West Windsor Township", cfg.Name)
		assert.True(t, cfg.IsValidCategory("pothole"))
	})

	t.Run("Load_ParsesYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "township.yaml")
		yaml := `
name: Example Township
timezone: America/Chicago
issueCategories:
  - code: sinkhole
    label: Sinkhole
    department: Engineering
open311:
  endpointUrl: https://regional.example.gov/open311
  jurisdictionId: example.gov
notification:
  webhookTimeout: 5s
  webhookMaxAttempts: 7
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "Example Township", cfg.Name)
		assert.True(t, cfg.IsValidCategory("sinkhole"))
		assert.Equal(t, "Engineering", cfg.DepartmentFor("sinkhole"))
		assert.Equal(t, "https://regional.example.gov/open311", cfg.Open311EndpointURL())
		assert.Equal(t, "example.gov", cfg.JurisdictionID())
		assert.Equal(t, 5*time.Second, cfg.Notification.WebhookTimeout)
		assert.Equal(t, 7, cfg.Notification.WebhookMaxAttempts)
	})

	t.Run("Load_MalformedYAMLFallsBackToDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "township.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "West Windsor Township", cfg.Name)
	})
}

func TestTownshipConfig_Open311EndpointURL(t *testing.T) {
	t.Run("EnvOverridesYAML", func(t *testing.T) {
		t.Setenv("OPEN311_ENDPOINT_URL", "https://override.example.gov")
		cfg := DefaultConfig()
		assert.Equal(t, "https://override.example.gov", cfg.Open311EndpointURL())
	})

	t.Run("EmptyWhenUnconfigured", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Empty(t, cfg.Open311EndpointURL())
		assert.Empty(t, cfg.JurisdictionID())
	})
}

func TestTownshipConfig_Categories(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.IsValidCategory("streetlight"))
	assert.False(t, cfg.IsValidCategory("unknown"))
	assert.Equal(t, "Public Works", cfg.DepartmentFor("pothole"))
	assert.Empty(t, cfg.DepartmentFor("unknown"))
}
