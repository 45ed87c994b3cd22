package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.NotNil(t, cfg.Profiles)
	assert.Empty(t, cfg.Profiles)
	assert.Equal(t, DefaultAPIURL, cfg.Defaults.APIURL)
	assert.Equal(t, DefaultOpenSearchURL, cfg.Defaults.OpenSearchURL)
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Equal(t, DefaultAPIURL, cfg.Resolve("").APIURL)
}

func TestLoad_WithConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `current_profile: prod
profiles:
  prod:
    api_url: https://detect.example.com
    opensearch_password: s3cret
defaults:
  api_url: http://localhost:8000
  opensearch_url: https://localhost:9200
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.CurrentProfile)
	require.Contains(t, cfg.Profiles, "prod")

	p := cfg.Resolve("")
	assert.Equal(t, "https://detect.example.com", p.APIURL)
	assert.Equal(t, "s3cret", p.OpenSearchPassword)
	assert.Equal(t, "https://localhost:9200", p.OpenSearchURL)

	assert.Equal(t, "http://localhost:8000", cfg.Resolve("staging").APIURL)
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("profiles: [unclosed"), 0600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_WithEnvironmentOverrides(t *testing.T) {
	t.Setenv("ALERTCTL_API_URL", "http://env-detect:9000")
	t.Setenv("ALERTCTL_OPENSEARCH_URL", "https://env-os:9200")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://env-detect:9000", cfg.Defaults.APIURL)
	assert.Equal(t, "https://env-os:9200", cfg.Defaults.OpenSearchURL)
}

func TestSaveAndRemoveProfile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.NoError(t, cfg.SetProfile("lab", Profile{APIURL: "http://lab:8000"}))
	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "lab", reloaded.CurrentProfile)
	assert.Equal(t, "http://lab:8000", reloaded.Resolve("").APIURL)

	require.NoError(t, reloaded.RemoveProfile("lab"))
	assert.Equal(t, "default", reloaded.CurrentProfile)
	assert.Error(t, reloaded.RemoveProfile("lab"))
}
