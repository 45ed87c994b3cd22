// Package config loads and saves alertctl profiles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL        = "http://localhost:8000"
	DefaultOpenSearchURL = "https://localhost:9200"
)

type Config struct {
	CurrentProfile string              `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       Profile             `yaml:"defaults" mapstructure:"defaults"`
	path           string
}

// Profile points the CLI at one detect deployment.
type Profile struct {
	APIURL             string `yaml:"api_url" mapstructure:"api_url"`
	OpenSearchURL      string `yaml:"opensearch_url,omitempty" mapstructure:"opensearch_url"`
	OpenSearchUsername string `yaml:"opensearch_username,omitempty" mapstructure:"opensearch_username"`
	OpenSearchPassword string `yaml:"opensearch_password,omitempty" mapstructure:"opensearch_password"`
	Insecure           bool   `yaml:"insecure,omitempty" mapstructure:"insecure"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults: Profile{
			APIURL:             DefaultAPIURL,
			OpenSearchURL:      DefaultOpenSearchURL,
			OpenSearchUsername: "admin",
			Insecure:           true,
		},
	}
}

// DefaultPath is $HOME/.alertctl/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".alertctl", "config.yaml"), nil
}

// Load reads cfgFile (or the default path). A missing file yields the
// defaults. ALERTCTL_API_URL and ALERTCTL_OPENSEARCH_* override the defaults
// section.
func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	def := Default()
	v := viper.New()
	v.SetDefault("current_profile", def.CurrentProfile)
	v.SetDefault("defaults.api_url", def.Defaults.APIURL)
	v.SetDefault("defaults.opensearch_url", def.Defaults.OpenSearchURL)
	v.SetDefault("defaults.opensearch_username", def.Defaults.OpenSearchUsername)
	v.SetDefault("defaults.opensearch_password", "")
	v.SetDefault("defaults.insecure", def.Defaults.Insecure)

	v.SetConfigFile(cfgFile)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ALERTCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Short env names for the common overrides
	_ = v.BindEnv("defaults.api_url", "ALERTCTL_API_URL", "ALERTCTL_DEFAULTS_API_URL")
	_ = v.BindEnv("defaults.opensearch_url", "ALERTCTL_OPENSEARCH_URL", "ALERTCTL_DEFAULTS_OPENSEARCH_URL")
	_ = v.BindEnv("defaults.opensearch_username", "ALERTCTL_OPENSEARCH_USERNAME")
	_ = v.BindEnv("defaults.opensearch_password", "ALERTCTL_OPENSEARCH_PASSWORD")

	if _, err := os.Stat(cfgFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := def
	cfg.path = cfgFile
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	return cfg, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// SetProfile stores p under name and makes it current.
func (c *Config) SetProfile(name string, p Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = &p
	c.CurrentProfile = name
	return c.Save()
}

// Resolve returns the named profile (or the current one) with empty fields
// filled from the defaults section. An unknown name yields the defaults.
func (c *Config) Resolve(name string) Profile {
	if name == "" {
		name = c.CurrentProfile
	}
	out := c.Defaults
	p, ok := c.Profiles[name]
	if !ok {
		return out
	}
	if p.APIURL != "" {
		out.APIURL = p.APIURL
	}
	if p.OpenSearchURL != "" {
		out.OpenSearchURL = p.OpenSearchURL
	}
	if p.OpenSearchUsername != "" {
		out.OpenSearchUsername = p.OpenSearchUsername
	}
	if p.OpenSearchPassword != "" {
		out.OpenSearchPassword = p.OpenSearchPassword
	}
	out.Insecure = out.Insecure || p.Insecure
	return out
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = "default"
	}

	return c.Save()
}
