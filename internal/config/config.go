package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rflorenc/treeops/internal/models"
)

// Environment variables that override profile values.
const (
	EnvAPIKey    = "CLOUDTRUTH_API_KEY"
	EnvServerURL = "CLOUDTRUTH_SERVER_URL"
	EnvProfile   = "CLOUDTRUTH_PROFILE"
)

// DefaultProfile is used when no profile is named.
const DefaultProfile = "default"

// ErrMissingAPIKey is returned when no source provides an API key.
var ErrMissingAPIKey = errors.New("no API key: set --api-key, " + EnvAPIKey + " or api_key in the profile")

// ProfileConfig is one profile of the CloudTruth CLI configuration file.
type ProfileConfig struct {
	APIKey        string `yaml:"api_key"`
	ServerURL     string `yaml:"server_url"`
	SourceProfile string `yaml:"source_profile"`
	Description   string `yaml:"description"`
}

// File is the CloudTruth CLI configuration file (cli.yml).
type File struct {
	Profiles map[string]ProfileConfig `yaml:"profiles"`
}

// Config holds all configuration (CLI flags + environment + config file).
type Config struct {
	ConfigFile string
	Profile    string
	APIKey     string
	ServerURL  string
	Insecure   bool

	PageSize  int
	RPS       float64
	LogLevel  string
	LogFormat string
	Listen    string
}

// Default returns a Config with every tunable at its default.
func Default() *Config {
	return &Config{
		Profile:   DefaultProfile,
		PageSize:  100,
		LogLevel:  "info",
		LogFormat: "text",
		Listen:    ":8080",
	}
}

// Validate checks the tunables.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.RPS < 0 {
		return fmt.Errorf("rps must not be negative, got %v", c.RPS)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// SearchPaths returns the locations checked for cli.yml, in order.
func SearchPaths(getenv func(string) string) []string {
	var paths []string
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "cloudtruth", "cli.yml"))
	}
	if home := getenv("HOME"); home != "" {
		paths = append(paths,
			filepath.Join(home, ".config", "cloudtruth", "cli.yml"),
			filepath.Join(home, "Library", "Application Support", "com.cloudtruth.CloudTruth-CLI", "cli.yml"),
		)
	}
	return paths
}

// Load reads a YAML config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &file, nil
}

// Lookup returns the named profile with missing fields filled from its
// source_profile chain. The literal "null" counts as missing.
func (f *File) Lookup(name string) (ProfileConfig, error) {
	p, ok := f.Profiles[name]
	if !ok {
		return ProfileConfig{}, fmt.Errorf("profile %q not found", name)
	}
	p.APIKey, p.ServerURL = unset(p.APIKey), unset(p.ServerURL)

	seen := map[string]bool{name: true}
	src := unset(p.SourceProfile)
	for src != "" && (p.APIKey == "" || p.ServerURL == "") {
		if seen[src] {
			return ProfileConfig{}, fmt.Errorf("profile %q: source_profile loop at %q", name, src)
		}
		seen[src] = true
		parent, ok := f.Profiles[src]
		if !ok {
			return ProfileConfig{}, fmt.Errorf("profile %q: source profile %q not found", name, src)
		}
		if p.APIKey == "" {
			p.APIKey = unset(parent.APIKey)
		}
		if p.ServerURL == "" {
			p.ServerURL = unset(parent.ServerURL)
		}
		src = unset(parent.SourceProfile)
	}
	return p, nil
}

func unset(s string) string {
	if s == "null" {
		return ""
	}
	return s
}

// Resolve combines flags, environment and config file into a connection
// profile. Explicit flags win over the environment, which wins over the file.
func (c *Config) Resolve(getenv func(string) string) (*models.Profile, error) {
	name := c.Profile
	if name == "" {
		name = getenv(EnvProfile)
	}
	if name == "" {
		name = DefaultProfile
	}

	var fromFile ProfileConfig
	path, explicit := c.ConfigFile, c.ConfigFile != ""
	if !explicit {
		for _, candidate := range SearchPaths(getenv) {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		file, err := Load(path)
		if err != nil {
			return nil, err
		}
		p, err := file.Lookup(name)
		switch {
		case err == nil:
			fromFile = p
		case name != DefaultProfile:
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	profile := &models.Profile{
		Name:      name,
		APIKey:    firstNonEmpty(c.APIKey, getenv(EnvAPIKey), fromFile.APIKey),
		ServerURL: firstNonEmpty(c.ServerURL, getenv(EnvServerURL), fromFile.ServerURL, models.DefaultServerURL),
		Insecure:  c.Insecure,
	}
	if profile.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return profile, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
