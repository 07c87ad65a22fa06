package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rflorenc/treeops/internal/models"
)

const sampleFile = `
profiles:
  default:
    api_key: key-default
    server_url: https://ct.example.com
  staging:
    source_profile: default
    server_url: https://staging.example.com
  nulled:
    api_key: "null"
    source_profile: staging
  orphan:
    source_profile: missing
  loop-a:
    source_profile: loop-b
  loop-b:
    source_profile: loop-a
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFile_Lookup(t *testing.T) {
	file, err := Load(writeConfig(t, sampleFile))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	tests := []struct {
		name      string
		wantKey   string
		wantURL   string
		wantError bool
	}{
		{"default", "key-default", "https://ct.example.com", false},
		{"staging", "key-default", "https://staging.example.com", false},
		{"nulled", "key-default", "https://staging.example.com", false},
		{"orphan", "", "", true},
		{"loop-a", "", "", true},
		{"absent", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := file.Lookup(tt.name)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Lookup(%s) should fail", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%s) returned error: %v", tt.name, err)
			}
			if p.APIKey != tt.wantKey || p.ServerURL != tt.wantURL {
				t.Errorf("Lookup(%s) = (%q, %q), want (%q, %q)", tt.name, p.APIKey, p.ServerURL, tt.wantKey, tt.wantURL)
			}
		})
	}
}

func TestResolve_Precedence(t *testing.T) {
	path := writeConfig(t, sampleFile)

	c := Default()
	c.ConfigFile = path
	p, err := c.Resolve(env(nil))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.APIKey != "key-default" || p.ServerURL != "https://ct.example.com" {
		t.Errorf("file values not applied: %+v", p)
	}

	p, err = c.Resolve(env(map[string]string{EnvAPIKey: "from-env"}))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", p.APIKey)
	}

	c.APIKey = "from-flag"
	c.ServerURL = "https://flag.example.com"
	p, err = c.Resolve(env(map[string]string{EnvAPIKey: "from-env", EnvServerURL: "https://env.example.com"}))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.APIKey != "from-flag" || p.ServerURL != "https://flag.example.com" {
		t.Errorf("flags must win: %+v", p)
	}
}

func TestResolve_SearchPath(t *testing.T) {
	xdg := t.TempDir()
	dir := filepath.Join(xdg, "cloudtruth")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cli.yml"), []byte(sampleFile), 0o600); err != nil {
		t.Fatal(err)
	}

	c := Default()
	c.Profile = "staging"
	p, err := c.Resolve(env(map[string]string{"XDG_CONFIG_HOME": xdg}))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.Name != "staging" || p.ServerURL != "https://staging.example.com" {
		t.Errorf("profile = %+v", p)
	}
}

func TestResolve_DefaultsWithoutFile(t *testing.T) {
	c := Default()
	p, err := c.Resolve(env(map[string]string{EnvAPIKey: "k", "HOME": t.TempDir()}))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if p.ServerURL != models.DefaultServerURL {
		t.Errorf("ServerURL = %q, want %q", p.ServerURL, models.DefaultServerURL)
	}
}

func TestResolve_MissingAPIKey(t *testing.T) {
	c := Default()
	_, err := c.Resolve(env(map[string]string{"HOME": t.TempDir()}))
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Resolve error = %v, want ErrMissingAPIKey", err)
	}
}

func TestResolve_UnknownNamedProfile(t *testing.T) {
	c := Default()
	c.ConfigFile = writeConfig(t, sampleFile)
	c.Profile = "prod"
	if _, err := c.Resolve(env(map[string]string{EnvAPIKey: "k"})); err == nil {
		t.Fatal("Resolve should fail for an unknown named profile")
	}
}

func TestResolve_ExplicitFileMissing(t *testing.T) {
	c := Default()
	c.ConfigFile = filepath.Join(t.TempDir(), "nope.yml")
	if _, err := c.Resolve(env(map[string]string{EnvAPIKey: "k"})); err == nil {
		t.Fatal("Resolve should fail when --config does not exist")
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	c.LogFormat = "xml"
	if err := c.Validate(); err == nil {
		t.Error("xml log format should be rejected")
	}
	c = Default()
	c.PageSize = 0
	if err := c.Validate(); err == nil {
		t.Error("zero page size should be rejected")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("warn", "json", &buf).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %s", buf.String())
	}
	NewLogger("debug", "json", &buf).Debug("shown", "k", "v")
	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("json output = %s", buf.String())
	}
}
