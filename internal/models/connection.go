package models

import (
	"strings"
)

// DefaultServerURL is used when a profile does not name a server.
const DefaultServerURL = "https://api.cloudtruth.io"

// Profile is a resolved set of credentials for one CloudTruth organization.
type Profile struct {
	Name      string `json:"name"`
	ServerURL string `json:"server_url"`
	APIKey    string `json:"-"`
	Insecure  bool   `json:"insecure"` // skip TLS verification
}

// BaseURL returns the API root for this profile, e.g. https://api.cloudtruth.io/api/v1.
func (p *Profile) BaseURL() string {
	server := strings.TrimRight(strings.TrimSpace(p.ServerURL), "/")
	if server == "" {
		server = DefaultServerURL
	}
	if strings.HasSuffix(server, "/api/v1") {
		return server
	}
	return server + "/api/v1"
}

// MaskedAPIKey returns the key with all but the last four characters hidden.
func (p *Profile) MaskedAPIKey() string {
	if p.APIKey == "" {
		return ""
	}
	if len(p.APIKey) <= 4 {
		return "••••"
	}
	return "••••" + p.APIKey[len(p.APIKey)-4:]
}
