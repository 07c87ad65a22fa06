package models

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Resource represents a generic API resource (project, environment, parameter, value).
type Resource map[string]interface{}

// ResourceKind describes a hierarchical resource collection on the remote service.
type ResourceKind struct {
	Name          string          `json:"name"`           // "projects", "environments"
	Label         string          `json:"label"`          // Human-readable: "Projects"
	APIPath       string          `json:"api_path"`       // "/projects/"
	ParentField   string          `json:"parent_field"`   // field holding the parent URL
	ChildrenField string          `json:"children_field"` // field listing child URLs
	Protected     map[string]bool `json:"-"`              // Names to never delete
}

// DetailPath returns the API path of a single resource of this kind.
func (k ResourceKind) DetailPath(id string) string {
	return k.APIPath + id + "/"
}

// ID returns the resource's id as a string. Numeric ids are formatted without a fraction.
func (r Resource) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	}
	return ""
}

// Name returns the resource's name, or "" if it has none.
func (r Resource) Name() string {
	if n, ok := r["name"].(string); ok {
		return n
	}
	return ""
}

// String safely extracts a string field, returning "" if absent or of another type.
func (r Resource) String(field string) string {
	if v, ok := r[field].(string); ok {
		return v
	}
	return ""
}

// RefID extracts the id from a resource reference. References are usually
// full URLs such as https://host/api/v1/environments/<id>/; the id is the last
// non-empty path segment. A bare id is returned unchanged.
func RefID(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	parts := strings.Split(strings.Trim(ref, "/"), "/")
	return parts[len(parts)-1]
}
