package platform

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rflorenc/treeops/internal/models"
)

// FindByName returns the single resource at path whose name equals name.
// The server-side name filter may be a prefix or case-insensitive match, so
// results are filtered again locally.
func (c *Client) FindByName(ctx context.Context, kind, path, name string) (models.Resource, error) {
	results, err := c.GetAll(ctx, path, url.Values{"name": {name}}, DefaultPageSize)
	if err != nil {
		return nil, err
	}
	var matches []models.Resource
	for _, r := range results {
		if r.Name() == name {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Kind: kind, Name: name}
	case 1:
		return matches[0], nil
	default:
		return nil, &AmbiguousError{Kind: kind, Name: name, Count: len(matches)}
	}
}

// FindProject looks up a project by exact name.
func (c *Client) FindProject(ctx context.Context, name string) (models.Resource, error) {
	return c.FindByName(ctx, "project", Projects.APIPath, name)
}

// FindEnvironment looks up an environment by exact name.
func (c *Client) FindEnvironment(ctx context.Context, name string) (models.Resource, error) {
	return c.FindByName(ctx, "environment", Environments.APIPath, name)
}

// FindParameter looks up a parameter of a project by exact name.
func (c *Client) FindParameter(ctx context.Context, projectID, name string) (models.Resource, error) {
	return c.FindByName(ctx, "parameter", ParametersPath(projectID), name)
}

// ParametersPath returns the parameter collection of a project.
func ParametersPath(projectID string) string {
	return fmt.Sprintf("/projects/%s/parameters/", projectID)
}

// ValuesPath returns the value collection of a parameter.
func ValuesPath(projectID, parameterID string) string {
	return fmt.Sprintf("/projects/%s/parameters/%s/values/", projectID, parameterID)
}

// ResourceURL returns the canonical URL of r, building it from the kind and
// id when the record carries none.
func (c *Client) ResourceURL(kind models.ResourceKind, r models.Resource) string {
	if u := r.String("url"); u != "" {
		return u
	}
	return c.URL(kind.DetailPath(r.ID()))
}

// ParameterPath returns the detail path of a parameter.
func ParameterPath(projectID, parameterID string) string {
	return fmt.Sprintf("/projects/%s/parameters/%s/", projectID, parameterID)
}
