package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/treeops/internal/fakeapi"
	"github.com/rflorenc/treeops/internal/models"
)

func newFakeClient(t *testing.T) (*fakeapi.Server, *Client) {
	t.Helper()
	api := fakeapi.New()
	t.Cleanup(api.Close)
	c := NewClient(&models.Profile{ServerURL: api.ServerURL(), APIKey: fakeapi.APIKey})
	return api, c
}

func TestFindEnvironment(t *testing.T) {
	api, c := newFakeClient(t)
	api.AddEnvironment("staging", "default")
	api.AddEnvironment("staging-eu", "staging")

	env, err := c.FindEnvironment(t.Context(), "staging")
	require.NoError(t, err)
	assert.Equal(t, api.ID("environments", "staging"), env.ID())

	_, err = c.FindEnvironment(t.Context(), "prod")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFindParameter(t *testing.T) {
	api, c := newFakeClient(t)
	pid := api.AddProject("web", "")
	api.AddParameter("web", "DB_HOST", false)

	prm, err := c.FindParameter(t.Context(), pid, "DB_HOST")
	require.NoError(t, err)
	assert.Equal(t, "DB_HOST", prm.Name())
}

func TestGetAll_AgainstFake(t *testing.T) {
	api, c := newFakeClient(t)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		api.AddProject(n, "")
	}
	all, err := c.GetAll(t.Context(), Projects.APIPath, nil, DefaultPageSize)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, 3, api.Count("GET", "/api/v1/projects/"))
}

func TestCheckAccess(t *testing.T) {
	tests := []struct {
		role    string
		wantErr bool
	}{
		{"OWNER", false},
		{"ADMIN", false},
		{"CONTRIB", true},
		{"viewer", true},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			api, c := newFakeClient(t)
			api.SetRole(tt.role)
			user, err := c.CheckAccess(t.Context())
			if tt.wantErr {
				var ae *AuthError
				assert.ErrorAs(t, err, &ae)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, user.Role)
		})
	}
}

func TestCheckAccess_BadKey(t *testing.T) {
	api := fakeapi.New()
	defer api.Close()
	c := NewClient(&models.Profile{ServerURL: api.ServerURL(), APIKey: "wrong"})
	_, err := c.CheckAccess(t.Context())
	var ae *AuthError
	assert.ErrorAs(t, err, &ae)
}
