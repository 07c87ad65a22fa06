package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/treeops/internal/fakeapi"
)

func init() {
	color.NoColor = true
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, api *fakeapi.Server, args ...string) result {
	t.Helper()
	home := t.TempDir()
	env := map[string]string{"HOME": home, "XDG_CONFIG_HOME": home}
	if api != nil {
		env["CLOUDTRUTH_API_KEY"] = fakeapi.APIKey
		env["CLOUDTRUTH_SERVER_URL"] = api.ServerURL()
	}
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(""), &stdout, &stderr, func(k string) string { return env[k] })
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func newForest(t *testing.T) *fakeapi.Server {
	t.Helper()
	api := fakeapi.New()
	t.Cleanup(api.Close)
	api.AddEnvironment("ci", "default")
	api.AddEnvironment("ci-feature", "ci")
	api.AddEnvironment("production", "default")
	return api
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"usage", usageErrorf("bad flag"), exitUsage},
		{"wrapped usage", fmt.Errorf("outer: %w", usageErrorf("bad")), exitUsage},
		{"cancelled", fmt.Errorf("interrupted: %w", context.Canceled), exitInterrupted},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"delete-tree", "--nope"}},
		{"missing kind", []string{"delete-tree", "--match", "ci"}},
		{"missing match", []string{"delete-tree", "--kind", "projects"}},
		{"bad kind", []string{"delete-tree", "--kind", "parameters", "--match", "x"}},
		{"positional args", []string{"plan", "--kind", "projects", "--match", "x", "extra"}},
		{"rename without delete", []string{"move", "--source", "a", "--target", "b", "--parent", "c", "--rename"}},
		{"move missing parent", []string{"move", "--source", "a", "--target", "b"}},
		{"bad log format", []string{"plan", "--kind", "projects", "--match", "x", "--log-format", "xml"}},
		{"all with match", []string{"delete-tree", "--kind", "projects", "--all", "--match", "x"}},
		{"parameters missing match", []string{"delete-parameters", "--project", "web"}},
		{"populate nothing selected", []string{"populate"}},
		{"populate too large", []string{"populate", "--projects", "--project-count", "30", "--levels", "2"}},
		{"unknown integration service", []string{"delete-integrations", "--service", "gcp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, nil, tt.args...)
			assert.Equal(t, exitUsage, res.code, res.stderr)
			assert.Contains(t, res.stderr, "Error:")
		})
	}
}

func TestMissingAPIKey(t *testing.T) {
	res := runCLI(t, nil, "plan", "--kind", "environments", "--match", "ci")
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stderr, "API key")
}

func TestVersion(t *testing.T) {
	res := runCLI(t, nil, "--version")
	require.Equal(t, exitOK, res.code)
	assert.Equal(t, "treeops dev (commit: none, built: unknown)\n", res.stdout)
}

func TestPlan_NoMutation(t *testing.T) {
	api := newForest(t)

	res := runCLI(t, api, "plan", "--kind", "environments", "--match", "ci")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "--- Deletion plan: 2 environments ---")
	assert.Less(t, strings.Index(res.stdout, "ci-feature"), strings.Index(res.stdout, "] ci (id="))
	assert.Contains(t, res.stdout, "Dry run: 2 environments would be deleted")
	assert.Zero(t, api.Writes())
}

func TestDeleteTree(t *testing.T) {
	api := newForest(t)

	res := runCLI(t, api, "delete-tree", "--kind", "environments", "--match", "ci")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, []string{"ci-feature", "ci"}, api.DeletedNames("environments"))
	assert.True(t, api.Exists("environments", "production"))
	assert.True(t, api.Exists("environments", "default"))
	assert.Contains(t, res.stdout, "Cleanup complete: 2 deleted, 0 unconfirmed")
}

func TestDeleteTree_NoMatches(t *testing.T) {
	api := newForest(t)

	res := runCLI(t, api, "delete-tree", "--kind", "projects", "--match", "nothing")
	assert.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `No projects found matching "nothing"`)
	assert.Zero(t, api.Writes())
}

func TestDeleteTree_ProtectedDefaultNeverSelected(t *testing.T) {
	api := newForest(t)

	res := runCLI(t, api, "delete-tree", "--kind", "environments", "--match", "default", "--exact")
	assert.Equal(t, exitOK, res.code, res.stderr)
	assert.True(t, api.Exists("environments", "default"))
	assert.Zero(t, api.Writes())
}

func TestDeleteTree_DeniedRole(t *testing.T) {
	api := newForest(t)
	api.SetRole("VIEWER")

	res := runCLI(t, api, "delete-tree", "--kind", "environments", "--match", "ci")
	assert.Equal(t, exitFailure, res.code)
	assert.Zero(t, api.Writes())
}

func TestMove_ExistingTargetFailsClosed(t *testing.T) {
	api := newForest(t)
	api.AddEnvironment("ci-v2", "production")

	res := runCLI(t, api, "move", "--source", "ci-feature", "--target", "ci-v2", "--parent", "production")
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stdout, "was not adopted")
	assert.Zero(t, api.Writes())
}

func TestMove_CreatesTarget(t *testing.T) {
	api := newForest(t)
	api.AddProject("web", "")
	api.AddParameter("web", "DB_HOST", false)
	api.SetValue("web", "DB_HOST", "ci-feature", "db.ci")

	res := runCLI(t, api, "move", "--source", "ci-feature", "--target", "ci-v2", "--parent", "production")
	require.Equal(t, exitOK, res.code, res.stdout+res.stderr)
	assert.True(t, api.Exists("environments", "ci-v2"))
	v, ok := api.Value("web", "DB_HOST", "ci-v2")
	require.True(t, ok)
	assert.Equal(t, "db.ci", v)
	assert.Contains(t, res.stdout, "=== completed ===")
}

func TestAdoptDecision(t *testing.T) {
	a := newApp(strings.NewReader("y\n"), &bytes.Buffer{}, &bytes.Buffer{}, func(string) string { return "" })

	a.isTerminal = func() bool { return false }
	ok, err := a.adoptDecision(false)(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok, "non-interactive runs must not adopt")

	ok, err = a.adoptDecision(true)(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	a.isTerminal = func() bool { return true }
	ok, err = a.adoptDecision(false)(context.Background(), map[string]interface{}{"id": "7", "name": "ci-v2"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteTree_All(t *testing.T) {
	api := newForest(t)

	res := runCLI(t, api, "delete-tree", "--kind", "environments", "--all")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, []string{"default"}, api.Names("environments"))
}

func TestDeleteParameters(t *testing.T) {
	api := newForest(t)
	api.AddProject("web", "")
	api.AddParameter("web", "param-testing_1", false)
	api.AddParameter("web", "db_url", true)

	res := runCLI(t, api, "delete-parameters", "--project", "web", "--match", "param-testing_")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, []string{"db_url"}, api.Parameters("web"))
	assert.Contains(t, res.stdout, "DELETED web/param-testing_1")
}

func TestPopulate(t *testing.T) {
	api := newForest(t)

	res := runCLI(t, api, "populate", "--projects", "--project-count", "1", "--parameter-count", "2",
		"--environments", "--environment-count", "1", "--environment-root", "production")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Populate complete: 1 projects, 1 environments, 2 parameters")
	assert.Contains(t, res.stdout, "under production")

	res = runCLI(t, api, "delete-tree", "--kind", "projects", "--match", "proj-testing_")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Empty(t, api.Names("projects"))
}

func TestDeleteIntegrations(t *testing.T) {
	api := newForest(t)
	api.AddIntegration("aws", "prod-aws")
	api.AddAction("prod-aws", "pushes", "export-ssm")

	res := runCLI(t, api, "delete-integrations")
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stderr, "--force")
	assert.True(t, api.IntegrationExists("prod-aws"))

	res = runCLI(t, api, "delete-integrations", "--service", "aws", "--force")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.False(t, api.IntegrationExists("prod-aws"))
	assert.Contains(t, res.stdout, "DELETED aws/prod-aws/pushes/export-ssm")
}
