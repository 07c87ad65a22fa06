package cleanup

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/treeops/internal/fakeapi"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

func newDeleter(t *testing.T, api *fakeapi.Server) *Deleter {
	t.Helper()
	c := platform.NewClient(&models.Profile{ServerURL: api.ServerURL(), APIKey: fakeapi.APIKey})
	exec := platform.NewExecutor(c, nil, nil)
	exec.SetPolicy(http.MethodDelete, platform.RetryPolicy{MaxRetries: 5, Retryable: platform.IsConflictStatus})
	w := platform.NewWaiter(c, nil, nil)
	w.Interval = time.Millisecond
	w.Timeout = 50 * time.Millisecond
	return NewDeleter(c, exec, w, nil)
}

// root -> {a, b}, a -> {a1}
func basicForest(t *testing.T) *fakeapi.Server {
	api := fakeapi.New()
	t.Cleanup(api.Close)
	api.AddProject("root", "")
	api.AddProject("a", "root")
	api.AddProject("b", "root")
	api.AddProject("a1", "a")
	return api
}

type lines []string

func (l *lines) log(s string) { *l = append(*l, s) }

func (l lines) contains(sub string) bool {
	for _, s := range l {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestRun_BasicTree(t *testing.T) {
	api := basicForest(t)
	d := newDeleter(t, api)

	var out lines
	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a"}, out.log)
	require.NoError(t, err)

	assert.Equal(t, []string{"a1", "a"}, res.Deleted)
	assert.Equal(t, []string{"a1", "a"}, api.DeletedNames("projects"))
	assert.True(t, api.Exists("projects", "root"))
	assert.True(t, api.Exists("projects", "b"))
	assert.Empty(t, res.Unconfirmed)
	assert.True(t, out.contains("Cleanup complete: 2 deleted"))
}

func TestRun_EmptyMatch(t *testing.T) {
	api := basicForest(t)
	d := newDeleter(t, api)

	var out lines
	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "zzz"}, out.log)
	require.NoError(t, err)
	assert.Empty(t, res.Plan)
	assert.Zero(t, api.Writes())
	assert.True(t, out.contains(`No projects found matching "zzz"`))
}

func TestRun_DryRun(t *testing.T) {
	api := basicForest(t)
	d := newDeleter(t, api)

	var out lines
	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a", DryRun: true}, out.log)
	require.NoError(t, err)
	assert.Len(t, res.Plan, 2)
	assert.Empty(t, res.Deleted)
	assert.Zero(t, api.Writes())
	assert.True(t, out.contains("[depth 2] a1"))
	assert.True(t, out.contains("Dry run: 2 projects would be deleted"))
}

func TestRun_ConfirmationTimeoutIsNonFatal(t *testing.T) {
	api := basicForest(t)
	api.StaleAfterDelete("projects", "a1", 1000)
	d := newDeleter(t, api)

	var out lines
	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a"}, out.log)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a"}, res.Deleted)
	assert.Equal(t, []string{"a1"}, res.Unconfirmed)
	assert.True(t, out.contains("WARNING a1"))
}

func TestRun_ConflictRetriedThenDeleted(t *testing.T) {
	api := basicForest(t)
	a1ID := api.ID("projects", "a1")
	api.ConflictOnDelete("projects", "a1", 2)
	d := newDeleter(t, api)

	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a"}, res.Deleted)
	assert.Equal(t, 3, api.Count(http.MethodDelete, "/api/v1/projects/"+a1ID+"/"))
}

func TestRun_PersistentConflictHalts(t *testing.T) {
	api := basicForest(t)
	aID := api.ID("projects", "a")
	api.ConflictOnDelete("projects", "a1", -1)
	d := newDeleter(t, api)

	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a"}, nil)
	var ce *platform.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 6, ce.Attempts)
	assert.Equal(t, "a1", res.Failed)
	assert.Empty(t, res.Deleted)
	assert.Zero(t, api.Count(http.MethodDelete, "/api/v1/projects/"+aID+"/"), "parent must not be attempted")
	assert.Contains(t, err.Error(), "0 of 2 deleted")
}

func TestRun_InterruptStopsAfterCurrentMutation(t *testing.T) {
	api := basicForest(t)
	d := newDeleter(t, api)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	log := func(s string) {
		if strings.Contains(s, "DELETED") {
			cancel()
		}
	}
	res, err := d.Run(ctx, Options{Kind: platform.Projects, Filter: "a"}, log)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a1"}, res.Deleted)
	assert.True(t, api.Exists("projects", "a"))
}

func TestRun_ProtectedDefaultNeverSelected(t *testing.T) {
	api := fakeapi.New()
	t.Cleanup(api.Close)
	api.AddEnvironment("dev", "default")
	api.AddEnvironment("dev-eu", "dev")
	api.AddEnvironment("prod", "default")
	d := newDeleter(t, api)

	res, err := d.Run(t.Context(), Options{Kind: platform.Environments, Filter: "de"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-eu", "dev"}, res.Deleted)
	assert.True(t, api.Exists("environments", "default"))
	assert.True(t, api.Exists("environments", "prod"))
}

func TestRun_ExactMatch(t *testing.T) {
	api := basicForest(t)
	d := newDeleter(t, api)

	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a", Exact: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a"}, res.Deleted)

	res, err = d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "b", Exact: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Deleted)
	assert.True(t, api.Exists("projects", "root"))
}

func TestRun_DeniedRole(t *testing.T) {
	api := basicForest(t)
	api.SetRole("VIEWER")
	d := newDeleter(t, api)

	_, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a"}, nil)
	var ae *platform.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Zero(t, api.Writes())
}

func TestRun_ListingFailureIsFatal(t *testing.T) {
	api := basicForest(t)
	api.FailGet("/api/v1/projects/", http.StatusInternalServerError)
	d := newDeleter(t, api)

	_, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a"}, nil)
	var fe *platform.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, api.Writes())
}

func TestFormatEntry(t *testing.T) {
	assert.Equal(t, "  [depth 0] a (id=1)", FormatEntry(models.PlanEntry{Name: "a", ID: "1"}))
	assert.Equal(t, "  [depth 1] b (id=2, parent=a)", FormatEntry(models.PlanEntry{Depth: 1, Name: "b", ID: "2", ParentName: "a"}))
}

func TestRun_NodeAlreadyGone(t *testing.T) {
	api := basicForest(t)
	api.VanishOnDelete("projects", "a1")
	d := newDeleter(t, api)

	var out lines
	res, err := d.Run(t.Context(), Options{Kind: platform.Projects, Filter: "a"}, out.log)
	require.NoError(t, err)

	assert.Equal(t, []string{"a1", "a"}, res.Deleted)
	assert.Equal(t, []string{"a1"}, res.AlreadyGone)
	assert.Empty(t, res.Failed)
	assert.False(t, api.Exists("projects", "a"))
	assert.True(t, out.contains("DELETED a1"))
	assert.True(t, out.contains("already gone"))
	assert.Equal(t, 1, api.Count(http.MethodDelete, "/api/v1/projects/"+res.Plan[0].ID+"/"))
}

func TestRun_All(t *testing.T) {
	api := fakeapi.New()
	t.Cleanup(api.Close)
	api.AddEnvironment("staging", "default")
	api.AddEnvironment("qa", "staging")
	api.AddEnvironment("production", "default")
	d := newDeleter(t, api)

	var out lines
	res, err := d.Run(t.Context(), Options{Kind: platform.Environments, All: true}, out.log)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"production", "staging", "qa"}, res.Deleted)
	assert.Equal(t, []string{"default"}, api.Names("environments"))
}

func paramForest(t *testing.T) *fakeapi.Server {
	api := basicForest(t)
	api.AddParameter("root", "db_host", false)
	api.AddParameter("a", "db_port", false)
	api.AddParameter("b", "api_key", true)
	return api
}

func TestRunParameters(t *testing.T) {
	api := paramForest(t)
	d := newDeleter(t, api)

	var out lines
	res, err := d.RunParameters(t.Context(), ParameterOptions{Filter: "db"}, out.log)
	require.NoError(t, err)

	assert.Equal(t, []string{"a/db_port", "root/db_host"}, res.Deleted)
	assert.Empty(t, api.Parameters("root"))
	assert.Empty(t, api.Parameters("a"))
	assert.Equal(t, []string{"api_key"}, api.Parameters("b"))
	assert.True(t, out.contains("Cleanup complete: 2 deleted"))
}

func TestRunParameters_SingleProject(t *testing.T) {
	api := paramForest(t)
	d := newDeleter(t, api)

	res, err := d.RunParameters(t.Context(), ParameterOptions{Project: "a", All: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a/db_port"}, res.Deleted)
	assert.Equal(t, []string{"db_host"}, api.Parameters("root"))
}

func TestRunParameters_DryRun(t *testing.T) {
	api := paramForest(t)
	api.SetRole("VIEWER")
	d := newDeleter(t, api)

	var out lines
	res, err := d.RunParameters(t.Context(), ParameterOptions{Filter: "db", DryRun: true}, out.log)
	require.NoError(t, err)

	require.Len(t, res.Plan, 2)
	assert.Equal(t, "a/db_port", res.Plan[0].String())
	assert.Zero(t, api.Writes())
	assert.True(t, out.contains("Dry run: 2 parameters would be deleted"))
}

func TestRunParameters_NoMatches(t *testing.T) {
	api := paramForest(t)
	d := newDeleter(t, api)

	var out lines
	res, err := d.RunParameters(t.Context(), ParameterOptions{Filter: "zzz"}, out.log)
	require.NoError(t, err)
	assert.Empty(t, res.Plan)
	assert.Zero(t, api.Writes())
	assert.True(t, out.contains("No parameters found"))
}

func TestRunParameters_UnknownProject(t *testing.T) {
	api := paramForest(t)
	d := newDeleter(t, api)

	_, err := d.RunParameters(t.Context(), ParameterOptions{Project: "nope", All: true}, nil)
	var nf *platform.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Zero(t, api.Writes())
}
