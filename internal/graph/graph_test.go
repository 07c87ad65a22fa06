package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/treeops/internal/models"
)

var envKind = models.ResourceKind{Name: "environments", APIPath: "/environments/", ParentField: "parent", ChildrenField: "children"}

func env(id, name, parentID string) models.Resource {
	r := models.Resource{"id": id, "name": name, "parent": nil}
	if parentID != "" {
		r["parent"] = "https://api.cloudtruth.io/api/v1/environments/" + parentID + "/"
	}
	return r
}

// root -> {a, b}, a -> {a1}
func sampleForest() []models.Resource {
	return []models.Resource{
		env("1", "root", ""),
		env("2", "a", "1"),
		env("3", "b", "1"),
		env("4", "a1", "2"),
		env("5", "lone", ""),
	}
}

func TestBuild_Maps(t *testing.T) {
	g, err := Build(envKind, sampleForest(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, g.Len())
	id, ok := g.ID("a1")
	assert.True(t, ok)
	assert.Equal(t, "4", id)
	name, ok := g.Name("2")
	assert.True(t, ok)
	assert.Equal(t, "a", name)

	parent, ok := g.ParentOf("a1")
	assert.True(t, ok)
	assert.Equal(t, "a", parent)
	_, ok = g.ParentOf("root")
	assert.False(t, ok)

	if diff := cmp.Diff([]string{"a", "b"}, g.ChildrenOf("root")); diff != "" {
		t.Errorf("ChildrenOf(root) mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, g.ChildrenOf("lone"))
	assert.Equal(t, []string{"a", "a1", "b", "lone", "root"}, g.Names())
}

func TestBuild_Depth(t *testing.T) {
	g, err := Build(envKind, sampleForest(), Options{})
	require.NoError(t, err)

	for name, want := range map[string]int{"root": 0, "a": 1, "b": 1, "a1": 2, "lone": 0} {
		got, err := g.Depth(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, "Depth(%s)", name)
	}
}

func TestBuild_Descendants(t *testing.T) {
	g, err := Build(envKind, sampleForest(), Options{})
	require.NoError(t, err)

	d, err := g.Descendants("root")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "a1"}, d.UnsortedList())

	d, err = g.Descendants("a1")
	require.NoError(t, err)
	assert.Zero(t, d.Len())
}

func TestBuild_CycleDetected(t *testing.T) {
	resources := []models.Resource{
		env("1", "x", "3"),
		env("2", "y", "1"),
		env("3", "z", "2"),
	}
	g, err := Build(envKind, resources, Options{})
	require.NoError(t, err)

	_, err = g.Depth("x")
	var ce *CycleDetectedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "x", ce.Name)

	_, err = g.Descendants("y")
	assert.ErrorAs(t, err, &ce)
}

func TestBuild_SelfParent(t *testing.T) {
	g, err := Build(envKind, []models.Resource{env("1", "me", "1")}, Options{})
	require.NoError(t, err)
	_, err = g.Depth("me")
	var ce *CycleDetectedError
	assert.ErrorAs(t, err, &ce)
}

func TestBuild_DuplicateNames(t *testing.T) {
	resources := []models.Resource{
		env("1", "dup", ""),
		env("2", "dup", ""),
	}

	g, err := Build(envKind, resources, Options{})
	require.NoError(t, err)
	id, _ := g.ID("dup")
	assert.Equal(t, "2", id, "last record wins")
	_, ok := g.Name("1")
	assert.False(t, ok)

	_, err = Build(envKind, resources, Options{StrictNames: true})
	var de *DuplicateNameError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"1", "2"}, de.IDs)
}

func TestBuild_DanglingParentIsRoot(t *testing.T) {
	g, err := Build(envKind, []models.Resource{env("1", "orphan", "999")}, Options{})
	require.NoError(t, err)
	_, ok := g.ParentOf("orphan")
	assert.False(t, ok)
	d, err := g.Depth("orphan")
	require.NoError(t, err)
	assert.Equal(t, 0, d)
}

func TestBuild_SkipsIncompleteRecords(t *testing.T) {
	g, err := Build(envKind, []models.Resource{{"id": "1"}, {"name": "x"}, env("2", "ok", "")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, g.Names())
}

func TestBuild_ProjectsUseDependsOn(t *testing.T) {
	projects := models.ResourceKind{Name: "projects", ParentField: "depends_on", ChildrenField: "dependents"}
	g, err := Build(projects, []models.Resource{
		{"id": "p1", "name": "base", "depends_on": nil},
		{"id": "p2", "name": "child", "depends_on": "/api/v1/projects/p1/"},
	}, Options{})
	require.NoError(t, err)
	parent, ok := g.ParentOf("child")
	assert.True(t, ok)
	assert.Equal(t, "base", parent)
}
