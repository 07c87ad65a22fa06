package platform

import (
	"fmt"

	"github.com/rflorenc/treeops/internal/models"
)

// Projects is the project collection. A project's parent is its depends_on.
var Projects = models.ResourceKind{
	Name:          "projects",
	Label:         "Projects",
	APIPath:       "/projects/",
	ParentField:   "depends_on",
	ChildrenField: "dependents",
}

// Environments is the environment collection. The default environment is the
// root of every organization and is never deleted.
var Environments = models.ResourceKind{
	Name:          "environments",
	Label:         "Environments",
	APIPath:       "/environments/",
	ParentField:   "parent",
	ChildrenField: "children",
	Protected:     map[string]bool{"default": true},
}

// Kinds returns every hierarchical resource kind.
func Kinds() []models.ResourceKind {
	return []models.ResourceKind{Projects, Environments}
}

// KindByName looks up a resource kind by its collection name.
func KindByName(name string) (models.ResourceKind, error) {
	for _, k := range Kinds() {
		if k.Name == name {
			return k, nil
		}
	}
	return models.ResourceKind{}, fmt.Errorf("unknown resource kind: %s (want projects or environments)", name)
}
