package api

import (
	"net/http"
	"sort"

	"github.com/rflorenc/treeops/internal/platform"
)

// ListKinds returns the hierarchical kinds and the names that are never deleted.
func (s *Server) ListKinds(w http.ResponseWriter, r *http.Request) {
	type kindInfo struct {
		Name      string   `json:"name"`
		Label     string   `json:"label"`
		Protected []string `json:"protected"`
	}
	var out []kindInfo
	for _, k := range platform.Kinds() {
		protected := []string{}
		for name := range k.Protected {
			protected = append(protected, name)
		}
		sort.Strings(protected)
		out = append(out, kindInfo{Name: k.Name, Label: k.Label, Protected: protected})
	}
	writeJSON(w, http.StatusOK, out)
}
