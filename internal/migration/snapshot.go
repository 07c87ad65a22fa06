package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rflorenc/treeops/internal/platform"
)

// SnapshotPath is the organization export endpoint.
const SnapshotPath = "/backup/snapshot/"

// defaultEnvironment holds inherited values; it never contributes overrides.
const defaultEnvironment = "default"

// Snapshot is a point-in-time export of a whole organization. It is only read.
type Snapshot struct {
	doc map[string]interface{}
}

// Override is a parameter value set explicitly against one environment.
type Override struct {
	Project     string `json:"project"`
	Parameter   string `json:"parameter"`
	Environment string `json:"environment"`
	Value       string `json:"-"`
	Secret      bool   `json:"secret"`
}

// ParseSnapshot decodes a snapshot document.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parsing snapshot: empty document")
	}
	return &Snapshot{doc: doc}, nil
}

// LoadSnapshot reads a previously saved snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// FetchSnapshot requests a fresh snapshot. The document is staged in a private
// temporary directory that is removed before returning, whatever the outcome.
// A non-empty savePath also keeps a copy there.
func FetchSnapshot(ctx context.Context, client *platform.Client, savePath string, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dir, err := os.MkdirTemp("", "treeops-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("creating snapshot workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn("removing snapshot workspace", "dir", dir, "error", rmErr)
		}
	}()

	resp, err := client.Do(ctx, http.MethodPost, SnapshotPath, nil)
	if err != nil {
		return nil, &platform.FetchError{URL: client.URL(SnapshotPath), Err: err}
	}
	if !resp.OK() {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &platform.AuthError{Method: http.MethodPost, URL: client.URL(SnapshotPath), StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
		return nil, &platform.FetchError{URL: client.URL(SnapshotPath), StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	staged := filepath.Join(dir, uuid.New().String()+".json")
	if err := os.WriteFile(staged, resp.Body, 0o600); err != nil {
		return nil, fmt.Errorf("staging snapshot: %w", err)
	}
	if savePath != "" {
		if err := os.WriteFile(savePath, resp.Body, 0o600); err != nil {
			return nil, fmt.Errorf("saving snapshot: %w", err)
		}
		logger.Info("snapshot saved", "path", savePath, "bytes", len(resp.Body))
	}
	return LoadSnapshot(staged)
}

// Environments returns the environment names recorded in the snapshot.
func (s *Snapshot) Environments() []string {
	return sortedKeys(mapField(s.doc, "environment"))
}

// Overrides returns every value recorded against exactly sourceEnv, sorted by
// project then parameter. Values under "default", null values and values a
// project inherits from another project are not overrides.
func (s *Snapshot) Overrides(sourceEnv string) []Override {
	if sourceEnv == "" || sourceEnv == defaultEnvironment {
		return nil
	}
	var out []Override
	projects := mapField(s.doc, "project")
	for _, projName := range sortedKeys(projects) {
		proj, _ := projects[projName].(map[string]interface{})
		params := mapField(proj, "parameter")
		for _, paramName := range sortedKeys(params) {
			param, _ := params[paramName].(map[string]interface{})
			values := mapField(param, "values")
			rec, ok := values[sourceEnv].(map[string]interface{})
			if !ok {
				continue
			}
			if env := stringField(rec, "environment"); env != "" && env != sourceEnv {
				continue
			}
			if src := stringField(rec, "source"); src != "" && src != projName {
				continue
			}
			v, ok := valueString(rec["value"])
			if !ok {
				continue
			}
			out = append(out, Override{
				Project:     projName,
				Parameter:   paramName,
				Environment: sourceEnv,
				Value:       v,
				Secret:      boolField(param, "secret"),
			})
		}
	}
	return out
}
