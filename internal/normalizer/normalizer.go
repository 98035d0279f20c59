// Package normalizer joins persisted project records with their persisted
// commit records into the unified documents the search index consumes.
package normalizer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github-rag-pipeline/internal/record"
	"github-rag-pipeline/internal/store"
)

// NormalizedFileName is the file the merged documents are written to.
const NormalizedFileName = "normalized_projects.json"

// Normalizer merges the raw project store with the raw commit store.
type Normalizer struct {
	projects store.PageStore
	commits  store.PageStore
	logger   *slog.Logger
}

// New creates a Normalizer over the two raw stores.
func New(projects, commits store.PageStore, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		projects: projects,
		commits:  commits,
		logger:   logger.With("component", "normalizer"),
	}
}

// Normalize loads every persisted project, attaches its full commit list
// under a "commits" attribute (an empty list when no commits were fetched
// for it), and returns the merged documents in project order. Records
// missing their identity fields cannot be joined and are dropped.
func (n *Normalizer) Normalize() ([]json.RawMessage, error) {
	projects, err := n.projects.ReadPages("")
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	n.logger.Info("Normalizing projects", "count", len(projects))

	var out []json.RawMessage
	dropped := 0
	joined := make(map[string]struct{})
	for _, p := range projects {
		key, ok := record.Key(p)
		if !ok {
			dropped++
			continue
		}

		var commits []json.RawMessage
		if n.commits.HasEntity(key.DirName()) {
			commits, err = n.commits.ReadPages(key.DirName())
			if err != nil {
				return nil, fmt.Errorf("loading commits for %s: %w", key, err)
			}
			joined[key.DirName()] = struct{}{}
		}

		merged, err := attachCommits(p, commits)
		if err != nil {
			return nil, fmt.Errorf("merging %s: %w", key, err)
		}
		out = append(out, merged)
	}

	if dropped > 0 {
		n.logger.Warn("Dropped malformed project records", "count", dropped)
	}
	if orphans := n.orphanedCommitDirs(joined); len(orphans) > 0 {
		n.logger.Warn("Commit data with no matching project", "dirs", orphans)
	}
	n.logger.Info("Normalization complete", "normalized", len(out))
	return out, nil
}

// orphanedCommitDirs lists persisted commit entities that no project
// claimed, usually leftovers from a repository renamed or deleted between
// runs. They are reported, never merged or removed.
func (n *Normalizer) orphanedCommitDirs(joined map[string]struct{}) []string {
	entities, err := n.commits.Entities()
	if err != nil {
		return nil
	}
	var orphans []string
	for _, e := range entities {
		if _, ok := joined[e]; !ok {
			orphans = append(orphans, e)
		}
	}
	return orphans
}

// attachCommits sets the "commits" attribute on a project record while
// keeping every other provider-supplied field intact.
func attachCommits(project json.RawMessage, commits []json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(project, &fields); err != nil {
		return nil, err
	}
	if commits == nil {
		commits = []json.RawMessage{}
	}
	encoded, err := json.Marshal(commits)
	if err != nil {
		return nil, err
	}
	fields["commits"] = encoded
	return json.Marshal(fields)
}

// WriteNormalized persists the merged documents as one UTF-8 JSON array,
// overwriting any previous run's output.
func WriteNormalized(path string, docs []json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating processed directory: %w", err)
	}
	if docs == nil {
		docs = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding normalized projects: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadNormalized loads a previously written normalized file. Used when the
// normalization stage is skipped and indexing runs from existing output.
func ReadNormalized(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing %s: expected a JSON array: %w", path, err)
	}
	return docs, nil
}
