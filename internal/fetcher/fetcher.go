package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github-rag-pipeline/internal/record"
	"github-rag-pipeline/internal/store"
)

// Fetcher orchestrates project and commit collection. Projects land in the
// projects store; each repository's commits land in the commits store under
// a filesystem-safe owner__repo entity.
type Fetcher struct {
	collector *Collector
	projects  store.PageStore
	commits   store.PageStore
	logger    *slog.Logger
}

// New creates a Fetcher over the given client and stores.
func New(client Getter, projects, commits store.PageStore, pageSize int, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		collector: NewCollector(client, pageSize, logger),
		projects:  projects,
		commits:   commits,
		logger:    logger.With("component", "fetcher"),
	}
}

// FetchProjects collects every repository of the authenticated user and
// returns the combined record list.
func (f *Fetcher) FetchProjects(ctx context.Context) ([]json.RawMessage, error) {
	f.logger.Info("Fetching projects")
	projects, err := f.collector.Collect(ctx, "/user/repos", f.projects, "")
	if err != nil {
		return nil, fmt.Errorf("fetching projects: %w", err)
	}
	f.logger.Info("Fetched projects", "count", len(projects))
	return projects, nil
}

// FetchCommits collects the full commit history of every unique repository
// found in the persisted project pages. Projects are read back from the
// store rather than held in memory, so the commit stage can run on its own
// against a previous run's output.
//
// Malformed project records that cannot be attributed to a repository are
// dropped silently. An unrecoverable error for any single repository aborts
// the whole stage: a partial multi-repo fetch must not be masked as
// success, and the pages already written stay valid for a resume.
func (f *Fetcher) FetchCommits(ctx context.Context) (map[string][]json.RawMessage, int, error) {
	projects, err := f.projects.ReadPages("")
	if err != nil {
		return nil, 0, fmt.Errorf("loading persisted projects: %w", err)
	}
	f.logger.Info("Loaded projects from store", "count", len(projects))

	keys := uniqueRepoKeys(projects)
	f.logger.Info("Fetching commits", "unique_repos", len(keys))

	byRepo := make(map[string][]json.RawMessage, len(keys))
	total := 0
	for _, key := range keys {
		endpoint := fmt.Sprintf("/repos/%s/%s/commits", key.Owner, key.Name)
		commits, err := f.collector.Collect(ctx, endpoint, f.commits, key.DirName())
		if err != nil {
			return nil, 0, fmt.Errorf("fetching commits for %s: %w", key, err)
		}
		byRepo[key.String()] = commits
		total += len(commits)
		f.logger.Info("Fetched commits", "repo", key.String(), "count", len(commits))
	}

	f.logger.Info("Commit fetch complete", "total", total, "repos", len(byRepo))
	return byRepo, total, nil
}

// uniqueRepoKeys extracts repository keys from project records,
// deduplicated in first-seen order. The same repository can appear on
// multiple pages; it must be fetched at most once per run.
func uniqueRepoKeys(projects []json.RawMessage) []record.RepoKey {
	seen := make(map[record.RepoKey]struct{})
	var keys []record.RepoKey
	for _, p := range projects {
		key, ok := record.Key(p)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
