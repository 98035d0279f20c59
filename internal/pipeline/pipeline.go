// Package pipeline sequences the four ingestion stages: project fetch,
// commit fetch, normalization, indexing. Each stage's output is durable,
// so any prefix of completed stages can be skipped on a re-run; skipping a
// stage whose prerequisite output is missing is a fatal error.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github-rag-pipeline/internal/fetcher"
	"github-rag-pipeline/internal/normalizer"
	"github-rag-pipeline/internal/search"
	"github-rag-pipeline/internal/store"
)

// ErrMissingPrerequisite is returned when a skipped stage's output does not
// exist on disk. Proceeding silently with empty data is never acceptable.
var ErrMissingPrerequisite = errors.New("prerequisite output missing")

// Indexer is the search engine surface the indexing stage needs.
type Indexer interface {
	Ping(ctx context.Context) error
	CreateIndex(ctx context.Context, recreate bool) (bool, error)
	BulkIndex(ctx context.Context, docs []json.RawMessage, idField string, chunkSize int) (int, int, error)
	Refresh(ctx context.Context) error
	GetStats(ctx context.Context) (*search.Stats, error)
}

// Options selects which stages run.
type Options struct {
	SkipProjects      bool
	SkipCommits       bool
	SkipNormalization bool
	SkipIndexing      bool
	RecreateIndex     bool
	ChunkSize         int
}

// Result aggregates the per-stage counts for the run summary.
type Result struct {
	ProjectsCount   int
	CommitsByRepo   map[string]int
	TotalCommits    int
	NormalizedCount int
	Indexed         int
	IndexErrors     int
	Stats           *search.Stats
}

// Pipeline wires the stages together.
type Pipeline struct {
	fetcher      *fetcher.Fetcher
	projects     store.PageStore
	commits      store.PageStore
	normalizer   *normalizer.Normalizer
	indexer      Indexer
	processedDir string
	logger       *slog.Logger
}

// New creates a Pipeline. indexer may be nil only when indexing is skipped.
func New(f *fetcher.Fetcher, projects, commits store.PageStore, indexer Indexer, processedDir string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		fetcher:      f,
		projects:     projects,
		commits:      commits,
		normalizer:   normalizer.New(projects, commits, logger),
		indexer:      indexer,
		processedDir: processedDir,
		logger:       logger.With("component", "pipeline"),
	}
}

// NormalizedPath is where the merged documents are written.
func (p *Pipeline) NormalizedPath() string {
	return filepath.Join(p.processedDir, normalizer.NormalizedFileName)
}

// Run executes the pipeline. It returns an error only for fatal
// conditions; partial indexing failures are reported in the Result.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{CommitsByRepo: map[string]int{}}

	// Stage 1: projects.
	if opts.SkipProjects {
		p.logger.Info("Step 1: Skipping projects fetch (using existing data)")
		if !p.projects.HasEntity("") {
			return nil, fmt.Errorf("%w: cannot skip projects fetch, no persisted projects found", ErrMissingPrerequisite)
		}
	} else {
		p.logger.Info("Step 1: Fetching projects")
		projects, err := p.fetcher.FetchProjects(ctx)
		if err != nil {
			return nil, err
		}
		result.ProjectsCount = len(projects)
	}

	// Stage 2: commits.
	if opts.SkipCommits {
		p.logger.Info("Step 2: Skipping commits fetch")
	} else {
		p.logger.Info("Step 2: Fetching commits for all projects")
		byRepo, total, err := p.fetcher.FetchCommits(ctx)
		if err != nil {
			return nil, err
		}
		for repo, commits := range byRepo {
			result.CommitsByRepo[repo] = len(commits)
		}
		result.TotalCommits = total
	}

	// Stage 3: normalization.
	var docs []json.RawMessage
	if opts.SkipNormalization {
		p.logger.Info("Step 3: Skipping normalization")
		if _, err := os.Stat(p.NormalizedPath()); err != nil {
			return nil, fmt.Errorf("%w: cannot skip normalization, %s does not exist", ErrMissingPrerequisite, p.NormalizedPath())
		}
	} else {
		p.logger.Info("Step 3: Normalizing projects and commits")
		var err error
		docs, err = p.normalizer.Normalize()
		if err != nil {
			return nil, err
		}
		if err := normalizer.WriteNormalized(p.NormalizedPath(), docs); err != nil {
			return nil, err
		}
		result.NormalizedCount = len(docs)
		p.logger.Info("Step 3 complete", "normalized", len(docs), "file", p.NormalizedPath())
	}

	// Stage 4: indexing.
	if opts.SkipIndexing {
		p.logger.Info("Step 4: Skipping indexing")
		return result, nil
	}
	p.logger.Info("Step 4: Indexing normalized projects")

	if docs == nil {
		var err error
		docs, err = normalizer.ReadNormalized(p.NormalizedPath())
		if err != nil {
			return nil, fmt.Errorf("loading normalized projects: %w", err)
		}
	}

	if err := p.indexer.Ping(ctx); err != nil {
		return nil, err
	}
	if _, err := p.indexer.CreateIndex(ctx, opts.RecreateIndex); err != nil {
		return nil, err
	}

	indexed, failed, err := p.indexer.BulkIndex(ctx, docs, "id", opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	result.Indexed = indexed
	result.IndexErrors = failed

	if err := p.indexer.Refresh(ctx); err != nil {
		return nil, err
	}

	stats, err := p.indexer.GetStats(ctx)
	if err != nil {
		p.logger.Warn("Failed to fetch index statistics", "error", err)
	} else {
		result.Stats = stats
	}

	p.logger.Info("Step 4 complete", "indexed", indexed, "errors", failed)
	return result, nil
}
