package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github-rag-pipeline/internal/fetcher"
	"github-rag-pipeline/internal/gh"
	"github-rag-pipeline/internal/pipeline"
	"github-rag-pipeline/internal/search"
	"github-rag-pipeline/internal/store"
)

type pipelineFlags struct {
	skipProjects      bool
	skipCommits       bool
	skipNormalization bool
	skipIndexing      bool
	recreateIndex     bool
	projectsDir       string
	commitsDir        string
	processedDir      string
}

func newPipelineCmd() *cobra.Command {
	var flags pipelineFlags

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the ingestion pipeline: fetch projects and commits, normalize, index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(flags)
		},
	}

	cmd.Flags().BoolVar(&flags.skipProjects, "skip-projects", false, "skip projects fetch; use existing persisted data")
	cmd.Flags().BoolVar(&flags.skipCommits, "skip-commits", false, "skip commits fetch")
	cmd.Flags().BoolVar(&flags.skipNormalization, "skip-normalization", false, "skip normalization step")
	cmd.Flags().BoolVar(&flags.skipIndexing, "skip-indexing", false, "skip indexing into the search engine")
	cmd.Flags().BoolVar(&flags.recreateIndex, "recreate-index", false, "delete and recreate the index if it exists")
	cmd.Flags().StringVar(&flags.projectsDir, "projects-dir", "", "directory for raw project JSON (default: <DATA_DIR>/raw/projects)")
	cmd.Flags().StringVar(&flags.commitsDir, "commits-dir", "", "directory for raw commit JSON (default: <DATA_DIR>/raw/commits)")
	cmd.Flags().StringVar(&flags.processedDir, "processed-dir", "", "directory for normalized output (default: <DATA_DIR>/processed)")
	return cmd
}

func runPipeline(flags pipelineFlags) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.RequireGithubToken(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	projectsDir := cfg.ProjectsDir()
	if flags.projectsDir != "" {
		projectsDir = flags.projectsDir
	}
	commitsDir := cfg.CommitsDir()
	if flags.commitsDir != "" {
		commitsDir = flags.commitsDir
	}
	processedDir := cfg.ProcessedDir()
	if flags.processedDir != "" {
		processedDir = flags.processedDir
	}

	clientOpts := []gh.Option{
		gh.WithBaseURL(cfg.GithubAPIURL),
		gh.WithRetryPolicy(cfg.MaxRetries, cfg.InitialBackoff, cfg.MaxBackoff),
		gh.WithTimeout(cfg.RequestTimeout),
	}
	if cfg.RateLimitRPS > 0 {
		clientOpts = append(clientOpts, gh.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)))
	}
	client := gh.NewClient(cfg.GithubToken, logger, clientOpts...)

	projects := store.NewFSStore(projectsDir, logger)
	commits := store.NewFSStore(commitsDir, logger)
	f := fetcher.New(client, projects, commits, cfg.PageSize, logger)

	var indexer pipeline.Indexer
	if !flags.skipIndexing {
		esClient, err := search.NewClient(search.Config{
			Host:     cfg.ESHost,
			Username: cfg.ESUsername,
			Password: cfg.ESPassword,
			APIKey:   cfg.ESAPIKey,
			Index:    cfg.ESIndex,
		}, logger)
		if err != nil {
			return err
		}
		indexer = esClient
	}

	p := pipeline.New(f, projects, commits, indexer, processedDir, logger)
	result, err := p.Run(ctx, pipeline.Options{
		SkipProjects:      flags.skipProjects,
		SkipCommits:       flags.skipCommits,
		SkipNormalization: flags.skipNormalization,
		SkipIndexing:      flags.skipIndexing,
		RecreateIndex:     flags.recreateIndex,
		ChunkSize:         search.DefaultChunkSize,
	})
	if err != nil {
		return err
	}

	printSummary(result)
	return nil
}

// printSummary writes the human-readable run report. Partial indexing
// failures show up here and in the logs, never in the exit code.
func printSummary(r *pipeline.Result) {
	line := "============================================================"
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, line)
	fmt.Fprintln(os.Stdout, "Pipeline Complete")
	fmt.Fprintln(os.Stdout, line)
	fmt.Fprintf(os.Stdout, "Projects fetched: %d\n", r.ProjectsCount)

	if len(r.CommitsByRepo) > 0 {
		repos := make([]string, 0, len(r.CommitsByRepo))
		for repo := range r.CommitsByRepo {
			repos = append(repos, repo)
		}
		sort.Strings(repos)
		shown := repos
		if len(shown) > 5 {
			shown = shown[:5]
		}
		for _, repo := range shown {
			fmt.Fprintf(os.Stdout, "  %s: %d commits\n", repo, r.CommitsByRepo[repo])
		}
		if rest := len(repos) - len(shown); rest > 0 {
			fmt.Fprintf(os.Stdout, "  ... and %d more repos\n", rest)
		}
		fmt.Fprintf(os.Stdout, "Total commits: %d\n", r.TotalCommits)
	}

	if r.NormalizedCount > 0 {
		fmt.Fprintf(os.Stdout, "Normalized projects: %d\n", r.NormalizedCount)
	}

	if r.Indexed > 0 || r.IndexErrors > 0 {
		fmt.Fprintln(os.Stdout, "\nIndexing:")
		fmt.Fprintf(os.Stdout, "  Indexed: %d projects\n", r.Indexed)
		fmt.Fprintf(os.Stdout, "  Errors: %d\n", r.IndexErrors)
		if r.Stats != nil {
			fmt.Fprintf(os.Stdout, "  Total projects in index: %d\n", r.Stats.TotalProjects)
			fmt.Fprintf(os.Stdout, "  Total commits in index: %d\n", r.Stats.TotalCommits)
			fmt.Fprintf(os.Stdout, "  Average stars: %.2f\n", r.Stats.AvgStars)
			if len(r.Stats.TopLanguages) > 0 {
				langs := r.Stats.TopLanguages
				if len(langs) > 3 {
					langs = langs[:3]
				}
				names := make([]string, len(langs))
				for i, l := range langs {
					names[i] = l.Language
				}
				fmt.Fprintf(os.Stdout, "  Top languages: %s\n", strings.Join(names, ", "))
			}
		}
	}
	fmt.Fprintln(os.Stdout, line)
}
