package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/tmc/langchaingo/llms"
)

// DefaultSchema describes the index when the live mapping cannot be
// fetched. It mirrors the mappings the indexing sink creates.
const DefaultSchema = `Field Name | Type | Description
------------------------------------------------------------
id | long | Project ID
name | text | Project name
full_name | text | Full project name (owner/repo)
description | text | Project description
language | keyword | Programming language
stargazers_count | integer | Number of stars
forks_count | integer | Number of forks
topics | keyword | Project topics/tags
created_at | date | Creation date
updated_at | date | Last update date
owner.login | keyword | Owner username
owner.type | keyword | Owner type (User/Organization)
commits | nested | Array of commit objects
commits.sha | keyword | Commit SHA
commits.commit.message | text | Commit message
commits.commit.author.name | text | Commit author name
commits.commit.author.date | date | Commit date`

// queryParseRetries is how many extra attempts are made when the model
// responds with something that is not valid JSON.
const queryParseRetries = 2

// QueryGenerator translates natural-language questions into Elasticsearch
// request bodies.
type QueryGenerator struct {
	model  llms.Model
	tmpl   *template.Template
	logger *slog.Logger
}

// NewQueryGenerator creates a QueryGenerator over the given model.
func NewQueryGenerator(model llms.Model, logger *slog.Logger) (*QueryGenerator, error) {
	tmpl, err := loadPrompt("query_generation.txt")
	if err != nil {
		return nil, err
	}
	return &QueryGenerator{
		model:  model,
		tmpl:   tmpl,
		logger: logger.With("component", "query-generator"),
	}, nil
}

// Generate produces an Elasticsearch request body for the question. The
// schema describes the index to the model; pass DefaultSchema when the
// live mapping is unavailable. Responses that fail to parse as a JSON
// object are retried a small number of times before giving up.
func (g *QueryGenerator) Generate(ctx context.Context, question, schema string) (json.RawMessage, error) {
	if schema == "" {
		schema = DefaultSchema
	}

	var sb strings.Builder
	if err := g.tmpl.Execute(&sb, map[string]string{
		"Schema":   schema,
		"Question": question,
	}); err != nil {
		return nil, fmt.Errorf("rendering query prompt: %w", err)
	}
	prompt := sb.String()

	var lastErr error
	for attempt := 0; attempt <= queryParseRetries; attempt++ {
		raw, err := generate(ctx, g.model, prompt, 0.0)
		if err != nil {
			return nil, fmt.Errorf("query generation failed: %w", err)
		}

		query, err := parseQuery(raw)
		if err == nil {
			g.logger.Debug("Generated search query", "question", question, "query", string(query))
			return query, nil
		}
		lastErr = err
		g.logger.Warn("Generated query is not valid JSON, retrying",
			"attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("query generation produced invalid JSON after %d attempts: %w",
		queryParseRetries+1, lastErr)
}

func parseQuery(raw string) (json.RawMessage, error) {
	cleaned := stripFences(raw)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, err
	}
	if _, ok := obj["query"]; !ok {
		return nil, fmt.Errorf(`response has no "query" key`)
	}
	return json.RawMessage(cleaned), nil
}
