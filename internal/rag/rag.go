// Package rag answers natural-language questions about the indexed data:
// generate a structured search query, run it, summarize the hits.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github-rag-pipeline/internal/llm"
	"github-rag-pipeline/internal/search"
)

// Fallback answers for each stage. The ask path degrades to a polite
// message rather than surfacing internal errors to the user.
const (
	fallbackQuery  = "I had trouble understanding your question. Could you rephrase it?"
	fallbackSearch = "I encountered an error searching the database. Please try again."
	fallbackAnswer = "I found some results but had trouble generating an answer."
)

// DefaultMaxResults caps how many documents feed the answer prompt.
const DefaultMaxResults = 10

// Searcher is the search engine surface the pipeline needs.
type Searcher interface {
	Search(ctx context.Context, body json.RawMessage) (*search.Result, error)
	Mapping(ctx context.Context) (json.RawMessage, error)
}

// QueryGenerator produces a search request body from a question.
type QueryGenerator interface {
	Generate(ctx context.Context, question, schema string) (json.RawMessage, error)
}

// AnswerGenerator produces prose from formatted search results.
type AnswerGenerator interface {
	Generate(ctx context.Context, question, results string) (string, error)
}

// Pipeline is the end-to-end question answering flow.
type Pipeline struct {
	searcher Searcher
	queries  QueryGenerator
	answers  AnswerGenerator
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(searcher Searcher, queries QueryGenerator, answers AnswerGenerator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		searcher: searcher,
		queries:  queries,
		answers:  answers,
		logger:   logger.With("component", "rag"),
	}
}

// Response carries the answer together with the generated query and the
// documents it was based on.
type Response struct {
	Answer  string            `json:"answer"`
	Query   json.RawMessage   `json:"query,omitempty"`
	Total   int64             `json:"total_results"`
	Sources []json.RawMessage `json:"sources,omitempty"`
}

// Ask answers a question. maxResults bounds the result set fed to the
// answer model; values below 1 use DefaultMaxResults.
func (p *Pipeline) Ask(ctx context.Context, question string, maxResults int) (*Response, error) {
	if maxResults < 1 {
		maxResults = DefaultMaxResults
	}
	p.logger.Info("Processing question", "question", question)

	schema := p.schema(ctx)

	query, err := p.queries.Generate(ctx, question, schema)
	if err != nil {
		p.logger.Error("Query generation failed", "error", err)
		return &Response{Answer: fallbackQuery}, nil
	}
	query, err = withSize(query, maxResults)
	if err != nil {
		p.logger.Error("Rewriting query size failed", "error", err)
		return &Response{Answer: fallbackQuery}, nil
	}

	result, err := p.searcher.Search(ctx, query)
	if err != nil {
		p.logger.Error("Search failed", "error", err)
		return &Response{Answer: fallbackSearch, Query: query}, nil
	}
	p.logger.Info("Search complete", "total", result.Total, "hits", len(result.Hits))

	sources := make([]json.RawMessage, 0, len(result.Hits))
	for _, h := range result.Hits {
		sources = append(sources, h.Source)
	}

	answer, err := p.answers.Generate(ctx, question, llm.FormatHits(sources, result.Total))
	if err != nil {
		p.logger.Error("Answer generation failed", "error", err)
		return &Response{Answer: fallbackAnswer, Query: query, Total: result.Total, Sources: sources}, nil
	}

	return &Response{Answer: answer, Query: query, Total: result.Total, Sources: sources}, nil
}

// schema renders the live index mapping for the query prompt, falling back
// to the static schema when the mapping cannot be fetched.
func (p *Pipeline) schema(ctx context.Context) string {
	mapping, err := p.searcher.Mapping(ctx)
	if err != nil {
		p.logger.Warn("Falling back to default schema", "error", err)
		return llm.DefaultSchema
	}
	schema, err := FormatMappingSchema(mapping)
	if err != nil {
		p.logger.Warn("Falling back to default schema", "error", err)
		return llm.DefaultSchema
	}
	return schema
}

// withSize forces the result size on a generated request body.
func withSize(query json.RawMessage, size int) (json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(query, &body); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(size)
	if err != nil {
		return nil, err
	}
	body["size"] = encoded
	return json.Marshal(body)
}

// FormatMappingSchema flattens an Elasticsearch get-mapping response into
// the "field | type" table the query prompt uses.
func FormatMappingSchema(mapping json.RawMessage) (string, error) {
	var byIndex map[string]struct {
		Mappings struct {
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(mapping, &byIndex); err != nil {
		return "", err
	}

	lines := []string{
		"Field Name | Type | Description",
		strings.Repeat("-", 60),
	}
	for _, idx := range byIndex {
		if len(idx.Mappings.Properties) == 0 {
			continue
		}
		lines = append(lines, formatProperties(idx.Mappings.Properties, "")...)
		break
	}
	if len(lines) == 2 {
		return "", fmt.Errorf("mapping response has no properties")
	}
	return strings.Join(lines, "\n"), nil
}

func formatProperties(props map[string]json.RawMessage, prefix string) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		var field struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if err := json.Unmarshal(props[name], &field); err != nil {
			continue
		}

		full := prefix + name
		switch {
		case field.Type == "nested":
			lines = append(lines, full+" | nested | Nested array of objects")
			lines = append(lines, formatProperties(field.Properties, full+".")...)
		case len(field.Properties) > 0:
			lines = append(lines, full+" | object | Object with nested fields")
			lines = append(lines, formatProperties(field.Properties, full+".")...)
		default:
			typ := field.Type
			if typ == "" {
				typ = "object"
			}
			lines = append(lines, full+" | "+typ+" |")
		}
	}
	return lines
}
