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

// maxCommitsPerProject bounds how many commit messages are quoted per
// project when formatting results for the model.
const maxCommitsPerProject = 3

// AnswerGenerator writes prose answers from search results.
type AnswerGenerator struct {
	model  llms.Model
	tmpl   *template.Template
	logger *slog.Logger
}

// NewAnswerGenerator creates an AnswerGenerator over the given model.
func NewAnswerGenerator(model llms.Model, logger *slog.Logger) (*AnswerGenerator, error) {
	tmpl, err := loadPrompt("answer_generation.txt")
	if err != nil {
		return nil, err
	}
	return &AnswerGenerator{
		model:  model,
		tmpl:   tmpl,
		logger: logger.With("component", "answer-generator"),
	}, nil
}

// Generate answers the question from already-formatted search results.
func (a *AnswerGenerator) Generate(ctx context.Context, question, results string) (string, error) {
	var sb strings.Builder
	if err := a.tmpl.Execute(&sb, map[string]string{
		"Question": question,
		"Results":  results,
	}); err != nil {
		return "", fmt.Errorf("rendering answer prompt: %w", err)
	}

	answer, err := generate(ctx, a.model, sb.String(), 0.3)
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// projectSummary is the subset of a normalized project used when
// presenting results to the model.
type projectSummary struct {
	Name        string   `json:"name"`
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Stars       int      `json:"stargazers_count"`
	Forks       int      `json:"forks_count"`
	Topics      []string `json:"topics"`
	HTMLURL     string   `json:"html_url"`
	Commits     []struct {
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
				Date string `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	} `json:"commits"`
}

// FormatHits renders search hit sources into the compact text block the
// answer prompt consumes.
func FormatHits(sources []json.RawMessage, total int64) string {
	if len(sources) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d total results. Showing top %d:\n", total, len(sources))

	for i, src := range sources {
		var p projectSummary
		if err := json.Unmarshal(src, &p); err != nil {
			continue
		}

		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, nonEmpty(p.Name, "Unknown"))
		if p.FullName != "" {
			fmt.Fprintf(&sb, "   Full Name: %s\n", p.FullName)
		}
		if p.Description != "" {
			fmt.Fprintf(&sb, "   Description: %s\n", p.Description)
		}

		var stats []string
		if p.Language != "" {
			stats = append(stats, "Language: "+p.Language)
		}
		stats = append(stats,
			fmt.Sprintf("%d stars", p.Stars),
			fmt.Sprintf("%d forks", p.Forks))
		fmt.Fprintf(&sb, "   %s\n", strings.Join(stats, " | "))

		if len(p.Topics) > 0 {
			topics := p.Topics
			if len(topics) > 5 {
				topics = topics[:5]
			}
			fmt.Fprintf(&sb, "   Topics: %s\n", strings.Join(topics, ", "))
		}
		if p.HTMLURL != "" {
			fmt.Fprintf(&sb, "   URL: %s\n", p.HTMLURL)
		}

		if len(p.Commits) > 0 {
			fmt.Fprintf(&sb, "   Recent Commits (%d total):\n", len(p.Commits))
			for j, c := range p.Commits {
				if j == maxCommitsPerProject {
					break
				}
				msg := firstLine(c.Commit.Message)
				if len(msg) > 80 {
					msg = msg[:77] + "..."
				}
				fmt.Fprintf(&sb, "   - %s (%s)\n", msg, c.Commit.Author.Name)
			}
		}
	}
	return sb.String()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
