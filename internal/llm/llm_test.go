package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeModel replays scripted responses in order. The last response repeats
// once the script runs out.
type fakeModel struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, text.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.responses[idx]}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"query": {}}`, `{"query": {}}`},
		{"plain fence", "```\n{\"query\": {}}\n```", `{"query": {}}`},
		{"json fence", "```json\n{\"query\": {}}\n```", `{"query": {}}`},
		{"fence with surrounding whitespace", "  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
		{"single line fence", "```{\"a\": 1}```", `{"a": 1}`},
		{"unterminated fence", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}

func TestParseQuery(t *testing.T) {
	t.Run("valid object", func(t *testing.T) {
		got, err := parseQuery(`{"query": {"match_all": {}}, "size": 5}`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"query": {"match_all": {}}, "size": 5}`, string(got))
	})

	t.Run("fenced object", func(t *testing.T) {
		got, err := parseQuery("```json\n{\"query\": {\"match_all\": {}}}\n```")
		require.NoError(t, err)
		assert.JSONEq(t, `{"query": {"match_all": {}}}`, string(got))
	})

	t.Run("missing query key", func(t *testing.T) {
		_, err := parseQuery(`{"size": 5}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"query"`)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := parseQuery("I cannot answer that.")
		assert.Error(t, err)
	})
}

func TestQueryGenerator_Generate(t *testing.T) {
	model := &fakeModel{responses: []string{"```json\n{\"query\": {\"match\": {\"language\": \"Go\"}}}\n```"}}
	g, err := NewQueryGenerator(model, testLogger())
	require.NoError(t, err)

	query, err := g.Generate(context.Background(), "what Go projects are there?", "")

	require.NoError(t, err)
	assert.JSONEq(t, `{"query": {"match": {"language": "Go"}}}`, string(query))
	assert.Equal(t, 1, model.calls)

	// The prompt carries the fallback schema and the question verbatim.
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "stargazers_count")
	assert.Contains(t, model.prompts[0], "what Go projects are there?")
}

func TestQueryGenerator_RetriesOnInvalidJSON(t *testing.T) {
	model := &fakeModel{responses: []string{
		"sorry, here is the query you asked for:",
		"still not json",
		`{"query": {"match_all": {}}}`,
	}}
	g, err := NewQueryGenerator(model, testLogger())
	require.NoError(t, err)

	query, err := g.Generate(context.Background(), "anything", "schema")

	require.NoError(t, err)
	assert.JSONEq(t, `{"query": {"match_all": {}}}`, string(query))
	assert.Equal(t, 3, model.calls)
}

func TestQueryGenerator_GivesUpAfterRetries(t *testing.T) {
	model := &fakeModel{responses: []string{"not json"}}
	g, err := NewQueryGenerator(model, testLogger())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "anything", "schema")

	require.Error(t, err)
	assert.Equal(t, queryParseRetries+1, model.calls)
}

func TestQueryGenerator_ModelErrorIsFatal(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	g, err := NewQueryGenerator(model, testLogger())
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "anything", "schema")

	require.Error(t, err)
	// Transport errors are not retried here, only parse failures.
	assert.Equal(t, 1, model.calls)
}

func TestAnswerGenerator_Generate(t *testing.T) {
	model := &fakeModel{responses: []string{"  There are 7 Go projects.\n"}}
	a, err := NewAnswerGenerator(model, testLogger())
	require.NoError(t, err)

	answer, err := a.Generate(context.Background(), "how many Go projects?", "Found 7 total results.")

	require.NoError(t, err)
	assert.Equal(t, "There are 7 Go projects.", answer)
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "how many Go projects?")
	assert.Contains(t, model.prompts[0], "Found 7 total results.")
}

func TestFormatHits_Empty(t *testing.T) {
	assert.Equal(t, "No results found.", FormatHits(nil, 0))
}

func TestFormatHits(t *testing.T) {
	src := map[string]any{
		"name":             "rag-pipeline",
		"full_name":        "u/rag-pipeline",
		"description":      "Retrieval over repository metadata",
		"language":         "Go",
		"stargazers_count": 42,
		"forks_count":      3,
		"topics":           []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"},
		"html_url":         "https://github.com/u/rag-pipeline",
		"commits": []map[string]any{
			{"commit": map[string]any{"message": "first\n\nlong body", "author": map[string]any{"name": "alice"}}},
			{"commit": map[string]any{"message": strings.Repeat("x", 100), "author": map[string]any{"name": "bob"}}},
			{"commit": map[string]any{"message": "third", "author": map[string]any{"name": "carol"}}},
			{"commit": map[string]any{"message": "fourth, never shown", "author": map[string]any{"name": "dave"}}},
		},
	}
	raw, err := json.Marshal(src)
	require.NoError(t, err)

	out := FormatHits([]json.RawMessage{raw}, 15)

	assert.Contains(t, out, "Found 15 total results. Showing top 1:")
	assert.Contains(t, out, "1. rag-pipeline")
	assert.Contains(t, out, "Language: Go | 42 stars | 3 forks")
	// Topics are capped at five.
	assert.Contains(t, out, "Topics: t1, t2, t3, t4, t5\n")
	// Only the first line of a commit message is quoted.
	assert.Contains(t, out, "- first (alice)")
	assert.NotContains(t, out, "long body")
	// Long messages are truncated with an ellipsis.
	assert.Contains(t, out, strings.Repeat("x", 77)+"... (bob)")
	assert.Contains(t, out, "- third (carol)")
	// At most three commits per project.
	assert.NotContains(t, out, "fourth")
}

func TestFormatHits_SkipsUnparseableSources(t *testing.T) {
	out := FormatHits([]json.RawMessage{
		json.RawMessage(`not json`),
		json.RawMessage(`{"name": "ok", "stargazers_count": 1}`),
	}, 2)

	assert.Contains(t, out, "2. ok")
	assert.NotContains(t, out, "1. not")
}
