// Package llm holds the two language-model steps of the Q&A path: turning
// a natural-language question into an Elasticsearch query, and turning
// search results back into a prose answer. The model is an opaque
// text-in/text-out service reached through an OpenAI-compatible API.
package llm

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// GroqBaseURL is the OpenAI-compatible endpoint of the Groq API.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "llama-3.3-70b-versatile"

// NewGroqModel creates a chat model client against the Groq API.
func NewGroqModel(apiKey, model string) (llms.Model, error) {
	if model == "" {
		model = DefaultModel
	}
	return openai.New(
		openai.WithBaseURL(GroqBaseURL),
		openai.WithToken(apiKey),
		openai.WithModel(model),
	)
}

func loadPrompt(name string) (*template.Template, error) {
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		return nil, fmt.Errorf("loading prompt %s: %w", name, err)
	}
	return template.New(name).Parse(string(data))
}

// generate runs one prompt through the model and returns the text of the
// first choice.
func generate(ctx context.Context, model llms.Model, prompt string, temperature float64) (string, error) {
	resp, err := model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// stripFences removes a surrounding markdown code fence from model output.
// Models regularly wrap JSON in ```json blocks despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "```") {
		if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
			s = s[:idx]
		} else {
			s = strings.TrimSuffix(s, "```")
		}
	}
	return strings.TrimSpace(s)
}
