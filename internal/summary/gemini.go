package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

const maxPromptTranscript = 3000

const promptTemplate = `Analyze this call transcript and provide:
1. A brief 2-3 sentence summary
2. Overall sentiment (positive, neutral, negative)
3. Call outcome (successful, unsuccessful, transferred, voicemail, callback_scheduled)

Transcript:
%s

Respond in JSON format:
{"summary": "...", "sentiment": "...", "outcome": "..."}`

// contentGenerator is the part of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator asks a Gemini model for the analysis.
type GeminiGenerator struct {
	models contentGenerator
	model  string
}

// NewGemini creates a generator backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return newGemini(client.Models, model), nil
}

func newGemini(models contentGenerator, model string) *GeminiGenerator {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiGenerator{models: models, model: model}
}

func (g *GeminiGenerator) Generate(ctx context.Context, transcript string) (Analysis, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(Prompt(transcript)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("generating summary: %w", err)
	}
	if resp == nil {
		return Analysis{}, fmt.Errorf("generating summary: empty response")
	}
	return parseAnalysis(resp.Text())
}

// Prompt builds the analysis prompt, truncating long transcripts.
func Prompt(transcript string) string {
	return fmt.Sprintf(promptTemplate, truncateRunes(transcript, maxPromptTranscript))
}

// truncateRunes keeps the first n characters of s.
func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func parseAnalysis(text string) (Analysis, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var a Analysis
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return Analysis{}, fmt.Errorf("decoding summary: %w", err)
	}
	return a, nil
}
