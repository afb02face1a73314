package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// GeminiExtractor pulls a person's details out of a conversation transcript.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

func NewGeminiExtractor(ctx context.Context, apiKey, model string) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &GeminiExtractor{client: client, model: model}, nil
}

func (g *GeminiExtractor) Name() string {
	return g.model
}

// Extract asks the model for a JSON description of the person. A reply that
// is still not valid JSON after the retries is returned as an error.
func (g *GeminiExtractor) Extract(ctx context.Context, rawText string) (*PersonInfo, error) {
	const maxRetries = 3

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: buildPrompt(rawText)}},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from Gemini")
		}
		lastResponse = content

		info, err := ParsePersonInfo(content)
		if err != nil {
			lastError = err
			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: fmt.Sprintf("JSON parse error: %v. Return only the JSON object.", err)}},
				},
			)
			continue
		}

		slog.Debug("transcript extracted", "model", g.model, "has_name", info.Name != "")
		return info, nil
	}

	return nil, fmt.Errorf("failed to parse person JSON after %d attempts: %w (last response: %s)", maxRetries, lastError, lastResponse)
}

func buildPrompt(conversation string) string {
	encoded, _ := json.Marshal(conversation)
	return `I just met someone and had the following conversation after asking "What's your name?":

` + string(encoded) + `

Extract any information about this person. Return ONLY a JSON object:
{
    "name": "their name or null if not mentioned",
    "workplace": "where they work/study/major or null",
    "context": "how/where we met or null",
    "details": "any other notable info or null"
}`
}
