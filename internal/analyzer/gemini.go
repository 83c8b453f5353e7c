package analyzer

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const geminiModelName = "gemini-2.5-flash"

type geminiModel struct {
	client *genai.Client
}

func (m *geminiModel) Name() string {
	return geminiModelName
}

func (m *geminiModel) Complete(ctx context.Context, prompt string, jpeg []byte) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{Data: jpeg, MIMEType: "image/jpeg"}},
			},
		},
	}
	result, err := m.client.Models.GenerateContent(ctx, geminiModelName, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", err
	}
	content := result.Text()
	if content == "" {
		return "", errors.New("no response from Gemini")
	}
	return content, nil
}

// NewGeminiTagger creates a tagger backed by the Gemini API.
func NewGeminiTagger(ctx context.Context, apiKey string, labels []string, threshold float64, topK, perMinute int) (*LLMTagger, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newLLMTagger(&geminiModel{client: client}, labels, threshold, topK, perMinute), nil
}
