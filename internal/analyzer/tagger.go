package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-annotator/internal/config"
)

// NewTagger builds the TagClassifier selected by cfg.Pipeline.Tagger.
func NewTagger(ctx context.Context, cfg *config.Config, encoder Encoder) (TagClassifier, error) {
	labels := cfg.Vocabulary.Labels()
	p := cfg.Pipeline

	switch p.Tagger {
	case "", "zeroshot":
		return NewZeroShotClassifier(encoder, labels, p.TagThreshold, p.TagTopK), nil
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN is required for the openai tagger")
		}
		return NewOpenAITagger(cfg.OpenAI.Token, labels, p.TagThreshold, p.TagTopK, p.LLMRatePerMinute), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is required for the gemini tagger")
		}
		return NewGeminiTagger(ctx, cfg.Gemini.APIKey, labels, p.TagThreshold, p.TagTopK, p.LLMRatePerMinute)
	case "ollama":
		return NewOllamaTagger(cfg.Ollama.URL, cfg.Ollama.Model, labels, p.TagThreshold, p.TagTopK, p.LLMRatePerMinute), nil
	default:
		return nil, fmt.Errorf("unknown tagger %q", p.Tagger)
	}
}
