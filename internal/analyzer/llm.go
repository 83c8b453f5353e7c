package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// llmImageSize bounds images sent to hosted vision models.
const llmImageSize = 800

const llmMaxAttempts = 3

// visionModel sends one prompt with one JPEG image and returns the raw text reply.
type visionModel interface {
	Name() string
	Complete(ctx context.Context, prompt string, jpeg []byte) (string, error)
}

type llmLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type llmResponse struct {
	Labels []llmLabel `json:"labels"`
}

// LLMTagger tags images with a hosted vision model restricted to the vocabulary.
type LLMTagger struct {
	model     visionModel
	labels    []string
	allowed   map[string]bool
	threshold float64
	topK      int
	limiter   *rate.Limiter
}

func newLLMTagger(model visionModel, labels []string, threshold float64, topK, perMinute int) *LLMTagger {
	allowed := make(map[string]bool, len(labels))
	for _, l := range labels {
		allowed[l] = true
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &LLMTagger{
		model:     model,
		labels:    labels,
		allowed:   allowed,
		threshold: threshold,
		topK:      topK,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Name returns the underlying model name.
func (t *LLMTagger) Name() string {
	return t.model.Name()
}

func buildTagPrompt(labels []string) string {
	var b strings.Builder
	b.WriteString("You label photos. Choose only labels from this list that are clearly visible in the photo:\n")
	b.WriteString(strings.Join(labels, ", "))
	b.WriteString("\n\nRespond with JSON only, in the form ")
	b.WriteString(`{"labels": [{"name": "<label>", "confidence": <0..1>}]}`)
	b.WriteString(". Use an empty list when nothing matches.")
	return b.String()
}

// Classify asks the model for vocabulary labels. Replies that are not valid
// JSON are retried a few times.
func (t *LLMTagger) Classify(ctx context.Context, img *Image) (*Classification, error) {
	small, _, _, err := ResizeImage(img.Data, llmImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}
	prompt := buildTagPrompt(t.labels)

	var lastErr error
	for range llmMaxAttempts {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		reply, err := t.model.Complete(ctx, prompt, small)
		if err != nil {
			return nil, fmt.Errorf("%s API error: %w", t.model.Name(), err)
		}
		labels, err := t.parse(reply)
		if err != nil {
			lastErr = err
			continue
		}
		return &Classification{Labels: labels}, nil
	}
	return nil, fmt.Errorf("failed to parse %s reply after %d attempts: %w", t.model.Name(), llmMaxAttempts, lastErr)
}

// parse decodes a reply, drops labels outside the vocabulary or below the
// threshold and keeps the best topK.
func (t *LLMTagger) parse(reply string) ([]Label, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	if reply == "" {
		return nil, errors.New("empty reply")
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(reply), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	best := make(map[string]float64)
	for _, l := range resp.Labels {
		name := strings.ToLower(strings.TrimSpace(l.Name))
		if !t.allowed[name] || l.Confidence < t.threshold {
			continue
		}
		best[name] = max(best[name], min(l.Confidence, 1))
	}

	labels := make([]Label, 0, len(best))
	for name, score := range best {
		labels = append(labels, Label{Name: name, Score: roundScore(score)})
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Score != labels[j].Score {
			return labels[i].Score > labels[j].Score
		}
		return labels[i].Name < labels[j].Name
	})
	if t.topK > 0 && len(labels) > t.topK {
		labels = labels[:t.topK]
	}
	return labels, nil
}

var _ TagClassifier = (*LLMTagger)(nil)
