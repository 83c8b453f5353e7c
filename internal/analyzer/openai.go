package analyzer

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const openaiModelName = openai.ChatModelGPT4_1Mini

type openaiModel struct {
	client *openai.Client
}

func (m *openaiModel) Name() string {
	return openaiModelName
}

func (m *openaiModel) Complete(ctx context.Context, prompt string, jpeg []byte) (string, error) {
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openaiModelName,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
								URL:    imageURL,
								Detail: "low",
							}),
						},
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(500),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// NewOpenAITagger creates a tagger backed by the OpenAI chat completions API.
func NewOpenAITagger(apiKey string, labels []string, threshold float64, topK, perMinute int) *LLMTagger {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return newLLMTagger(&openaiModel{client: &client}, labels, threshold, topK, perMinute)
}
