// Package ai wraps the OpenAI API behind the two capabilities the rest of
// the system needs: answering form questions and embedding job descriptions.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultModel is the chat model used for field answers
	DefaultModel = "gpt-4o-mini"

	// DefaultEmbeddingModel is the model used for job description embeddings
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultTimeout bounds a single API call
	DefaultTimeout = 60 * time.Second
)

// ErrAPIKeyNotSet is returned when no API key is configured
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// Answer is an AI-generated field value with the model's self-reported
// confidence and a short justification.
type Answer struct {
	Text       string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Client calls the OpenAI API for answers and embeddings.
type Client struct {
	client     openai.Client
	model      string
	embedModel string
	dimensions int
	timeout    time.Duration
}

// NewClient creates a Client. dimensions controls the embedding vector length.
func NewClient(apiKey, model, embedModel string, dimensions int) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}
	if embedModel == "" {
		embedModel = DefaultEmbeddingModel
	}

	return &Client{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		embedModel: embedModel,
		dimensions: dimensions,
		timeout:    DefaultTimeout,
	}, nil
}

const answerSystemPrompt = `You are filling out a job application on behalf of a candidate.
Answer the form question using only the candidate profile and job description provided.
Respond with a JSON object: {"answer": string, "confidence": number between 0 and 1, "reasoning": short string}.
Keep answers concise and truthful to the profile; do not invent credentials.`

// AnswerQuestion generates an answer for one form question conditioned on the
// candidate profile and the job description.
func (c *Client) AnswerQuestion(ctx context.Context, question, profileContext, jobContext string) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Candidate profile:\n%s\n\nJob description:\n%s\n\nForm question: %s",
		profileContext, jobContext, question)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(answerSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("AI completion failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("AI completion returned no choices")
	}

	var answer Answer
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &answer); err != nil {
		return nil, fmt.Errorf("failed to parse AI answer: %w", err)
	}

	if answer.Confidence < 0 {
		answer.Confidence = 0
	}
	if answer.Confidence > 1 {
		answer.Confidence = 1
	}

	return &answer, nil
}

// Embed generates a fixed-dimension embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if c.dimensions > 0 {
		params.Dimensions = openai.Int(int64(c.dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}

	return vector, nil
}
