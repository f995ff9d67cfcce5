// Package llm wraps the OpenAI client behind the engine's provider port.
// Every call runs with a bounded timeout inside a circuit breaker; failures
// come back as typed PROVIDER_UNAVAILABLE errors so callers can degrade
// (lexical-only matching, literal templating) instead of blocking.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/clubhousegolfcanada/response-engine/core/port/out"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

const DefaultModel = "gpt-4o-mini"

type Client struct {
	client          *openai.Client
	model           string
	embeddingModel  openai.EmbeddingModel
	maxTokens       int
	temperature     float32
	embedTimeout    time.Duration
	completeTimeout time.Duration
	cb              *gobreaker.CircuitBreaker
	log             zerolog.Logger
}

type ClientConfig struct {
	APIKey          string
	Model           string
	EmbeddingModel  string
	MaxTokens       int
	Temperature     float64
	EmbedTimeout    time.Duration
	CompleteTimeout time.Duration
}

func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	var embeddingModel openai.EmbeddingModel
	_ = embeddingModel.UnmarshalText([]byte(cfg.EmbeddingModel))
	if embeddingModel == openai.Unknown {
		embeddingModel = openai.AdaEmbeddingV2
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout == 0 {
		embedTimeout = 10 * time.Second
	}
	completeTimeout := cfg.CompleteTimeout
	if completeTimeout == 0 {
		completeTimeout = 30 * time.Second
	}

	clog := log.With().Str("component", "llm_client").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			clog.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Client{
		client:          openai.NewClient(cfg.APIKey),
		model:           model,
		embeddingModel:  embeddingModel,
		maxTokens:       maxTokens,
		temperature:     float32(cfg.Temperature),
		embedTimeout:    embedTimeout,
		completeTimeout: completeTimeout,
		cb:              gobreaker.NewCircuitBreaker(cbSettings),
		log:             clog,
	}
}

// Embed returns the embedding vector for the text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: c.embeddingModel,
			Input: []string{text},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, apperr.ProviderUnavailable("embed", err)
	}

	return result.([]float32), nil
}

// EmbedBatch returns embeddings for multiple texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: c.embeddingModel,
			Input: texts,
		})
		if err != nil {
			return nil, err
		}
		vectors := make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = data.Embedding
		}
		return vectors, nil
	})
	if err != nil {
		return nil, apperr.ProviderUnavailable("embed_batch", err)
	}

	return result.([][]float32), nil
}

// Generalize asks the completion model to rewrite a concrete reply into a
// slotted template. The learner falls back to a literal template when this
// fails or comes back under its confidence floor.
func (c *Client) Generalize(ctx context.Context, exampleText, category string) (*out.Generalization, error) {
	prompt := fmt.Sprintf(`Rewrite the following customer-support reply as a reusable template for the %q category.
Replace concrete values (names, dates, locations, amounts, ticket numbers) with {{snake_case}} placeholders.
Keep the tone and everything else verbatim.
Return a JSON object with fields "template" (string), "slots" (array of placeholder names) and "confidence" (0.0-1.0, how reusable the template is).

Reply:
%s`, category, exampleText)

	callCtx, cancel := context.WithTimeout(ctx, c.completeTimeout)
	defer cancel()

	result, err := c.cb.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty completion response")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return nil, apperr.ProviderUnavailable("generalize", err)
	}

	var gen out.Generalization
	if err := json.Unmarshal([]byte(result.(string)), &gen); err != nil {
		return nil, apperr.ProviderUnavailable("generalize", err)
	}
	if gen.Confidence < 0 {
		gen.Confidence = 0
	}
	if gen.Confidence > 1 {
		gen.Confidence = 1
	}

	return &gen, nil
}

// Ensure Client implements the provider port
var _ out.EmbeddingProvider = (*Client)(nil)
