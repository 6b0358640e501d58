// Package describe turns fetched satellite scenes into a natural-language
// change summary via an OpenAI-compatible vision model.
package describe

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mohans/geodiff/internal/model"
)

// ComparisonPrompt is the fixed instruction sent with every scene pair.
// Changing it must bump the cache fingerprint version tag.
const ComparisonPrompt = "Analyze the provided satellite image(s) of this geographical area. " +
	"If two images are provided, compare them and describe any significant changes related to " +
	"urban development, deforestation, agricultural expansion, water body changes, " +
	"or other notable human activities or natural shifts. Provide a concise summary of your observations."

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gemini-1.5-flash-latest"
	}
	if c.BaseURL == "" {
		// Gemini's OpenAI-compatible surface.
		c.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
}

// Client wraps the chat-completion API for image description.
type Client struct {
	oc    *openai.Client
	model string
	log   *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	cfg.applyDefaults()
	occfg := openai.DefaultConfig(cfg.APIKey)
	occfg.BaseURL = cfg.BaseURL
	occfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		oc:    openai.NewClientWithConfig(occfg),
		model: cfg.Model,
		log:   log.Named("describe"),
	}
}

// Describe sends the prompt plus one or two JPEG scenes and returns the
// model's text. Failures are classified for the task error taxonomy.
func (c *Client) Describe(ctx context.Context, images [][]byte) (string, error) {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: ComparisonPrompt},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	start := time.Now()
	resp, err := c.oc.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, MultiContent: parts}},
	})
	if err != nil {
		return "", c.classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", model.NewError(model.KindInternal, "summarization response is empty or malformed")
	}
	c.log.Debug("summary generated",
		zap.Int("images", len(images)),
		zap.Duration("duration", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) classify(err error) *model.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		c.log.Warn("summarization request rejected", zap.Int("status", apiErr.HTTPStatusCode))
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return model.NewError(model.KindAuth, "summarization provider rejected the configured credentials")
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500:
			return model.NewError(model.KindTransient, "summarization provider returned status %d", apiErr.HTTPStatusCode)
		default:
			return model.NewError(model.KindInternal, "summarization provider rejected the request with status %d", apiErr.HTTPStatusCode)
		}
	}
	c.log.Warn("summarization request failed", zap.Error(err))
	return model.NewError(model.KindTransient, "network error communicating with the summarization provider")
}
