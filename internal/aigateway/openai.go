package aigateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	imageSystemPrompt = "You are an image analyst specialized in reputation, privacy, and engagement " +
		"risk on social networks. Analyze the received image (overall visual content, aesthetics, implied " +
		"context) and answer in pure JSON, without comments, in the format:\n" +
		"{\n" +
		"  \"summary\": \"1 to 3 objective sentences about what the image communicates and possible implications\",\n" +
		"  \"score_risk\": 0-100,\n" +
		"  \"tags\": [\"keywords\", \"...\"],\n" +
		"  \"recommendations\": [\"up to 5 short actionable recommendations\"]\n" +
		"}\n" +
		"Consider privacy (faces, license plates, documents), controversy signals, brand safety, and " +
		"possible misreadings. With insufficient context, assume a neutral scenario and note uncertainties."

	textSystemPrompt = "You are a text content analyst specialized in reputation, privacy, and engagement " +
		"risk on social networks. Analyze the text and answer in pure JSON, without comments, in the format:\n" +
		"{\n" +
		"  \"summary\": \"1 to 3 objective sentences about the content and implications\",\n" +
		"  \"score_risk\": 0-100,\n" +
		"  \"tags\": [\"keywords\", \"...\"],\n" +
		"  \"recommendations\": [\"up to 5 short actionable recommendations\"]\n" +
		"}\n" +
		"Consider: topic sensitivity, tone, possible ambiguous readings, privacy, and brand safety."

	imageUserPrompt = "Analyze this image for publication on social networks. Evaluate risks, privacy, " +
		"and reputation. Answer strictly in the specified JSON."
	textUserPrompt = "Analyze the text for publication on social networks. Evaluate risks, privacy, tone, " +
		"and reputation. Answer strictly in the specified JSON."

	completionTemperature = 0.2
	completionMaxTokens   = 600
)

// chatCompleter is the slice of the model SDK the client uses.
// *openai.Client satisfies it.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client calls the model service with bounded retries.
type Client struct {
	completer chatCompleter
	config    Config
	logger    *zap.Logger
	sleep     func(time.Duration)
}

// NewClient wires a Client against the real model SDK.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrInvalidGatewayConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		completer: openai.NewClient(config.APIKey),
		config:    config,
		logger:    logger,
		sleep:     time.Sleep,
	}, nil
}

// AnalyzeImage sends the image as a base64 data URL to the vision model.
func (client *Client) AnalyzeImage(ctx context.Context, imageData []byte, mimeType string, instruction string) (Result, error) {
	userPrompt := imageUserPrompt
	if instruction != "" {
		userPrompt += "\nUser intent: " + instruction
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	request := openai.ChatCompletionRequest{
		Model: client.config.VisionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: imageSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
		Temperature: completionTemperature,
		MaxTokens:   completionMaxTokens,
	}
	return client.complete(ctx, request)
}

// AnalyzeText sends plain text to the text model.
func (client *Client) AnalyzeText(ctx context.Context, text string) (Result, error) {
	request := openai.ChatCompletionRequest{
		Model: client.config.TextModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: textSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: textUserPrompt + "\n\nText:\n" + text},
		},
		Temperature: completionTemperature,
		MaxTokens:   completionMaxTokens,
	}
	return client.complete(ctx, request)
}

func (client *Client) complete(ctx context.Context, request openai.ChatCompletionRequest) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= client.config.Retries; attempt++ {
		if attempt > 0 {
			client.sleep(client.config.Backoff)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, client.config.Timeout)
		response, err := client.completer.CreateChatCompletion(attemptCtx, request)
		cancel()
		if err != nil {
			lastErr = err
			client.logger.Warn("model call failed",
				zap.String("model", request.Model),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if len(response.Choices) == 0 {
			lastErr = fmt.Errorf("empty completion")
			continue
		}
		return sanitizeModelOutput(response.Choices[0].Message.Content), nil
	}
	return Result{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
}
