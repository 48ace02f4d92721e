// Package openaicompat adapts an OpenAI-compatible endpoint (Groq by default) to eino's
// chat model interface through langchaingo.
package openaicompat

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultBaseURL points at Groq's OpenAI-compatible API.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Config describes the remote endpoint.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature *float32
	MaxTokens   *int
}

// ChatModel implements model.BaseChatModel on top of an llms.Model.
type ChatModel struct {
	llm         llms.Model
	temperature *float32
	maxTokens   *int
}

var _ model.BaseChatModel = (*ChatModel)(nil)

var errStreamClosed = errors.New("openaicompat: stream reader closed")

// New dials nothing; the first request opens the connection.
func New(cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, errors.New("openaicompat: api key and model are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithBaseURL(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: create client: %w", err)
	}
	return Wrap(client, cfg.Temperature, cfg.MaxTokens), nil
}

// Wrap adapts an existing llms.Model.
func Wrap(llm llms.Model, temperature *float32, maxTokens *int) *ChatModel {
	return &ChatModel{llm: llm, temperature: temperature, maxTokens: maxTokens}
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	resp, err := m.llm.GenerateContent(ctx, toContents(input), m.callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	content, err := firstChoice(resp)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

// Stream returns immediately; the request runs in a goroutine feeding the reader. Closing the
// reader aborts the request through the streaming callback.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](8)
	contents := toContents(input)
	callOpts := m.callOptions(opts)

	go func() {
		defer sw.Close()

		streamed := false
		onChunk := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			if closed := sw.Send(schema.AssistantMessage(string(chunk), nil), nil); closed {
				return errStreamClosed
			}
			return ctx.Err()
		})

		resp, err := m.llm.GenerateContent(ctx, contents, append(callOpts, onChunk)...)
		if errors.Is(err, errStreamClosed) {
			return
		}
		if err != nil {
			sw.Send(nil, err)
			return
		}
		if streamed {
			return
		}
		// Some backends ignore the streaming callback and only return the final response.
		content, err := firstChoice(resp)
		if err != nil {
			sw.Send(nil, err)
			return
		}
		sw.Send(schema.AssistantMessage(content, nil), nil)
	}()

	return sr, nil
}

func (m *ChatModel) callOptions(opts []model.Option) []llms.CallOption {
	common := model.GetCommonOptions(&model.Options{Temperature: m.temperature, MaxTokens: m.maxTokens}, opts...)

	var out []llms.CallOption
	if common.Temperature != nil {
		out = append(out, llms.WithTemperature(float64(*common.Temperature)))
	}
	if common.MaxTokens != nil {
		out = append(out, llms.WithMaxTokens(*common.MaxTokens))
	}
	if common.Model != nil && *common.Model != "" {
		out = append(out, llms.WithModel(*common.Model))
	}
	return out
}

func toContents(input []*schema.Message) []llms.MessageContent {
	contents := make([]llms.MessageContent, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		contents = append(contents, llms.TextParts(roleOf(msg.Role), msg.Content))
	}
	return contents
}

func roleOf(role schema.RoleType) llms.ChatMessageType {
	switch role {
	case schema.System:
		return llms.ChatMessageTypeSystem
	case schema.Assistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", errors.New("openaicompat: empty response from model")
	}
	return resp.Choices[0].Content, nil
}
