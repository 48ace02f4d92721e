// Package title derives a short session title from study material.
package title

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/metrics"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
)

// Fallback is used when the model returns nothing usable.
const Fallback = "Untitled Study Session"

const (
	DefaultPreviewChars = 4000
	DefaultTimeout      = 30 * time.Second
)

// Config 控制标题生成的预览长度与超时。
type Config struct {
	PreviewChars int
	Timeout      time.Duration
}

// Synthesizer asks the model for a 3 to 7 word title.
type Synthesizer struct {
	cfg     Config
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New compiles the title chain around chatModel.
func New(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Synthesizer, error) {
	if chatModel == nil {
		return nil, errors.New("title: chat model is required")
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = DefaultPreviewChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage(titleUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	return &Synthesizer{cfg: cfg, chain: runnable, logger: logger.Named("title"), metrics: m}, nil
}

// Synthesize returns a cleaned title for content, or Fallback when the model produced none.
func (s *Synthesizer) Synthesize(ctx context.Context, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	msg, err := s.chain.Invoke(ctx, map[string]any{
		"preview": study.Preview(content, s.cfg.PreviewChars),
	})
	s.metrics.ObserveLLM("title", started)
	if err != nil {
		s.logger.Warn("title generation failed", zap.Error(err))
		return "", apperr.ProviderUnavailable("We couldn't name your study session right now. Please try again in a moment.", err)
	}

	raw := ""
	if msg != nil {
		raw = msg.Content
	}
	title := Clean(raw)
	if title == "" {
		s.logger.Info("model returned an empty title, using fallback")
		return Fallback, nil
	}
	return title, nil
}

var (
	quoteChars  = strings.NewReplacer(`"`, "", `'`, "", "“", "", "”", "", "‘", "", "’", "", "`", "")
	titlePrefix = regexp.MustCompile(`(?i)^\s*(\*\*)?title(\*\*)?\s*:\s*`)
)

// Clean strips quotes, markdown emphasis and a leading "Title:" and collapses whitespace.
func Clean(raw string) string {
	cleaned := quoteChars.Replace(raw)
	cleaned = titlePrefix.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(strings.TrimSpace(cleaned), "*#")
	return strings.Join(strings.Fields(cleaned), " ")
}

const titleSystemPrompt = "You are an expert academic librarian.\n" +
	"Your task is to generate a short, professional, and catchy title for a set of lecture notes.\n" +
	"- The title should be between 3 to 7 words.\n" +
	"- Your output must be ONLY the title.\n" +
	"- Do NOT use quotes, extra fluff, prefixes like \"Title:\", or markdown.\n" +
	"- If the content is about a specific module (e.g., Computer Science), include the core topic.\n" +
	"- Example: Advanced Neural Networks and Deep Learning"

const titleUserPrompt = "Generate a title for this material:\n -------\n{preview}\n -------\n"
