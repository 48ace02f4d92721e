// Package gate decides whether aggregated material is genuine study content.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
	"github.com/zhouzirui/hertscortex/backend/internal/metrics"
	"github.com/zhouzirui/hertscortex/backend/internal/model/study"
)

const (
	DefaultMinChars     = 50
	DefaultPreviewChars = 2000
	DefaultTimeout      = 30 * time.Second
)

const (
	msgTooShort      = "The provided content is too short to be a lecture note."
	msgRejected      = "This content doesn't look like study material. Please upload lecture notes, textbook excerpts or other academic content."
	msgUnavailable   = "We couldn't verify your material right now. Please try again in a moment."
	verdictPassed    = "TRUE"
	decisionAccepted = "accepted"
	decisionRejected = "rejected"
	decisionTooShort = "too_short"
	decisionError    = "error"
)

// Config 控制内容校验的阈值与超时。
type Config struct {
	MinChars     int
	PreviewChars int
	Timeout      time.Duration
}

// Gate runs the length check followed by the model classifier.
type Gate struct {
	cfg        Config
	classifier compose.Runnable[map[string]any, *schema.Message]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New compiles the classifier chain around chatModel.
func New(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Gate, error) {
	if chatModel == nil {
		return nil, errors.New("gate: chat model is required")
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
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
		schema.SystemMessage(gateSystemPrompt),
		schema.UserMessage(gateUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile content gate chain: %w", err)
	}

	return &Gate{
		cfg:        cfg,
		classifier: runnable,
		logger:     logger.Named("gate"),
		metrics:    m,
	}, nil
}

// CheckLength rejects bodies shorter than the configured minimum, counted in runes after trimming.
func (g *Gate) CheckLength(body string) error {
	if utf8.RuneCountInString(strings.TrimSpace(body)) < g.cfg.MinChars {
		g.metrics.GateDecided(decisionTooShort)
		return apperr.InvalidInput(msgTooShort)
	}
	return nil
}

// Validate runs CheckLength on body and, when it passes, classifies content. content is the
// flattened material including source labels; only its preview reaches the model.
func (g *Gate) Validate(ctx context.Context, body, content string) error {
	if err := g.CheckLength(body); err != nil {
		return err
	}

	accepted, err := g.Classify(ctx, content)
	if err != nil {
		return err
	}
	if !accepted {
		return apperr.ContentRejected(msgRejected)
	}
	return nil
}

// Classify asks the model for a verdict. Anything but an explicit TRUE is a rejection; provider
// failures and timeouts are reported as ProviderUnavailable rather than as rejections.
func (g *Gate) Classify(ctx context.Context, content string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	started := time.Now()
	msg, err := g.classifier.Invoke(ctx, map[string]any{
		"content": study.Preview(content, g.cfg.PreviewChars),
		"format":  `{"binaryScore": "TRUE"} or {"binaryScore": "FALSE"}`,
	})
	g.metrics.ObserveLLM("gate", started)
	if err != nil {
		g.metrics.GateDecided(decisionError)
		g.logger.Warn("classifier invoke failed", zap.Error(err))
		return false, apperr.ProviderUnavailable(msgUnavailable, err)
	}

	raw := ""
	if msg != nil {
		raw = msg.Content
	}
	verdict := parseVerdict(raw)
	accepted := verdict == verdictPassed

	decision := decisionRejected
	if accepted {
		decision = decisionAccepted
	}
	g.metrics.GateDecided(decision)
	g.logger.Info("content classified",
		zap.String("decision", decision),
		zap.String("verdict", verdict),
		zap.Int("content_chars", utf8.RuneCountInString(content)),
	)
	return accepted, nil
}

type verdictPayload struct {
	BinaryScore string `json:"binaryScore"`
}

// parseVerdict accepts {"binaryScore": "..."} or a bare token and returns it upper-cased.
// Unparseable output yields "".
func parseVerdict(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end > start {
		var payload verdictPayload
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
			return ""
		}
		return strings.ToUpper(strings.TrimSpace(payload.BinaryScore))
	}

	token := strings.Trim(trimmed, "`'\". \n\t")
	return strings.ToUpper(token)
}

const gateSystemPrompt = "You are an academic gatekeeper. Analyze the content of a document and determine if it is a lecture note, textbook excerpt, or study material.\n" +
	"Give a binary score of 'TRUE' or 'FALSE'.\n" +
	"'TRUE' if it is a lecture note, textbook excerpt, study material, academic/study-related material.\n" +
	"'FALSE' if it is random gibberish, spam, or non-educational content.\n" +
	"Respond with a single JSON object and nothing else: {format}"

const gateUserPrompt = "Here is the document's content:\n -------\n{content}\n -------\n"
